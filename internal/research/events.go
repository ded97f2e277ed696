package research

import (
	"encoding/json"
	"sync"
	"time"

	"deepscout/internal/websearch"
)

// EventType names a progress event. Consumers must treat unknown types as
// ignorable; new types may be added without notice.
type EventType string

const (
	EventResearchStarted     EventType = "research_started"
	EventNodeStart           EventType = "node_start"
	EventSearchStarted       EventType = "search_started"
	EventSearchCompleted     EventType = "search_completed"
	EventExtractStarted      EventType = "extract_started"
	EventExtractCompleted    EventType = "extract_completed"
	EventReflectionStarted   EventType = "reflection_started"
	EventReflectionCompleted EventType = "reflection_completed"
	EventBrainDecision       EventType = "brain_decision"
	EventNodeComplete        EventType = "node_complete"
	EventDocUpdated          EventType = "doc_updated"
	EventComplete            EventType = "complete"
	EventError               EventType = "error"
)

// Event is one typed progress notification. Events are observational: they
// carry no authority to mutate orchestrator state.
type Event interface {
	Type() EventType
}

// ResearchStarted opens every run.
type ResearchStarted struct {
	Objective string `json:"objective"`
}

func (ResearchStarted) Type() EventType { return EventResearchStarted }

// NodeStart announces a node entering its cycle loop.
type NodeStart struct {
	NodeID   string `json:"node_id"`
	ParentID string `json:"parent_id,omitempty"`
	Question string `json:"question"`
	Reason   string `json:"reason,omitempty"`
}

func (NodeStart) Type() EventType { return EventNodeStart }

// SearchStarted announces a batch of queries going out.
type SearchStarted struct {
	NodeID  string            `json:"node_id,omitempty"`
	Queries []websearch.Query `json:"queries"`
}

func (SearchStarted) Type() EventType { return EventSearchStarted }

// SearchCompleted carries the per-query results of a finished batch.
type SearchCompleted struct {
	NodeID  string                  `json:"node_id,omitempty"`
	Queries []websearch.QueryResult `json:"queries"`
}

func (SearchCompleted) Type() EventType { return EventSearchCompleted }

// ExtractStarted announces page extraction for explicit URLs.
type ExtractStarted struct {
	URLs    []string `json:"urls"`
	Purpose string   `json:"purpose,omitempty"`
}

func (ExtractStarted) Type() EventType { return EventExtractStarted }

// ExtractCompleted carries per-URL extraction outcomes.
type ExtractCompleted struct {
	Results []websearch.PageContent `json:"results"`
	Failed  []websearch.FailedURL   `json:"failed,omitempty"`
}

func (ExtractCompleted) Type() EventType { return EventExtractCompleted }

// ReflectionStarted announces a reflection step.
type ReflectionStarted struct {
	NodeID string `json:"node_id,omitempty"`
}

func (ReflectionStarted) Type() EventType { return EventReflectionStarted }

// ReflectionCompleted carries the reflection verdict.
type ReflectionCompleted struct {
	NodeID         string `json:"node_id,omitempty"`
	Reasoning      string `json:"reasoning"`
	ShouldContinue bool   `json:"should_continue"`
}

func (ReflectionCompleted) Type() EventType { return EventReflectionCompleted }

// BrainDecision carries an evaluate verdict over the whole tree.
type BrainDecision struct {
	Decision  string `json:"decision"` // "continue" or "done"
	Reasoning string `json:"reasoning"`
}

func (BrainDecision) Type() EventType { return EventBrainDecision }

// NodeComplete announces a node concluding with an answer.
type NodeComplete struct {
	NodeID     string     `json:"node_id"`
	Confidence Confidence `json:"confidence"`
	Answer     string     `json:"answer"`
}

func (NodeComplete) Type() EventType { return EventNodeComplete }

// DocUpdated reports applied document edits.
type DocUpdated struct {
	Applied  int      `json:"applied"`
	Warnings []string `json:"warnings,omitempty"`
}

func (DocUpdated) Type() EventType { return EventDocUpdated }

// Complete closes a successful run.
type Complete struct {
	FinalAnswer string `json:"final_answer"`
}

func (Complete) Type() EventType { return EventComplete }

// ErrorEvent reports a run-level error.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (ErrorEvent) Type() EventType { return EventError }

// Envelope wraps an event with its authoritative sequence number and an
// advisory timestamp. Seq is a monotonic counter, not wall clock, so
// ordering holds under concurrent emitters.
type Envelope struct {
	Seq   int       `json:"seq"`
	Time  time.Time `json:"ts"`
	Event Event     `json:"-"`
}

// MarshalJSON flattens the envelope into {"seq","ts","type",...event fields}
// so consumers can dispatch on "type" and ignore unknown types.
func (e Envelope) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Event)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	fields["seq"] = e.Seq
	fields["ts"] = e.Time
	fields["type"] = e.Event.Type()
	return json.Marshal(fields)
}

// ProgressFunc consumes envelopes. Called from a single goroutine, in
// sequence order.
type ProgressFunc func(Envelope)

// Emitter is the one-way progress channel: producers (node loops, tree
// manager, brain) publish; a single consumer goroutine adapts envelopes to
// the external transport. Emit after Close is a silent no-op so late
// producers never panic on a closed channel.
type Emitter struct {
	mu     sync.Mutex
	seq    int
	ch     chan Envelope
	closed bool
}

// NewEmitter creates an emitter with the given buffer size.
func NewEmitter(buffer int) *Emitter {
	if buffer <= 0 {
		buffer = 256
	}
	return &Emitter{ch: make(chan Envelope, buffer)}
}

// Emit publishes an event. Ordering is guaranteed by the sequence counter
// assigned under the lock; the send itself blocks if the consumer lags
// beyond the buffer.
func (e *Emitter) Emit(ev Event) {
	if ev == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.seq++
	env := Envelope{Seq: e.seq, Time: time.Now(), Event: ev}
	e.ch <- env
	e.mu.Unlock()
}

// Events exposes the consumer side.
func (e *Emitter) Events() <-chan Envelope {
	return e.ch
}

// Close stops the stream. Idempotent.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}
