package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Scripted is a deterministic Client for offline tests. Responses are
// consumed in FIFO order; every request is recorded for assertions.
type Scripted struct {
	mu    sync.Mutex
	queue []scriptedStep
	calls []Request

	// Fallback is consulted when the queue is empty. Optional.
	Fallback func(req Request) (Response, error)
}

type scriptedStep struct {
	resp Response
	err  error
}

// Enqueue marshals v and queues it as the next successful response.
func (s *Scripted) Enqueue(v any) *Scripted {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("llm.Scripted: unmarshalable script value: %v", err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, scriptedStep{resp: Response{Raw: data, Tokens: 10}})
	return s
}

// EnqueueRaw queues a raw payload, valid JSON or not, to exercise
// malformed-output handling.
func (s *Scripted) EnqueueRaw(raw string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, scriptedStep{resp: Response{Raw: json.RawMessage(raw), Tokens: 10}})
	return s
}

// EnqueueError queues a failing call.
func (s *Scripted) EnqueueError(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, scriptedStep{err: err})
	return s
}

// GenerateStructured implements Client.
func (s *Scripted) GenerateStructured(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	s.mu.Lock()
	s.calls = append(s.calls, req)
	if len(s.queue) == 0 {
		fallback := s.Fallback
		s.mu.Unlock()
		if fallback != nil {
			return fallback(req)
		}
		return Response{}, fmt.Errorf("llm.Scripted: script exhausted after %d calls", len(s.calls))
	}
	step := s.queue[0]
	s.queue = s.queue[1:]
	s.mu.Unlock()
	return step.resp, step.err
}

// Calls returns a copy of the recorded requests.
func (s *Scripted) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.calls))
	copy(out, s.calls)
	return out
}

// Remaining reports how many scripted steps are left unconsumed.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Func adapts a function to the Client interface.
type Func func(ctx context.Context, req Request) (Response, error)

// GenerateStructured implements Client.
func (f Func) GenerateStructured(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
