// Package research implements the autonomous research orchestrator: a tree
// of sub-question nodes researched through search/reflect cycles, driven by
// a brain that decides when the objective is satisfied, under hard node,
// depth, and wall-clock budgets, with typed progress events and cooperative
// cancellation.
package research

import (
	"errors"
	"time"

	"deepscout/internal/websearch"
)

// NodeStatus is the lifecycle state of a research node.
type NodeStatus string

const (
	NodePending NodeStatus = "pending" // created, not yet dispatched
	NodeRunning NodeStatus = "running" // cycle loop executing
	NodeDone    NodeStatus = "done"    // concluded with an answer
	NodePruned  NodeStatus = "pruned"  // killed before natural completion
)

// Confidence rates how well a completed node's answer satisfies its goal.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// RunStatus is the tree-wide lifecycle state.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunStopped  RunStatus = "stopped"
	RunFailed   RunStatus = "failed"
)

// Terminal reports whether the status permits no further mutation.
func (s RunStatus) Terminal() bool {
	return s == RunComplete || s == RunStopped || s == RunFailed
}

// ErrStopped is the distinguished "stopped by user" condition raised when
// the external abort fires mid-run. It is control flow, not a failure.
var ErrStopped = errors.New("research: stopped by user")

// ErrBudgetExceeded is returned by spawn attempts once any hard budget
// (node count, depth, wall clock) is exhausted. Not an error condition for
// the run as a whole; it forces synthesis from completed work.
var ErrBudgetExceeded = errors.New("research: budget exceeded")

// SearchEntry is one executed query within a node's cycle loop. The list is
// append-only, one entry per query.
type SearchEntry struct {
	Query      string             `json:"query"`
	Result     string             `json:"result"`
	Sources    []websearch.Source `json:"sources,omitempty"`
	Status     string             `json:"status"`
	Reflection string             `json:"reflection,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// FollowupSuggestion is a candidate child question proposed by a completed
// node. The tree manager consumes these; nodes never spawn children.
type FollowupSuggestion struct {
	Question string `json:"question"`
	Reason   string `json:"reason"`
}

// ResearchNode is one sub-question under investigation. Nodes form a forest
// keyed by id; parent/child links are id references, never pointers.
//
// Ownership: the tree manager creates nodes and transitions Status; the
// node's executing task exclusively appends Searches and sets Answer,
// Confidence, and SuggestedFollowups while the node is running.
type ResearchNode struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"` // empty = root-level question

	Question string `json:"question"`
	Reason   string `json:"reason"` // why this question serves the objective
	Goal     string `json:"goal"`   // what a satisfying answer contains

	Status     NodeStatus `json:"status"`
	Confidence Confidence `json:"confidence,omitempty"` // set only when done

	Cycles    int `json:"cycles"`
	MaxCycles int `json:"max_cycles"`

	Searches           []SearchEntry        `json:"searches,omitempty"`
	Answer             string               `json:"answer,omitempty"`
	SuggestedFollowups []FollowupSuggestion `json:"suggested_followups,omitempty"`

	// Tokens is the cumulative cost proxy for this node.
	Tokens int `json:"tokens"`
}

// DecisionKind tags entries in the decision log.
type DecisionKind string

const (
	DecisionSpawn    DecisionKind = "spawn"
	DecisionComplete DecisionKind = "complete"
	DecisionPrune    DecisionKind = "prune"
	DecisionFinish   DecisionKind = "finish"
	DecisionWarning  DecisionKind = "warning"
)

// Decision is one append-only entry in the tree-wide decision log. Seq is
// the authoritative total order; Timestamp is advisory.
type Decision struct {
	Seq       int          `json:"seq"`
	Kind      DecisionKind `json:"kind"`
	Reasoning string       `json:"reasoning"`
	NodeIDs   []string     `json:"node_ids,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// ResearchState is the single shared mutable structure for a run. All
// writers serialize through the tree manager's lock; after Status turns
// terminal no further mutation occurs.
type ResearchState struct {
	Objective       string                   `json:"objective"`
	SuccessCriteria []string                 `json:"success_criteria,omitempty"`
	Status          RunStatus                `json:"status"`
	Nodes           map[string]*ResearchNode `json:"nodes"`
	Decisions       []Decision               `json:"decisions"`
	TotalTokens     int                      `json:"total_tokens"`
	FinalAnswer     string                   `json:"final_answer,omitempty"` // set only when complete
	StartedAt       time.Time                `json:"started_at"`
	FinishedAt      time.Time                `json:"finished_at,omitzero"`
}

// DoneNodes returns completed nodes in creation order (by decision log
// spawn order falling back to map iteration for robustness).
func (s *ResearchState) DoneNodes() []*ResearchNode {
	var ids []string
	seen := make(map[string]bool)
	for _, d := range s.Decisions {
		if d.Kind != DecisionSpawn {
			continue
		}
		for _, id := range d.NodeIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	for id := range s.Nodes {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	var out []*ResearchNode
	for _, id := range ids {
		if n, ok := s.Nodes[id]; ok && n.Status == NodeDone {
			out = append(out, n)
		}
	}
	return out
}
