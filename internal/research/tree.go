package research

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"deepscout/internal/config"
	"deepscout/internal/logging"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Question describes a node to spawn: either a root-level question from the
// brain or a child derived from a completed node's follow-up suggestions.
type Question struct {
	Question string
	Reason   string
	Goal     string
	ParentID string // empty for root-level
}

// treeManager owns the node forest: it creates nodes, transitions their
// status, enforces the hard budgets before any spawn or dispatch, and runs
// node cycle loops with bounded parallelism. All state mutation serializes
// through its lock.
type treeManager struct {
	mu      sync.Mutex
	state   *ResearchState
	budgets config.Budgets
	emitter *Emitter
	runner  *nodeRunner
	sem     *semaphore.Weighted

	created   int
	budgetHit bool
	clock     func() time.Time
}

func newTreeManager(state *ResearchState, budgets config.Budgets, emitter *Emitter, runner *nodeRunner) *treeManager {
	concurrency := budgets.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &treeManager{
		state:   state,
		budgets: budgets,
		emitter: emitter,
		runner:  runner,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		clock:   time.Now,
	}
}

// Spawn creates one pending node after an atomic budget check. The check
// and the node-count increment happen under the same lock so concurrent
// spawns can never overrun MaxNodes.
func (m *treeManager) Spawn(q Question) (*ResearchNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Status.Terminal() {
		return nil, fmt.Errorf("research: spawn after terminal status %s", m.state.Status)
	}
	if err := m.checkBudgetsLocked(q.ParentID); err != nil {
		m.budgetHit = true
		return nil, err
	}
	if q.ParentID != "" {
		if _, ok := m.state.Nodes[q.ParentID]; !ok {
			return nil, fmt.Errorf("research: parent node %s does not exist", q.ParentID)
		}
	}

	node := &ResearchNode{
		ID:        uuid.NewString(),
		ParentID:  q.ParentID,
		Question:  q.Question,
		Reason:    q.Reason,
		Goal:      q.Goal,
		Status:    NodePending,
		MaxCycles: m.budgets.MaxCyclesPerNode,
	}
	m.state.Nodes[node.ID] = node
	m.created++
	return node, nil
}

// SpawnBatch spawns as many of the questions as the budgets allow and logs
// one spawn decision for the batch. Budget refusal is not an error here;
// it just truncates the batch and marks the budget as hit.
func (m *treeManager) SpawnBatch(questions []Question, reasoning string) []*ResearchNode {
	var spawned []*ResearchNode
	for _, q := range questions {
		node, err := m.Spawn(q)
		if err != nil {
			if errors.Is(err, ErrBudgetExceeded) {
				logging.For(logging.CategoryTree).Info("budget stops spawning",
					zap.String("question", q.Question), zap.Error(err))
				break
			}
			logging.For(logging.CategoryTree).Warn("spawn rejected", zap.Error(err))
			continue
		}
		spawned = append(spawned, node)
	}
	if len(spawned) > 0 {
		ids := make([]string, len(spawned))
		for i, n := range spawned {
			ids[i] = n.ID
		}
		m.appendDecision(DecisionSpawn, reasoning, ids)
	}
	return spawned
}

// checkBudgetsLocked enforces MaxNodes, MaxDepth, and MaxTime. Caller holds
// the lock.
func (m *treeManager) checkBudgetsLocked(parentID string) error {
	if m.created >= m.budgets.MaxNodes {
		return fmt.Errorf("%w: node budget (%d) reached", ErrBudgetExceeded, m.budgets.MaxNodes)
	}
	if depth := m.depthLocked(parentID) + 1; depth > m.budgets.MaxDepth {
		return fmt.Errorf("%w: depth budget (%d) reached", ErrBudgetExceeded, m.budgets.MaxDepth)
	}
	if m.budgets.MaxTime > 0 && m.clock().Sub(m.state.StartedAt) > m.budgets.MaxTime {
		return fmt.Errorf("%w: time budget (%s) reached", ErrBudgetExceeded, m.budgets.MaxTime)
	}
	return nil
}

// depthLocked computes the root-to-node chain length for an existing node
// (0 for the empty id, 1 for a root node).
func (m *treeManager) depthLocked(id string) int {
	depth := 0
	for id != "" {
		node, ok := m.state.Nodes[id]
		if !ok {
			break
		}
		depth++
		id = node.ParentID
	}
	return depth
}

// BudgetExceeded reports whether any spawn has been refused on budget
// grounds, which obliges the brain to finish with what is complete.
func (m *treeManager) BudgetExceeded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.budgetHit {
		return true
	}
	if m.budgets.MaxTime > 0 && m.clock().Sub(m.state.StartedAt) > m.budgets.MaxTime {
		m.budgetHit = true
	}
	return m.budgetHit
}

// runnable returns pending nodes whose parent, if any, is done. A child is
// never dispatched before its parent completes.
func (m *treeManager) runnable() []*ResearchNode {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*ResearchNode
	for _, node := range m.state.Nodes {
		if node.Status != NodePending {
			continue
		}
		if node.ParentID != "" {
			parent, ok := m.state.Nodes[node.ParentID]
			if !ok || parent.Status != NodeDone {
				continue
			}
		}
		out = append(out, node)
	}
	return out
}

// RunBatch dispatches every runnable node, bounded by the concurrency
// semaphore, and waits for the batch to settle. On cancellation it stops
// issuing new starts and returns ErrStopped once in-flight nodes have
// observed the signal and been pruned.
func (m *treeManager) RunBatch(ctx context.Context) error {
	log := logging.For(logging.CategoryTree)
	batch := m.runnable()
	if len(batch) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	stopped := false
	for _, node := range batch {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			stopped = true
			break
		}
		if !m.markRunning(node.ID) {
			m.sem.Release(1)
			continue
		}

		m.emitter.Emit(NodeStart{NodeID: node.ID, ParentID: node.ParentID, Question: node.Question, Reason: node.Reason})
		log.Debug("dispatch", zap.String("node_id", node.ID), zap.String("question", node.Question))

		wg.Add(1)
		go func(node *ResearchNode) {
			defer wg.Done()
			defer m.sem.Release(1)
			m.execute(ctx, node)
		}(node)
	}
	wg.Wait()

	if stopped || ctx.Err() != nil {
		return fmt.Errorf("%w: dispatch interrupted", ErrStopped)
	}
	return nil
}

// execute runs one node's cycle loop and applies the resulting transition.
func (m *treeManager) execute(ctx context.Context, node *ResearchNode) {
	previous := m.previousQueries(node.ID)
	outcome, err := m.runner.run(ctx, node, m.state.Objective, m.state.SuccessCriteria, previous)
	if err != nil {
		// Cancellation: prune, preserving partial searches.
		m.pruneNode(node.ID, "cancelled mid-cycle")
		return
	}
	m.completeNode(node.ID, outcome)
}

// previousQueries collects every query issued anywhere in the tree so the
// evaluator never re-issues an identical one.
func (m *treeManager) previousQueries(excludeNodeID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, node := range m.state.Nodes {
		if id == excludeNodeID {
			continue
		}
		// Running nodes are exclusively owned by their task; their search
		// lists are not safe to read until they settle.
		if node.Status == NodeRunning {
			continue
		}
		for _, s := range node.Searches {
			out = append(out, s.Query)
		}
	}
	return out
}

// markRunning transitions pending→running. Returns false when the node is
// no longer eligible (terminal state reached, or node already moved).
func (m *treeManager) markRunning(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status.Terminal() {
		return false
	}
	node, ok := m.state.Nodes[id]
	if !ok || node.Status != NodePending {
		return false
	}
	node.Status = NodeRunning
	return true
}

// completeNode transitions running→done and records the outcome.
func (m *treeManager) completeNode(id string, outcome nodeOutcome) {
	m.mu.Lock()
	if m.state.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	node, ok := m.state.Nodes[id]
	if !ok || node.Status != NodeRunning {
		m.mu.Unlock()
		return
	}
	node.Status = NodeDone
	node.Answer = outcome.answer
	node.Confidence = outcome.confidence
	node.SuggestedFollowups = outcome.followups
	m.state.TotalTokens += node.Tokens
	m.mu.Unlock()

	m.appendDecision(DecisionComplete, fmt.Sprintf("node answered with %s confidence", outcome.confidence), []string{id})
	m.emitter.Emit(NodeComplete{NodeID: id, Confidence: outcome.confidence, Answer: outcome.answer})
}

// pruneNode kills a node before natural completion, keeping its partial
// searches readable.
func (m *treeManager) pruneNode(id, reason string) {
	m.mu.Lock()
	node, ok := m.state.Nodes[id]
	if !ok || node.Status == NodeDone || node.Status == NodePruned {
		m.mu.Unlock()
		return
	}
	node.Status = NodePruned
	m.state.TotalTokens += node.Tokens
	m.mu.Unlock()

	m.appendDecision(DecisionPrune, reason, []string{id})
}

// PruneRemaining prunes every node that will never be dispatched. Called
// before the run reaches a terminal status.
func (m *treeManager) PruneRemaining(reason string) {
	m.mu.Lock()
	var ids []string
	for id, node := range m.state.Nodes {
		if node.Status == NodePending || node.Status == NodeRunning {
			node.Status = NodePruned
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	if len(ids) > 0 {
		m.appendDecision(DecisionPrune, reason, ids)
	}
}

// appendDecision adds a totally ordered entry to the decision log. Seq is
// assigned under the lock; the timestamp is advisory only.
func (m *treeManager) appendDecision(kind DecisionKind, reasoning string, nodeIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status.Terminal() && kind != DecisionFinish {
		return
	}
	m.state.Decisions = append(m.state.Decisions, Decision{
		Seq:       len(m.state.Decisions) + 1,
		Kind:      kind,
		Reasoning: reasoning,
		NodeIDs:   nodeIDs,
		Timestamp: time.Now(),
	})
}

// doneNodes returns completed nodes under the lock.
func (m *treeManager) doneNodes() []*ResearchNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DoneNodes()
}

// setTerminal performs the exactly-once transition to a terminal status.
// Returns false if the state was already terminal.
func (m *treeManager) setTerminal(status RunStatus, finalAnswer string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status.Terminal() {
		return false
	}
	m.state.Status = status
	m.state.FinalAnswer = finalAnswer
	m.state.FinishedAt = time.Now()
	return true
}

// addTokens accounts orchestrator-level (brain) generation cost.
func (m *treeManager) addTokens(n int) {
	if n == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status.Terminal() {
		return
	}
	m.state.TotalTokens += n
}
