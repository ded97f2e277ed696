package research

import (
	"context"
	"testing"
	"time"

	"deepscout/internal/config"
	"deepscout/internal/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBudgets() config.Budgets {
	return config.Budgets{
		MaxNodes:         10,
		MaxDepth:         3,
		MaxTime:          time.Minute,
		MaxCyclesPerNode: 4,
		Concurrency:      2,
	}
}

func newTestTree(t *testing.T, budgets config.Budgets, runner *nodeRunner) (*treeManager, *ResearchState) {
	t.Helper()
	state := &ResearchState{
		Objective: "objective",
		Status:    RunRunning,
		Nodes:     make(map[string]*ResearchNode),
		StartedAt: time.Now(),
	}
	return newTreeManager(state, budgets, NewEmitter(0), runner), state
}

func TestSpawnEnforcesNodeBudget(t *testing.T) {
	budgets := testBudgets()
	budgets.MaxNodes = 2
	tree, state := newTestTree(t, budgets, nil)

	_, err := tree.Spawn(Question{Question: "one"})
	require.NoError(t, err)
	_, err = tree.Spawn(Question{Question: "two"})
	require.NoError(t, err)

	_, err = tree.Spawn(Question{Question: "three"})
	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.True(t, tree.BudgetExceeded())
	assert.Len(t, state.Nodes, 2)
}

func TestSpawnEnforcesDepthBudget(t *testing.T) {
	budgets := testBudgets()
	budgets.MaxDepth = 2
	tree, _ := newTestTree(t, budgets, nil)

	root, err := tree.Spawn(Question{Question: "root"})
	require.NoError(t, err)
	child, err := tree.Spawn(Question{Question: "child", ParentID: root.ID})
	require.NoError(t, err)

	_, err = tree.Spawn(Question{Question: "grandchild", ParentID: child.ID})
	require.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestSpawnEnforcesTimeBudget(t *testing.T) {
	tree, state := newTestTree(t, testBudgets(), nil)
	tree.clock = func() time.Time { return state.StartedAt.Add(2 * time.Minute) }

	_, err := tree.Spawn(Question{Question: "late"})
	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.True(t, tree.BudgetExceeded())
}

func TestSpawnRejectsUnknownParent(t *testing.T) {
	tree, _ := newTestTree(t, testBudgets(), nil)
	_, err := tree.Spawn(Question{Question: "orphan", ParentID: "no-such-node"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBudgetExceeded)
}

func TestSpawnBatchTruncatesOnBudget(t *testing.T) {
	budgets := testBudgets()
	budgets.MaxNodes = 2
	tree, state := newTestTree(t, budgets, nil)

	spawned := tree.SpawnBatch([]Question{
		{Question: "one"}, {Question: "two"}, {Question: "three"}, {Question: "four"},
	}, "initial decomposition")

	assert.Len(t, spawned, 2)
	require.Len(t, state.Decisions, 1)
	assert.Equal(t, DecisionSpawn, state.Decisions[0].Kind)
	assert.Len(t, state.Decisions[0].NodeIDs, 2)
	assert.True(t, tree.BudgetExceeded())
}

func TestRunnableWaitsForParent(t *testing.T) {
	tree, state := newTestTree(t, testBudgets(), nil)
	root, err := tree.Spawn(Question{Question: "root"})
	require.NoError(t, err)
	child, err := tree.Spawn(Question{Question: "child", ParentID: root.ID})
	require.NoError(t, err)

	ids := func(nodes []*ResearchNode) []string {
		var out []string
		for _, n := range nodes {
			out = append(out, n.ID)
		}
		return out
	}

	assert.ElementsMatch(t, []string{root.ID}, ids(tree.runnable()),
		"child must not be runnable before its parent is done")

	state.Nodes[root.ID].Status = NodeDone
	assert.ElementsMatch(t, []string{child.ID}, ids(tree.runnable()))
}

func TestTerminalTransitionHappensOnce(t *testing.T) {
	tree, state := newTestTree(t, testBudgets(), nil)

	require.True(t, tree.setTerminal(RunComplete, "final"))
	assert.False(t, tree.setTerminal(RunStopped, ""))
	assert.Equal(t, RunComplete, state.Status)
	assert.Equal(t, "final", state.FinalAnswer)
	assert.False(t, state.FinishedAt.IsZero())

	_, err := tree.Spawn(Question{Question: "late"})
	require.Error(t, err)

	tokens := state.TotalTokens
	tree.addTokens(50)
	assert.Equal(t, tokens, state.TotalTokens, "no mutation after terminal")

	decisions := len(state.Decisions)
	tree.appendDecision(DecisionSpawn, "late", nil)
	assert.Len(t, state.Decisions, decisions)
}

func TestDecisionLogSequencing(t *testing.T) {
	tree, state := newTestTree(t, testBudgets(), nil)
	tree.appendDecision(DecisionSpawn, "first", []string{"a"})
	tree.appendDecision(DecisionComplete, "second", []string{"a"})
	tree.appendDecision(DecisionPrune, "third", []string{"b"})

	require.Len(t, state.Decisions, 3)
	for i, d := range state.Decisions {
		assert.Equal(t, i+1, d.Seq)
	}
}

func TestRunBatchCompletesNodes(t *testing.T) {
	gen := llm.Func(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		if req.System == nodeFinishSystemPrompt {
			return scriptResp(t, finishAnswer("batch answer", "medium")), nil
		}
		return scriptResp(t, evalDone()), nil
	})
	runner := &nodeRunner{gen: gen, search: &fakeSearcher{}, emitter: NewEmitter(0)}
	tree, state := newTestTree(t, testBudgets(), runner)

	tree.SpawnBatch([]Question{{Question: "one"}, {Question: "two"}}, "seed")
	require.NoError(t, tree.RunBatch(context.Background()))

	done := tree.doneNodes()
	require.Len(t, done, 2)
	for _, n := range done {
		assert.Equal(t, "batch answer", n.Answer)
		assert.Equal(t, ConfidenceMedium, n.Confidence)
	}
	assert.Greater(t, state.TotalTokens, 0)

	var completes int
	for _, d := range state.Decisions {
		if d.Kind == DecisionComplete {
			completes++
		}
	}
	assert.Equal(t, 2, completes)
}

func TestRunBatchCancelledBeforeDispatch(t *testing.T) {
	runner := &nodeRunner{gen: new(llm.Scripted), search: &fakeSearcher{}, emitter: NewEmitter(0)}
	tree, state := newTestTree(t, testBudgets(), runner)
	tree.SpawnBatch([]Question{{Question: "one"}}, "seed")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, tree.RunBatch(ctx), ErrStopped)

	tree.PruneRemaining("stopped by user")
	for _, n := range state.Nodes {
		assert.Equal(t, NodePruned, n.Status)
	}
}

func TestPruneRemainingRecordsDecision(t *testing.T) {
	tree, state := newTestTree(t, testBudgets(), nil)
	a, _ := tree.Spawn(Question{Question: "a"})
	b, _ := tree.Spawn(Question{Question: "b"})
	state.Nodes[a.ID].Status = NodeDone

	tree.PruneRemaining("stopped by user")

	assert.Equal(t, NodeDone, state.Nodes[a.ID].Status, "done nodes stay done")
	assert.Equal(t, NodePruned, state.Nodes[b.ID].Status)

	last := state.Decisions[len(state.Decisions)-1]
	assert.Equal(t, DecisionPrune, last.Kind)
	assert.Equal(t, []string{b.ID}, last.NodeIDs)
}
