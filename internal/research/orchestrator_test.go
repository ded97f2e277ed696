package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"deepscout/internal/config"
	"deepscout/internal/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scenarioClient answers every role the orchestrator exercises: the brain
// seeds three sub-questions, each node issues one query and concludes, and
// the second brain pass declares the criteria met.
func scenarioClient(t *testing.T) llm.Client {
	var queryN atomic.Int32
	return llm.Func(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		switch req.System {
		case brainEvaluateSystemPrompt:
			if strings.Contains(req.Prompt, "Research has not started") {
				return scriptResp(t, map[string]any{
					"decision":  "continue",
					"reasoning": "decompose the objective",
					"questions": []map[string]any{
						{"question": "Which content formats rank for B2B SaaS?", "description": "formats", "goal": "a ranked list"},
						{"question": "What link-building tactics work in 2026?", "description": "links", "goal": "tactics with evidence"},
						{"question": "How should technical SEO be prioritized?", "description": "tech", "goal": "a priority order"},
					},
				}), nil
			}
			return scriptResp(t, map[string]any{"decision": "done", "reasoning": "three strategies identified"}), nil
		case nodeEvalSystemPrompt:
			if strings.Contains(req.Prompt, "(no searches yet)") {
				n := queryN.Add(1)
				return scriptResp(t, evalContinue(fmt.Sprintf("seo strategy query %d", n))), nil
			}
			return scriptResp(t, evalDone()), nil
		case nodeFinishSystemPrompt:
			return scriptResp(t, finishAnswer("A concrete strategy backed by sources.", "high")), nil
		case brainFinishSystemPrompt:
			return scriptResp(t, map[string]any{
				"answer": "1. Comparison content. 2. Digital PR links. 3. Core Web Vitals fixes.",
			}), nil
		}
		return llm.Response{}, fmt.Errorf("unexpected system prompt %q", req.System)
	})
}

func TestRunCompletesObjective(t *testing.T) {
	var events []Envelope
	orch := New(scenarioClient(t), &fakeSearcher{})

	state, err := orch.Run(context.Background(), Request{
		Objective:       "List 3 SEO strategies for B2B SaaS",
		SuccessCriteria: []string{"at least three distinct strategies"},
		Budgets:         config.Budgets{MaxNodes: 5, MaxDepth: 2, MaxTime: time.Minute, MaxCyclesPerNode: 3, Concurrency: 2},
		OnProgress:      func(env Envelope) { events = append(events, env) },
	})
	require.NoError(t, err)

	assert.Equal(t, RunComplete, state.Status)
	assert.Contains(t, state.FinalAnswer, "Comparison content")
	assert.Len(t, state.DoneNodes(), 3)
	assert.Greater(t, state.TotalTokens, 0)
	assert.False(t, state.FinishedAt.IsZero())

	require.NotEmpty(t, events)
	assert.Equal(t, EventResearchStarted, events[0].Event.Type())
	assert.Equal(t, EventComplete, events[len(events)-1].Event.Type())
	for i, env := range events {
		assert.Equal(t, i+1, env.Seq, "envelopes arrive in sequence order")
	}

	var kinds []DecisionKind
	for _, d := range state.Decisions {
		kinds = append(kinds, d.Kind)
	}
	assert.Equal(t, DecisionSpawn, kinds[0])
	assert.Equal(t, DecisionFinish, kinds[len(kinds)-1])
}

func TestRunStoppedMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := llm.Func(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		switch req.System {
		case brainEvaluateSystemPrompt:
			return scriptResp(t, map[string]any{
				"decision":  "continue",
				"reasoning": "start",
				"questions": []map[string]any{
					{"question": "First question?", "description": "d", "goal": "g"},
					{"question": "Second question?", "description": "d", "goal": "g"},
				},
			}), nil
		default:
			// The user aborts while nodes are mid-cycle.
			cancel()
			return llm.Response{}, ctx.Err()
		}
	})

	orch := New(gen, &fakeSearcher{})
	state, err := orch.Run(ctx, Request{Objective: "anything"})
	require.ErrorIs(t, err, ErrStopped)

	assert.Equal(t, RunStopped, state.Status)
	assert.Empty(t, state.FinalAnswer)
	for _, n := range state.Nodes {
		assert.Contains(t, []NodeStatus{NodePruned, NodeDone}, n.Status,
			"no node may be left pending or running after a stop")
	}
}

func TestRunBudgetForcesSynthesis(t *testing.T) {
	gen := llm.Func(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		switch req.System {
		case brainEvaluateSystemPrompt:
			// Never satisfied: always wants two more nodes.
			return scriptResp(t, map[string]any{
				"decision":  "continue",
				"reasoning": "always more",
				"questions": []map[string]any{
					{"question": "More on A?", "description": "d", "goal": "g"},
					{"question": "More on B?", "description": "d", "goal": "g"},
				},
			}), nil
		case nodeEvalSystemPrompt:
			return scriptResp(t, evalDone()), nil
		case nodeFinishSystemPrompt:
			return scriptResp(t, finishAnswer("partial finding", "medium")), nil
		case brainFinishSystemPrompt:
			return scriptResp(t, map[string]any{"answer": "Best effort from one node."}), nil
		}
		return llm.Response{}, fmt.Errorf("unexpected system prompt %q", req.System)
	})

	orch := New(gen, &fakeSearcher{})
	state, err := orch.Run(context.Background(), Request{
		Objective: "unbounded appetite",
		Budgets:   config.Budgets{MaxNodes: 1, MaxDepth: 2, MaxTime: time.Minute, MaxCyclesPerNode: 2, Concurrency: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, RunComplete, state.Status)
	assert.Equal(t, "Best effort from one node.", state.FinalAnswer)
	assert.Len(t, state.Nodes, 1, "the node budget caps creation")
}

func TestRunRequiresObjective(t *testing.T) {
	orch := New(new(llm.Scripted), &fakeSearcher{})
	_, err := orch.Run(context.Background(), Request{})
	require.Error(t, err)
}

func TestRunFailsWhenPlannerUnusable(t *testing.T) {
	gen := new(llm.Scripted).
		EnqueueError(errors.New("model down")).
		EnqueueError(errors.New("model down"))

	orch := New(gen, &fakeSearcher{})
	state, err := orch.Run(context.Background(), Request{Objective: "anything"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStopped)
	assert.Equal(t, RunFailed, state.Status)
	assert.Empty(t, state.Nodes)
}

func TestRunLinearCompletes(t *testing.T) {
	gen := llm.Func(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		switch req.System {
		case linearPlanSystemPrompt:
			return scriptResp(t, map[string]any{
				"queries": []map[string]any{
					{"query": "solid state battery timeline", "purpose": "timeline"},
					{"query": "solid state battery cost curve", "purpose": "costs"},
				},
			}), nil
		case reflectionSystemPrompt:
			return scriptResp(t, map[string]any{
				"edits": []map[string]any{{
					"op":      "add_items",
					"section": "key_findings",
					"items":   []map[string]any{{"text": "Pilot production starts 2027."}},
				}},
				"should_continue": false,
				"rationale":       "criteria satisfied",
			}), nil
		case linearFinishSystemPrompt:
			return scriptResp(t, map[string]any{"answer": "Commercial cells arrive around 2027."}), nil
		}
		return llm.Response{}, fmt.Errorf("unexpected system prompt %q", req.System)
	})

	var events []Envelope
	orch := New(gen, &fakeSearcher{})
	res, err := orch.RunLinear(context.Background(), LinearRequest{
		Objective:  "When do solid state batteries ship?",
		OnProgress: func(env Envelope) { events = append(events, env) },
	})
	require.NoError(t, err)

	assert.Equal(t, RunComplete, res.Status)
	assert.Equal(t, "Commercial cells arrive around 2027.", res.FinalAnswer)
	assert.Equal(t, 1, res.Cycles)
	require.Len(t, res.Document.Items(SectionKeyFindings), 1)
	assert.Greater(t, res.TotalTokens, 0)

	require.NotEmpty(t, res.Decisions)
	last := res.Decisions[len(res.Decisions)-1]
	assert.Equal(t, DecisionFinish, last.Kind)
	assert.Equal(t, "criteria satisfied", last.Reasoning)

	var types []EventType
	for _, env := range events {
		types = append(types, env.Event.Type())
	}
	assert.Contains(t, types, EventExtractStarted)
	assert.Contains(t, types, EventDocUpdated)
	assert.Contains(t, types, EventReflectionCompleted)
	assert.Equal(t, EventComplete, types[len(types)-1])
}

func TestRunLinearStopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch := New(new(llm.Scripted), &fakeSearcher{})
	res, err := orch.RunLinear(ctx, LinearRequest{Objective: "anything"})
	require.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, RunStopped, res.Status)
	assert.NotNil(t, res.Document)
}

func TestRunLinearPlannerExhaustionStillSynthesizes(t *testing.T) {
	call := 0
	gen := llm.Func(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		switch req.System {
		case linearPlanSystemPrompt:
			call++
			return llm.Response{}, errors.New("model down")
		case linearFinishSystemPrompt:
			return llm.Response{}, errors.New("model down")
		}
		return llm.Response{}, fmt.Errorf("unexpected system prompt %q", req.System)
	})

	orch := New(gen, &fakeSearcher{})
	res, err := orch.RunLinear(context.Background(), LinearRequest{Objective: "anything"})
	require.NoError(t, err)
	assert.Equal(t, RunComplete, res.Status)
	assert.NotEmpty(t, res.FinalAnswer, "degraded synthesis returns the document itself")
}
