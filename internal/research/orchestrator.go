package research

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deepscout/internal/config"
	"deepscout/internal/llm"
	"deepscout/internal/logging"

	"go.uber.org/zap"
)

// Request describes one research run.
type Request struct {
	Objective       string
	SuccessCriteria []string

	// Budgets are the hard caps for the run. Zero-valued fields fall back
	// to the package defaults.
	Budgets config.Budgets

	// OnProgress receives every progress envelope, in order, from a single
	// goroutine. Optional.
	OnProgress ProgressFunc

	// EventBuffer sizes the progress channel. Zero means a sane default.
	EventBuffer int
}

// Orchestrator wires the brain, tree manager, and node runners over the
// generation and search capabilities.
type Orchestrator struct {
	gen    llm.Client
	search Searcher
}

// New constructs an orchestrator from its two capabilities.
func New(gen llm.Client, search Searcher) *Orchestrator {
	return &Orchestrator{gen: gen, search: search}
}

// Run executes a research objective to a terminal state. The returned state
// is always readable, whatever the outcome:
//
//   - complete: success criteria met or budgets forced synthesis; FinalAnswer set.
//   - stopped: the context was cancelled; ErrStopped is returned alongside.
//   - failed: the run could not make any research progress; the error explains why.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*ResearchState, error) {
	if req.Objective == "" {
		return nil, errors.New("research: objective is required")
	}
	budgets := fillBudgets(req.Budgets)

	state := &ResearchState{
		Objective:       req.Objective,
		SuccessCriteria: req.SuccessCriteria,
		Status:          RunRunning,
		Nodes:           make(map[string]*ResearchNode),
		StartedAt:       time.Now(),
	}

	emitter := NewEmitter(req.EventBuffer)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for env := range emitter.Events() {
			if req.OnProgress != nil {
				req.OnProgress(env)
			}
		}
	}()
	defer func() {
		emitter.Close()
		<-consumerDone
	}()

	runner := &nodeRunner{gen: o.gen, search: o.search, emitter: emitter}
	tree := newTreeManager(state, budgets, emitter, runner)
	br := &brain{gen: o.gen, emitter: emitter}
	log := logging.For(logging.CategoryOrchestrator)

	emitter.Emit(ResearchStarted{Objective: req.Objective})
	log.Info("research started", zap.String("objective", req.Objective))

	for {
		if ctx.Err() != nil {
			return o.stop(tree, state)
		}
		if tree.BudgetExceeded() {
			log.Info("budget exhausted, forcing finish")
			break
		}

		ev, err := br.Evaluate(ctx, req.Objective, req.SuccessCriteria, tree.doneNodes())
		if err != nil {
			return o.stop(tree, state)
		}
		tree.addTokens(ev.Tokens)

		if ev.Decision == "done" {
			if len(tree.doneNodes()) == 0 && len(state.Nodes) == 0 {
				// Nothing was ever researched: the planner is unusable.
				return o.fail(tree, state, emitter, fmt.Errorf("research: planner produced no questions: %s", ev.Reasoning))
			}
			break
		}

		spawned := tree.SpawnBatch(toQuestions(ev.Questions), ev.Reasoning)
		if len(spawned) == 0 {
			log.Info("no nodes spawned, forcing finish", zap.String("reasoning", ev.Reasoning))
			break
		}

		if err := tree.RunBatch(ctx); err != nil {
			return o.stop(tree, state)
		}
	}

	if ctx.Err() != nil {
		return o.stop(tree, state)
	}

	done := tree.doneNodes()
	answer, tokens, err := br.Finish(ctx, req.Objective, req.SuccessCriteria, done)
	if err != nil {
		return o.stop(tree, state)
	}
	tree.addTokens(tokens)

	tree.PruneRemaining("finishing with completed work")
	tree.appendDecision(DecisionFinish, "success criteria evaluation concluded; final answer synthesized", nil)
	tree.setTerminal(RunComplete, answer)
	emitter.Emit(Complete{FinalAnswer: answer})
	log.Info("research complete", zap.Int("nodes", len(state.Nodes)), zap.Int("tokens", state.TotalTokens))
	return state, nil
}

// stop handles user cancellation: in-flight work is already pruned by the
// tree manager; remaining pending nodes are pruned here, finish is skipped,
// and the distinguished ErrStopped is returned with the readable state.
func (o *Orchestrator) stop(tree *treeManager, state *ResearchState) (*ResearchState, error) {
	tree.PruneRemaining("stopped by user")
	tree.setTerminal(RunStopped, "")
	logging.For(logging.CategoryOrchestrator).Info("research stopped by user",
		zap.Int("nodes", len(state.Nodes)))
	return state, ErrStopped
}

// fail marks the run failed. Partial results stay readable.
func (o *Orchestrator) fail(tree *treeManager, state *ResearchState, emitter *Emitter, cause error) (*ResearchState, error) {
	emitter.Emit(ErrorEvent{Message: cause.Error()})
	tree.PruneRemaining("run failed")
	tree.setTerminal(RunFailed, "")
	logging.For(logging.CategoryOrchestrator).Error("research failed", zap.Error(cause))
	return state, cause
}

func toQuestions(qs []ProposedQuestion) []Question {
	out := make([]Question, 0, len(qs))
	for _, q := range qs {
		out = append(out, Question{
			Question: q.Question,
			Reason:   q.Description,
			Goal:     q.Goal,
			ParentID: q.ParentID,
		})
	}
	return out
}

func fillBudgets(b config.Budgets) config.Budgets {
	def := config.DefaultBudgets()
	if b.MaxNodes <= 0 {
		b.MaxNodes = def.MaxNodes
	}
	if b.MaxDepth <= 0 {
		b.MaxDepth = def.MaxDepth
	}
	if b.MaxTime <= 0 {
		b.MaxTime = def.MaxTime
	}
	if b.MaxCyclesPerNode <= 0 {
		b.MaxCyclesPerNode = def.MaxCyclesPerNode
	}
	if b.Concurrency <= 0 {
		b.Concurrency = def.Concurrency
	}
	return b
}
