package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"deepscout/internal/llm"
	"deepscout/internal/logging"
	"deepscout/internal/websearch"

	"go.uber.org/zap"
)

// maxQueriesPerCycle bounds one linear plan step.
const maxQueriesPerCycle = 3

// LinearRequest describes a single-document research run: no tree, one
// shared document refined through plan/search/reflect cycles.
type LinearRequest struct {
	Objective       string
	SuccessCriteria []string

	// MaxCycles caps the plan/search/reflect iterations. Zero means 6.
	MaxCycles int

	// MaxTime caps the wall clock for the run. Zero means no cap.
	MaxTime time.Duration

	OnProgress ProgressFunc
}

// LinearResult is the outcome of a linear run. Document is always populated,
// whatever the status.
type LinearResult struct {
	Status      RunStatus  `json:"status"`
	Document    *Document  `json:"-"`
	FinalAnswer string     `json:"final_answer,omitempty"`
	Cycles      int        `json:"cycles"`
	TotalTokens int        `json:"total_tokens"`
	Decisions   []Decision `json:"decisions,omitempty"`
}

func (r *LinearResult) appendDecision(kind DecisionKind, reasoning string) {
	r.Decisions = append(r.Decisions, Decision{
		Seq:       len(r.Decisions) + 1,
		Kind:      kind,
		Reasoning: reasoning,
		Timestamp: time.Now(),
	})
}

type linearPlanWire struct {
	Queries []struct {
		Query   string `json:"query"`
		Purpose string `json:"purpose"`
	} `json:"queries"`
}

// RunLinear executes the single-document mode: each cycle plans queries from
// the current document, searches, and reflects the findings into the
// document, until reflection decides to stop or a budget runs out. Final
// synthesis reads the document, not the raw findings.
func (o *Orchestrator) RunLinear(ctx context.Context, req LinearRequest) (*LinearResult, error) {
	if req.Objective == "" {
		return nil, errors.New("research: objective is required")
	}
	maxCycles := req.MaxCycles
	if maxCycles <= 0 {
		maxCycles = 6
	}

	emitter := NewEmitter(0)
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

	log := logging.For(logging.CategoryOrchestrator)
	reflector := NewReflector(o.gen)
	result := &LinearResult{Status: RunRunning, Document: NewDocument()}
	started := time.Now()
	var issued []string

	emitter.Emit(ResearchStarted{Objective: req.Objective})

	for result.Cycles < maxCycles {
		if ctx.Err() != nil {
			result.Status = RunStopped
			return result, ErrStopped
		}
		if req.MaxTime > 0 && time.Since(started) > req.MaxTime {
			result.appendDecision(DecisionFinish, "time budget exhausted; synthesizing from the document")
			log.Info("time budget exhausted, forcing finish", zap.Int("cycles", result.Cycles))
			break
		}

		queries, tokens, err := o.planLinear(ctx, result.Document, req.Objective, req.SuccessCriteria, issued)
		result.TotalTokens += tokens
		if err != nil {
			if ctx.Err() != nil {
				result.Status = RunStopped
				return result, ErrStopped
			}
			log.Warn("planning failed, forcing finish", zap.Error(err))
			break
		}
		if len(queries) == 0 {
			result.appendDecision(DecisionFinish, "planner proposed no new queries")
			log.Info("planner proposed nothing new, forcing finish")
			break
		}
		for _, q := range queries {
			issued = append(issued, q.Query)
		}

		emitter.Emit(SearchStarted{Queries: queries})
		findings, err := o.search.Search(ctx, queries)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				result.Status = RunStopped
				return result, ErrStopped
			}
			findings = websearch.Findings{}
		}
		result.TotalTokens += findings.Tokens
		emitter.Emit(SearchCompleted{Queries: findings.Queries})

		// Deep-read the top sources so reflection sees page content, not
		// just snippets.
		if urls := topSourceURLs(findings, 2); len(urls) > 0 {
			emitter.Emit(ExtractStarted{URLs: urls, Purpose: "read top sources"})
			extraction, err := o.search.Extract(ctx, urls, "read top sources")
			if err != nil {
				if ctx.Err() != nil {
					result.Status = RunStopped
					return result, ErrStopped
				}
				log.Warn("extraction failed, continuing with snippets", zap.Error(err))
			} else {
				emitter.Emit(ExtractCompleted{Results: extraction.Results, Failed: extraction.Failed})
				if s := extractionDigest(extraction); s != "" {
					findings.Summary = s
				}
			}
		}

		emitter.Emit(ReflectionStarted{})
		refl, err := reflector.Reflect(ctx, result.Document, findings, req.Objective, req.SuccessCriteria)
		if err != nil {
			result.Status = RunStopped
			return result, ErrStopped
		}
		result.TotalTokens += refl.Tokens
		applied := result.Document.Apply(refl.Edits)
		warnings := append([]string(nil), refl.Warnings...)
		warnings = append(warnings, applied.Warnings...)
		for _, w := range warnings {
			result.appendDecision(DecisionWarning, w)
		}
		emitter.Emit(ReflectionCompleted{Reasoning: refl.Rationale, ShouldContinue: refl.ShouldContinue})
		emitter.Emit(DocUpdated{Applied: applied.Applied, Warnings: warnings})

		result.Cycles++
		if !refl.ShouldContinue {
			// The stop justification is part of the record, not just a log line.
			result.appendDecision(DecisionFinish, refl.Rationale)
			log.Info("reflection concluded research", zap.String("rationale", refl.Rationale))
			break
		}
	}

	if ctx.Err() != nil {
		result.Status = RunStopped
		return result, ErrStopped
	}

	answer, tokens, err := o.finishLinear(ctx, result.Document, req.Objective, req.SuccessCriteria)
	result.TotalTokens += tokens
	if err != nil {
		result.Status = RunStopped
		return result, ErrStopped
	}
	result.FinalAnswer = answer
	result.Status = RunComplete
	emitter.Emit(Complete{FinalAnswer: answer})
	return result, nil
}

// topSourceURLs picks the highest-ranked source of each successful query.
func topSourceURLs(f websearch.Findings, max int) []string {
	var urls []string
	seen := make(map[string]bool)
	for _, q := range f.Queries {
		if q.Status != websearch.StatusSuccess || len(q.Sources) == 0 {
			continue
		}
		u := q.Sources[0].URL
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
		if len(urls) == max {
			break
		}
	}
	return urls
}

// extractionDigest renders extracted pages for prompting, capped per page.
func extractionDigest(ex websearch.Extraction) string {
	const perPage = 4000
	var b strings.Builder
	for _, p := range ex.Results {
		content := p.Content
		if len(content) > perPage {
			content = content[:perPage] + " [truncated]"
		}
		fmt.Fprintf(&b, "Page %s:\n%s\n\n", p.URL, content)
	}
	return strings.TrimSpace(b.String())
}

// planLinear proposes the next query batch from the document, retrying once.
func (o *Orchestrator) planLinear(ctx context.Context, doc *Document, objective string, criteria, issued []string) ([]websearch.Query, int, error) {
	req := llm.Request{
		System: linearPlanSystemPrompt,
		Prompt: buildLinearPlanPrompt(doc, objective, criteria, issued),
		Schema: linearPlanSchema(),
	}

	tokens := 0
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := o.gen.GenerateStructured(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, tokens, ctx.Err()
			}
			lastErr = err
			continue
		}
		tokens += resp.Tokens
		var wire linearPlanWire
		if err := llm.Decode(resp, &wire); err != nil {
			lastErr = err
			continue
		}

		var queries []websearch.Query
		for _, q := range wire.Queries {
			query := strings.TrimSpace(q.Query)
			if query == "" || containsQuery(issued, query) {
				continue
			}
			queries = append(queries, websearch.Query{Query: query, Purpose: q.Purpose})
			if len(queries) == maxQueriesPerCycle {
				break
			}
		}
		return queries, tokens, nil
	}
	return nil, tokens, lastErr
}

// finishLinear synthesizes the answer from the document. Model failure
// degrades to the document's own rendering so the answer is never empty.
func (o *Orchestrator) finishLinear(ctx context.Context, doc *Document, objective string, criteria []string) (string, int, error) {
	req := llm.Request{
		System: linearFinishSystemPrompt,
		Prompt: buildLinearFinishPrompt(doc, objective, criteria),
		Schema: brainFinishSchema(),
	}

	tokens := 0
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := o.gen.GenerateStructured(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return "", tokens, ctx.Err()
			}
			lastErr = err
			continue
		}
		tokens += resp.Tokens
		var wire brainFinishWire
		if err := llm.Decode(resp, &wire); err != nil {
			lastErr = err
			continue
		}
		if strings.TrimSpace(wire.Answer) == "" {
			lastErr = errors.New("empty final answer")
			continue
		}
		return wire.Answer, tokens, nil
	}

	logging.For(logging.CategoryOrchestrator).Warn("linear synthesis failed, returning document", zap.Error(lastErr))
	return fmt.Sprintf("Synthesis was unavailable; research document for %q:\n\n%s", objective, doc.Markdown()), tokens, nil
}
