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

// Searcher is the search capability the orchestrator depends on.
// *websearch.Executor satisfies it; tests substitute fakes.
type Searcher interface {
	Search(ctx context.Context, queries []websearch.Query) (websearch.Findings, error)
	Extract(ctx context.Context, urls []string, purpose string) (websearch.Extraction, error)
}

// noNewSourceLimit is the diminishing-returns short-circuit: this many
// consecutive cycles without a single new source URL force "done"
// regardless of the remaining cycle budget.
const noNewSourceLimit = 2

// nodeOutcome is what a concluded cycle loop hands back to the tree
// manager. The runner never touches node.Status; that transition belongs
// to the tree manager.
type nodeOutcome struct {
	answer     string
	confidence Confidence
	followups  []FollowupSuggestion
	tokens     int
}

// nodeRunner executes one node's search/evaluate cycle loop.
type nodeRunner struct {
	gen     llm.Client
	search  Searcher
	emitter *Emitter
}

// nodeEvalWire is the evaluation step's response shape.
type nodeEvalWire struct {
	Decision  string `json:"decision"` // done|continue
	Reasoning string `json:"reasoning"`
	NextQuery string `json:"next_query"`
	Purpose   string `json:"purpose"`
}

// nodeFinishWire is the completion step's response shape.
type nodeFinishWire struct {
	Answer     string               `json:"answer"`
	Confidence string               `json:"confidence"`
	Followups  []FollowupSuggestion `json:"followups"`
}

// run drives the cycle loop: evaluate whether enough evidence exists, issue
// the next query if not, append the result, repeat. It returns ErrStopped
// only on cancellation; every other failure degrades into a completed
// outcome so the node is never left stuck in running.
func (r *nodeRunner) run(ctx context.Context, node *ResearchNode, objective string, criteria, previousQueries []string) (nodeOutcome, error) {
	log := logging.For(logging.CategoryNode).With(zap.String("node_id", node.ID))

	issued := append([]string(nil), previousQueries...)
	seenURLs := make(map[string]bool)
	noNewStreak := 0

	for node.Cycles < node.MaxCycles {
		if ctx.Err() != nil {
			return nodeOutcome{}, fmt.Errorf("%w: %v", ErrStopped, ctx.Err())
		}
		if noNewStreak >= noNewSourceLimit {
			log.Debug("diminishing returns, forcing done", zap.Int("cycles", node.Cycles))
			break
		}

		eval, tokens, err := r.evaluate(ctx, node, objective, criteria, issued)
		node.Tokens += tokens
		if err != nil {
			if ctx.Err() != nil {
				return nodeOutcome{}, fmt.Errorf("%w: %v", ErrStopped, ctx.Err())
			}
			// Evaluation is unrecoverable: conclude with what we have.
			log.Warn("evaluation failed twice, concluding with low confidence", zap.Error(err))
			return r.degradedOutcome(node, err), nil
		}
		if n := len(node.Searches); n > 0 && eval.Reasoning != "" {
			// The evaluation doubles as the reflection on the latest result.
			node.Searches[n-1].Reflection = eval.Reasoning
		}
		if eval.Decision == "done" {
			log.Debug("evaluation says done", zap.Int("cycles", node.Cycles))
			break
		}

		query := strings.TrimSpace(eval.NextQuery)
		if query == "" || containsQuery(issued, query) {
			// The evaluator has nothing new to ask; treat as done.
			log.Debug("no fresh query proposed, forcing done", zap.String("query", query))
			break
		}

		entry, newSources, err := r.runSearch(ctx, node, websearch.Query{Query: query, Purpose: eval.Purpose})
		if err != nil {
			return nodeOutcome{}, err // only cancellation propagates
		}
		node.Searches = append(node.Searches, entry)
		issued = append(issued, query)
		node.Cycles++

		fresh := countNew(seenURLs, newSources)
		for _, u := range newSources {
			seenURLs[u] = true
		}
		if fresh == 0 {
			noNewStreak++
		} else {
			noNewStreak = 0
		}
	}

	return r.finish(ctx, node, objective)
}

// evaluate asks whether enough evidence exists, retrying once on error or
// malformed output.
func (r *nodeRunner) evaluate(ctx context.Context, node *ResearchNode, objective string, criteria, issued []string) (nodeEvalWire, int, error) {
	req := llm.Request{
		System: nodeEvalSystemPrompt,
		Prompt: buildNodeEvalPrompt(node, objective, criteria, issued),
		Schema: nodeEvalSchema(),
	}

	var lastErr error
	tokens := 0
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := r.gen.GenerateStructured(ctx, req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		tokens += resp.Tokens
		var wire nodeEvalWire
		if err := llm.Decode(resp, &wire); err != nil {
			lastErr = err
			continue
		}
		if wire.Decision != "done" && wire.Decision != "continue" {
			lastErr = fmt.Errorf("invalid decision %q", wire.Decision)
			continue
		}
		return wire, tokens, nil
	}
	return nodeEvalWire{}, tokens, lastErr
}

// runSearch executes a single query and converts it to a search entry.
// Provider failures become status=error entries; only cancellation is an
// error.
func (r *nodeRunner) runSearch(ctx context.Context, node *ResearchNode, q websearch.Query) (SearchEntry, []string, error) {
	r.emitter.Emit(SearchStarted{NodeID: node.ID, Queries: []websearch.Query{q}})

	findings, err := r.search.Search(ctx, []websearch.Query{q})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return SearchEntry{}, nil, fmt.Errorf("%w: search aborted", ErrStopped)
		}
		// Executor-level errors (bad batch shape) should not happen for a
		// single query; record rather than raise.
		findings = websearch.Findings{Queries: []websearch.QueryResult{{
			Query: q.Query, Purpose: q.Purpose, Status: websearch.StatusError, Error: err.Error(),
		}}}
	}
	node.Tokens += findings.Tokens

	r.emitter.Emit(SearchCompleted{NodeID: node.ID, Queries: findings.Queries})

	res := findings.Queries[0]
	entry := SearchEntry{
		Query:     res.Query,
		Result:    res.Answer,
		Sources:   res.Sources,
		Status:    string(res.Status),
		Timestamp: time.Now(),
	}
	if res.Error != "" {
		entry.Result = "error: " + res.Error
	}

	var urls []string
	for _, s := range res.Sources {
		urls = append(urls, s.URL)
	}
	return entry, urls, nil
}

// finish produces the node's answer, confidence, and follow-up candidates.
// Model failure degrades to a low-confidence answer synthesized from the
// accumulated searches.
func (r *nodeRunner) finish(ctx context.Context, node *ResearchNode, objective string) (nodeOutcome, error) {
	if ctx.Err() != nil {
		return nodeOutcome{}, fmt.Errorf("%w: %v", ErrStopped, ctx.Err())
	}

	req := llm.Request{
		System: nodeFinishSystemPrompt,
		Prompt: buildNodeFinishPrompt(node, objective),
		Schema: nodeFinishSchema(),
	}

	var lastErr error
	tokens := 0
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := r.gen.GenerateStructured(ctx, req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nodeOutcome{}, fmt.Errorf("%w: %v", ErrStopped, ctx.Err())
			}
			continue
		}
		tokens += resp.Tokens
		var wire nodeFinishWire
		if err := llm.Decode(resp, &wire); err != nil {
			lastErr = err
			continue
		}
		if strings.TrimSpace(wire.Answer) == "" {
			lastErr = errors.New("empty answer")
			continue
		}
		node.Tokens += tokens
		conf := parseConfidence(wire.Confidence)
		if !hasSuccessfulSearch(node) {
			// Nothing retrieved backs this answer, whatever the model claims.
			conf = ConfidenceLow
		}
		return nodeOutcome{
			answer:     wire.Answer,
			confidence: conf,
			followups:  wire.Followups,
			tokens:     tokens,
		}, nil
	}

	logging.For(logging.CategoryNode).Warn("node finish failed, synthesizing from searches",
		zap.String("node_id", node.ID), zap.Error(lastErr))
	node.Tokens += tokens
	out := r.degradedOutcome(node, lastErr)
	out.tokens = tokens
	return out, nil
}

// degradedOutcome builds the graceful-degradation answer used when the
// model cannot conclude the node. The answer is always non-empty.
func (r *nodeRunner) degradedOutcome(node *ResearchNode, cause error) nodeOutcome {
	var b strings.Builder
	fmt.Fprintf(&b, "Research on %q could not be concluded cleanly", node.Question)
	if cause != nil {
		b.WriteString(" (the evaluation step failed)")
	}
	b.WriteString(". Partial findings:\n")

	found := false
	for _, s := range node.Searches {
		if s.Status == string(websearch.StatusSuccess) && s.Result != "" {
			fmt.Fprintf(&b, "- %s: %s\n", s.Query, s.Result)
			found = true
		}
	}
	if !found {
		b.WriteString("- no usable search results were gathered\n")
	}
	return nodeOutcome{answer: b.String(), confidence: ConfidenceLow}
}

func parseConfidence(s string) Confidence {
	switch Confidence(strings.ToLower(s)) {
	case ConfidenceHigh:
		return ConfidenceHigh
	case ConfidenceMedium:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func hasSuccessfulSearch(node *ResearchNode) bool {
	for _, s := range node.Searches {
		if s.Status == string(websearch.StatusSuccess) {
			return true
		}
	}
	return false
}

func containsQuery(list []string, q string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), q) {
			return true
		}
	}
	return false
}

func countNew(seen map[string]bool, urls []string) int {
	n := 0
	for _, u := range urls {
		if !seen[u] {
			n++
		}
	}
	return n
}
