package websearch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"deepscout/internal/config"
	"deepscout/internal/llm"
	"deepscout/internal/logging"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MaxBatchQueries is the most queries accepted in one Search call.
const MaxBatchQueries = 5

// ErrNoQueries indicates an empty batch.
var ErrNoQueries = errors.New("websearch: no queries supplied")

// ErrTooManyQueries indicates a batch above MaxBatchQueries.
var ErrTooManyQueries = fmt.Errorf("websearch: more than %d queries in one batch", MaxBatchQueries)

// Executor runs batched searches against a Provider. Transient provider
// errors are retried with exponential backoff; a query that exhausts its
// retries yields a StatusError record rather than failing the batch.
// Duplicate-query avoidance is the caller's responsibility.
type Executor struct {
	provider Provider
	fetcher  Fetcher
	gen      llm.Client // optional: summarizes raw hits into answers
	cache    *resultCache
	cfg      config.SearchConfig
}

// NewExecutor constructs a search executor. gen may be nil, in which case
// per-query answers are assembled from raw snippets without summarization.
func NewExecutor(provider Provider, fetcher Fetcher, gen llm.Client, cfg config.SearchConfig) *Executor {
	return &Executor{
		provider: provider,
		fetcher:  fetcher,
		gen:      gen,
		cache:    newResultCache(cfg.CacheSize),
		cfg:      cfg,
	}
}

// Search executes 1..5 queries in parallel and returns one result record per
// query, in input order. The returned error is non-nil only for invalid
// input or context cancellation; per-query failures are typed records.
func (e *Executor) Search(ctx context.Context, queries []Query) (Findings, error) {
	if len(queries) == 0 {
		return Findings{}, ErrNoQueries
	}
	if len(queries) > MaxBatchQueries {
		return Findings{}, ErrTooManyQueries
	}

	log := logging.For(logging.CategorySearch)
	start := time.Now()

	results := make([]QueryResult, len(queries))
	var mu sync.Mutex
	var tokens int

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			res, used := e.runQuery(gctx, q)
			mu.Lock()
			results[i] = res
			tokens += used
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Findings{}, err
	}
	if err := ctx.Err(); err != nil {
		return Findings{}, err
	}

	log.Debug("batch complete",
		zap.Int("queries", len(queries)),
		zap.Duration("elapsed", time.Since(start)))

	return Findings{Queries: results, Tokens: tokens, Elapsed: time.Since(start)}, nil
}

// runQuery executes a single query end to end: cache, provider with retry,
// then summarization. Failures degrade to a typed record.
func (e *Executor) runQuery(ctx context.Context, q Query) (QueryResult, int) {
	res := QueryResult{Query: q.Query, Purpose: q.Purpose}

	hits, cached := e.cache.get(q.Query)
	if !cached {
		var err error
		hits, err = e.searchWithRetry(ctx, q.Query)
		if err != nil {
			res.Status = StatusError
			res.Error = err.Error()
			return res, 0
		}
		e.cache.put(q.Query, hits)
	}

	if len(hits) == 0 {
		res.Status = StatusNoResults
		return res, 0
	}

	if len(hits) > e.maxSources() {
		hits = hits[:e.maxSources()]
	}
	for _, h := range hits {
		res.Sources = append(res.Sources, Source{Title: h.Title, URL: h.URL})
	}

	answer, tokens, err := e.summarize(ctx, q, hits)
	if err != nil {
		// Hits are still useful without a summary; fall back to snippets.
		logging.For(logging.CategorySearch).Warn("summarization failed, using raw snippets",
			zap.String("query", q.Query), zap.Error(err))
		answer = joinSnippets(hits)
		tokens = 0
	}
	res.Answer = answer
	res.Status = StatusSuccess
	return res, tokens
}

// searchWithRetry calls the provider with bounded exponential backoff.
func (e *Executor) searchWithRetry(ctx context.Context, query string) ([]Hit, error) {
	log := logging.For(logging.CategorySearch)
	var lastErr error

	maxRetries := e.cfg.MaxRetries
	backoff := e.cfg.BackoffBase
	if backoff <= 0 {
		backoff = time.Second
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		hits, err := e.provider.Search(ctx, query)
		if err == nil {
			if attempt > 0 {
				log.Debug("search retry succeeded", zap.String("query", query), zap.Int("attempt", attempt+1))
			}
			return hits, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		lastErr = err
		log.Warn("search attempt failed",
			zap.String("query", query),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if e.cfg.BackoffMax > 0 && backoff > e.cfg.BackoffMax {
				backoff = e.cfg.BackoffMax
			}
		}
	}
	return nil, fmt.Errorf("websearch: retries exhausted for %q: %w", query, lastErr)
}

// summarize turns raw hits into a direct answer to the query's purpose.
func (e *Executor) summarize(ctx context.Context, q Query, hits []Hit) (string, int, error) {
	if e.gen == nil {
		return joinSnippets(hits), 0, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search query: %s\nPurpose: %s\n\nResults:\n", q.Query, q.Purpose)
	for i, h := range hits {
		fmt.Fprintf(&b, "%d. %s (%s)\n%s\n\n", i+1, h.Title, h.URL, h.Snippet)
	}
	b.WriteString("Summarize what these results say that answers the query. Only use facts present in the results. If they do not answer it, say what is missing.")

	resp, err := e.gen.GenerateStructured(ctx, llm.Request{
		System: "You compress web search results into a concise factual answer. Never add information that is not in the results.",
		Prompt: b.String(),
		Schema: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"answer": map[string]any{"type": "string"}},
			"required":             []string{"answer"},
			"additionalProperties": false,
		},
	})
	if err != nil {
		return "", 0, err
	}
	var out struct {
		Answer string `json:"answer"`
	}
	if err := llm.Decode(resp, &out); err != nil {
		return "", 0, err
	}
	if strings.TrimSpace(out.Answer) == "" {
		return "", 0, llm.ErrEmptyResponse
	}
	return out.Answer, resp.Tokens, nil
}

func joinSnippets(hits []Hit) string {
	var parts []string
	for _, h := range hits {
		if s := strings.TrimSpace(h.Snippet); s != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", h.Title, s))
		}
	}
	return strings.Join(parts, "\n")
}

// Extract fetches the given URLs in parallel and returns per-URL success or
// failure. A nil fetcher fails every URL rather than erroring the call.
func (e *Executor) Extract(ctx context.Context, urls []string, purpose string) (Extraction, error) {
	var out Extraction
	if len(urls) == 0 {
		return out, nil
	}
	logging.For(logging.CategorySearch).Debug("extract",
		zap.Int("urls", len(urls)), zap.String("purpose", purpose))

	results := make([]*PageContent, len(urls))
	failures := make([]*FailedURL, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, u := range urls {
		g.Go(func() error {
			if e.fetcher == nil {
				failures[i] = &FailedURL{URL: u, Reason: "no fetcher configured"}
				return nil
			}
			content, err := e.fetcher.Fetch(gctx, u)
			if err != nil {
				failures[i] = &FailedURL{URL: u, Reason: err.Error()}
				return nil
			}
			results[i] = &PageContent{URL: u, Content: content}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Extraction{}, err
	}
	if err := ctx.Err(); err != nil {
		return Extraction{}, err
	}

	for i := range urls {
		if results[i] != nil {
			out.Results = append(out.Results, *results[i])
		}
		if failures[i] != nil {
			out.Failed = append(out.Failed, *failures[i])
		}
	}
	return out, nil
}

func (e *Executor) maxSources() int {
	if e.cfg.MaxSources <= 0 {
		return 5
	}
	return e.cfg.MaxSources
}
