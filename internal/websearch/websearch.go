// Package websearch provides the web search capability for the research
// orchestrator: swappable search providers (Tavily API, keyless DuckDuckGo),
// a page extractor, an LRU result cache, and a batched executor that runs
// queries in parallel, retries transient failures, and summarizes raw hits
// into per-query answers. The orchestrator depends only on the Executor's
// Search/Extract shape; provider internals stay behind the Provider and
// Fetcher interfaces.
package websearch

import (
	"context"
	"time"
)

// Hit is a single raw result returned by a Provider.
type Hit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Provider executes one query and returns raw hits.
type Provider interface {
	Search(ctx context.Context, query string) ([]Hit, error)
}

// Fetcher retrieves the readable text content of a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Query is one natural-language search request with its purpose.
type Query struct {
	Query   string `json:"query"`
	Purpose string `json:"purpose"`
}

// QueryStatus is the per-query outcome.
type QueryStatus string

const (
	StatusSuccess   QueryStatus = "success"
	StatusNoResults QueryStatus = "no_results"
	StatusError     QueryStatus = "error"
)

// Source is a ranked reference backing an answer.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// QueryResult is the result record for one executed query.
type QueryResult struct {
	Query   string      `json:"query"`
	Purpose string      `json:"purpose"`
	Answer  string      `json:"answer"`
	Sources []Source    `json:"sources"`
	Status  QueryStatus `json:"status"`
	Error   string      `json:"error,omitempty"`
}

// Findings is the ephemeral output of one batched search invocation. It is
// consumed immediately by the caller and never persisted as-is.
type Findings struct {
	Queries []QueryResult `json:"queries"`
	Summary string        `json:"summary,omitempty"`

	// Tokens is the generation cost incurred summarizing raw hits.
	Tokens int `json:"-"`

	// Elapsed is how long the batch took end to end.
	Elapsed time.Duration `json:"-"`
}

// PageContent is one successfully extracted page.
type PageContent struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}

// FailedURL records a per-URL extraction failure.
type FailedURL struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// Extraction is the result of an Extract call.
type Extraction struct {
	Results []PageContent `json:"results"`
	Failed  []FailedURL   `json:"failed"`
}
