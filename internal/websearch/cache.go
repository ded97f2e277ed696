package websearch

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// resultCache memoizes raw provider hits by normalized query so repeated
// queries across nodes don't re-pay provider round trips.
type resultCache struct {
	lru *lru.Cache[string, []Hit]
}

// newResultCache returns nil when size <= 0 (caching disabled); callers
// treat a nil cache as a miss on every lookup.
func newResultCache(size int) *resultCache {
	if size <= 0 {
		return nil
	}
	c, err := lru.New[string, []Hit](size)
	if err != nil {
		return nil
	}
	return &resultCache{lru: c}
}

func cacheKey(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

func (c *resultCache) get(query string) ([]Hit, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(cacheKey(query))
}

func (c *resultCache) put(query string, hits []Hit) {
	if c == nil || len(hits) == 0 {
		return
	}
	c.lru.Add(cacheKey(query), hits)
}
