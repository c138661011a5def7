package ranking

// CacheMetrics is the interface for recording ranking cache metrics.
// This keeps the cache decoupled from the metrics package.
type CacheMetrics interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
	UpdateCacheSize(cacheType string, size int)
}

const cacheType = "ranking"

// rankingCache holds one ranking per query, optionally bounded with LRU
// eviction. It does no locking.
type rankingCache struct {
	entries map[string]Ranking
	maxSize int      // 0 = unbounded
	order   []string // LRU order, only maintained when bounded
	metrics CacheMetrics
}

func newRankingCache(maxSize int) *rankingCache {
	return &rankingCache{
		entries: make(map[string]Ranking),
		maxSize: maxSize,
	}
}

func (c *rankingCache) bounded() bool {
	return c.maxSize > 0
}

func (c *rankingCache) get(query string) (Ranking, bool) {
	ranks, ok := c.entries[query]
	if !ok {
		if c.metrics != nil {
			c.metrics.RecordCacheMiss(cacheType)
		}
		return nil, false
	}

	if c.metrics != nil {
		c.metrics.RecordCacheHit(cacheType)
	}
	if c.bounded() {
		c.moveToEnd(query)
	}
	return ranks, true
}

func (c *rankingCache) set(query string, ranks Ranking) {
	if _, exists := c.entries[query]; exists {
		c.entries[query] = ranks
		if c.bounded() {
			c.moveToEnd(query)
		}
		return
	}

	if c.bounded() {
		for len(c.entries) >= c.maxSize && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, query)
	}
	c.entries[query] = ranks

	if c.metrics != nil {
		c.metrics.UpdateCacheSize(cacheType, len(c.entries))
	}
}

// moveToEnd marks query as most recently used.
func (c *rankingCache) moveToEnd(query string) {
	for i, k := range c.order {
		if k == query {
			c.order = append(c.order[:i], c.order[i+1:]...)
			c.order = append(c.order, query)
			return
		}
	}
}
