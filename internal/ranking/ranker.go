// Package ranking turns a relevance model's scores into per-query document
// ranks.
package ranking

import "sort"

// ScoredDocument is one document with its relevance score for a query.
type ScoredDocument struct {
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
}

// RelevanceModel is anything that scores the documents of a query. Results
// are ordered by descending score.
type RelevanceModel interface {
	Relevance(query string) []ScoredDocument
}

// RelevanceFunc adapts a function to RelevanceModel.
type RelevanceFunc func(query string) []ScoredDocument

// Relevance implements RelevanceModel.
func (f RelevanceFunc) Relevance(query string) []ScoredDocument {
	return f(query)
}

// Ranking maps document ID to its 1-based rank.
type Ranking map[string]int

// Lookup returns the rank of a document and whether the ranking knows it.
func (r Ranking) Lookup(documentID string) (int, bool) {
	rank, ok := r[documentID]
	return rank, ok
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithMaxQueries bounds the number of cached rankings. Least recently used
// queries are evicted first. n <= 0 keeps the cache unbounded.
func WithMaxQueries(n int) Option {
	return func(r *Ranker) {
		r.cache.maxSize = n
	}
}

// WithCacheMetrics records cache hits, misses and size.
func WithCacheMetrics(m CacheMetrics) Option {
	return func(r *Ranker) {
		r.cache.metrics = m
	}
}

// Ranker computes and caches the ranking of each query. The model is assumed
// immutable for the ranker's lifetime.
//
// Ranker is not safe for concurrent use.
type Ranker struct {
	model RelevanceModel
	cache *rankingCache
}

// NewRanker wraps a relevance model.
func NewRanker(model RelevanceModel, opts ...Option) *Ranker {
	r := &Ranker{
		model: model,
		cache: newRankingCache(0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rank returns the competition ranking of every document the model knows for
// query. The result is cached and must not be modified.
func (r *Ranker) Rank(query string) Ranking {
	if ranks, ok := r.cache.get(query); ok {
		return ranks
	}

	ranks := CompetitionRank(r.model.Relevance(query))
	r.cache.set(query, ranks)
	return ranks
}

// CachedQueries returns the number of rankings currently held.
func (r *Ranker) CachedQueries() int {
	return len(r.cache.entries)
}

// CompetitionRank assigns "min" ranks: tied scores share the lowest rank of
// their group and the next distinct score skips by the group size.
func CompetitionRank(docs []ScoredDocument) Ranking {
	sorted := make([]ScoredDocument, len(docs))
	copy(sorted, docs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	ranks := make(Ranking, len(sorted))
	for i, d := range sorted {
		if i > 0 && d.Score == sorted[i-1].Score {
			ranks[d.DocumentID] = ranks[sorted[i-1].DocumentID]
			continue
		}
		ranks[d.DocumentID] = i + 1
	}
	return ranks
}
