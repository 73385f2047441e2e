package ranking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lens/apps/backend/features/image"
	"lens/apps/backend/internal/adapter/reranker"
	"lens/apps/backend/internal/adapter/weaviate"
	"lens/apps/backend/internal/middleware"
	"lens/apps/backend/internal/state"
)

const (
	expansionCachePrefix = "semantic:cache:"
	expansionCacheTTL    = 7 * 24 * time.Hour
	// Queries longer than this are descriptive enough on their own.
	expansionMaxWords = 4
	// A re-rank response with fewer usable rankings than this says more
	// about the re-ranker than about the results; vector order stands.
	minUsableRankings = 3
)

// Result is one ranked record with its display score.
type Result struct {
	image.Image
	Score float64 `json:"score"`
}

type Response struct {
	Query    string   `json:"query"`
	Expanded string   `json:"expanded,omitempty"`
	Results  []Result `json:"results"`
	TookMs   int64    `json:"took_ms"`
}

type Expander interface {
	Expand(ctx context.Context, query string) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorIndex interface {
	Query(ctx context.Context, vec []float32, topK int) ([]weaviate.Match, error)
}

type RecordFetcher interface {
	GetBatch(ctx context.Context, ids []string) ([]image.Image, error)
}

type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string) ([]reranker.Ranking, error)
}

type Options struct {
	TopK        int
	CutoffDecay float64
	CutoffFloor float64
	RerankDepth int
}

// Service turns a free-text query into a ranked slice of records:
// expand, embed, nearest-neighbor search, cutoff, fetch, re-rank.
type Service struct {
	expander Expander
	embedder Embedder
	index    VectorIndex
	records  RecordFetcher
	reranker Reranker
	states   state.Store
	logger   *QueryLogger
	opts     Options
}

func NewService(expander Expander, embedder Embedder, index VectorIndex, records RecordFetcher, rr Reranker, states state.Store, logger *QueryLogger, opts Options) *Service {
	return &Service{
		expander: expander,
		embedder: embedder,
		index:    index,
		records:  records,
		reranker: rr,
		states:   states,
		logger:   logger,
		opts:     opts,
	}
}

func (s *Service) Search(ctx context.Context, query string) (*Response, error) {
	start := time.Now()

	expanded := s.expandQuery(ctx, query)

	vec, err := s.embedder.Embed(ctx, expanded)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches, err := s.index.Query(ctx, vec, s.opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	scores := make([]float32, len(matches))
	for i, m := range matches {
		scores[i] = m.Score
	}
	matches = matches[:Cutoff(scores, s.opts.CutoffDecay, s.opts.CutoffFloor)]

	results, err := s.fetchRecords(ctx, matches)
	if err != nil {
		return nil, err
	}

	reranked := s.applyRerank(ctx, expanded, results)

	resp := &Response{
		Query:   query,
		Results: results,
		TookMs:  time.Since(start).Milliseconds(),
	}
	if expanded != query {
		resp.Expanded = expanded
	}

	if s.logger != nil {
		s.logger.Log(QueryLogEntry{
			Query:         query,
			Expanded:      resp.Expanded,
			NumResults:    len(results),
			Reranked:      reranked,
			Duration:      time.Since(start),
			CorrelationID: middleware.GetCorrelationID(ctx),
		})
	}
	return resp, nil
}

// expandQuery rewrites short queries into richer descriptions. Expansions
// are cached per normalized query; any failure falls back to the raw query.
func (s *Service) expandQuery(ctx context.Context, query string) string {
	words := strings.Fields(query)
	if len(words) > expansionMaxWords || s.expander == nil {
		return query
	}

	normalized := strings.ToLower(strings.Join(words, " "))
	cacheKey := expansionCachePrefix + normalized

	if cached, err := s.states.Get(ctx, cacheKey); err == nil && cached != "" {
		return cached
	} else if err != nil && !errors.Is(err, state.ErrNotFound) {
		slog.WarnContext(ctx, "expansion cache read failed", "error", err)
	}

	expanded, err := s.expander.Expand(ctx, query)
	if err != nil || strings.TrimSpace(expanded) == "" {
		slog.WarnContext(ctx, "query expansion failed, using raw query", "query", query, "error", err)
		return query
	}

	if err := s.states.SetTTL(ctx, cacheKey, expanded, expansionCacheTTL); err != nil {
		slog.WarnContext(ctx, "expansion cache write failed", "error", err)
	}
	return expanded
}

// fetchRecords loads the matched records in one batched call and restores
// similarity order. Matches whose record is missing (indexed but not yet
// visible, or pruned) are dropped.
func (s *Service) fetchRecords(ctx context.Context, matches []weaviate.Match) ([]Result, error) {
	if len(matches) == 0 {
		return []Result{}, nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ItemID
	}

	records, err := s.records.GetBatch(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}

	byID := make(map[string]image.Image, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		rec, ok := byID[m.ItemID]
		if !ok {
			continue
		}
		results = append(results, Result{Image: rec, Score: float64(m.Score)})
	}
	return results, nil
}

// applyRerank re-orders the head of the result list by caption relevance.
// Positions in the re-ranked head get descending display scores; the tail
// keeps its similarity scores. Reports whether a re-rank was applied.
func (s *Service) applyRerank(ctx context.Context, query string, results []Result) bool {
	if s.reranker == nil || len(results) == 0 {
		return false
	}

	depth := s.opts.RerankDepth
	if depth > len(results) {
		depth = len(results)
	}

	docs := make([]string, depth)
	for i := 0; i < depth; i++ {
		docs[i] = results[i].Caption
	}

	rankings, err := s.reranker.Rerank(ctx, query, docs)
	if err != nil {
		slog.WarnContext(ctx, "re-rank failed, keeping vector order", "error", err)
		return false
	}

	minUsable := minUsableRankings
	if depth < minUsable {
		minUsable = depth
	}
	if len(rankings) < minUsable {
		slog.WarnContext(ctx, "too few usable rankings, keeping vector order", "usable", len(rankings), "depth", depth)
		return false
	}

	head := make([]Result, 0, depth)
	taken := make(map[int]bool, depth)
	for _, r := range rankings {
		if r.Index < 0 || r.Index >= depth || taken[r.Index] {
			continue
		}
		taken[r.Index] = true
		head = append(head, results[r.Index])
	}
	// Rankings may not cover every doc; preserve vector order for the rest
	for i := 0; i < depth; i++ {
		if !taken[i] {
			head = append(head, results[i])
		}
	}

	for i := range head {
		head[i].Score = 1 - float64(i)*0.01
		results[i] = head[i]
	}
	return true
}
