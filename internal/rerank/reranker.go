// Package rerank scores candidate items against a query by embedding
// similarity. Embeddings come through the same pipeline as plain embedding
// requests; only the scoring and ordering stage is rerank-specific.
package rerank

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/encoderhq/encoderd/internal/backend"
	"github.com/encoderhq/encoderd/internal/types"
)

// Encoder is the embedding path the reranker rides on.
// Implemented by pipeline.Engine.
type Encoder interface {
	Embed(ctx context.Context, items []types.Item) ([]types.ItemResult, error)
}

// RankError reports a rerank call whose query or candidate failed to embed.
// A ranking with missing candidates is not a valid partial result, so the
// whole call fails rather than silently shrinking the output set.
type RankError struct {
	// Index is the failed candidate's position, or -1 for the query.
	Index int
	Err   error
}

func (e *RankError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("rerank: query failed to embed: %v", e.Err)
	}
	return fmt.Sprintf("rerank: candidate %d failed to embed: %v", e.Index, e.Err)
}

func (e *RankError) Unwrap() error {
	return e.Err
}

// Reranker computes a total order over candidates by similarity to a query.
type Reranker struct {
	encoder Encoder
	metric  backend.Metric
	fanout  int
}

// New creates a reranker over the given embedding path and distance metric.
// fanout bounds concurrent candidate scoring; 0 picks a CPU-scaled default.
func New(encoder Encoder, metric backend.Metric, fanout int) *Reranker {
	if fanout < 1 {
		fanout = 2 * runtime.GOMAXPROCS(0)
	}
	return &Reranker{encoder: encoder, metric: metric, fanout: fanout}
}

// Rank embeds the query and all candidates in one pipeline request, scores
// candidates concurrently, and returns them sorted by descending score. Ties
// keep the original candidate order so results are deterministic. Every input
// candidate appears exactly once.
func (r *Reranker) Rank(ctx context.Context, query types.Item, candidates []types.Item) ([]types.RankEntry, error) {
	if len(candidates) == 0 {
		return []types.RankEntry{}, nil
	}

	items := make([]types.Item, 0, len(candidates)+1)
	items = append(items, query)
	items = append(items, candidates...)

	results, err := r.encoder.Embed(ctx, items)
	if err != nil {
		return nil, err
	}

	if results[0].Failed() {
		return nil, &RankError{Index: -1, Err: results[0].Err}
	}
	for i := 1; i < len(results); i++ {
		if results[i].Failed() {
			return nil, &RankError{Index: i - 1, Err: results[i].Err}
		}
	}

	queryEmb := results[0].Embedding
	scores := make([]float64, len(candidates))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(r.fanout)
	for i := 0; i < len(candidates); i++ {
		g.Go(func() error {
			scores[i] = Score(r.metric, queryEmb, results[i+1].Embedding)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := make([]types.RankEntry, len(candidates))
	for i := range entries {
		entries[i] = types.RankEntry{Index: i, Score: scores[i]}
	}
	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].Score > entries[b].Score
	})
	return entries, nil
}

// Score maps the backend's native metric onto a similarity score where higher
// always means more similar, so ordering is monotonic regardless of metric.
func Score(metric backend.Metric, query, candidate []float32) float64 {
	switch metric {
	case backend.MetricDot:
		return dot(query, candidate)
	case backend.MetricL2:
		// Distance shrinks as vectors converge; invert so score grows.
		return 1 / (1 + l2(query, candidate))
	default:
		return CosineSimilarity(query, candidate)
	}
}

// CosineSimilarity computes the cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProd, normA, normB float64
	for i := range a {
		dotProd += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProd / (math.Sqrt(normA) * math.Sqrt(normB))
}

func dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func l2(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
