// Package pipeline implements the batched inference path: request items are
// sliced into fixed-size batches, preprocessing for batch k+1 overlaps
// inference for batch k, and outputs are merged back into input order with
// per-item failure markers.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/oklog/ulid/v2"

	"github.com/encoderhq/encoderd/internal/backend"
	"github.com/encoderhq/encoderd/internal/preprocess"
	"github.com/encoderhq/encoderd/internal/types"
)

// Cache provides embedding lookup keyed by content digest.
// Implemented by store.SQLiteCache.
type Cache interface {
	Lookup(ctx context.Context, digest string) ([]float32, error)
	Store(ctx context.Context, digest string, model string, embedding []float32) error
}

// ErrCacheMiss is the sentinel a Cache returns for unknown digests.
var ErrCacheMiss = errors.New("embedding not in cache")

// Engine turns one client request into a throughput-efficient stream of
// batches. The preprocessing pool and backend are long-lived shared resources
// passed in at construction; the engine itself holds no per-request state and
// is safe for concurrent requests.
type Engine struct {
	pool      *preprocess.Pool
	backend   backend.Backend
	decoder   preprocess.Decoder
	batchSize int
	retries   int
	cache     Cache
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache attaches an embedding cache consulted before preprocessing and
// filled after successful inference.
func WithCache(c Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithBatchRetries sets how many times a failed batch is re-submitted to the
// backend before its indices are marked failed. Zero means report-only.
func WithBatchRetries(n int) Option {
	return func(e *Engine) {
		e.retries = n
	}
}

// NewEngine creates an engine over the shared pool and backend. batchSize must
// be positive; the backend's declared batch limit caps it. Backends that do
// not advertise concurrency are wrapped so inference calls never overlap.
func NewEngine(pool *preprocess.Pool, b backend.Backend, batchSize int, opts ...Option) (*Engine, error) {
	if pool == nil {
		return nil, errors.New("pipeline: preprocessing pool is required")
	}
	if b == nil {
		return nil, errors.New("pipeline: backend is required")
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("pipeline: batch size must be at least 1, got %d", batchSize)
	}
	if limit := b.MaxBatchSize(); limit > 0 && batchSize > limit {
		batchSize = limit
	}

	e := &Engine{
		pool:      pool,
		backend:   backend.Serialized(b),
		decoder:   b.Decoder(),
		batchSize: batchSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.retries < 0 {
		return nil, fmt.Errorf("pipeline: batch retries must not be negative, got %d", e.retries)
	}
	return e, nil
}

// BatchSize returns the effective batch size after the backend's limit.
func (e *Engine) BatchSize() int {
	return e.batchSize
}

// Backend returns the engine's backend (after serialization wrapping).
func (e *Engine) Backend() backend.Backend {
	return e.backend
}

// staged is one batch after preprocessing, handed from the producer stage to
// the inference stage.
type staged struct {
	seq     int
	items   []types.Item
	tensors []types.Tensor
	errs    []error
}

// Embed runs the full pipeline for one request. The returned slice always has
// one entry per input item, in input order; failed items carry an error marker
// instead of an embedding. The returned error is non-nil only for
// request-level failures (cancellation), never for per-item or per-batch ones.
func (e *Engine) Embed(ctx context.Context, items []types.Item) ([]types.ItemResult, error) {
	results := make([]types.ItemResult, len(items))
	if len(items) == 0 {
		return results, nil
	}

	reqID := ulid.Make().String()

	// Cache consult; hits never touch the pool or backend.
	pending := make([]types.Item, 0, len(items))
	for i := range items {
		item := items[i]
		item.Index = i
		if e.cache != nil {
			digest := e.digest(item)
			if emb, err := e.cache.Lookup(ctx, digest); err == nil {
				results[i] = types.ItemResult{Index: i, Embedding: emb}
				continue
			} else if !errors.Is(err, ErrCacheMiss) {
				slog.Debug("cache lookup failed",
					"component", "pipeline",
					"request_id", reqID,
					"error", err,
				)
			}
		}
		pending = append(pending, item)
	}
	if len(pending) == 0 {
		slog.Debug("request served from cache",
			"component", "pipeline",
			"request_id", reqID,
			"items", len(items),
		)
		return results, nil
	}

	batches := splitBatches(pending, e.batchSize)
	slog.Debug("request admitted",
		"component", "pipeline",
		"request_id", reqID,
		"items", len(items),
		"cache_hits", len(items)-len(pending),
		"batches", len(batches),
	)

	// Depth-1 pipelined overlap: the producer preprocesses batch k+1 while
	// this goroutine runs inference for batch k. The unbuffered channel is
	// the backpressure point: batch k+2 is not admitted to preprocessing
	// until batch k's inference has returned, so preprocessed tensors never
	// accumulate beyond one batch.
	handoff := make(chan staged)
	go func() {
		defer close(handoff)
		for seq, batch := range batches {
			if ctx.Err() != nil {
				return
			}
			tensors, errs := e.pool.Process(ctx, batch, e.decoder)
			select {
			case handoff <- staged{seq: seq, items: batch, tensors: tensors, errs: errs}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for st := range handoff {
		e.inferBatch(ctx, reqID, st, results)
	}

	if err := ctx.Err(); err != nil {
		// Mark whatever the drained pipeline never produced.
		for i := range results {
			if results[i].Embedding == nil && results[i].Err == nil {
				results[i] = types.ItemResult{Index: i, Err: err}
			}
		}
		return results, err
	}
	return results, nil
}

// inferBatch runs inference for one preprocessed batch and scatters its
// outputs into the result slice by original item index. Decode failures and
// batch-fatal inference failures become per-index markers; the request
// continues either way.
func (e *Engine) inferBatch(ctx context.Context, reqID string, st staged, results []types.ItemResult) {
	batchID := fmt.Sprintf("%s/%d", reqID, st.seq)

	// Items that failed preprocessing keep their marker; the survivors go to
	// the backend as a compacted batch.
	live := make([]types.Tensor, 0, len(st.items))
	liveItems := make([]types.Item, 0, len(st.items))
	for i, item := range st.items {
		if st.errs[i] != nil {
			results[item.Index] = types.ItemResult{Index: item.Index, Err: st.errs[i]}
			continue
		}
		live = append(live, st.tensors[i])
		liveItems = append(liveItems, item)
	}
	if len(live) == 0 {
		return
	}

	var embeddings [][]float32
	var err error
	for attempt := 0; attempt <= e.retries; attempt++ {
		embeddings, err = e.backend.Infer(ctx, live)
		if err == nil && len(embeddings) != len(live) {
			err = fmt.Errorf("backend returned %d embeddings for %d tensors", len(embeddings), len(live))
		}
		if err == nil || ctx.Err() != nil {
			break
		}
		slog.Warn("batch inference failed",
			"component", "pipeline",
			"batch_id", batchID,
			"attempt", attempt+1,
			"max_attempts", e.retries+1,
			"error", err,
		)
	}
	if err != nil {
		var infErr *backend.InferenceError
		if !errors.As(err, &infErr) {
			infErr = &backend.InferenceError{BatchID: batchID, Err: err}
		}
		for _, item := range liveItems {
			results[item.Index] = types.ItemResult{Index: item.Index, Err: infErr}
		}
		return
	}

	for pos, item := range liveItems {
		results[item.Index] = types.ItemResult{Index: item.Index, Embedding: embeddings[pos]}
		if e.cache != nil {
			if cacheErr := e.cache.Store(ctx, e.digest(item), e.backend.Model(), embeddings[pos]); cacheErr != nil {
				slog.Debug("cache store failed",
					"component", "pipeline",
					"batch_id", batchID,
					"error", cacheErr,
				)
			}
		}
	}
}

// splitBatches partitions items into consecutive batches of at most size,
// preserving the items' original indices.
func splitBatches(items []types.Item, size int) [][]types.Item {
	batches := make([][]types.Item, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}

// digest keys an item's content for the cache, scoped to the serving model so
// a model change never serves stale vectors.
func (e *Engine) digest(item types.Item) string {
	h := sha256.New()
	h.Write([]byte(e.backend.Model()))
	switch {
	case item.Text != "":
		h.Write([]byte{0x01})
		h.Write([]byte(item.Text))
	case len(item.Blob) > 0:
		h.Write([]byte{0x02})
		h.Write(item.Blob)
	case item.Tensor != nil:
		h.Write([]byte{0x03})
		var buf [4]byte
		for _, v := range item.Tensor.Data {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
