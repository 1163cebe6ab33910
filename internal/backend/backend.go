package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/encoderhq/encoderd/internal/preprocess"
	"github.com/encoderhq/encoderd/internal/types"
)

// Metric is the distance metric a backend's embedding space is calibrated for.
// The reranker normalizes scores against it so that higher always means more
// similar, regardless of the native metric.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dot"
	MetricL2     Metric = "l2"
)

// ParseMetric validates a metric name from configuration.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCosine, MetricDot, MetricL2:
		return Metric(s), nil
	default:
		return "", fmt.Errorf("unknown distance metric %q", s)
	}
}

// Backend is the capability interface over heterogeneous inference engines.
// Implementations carry no per-request state; everything a call needs is
// passed explicitly so concurrent requests never interfere.
type Backend interface {
	// Infer turns a batch of same-shaped tensors into one embedding per
	// tensor, same order, same count.
	Infer(ctx context.Context, tensors []types.Tensor) ([][]float32, error)

	// Decoder returns the preprocessing routine paired with this backend's
	// model, the way a model load hands back its preprocess functions.
	Decoder() preprocess.Decoder

	// Name identifies the backend kind for logs and health reporting.
	Name() string

	// Model identifies the concrete model served.
	Model() string

	// MaxBatchSize is the largest batch the engine accepts; 0 means no limit.
	MaxBatchSize() int

	// Metric declares the embedding space's native distance metric.
	Metric() Metric

	// Concurrent reports whether Infer may be invoked from multiple in-flight
	// batches at once. Non-reentrant engines (a single GPU context) return
	// false and are wrapped by Serialized.
	Concurrent() bool
}

// InferenceError marks a whole batch whose inference failed. The scheduler
// treats it as batch-fatal, not request-fatal: only the affected batch's
// indices carry the failure, other batches continue.
type InferenceError struct {
	BatchID string
	Err     error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed for batch %s: %v", e.BatchID, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// serialized protects a non-reentrant backend with at-most-one-inference-in-
// flight. Preprocessing for the next batch still proceeds in parallel; only
// the Infer calls themselves are serialized.
type serialized struct {
	Backend
	mu sync.Mutex
}

// Serialized wraps b so Infer calls never overlap. Backends that advertise
// concurrency are returned unchanged.
func Serialized(b Backend) Backend {
	if b.Concurrent() {
		return b
	}
	return &serialized{Backend: b}
}

func (s *serialized) Infer(ctx context.Context, tensors []types.Tensor) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Backend.Infer(ctx, tensors)
}

// Concurrent reports true: the wrapper makes the backend safe to share.
func (s *serialized) Concurrent() bool {
	return true
}
