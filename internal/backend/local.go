package backend

import (
	"context"
	"fmt"
	"math"

	"github.com/encoderhq/encoderd/internal/preprocess"
	"github.com/encoderhq/encoderd/internal/types"
)

// Compile-time interface check
var _ Backend = (*Local)(nil)

// Local is a deterministic in-process encoder. It folds tensor data into a
// fixed number of feature buckets and L2-normalizes the result, which gives
// stable, comparable vectors without any external model. It backs dev mode,
// the bench command, and tests.
type Local struct {
	dims int
}

// NewLocal creates a local backend producing dims-length embeddings.
func NewLocal(dims int) (*Local, error) {
	if dims < 1 {
		return nil, fmt.Errorf("local backend dimensions must be at least 1, got %d", dims)
	}
	return &Local{dims: dims}, nil
}

// Infer implements Backend.
func (l *Local) Infer(_ context.Context, tensors []types.Tensor) ([][]float32, error) {
	embeddings := make([][]float32, len(tensors))
	for i, t := range tensors {
		embeddings[i] = l.encode(t)
	}
	return embeddings, nil
}

// encode folds tensor values into feature buckets with a position-dependent
// rotation, then L2-normalizes so cosine scoring behaves.
func (l *Local) encode(t types.Tensor) []float32 {
	v := make([]float32, l.dims)
	for i, x := range t.Data {
		bucket := i % l.dims
		v[bucket] += x * float32(math.Cos(float64(i+1)))
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		// Degenerate input still gets a valid unit vector.
		v[0] = 1
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

// Decoder implements Backend.
func (l *Local) Decoder() preprocess.Decoder {
	return preprocess.ItemDecoder{
		Text:  preprocess.TextDecoder{},
		Image: preprocess.ImageDecoder{Size: 224},
	}
}

// Name implements Backend.
func (l *Local) Name() string {
	return "local"
}

// Model implements Backend.
func (l *Local) Model() string {
	return fmt.Sprintf("feature-hash-%d", l.dims)
}

// MaxBatchSize implements Backend. The local encoder has no engine limit.
func (l *Local) MaxBatchSize() int {
	return 0
}

// Metric implements Backend.
func (l *Local) Metric() Metric {
	return MetricCosine
}

// Concurrent implements Backend. The encoder is pure computation with no
// shared state, so overlapping calls are safe.
func (l *Local) Concurrent() bool {
	return true
}
