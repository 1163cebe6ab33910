package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/encoderhq/encoderd/internal/preprocess"
	"github.com/encoderhq/encoderd/internal/types"
)

// Compile-time interface check
var _ Backend = (*OpenAI)(nil)

// EmbeddingsService defines the interface for making embedding API calls.
// This abstraction enables testing without calling the real OpenAI API.
type EmbeddingsService interface {
	New(ctx context.Context, params openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// OpenAI serves embeddings through OpenAI's API. Its decoder normalizes text
// into tensors that retain the text, since the remote engine consumes text
// rather than numeric data. Image and pre-supplied tensor content is rejected
// at decode time.
type OpenAI struct {
	embeddings EmbeddingsService
	model      openai.EmbeddingModel
}

// NewOpenAI creates an OpenAI-backed inference backend.
func NewOpenAI(apiKey, model string) *OpenAI {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAI{
		embeddings: client.Embeddings,
		model:      openai.EmbeddingModel(model),
	}
}

// Infer implements Backend.
func (o *OpenAI) Infer(ctx context.Context, tensors []types.Tensor) ([][]float32, error) {
	if len(tensors) == 0 {
		return [][]float32{}, nil
	}

	texts := make([]string, len(tensors))
	for i, t := range tensors {
		if t.Text == "" {
			return nil, fmt.Errorf("tensor %d carries no text payload for the remote engine", i)
		}
		texts[i] = t.Text
	}

	resp, err := o.embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.F[openai.EmbeddingNewParamsInputUnion](
			openai.EmbeddingNewParamsInputArrayOfStrings(texts),
		),
		Model: openai.F(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("batch embedding generation failed: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("batch embedding generation failed: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	// Sort by index to guarantee order matches input
	sort.Slice(resp.Data, func(i, j int) bool {
		return resp.Data[i].Index < resp.Data[j].Index
	})

	embeddings := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		embedding := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			embedding[j] = float32(v)
		}
		embeddings[i] = embedding
	}

	return embeddings, nil
}

// openaiDecoder normalizes text and rejects content kinds the remote engine
// cannot accept.
type openaiDecoder struct {
	text preprocess.TextDecoder
}

func (d openaiDecoder) Decode(ctx context.Context, item types.Item) (types.Tensor, error) {
	switch {
	case item.Text != "":
		return d.text.Decode(ctx, item)
	case item.Tensor != nil:
		return types.Tensor{}, errors.New("pre-supplied tensors not supported by the openai backend")
	case len(item.Blob) > 0:
		return types.Tensor{}, errors.New("image content not supported by the openai backend")
	default:
		return types.Tensor{}, preprocess.ErrEmptyItem
	}
}

// Decoder implements Backend.
func (o *OpenAI) Decoder() preprocess.Decoder {
	return openaiDecoder{text: preprocess.TextDecoder{MaxTokens: 8191}}
}

// Name implements Backend.
func (o *OpenAI) Name() string {
	return "openai"
}

// Model implements Backend.
func (o *OpenAI) Model() string {
	return string(o.model)
}

// MaxBatchSize implements Backend. The embeddings endpoint caps inputs per call.
func (o *OpenAI) MaxBatchSize() int {
	return 2048
}

// Metric implements Backend. OpenAI embeddings are calibrated for cosine.
func (o *OpenAI) Metric() Metric {
	return MetricCosine
}

// Concurrent implements Backend. The remote API handles overlapping calls.
func (o *OpenAI) Concurrent() bool {
	return true
}
