package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/encoderhq/encoderd/internal/types"
)

// mockEmbeddingsService implements EmbeddingsService for testing
type mockEmbeddingsService struct {
	response *openai.CreateEmbeddingResponse
	err      error

	callCount int
	lastInput []string
}

func (m *mockEmbeddingsService) New(ctx context.Context, params openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	m.callCount++

	if params.Input.Value != nil {
		if arr, ok := params.Input.Value.(openai.EmbeddingNewParamsInputArrayOfStrings); ok {
			m.lastInput = []string(arr)
		}
	}

	return m.response, m.err
}

func mockResponse(embeddings [][]float64, indices []int64) *openai.CreateEmbeddingResponse {
	data := make([]openai.Embedding, len(embeddings))
	for i, emb := range embeddings {
		data[i] = openai.Embedding{Embedding: emb, Index: indices[i]}
	}
	return &openai.CreateEmbeddingResponse{Data: data}
}

func textTensors(texts ...string) []types.Tensor {
	tensors := make([]types.Tensor, len(texts))
	for i, s := range texts {
		tensors[i] = types.Tensor{Text: s}
	}
	return tensors
}

func TestOpenAI_Infer_SortsByResponseIndex(t *testing.T) {
	// Response deliberately out of order; Infer must restore input order.
	mock := &mockEmbeddingsService{
		response: mockResponse([][]float64{{2, 2}, {1, 1}}, []int64{1, 0}),
	}
	b := &OpenAI{embeddings: mock, model: "text-embedding-3-small"}

	embs, err := b.Infer(context.Background(), textTensors("first", "second"))
	if err != nil {
		t.Fatalf("Infer() error: %v", err)
	}

	if embs[0][0] != 1 || embs[1][0] != 2 {
		t.Errorf("embeddings not restored to input order: %v", embs)
	}
	if mock.lastInput[0] != "first" || mock.lastInput[1] != "second" {
		t.Errorf("texts sent out of order: %v", mock.lastInput)
	}
}

func TestOpenAI_Infer_CountMismatchIsError(t *testing.T) {
	mock := &mockEmbeddingsService{
		response: mockResponse([][]float64{{1}}, []int64{0}),
	}
	b := &OpenAI{embeddings: mock, model: "text-embedding-3-small"}

	if _, err := b.Infer(context.Background(), textTensors("a", "b")); err == nil {
		t.Error("expected error when response count differs from input count")
	}
}

func TestOpenAI_Infer_PropagatesAPIError(t *testing.T) {
	mock := &mockEmbeddingsService{err: errors.New("rate limited")}
	b := &OpenAI{embeddings: mock, model: "text-embedding-3-small"}

	if _, err := b.Infer(context.Background(), textTensors("a")); err == nil {
		t.Error("expected error from failing API")
	}
}

func TestOpenAI_Infer_RejectsTextlessTensor(t *testing.T) {
	b := &OpenAI{embeddings: &mockEmbeddingsService{}, model: "text-embedding-3-small"}

	if _, err := b.Infer(context.Background(), []types.Tensor{{Data: []float32{1, 2}}}); err == nil {
		t.Error("expected error for tensor without text payload")
	}
}

func TestOpenAI_Infer_EmptyBatch(t *testing.T) {
	mock := &mockEmbeddingsService{}
	b := &OpenAI{embeddings: mock, model: "text-embedding-3-small"}

	embs, err := b.Infer(context.Background(), nil)
	if err != nil {
		t.Fatalf("Infer() error: %v", err)
	}
	if len(embs) != 0 {
		t.Errorf("got %d embeddings for empty batch", len(embs))
	}
	if mock.callCount != 0 {
		t.Error("empty batch should not hit the API")
	}
}

func TestOpenAIDecoder_RejectsNonText(t *testing.T) {
	b := NewOpenAI("sk-test", "text-embedding-3-small")
	dec := b.Decoder()

	if _, err := dec.Decode(context.Background(), types.Item{Blob: []byte{1, 2, 3}}); err == nil {
		t.Error("expected error for image content")
	}
	if _, err := dec.Decode(context.Background(), types.Item{Tensor: &types.Tensor{Data: []float32{1}}}); err == nil {
		t.Error("expected error for pre-supplied tensor")
	}

	tensor, err := dec.Decode(context.Background(), types.Item{Text: "Hello  World"})
	if err != nil {
		t.Fatalf("text decode: %v", err)
	}
	if tensor.Text != "hello world" {
		t.Errorf("normalized text = %q", tensor.Text)
	}
}
