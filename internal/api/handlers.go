package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/encoderhq/encoderd/internal/types"
	"github.com/encoderhq/encoderd/internal/validation"
)

// Encoder is the embedding pipeline the handlers drive.
// Implemented by pipeline.Engine.
type Encoder interface {
	Embed(ctx context.Context, items []types.Item) ([]types.ItemResult, error)
}

// Ranker is the rerank path. Implemented by rerank.Reranker.
type Ranker interface {
	Rank(ctx context.Context, query types.Item, candidates []types.Item) ([]types.RankEntry, error)
}

// ServerInfo is the static serving configuration reported by the health endpoint.
type ServerInfo struct {
	Version      string
	Backend      string
	Model        string
	Metric       string
	BatchSize    int
	PoolSize     int
	CacheEnabled bool
}

// Handler implements the API handlers
type Handler struct {
	encoder Encoder
	ranker  Ranker
	apiKey  string
	info    ServerInfo
}

// NewHandler creates a new Handler over the shared pipeline resources.
func NewHandler(encoder Encoder, ranker Ranker, apiKey string, info ServerInfo) *Handler {
	return &Handler{
		encoder: encoder,
		ranker:  ranker,
		apiKey:  apiKey,
		info:    info,
	}
}

// Health returns the health status and serving configuration.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{
		Status:       "healthy",
		Version:      h.info.Version,
		Backend:      h.info.Backend,
		Model:        h.info.Model,
		Metric:       h.info.Metric,
		BatchSize:    h.info.BatchSize,
		PoolSize:     h.info.PoolSize,
		CacheEnabled: h.info.CacheEnabled,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Embed handles POST /api/v1/embed.
// A partially-failed request is still a 200: successful vectors and per-item
// failure markers travel in the same response array.
func (h *Handler) Embed(w http.ResponseWriter, r *http.Request) {
	var req types.EmbedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	if errs := validation.ValidateEmbedRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	items := make([]types.Item, len(req.Items))
	for i, ci := range req.Items {
		items[i] = ci.Item(i)
	}

	results, err := h.encoder.Embed(r.Context(), items)
	if err != nil {
		slog.Error("embed request failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	resp := types.EmbedResponse{
		Model:   h.info.Model,
		Results: make([]types.EmbedResult, len(results)),
	}
	for i, res := range results {
		out := types.EmbedResult{Index: res.Index}
		if res.Failed() {
			out.Error = res.Err.Error()
		} else {
			out.Embedding = res.Embedding
		}
		resp.Results[i] = out
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Rerank handles POST /api/v1/rerank.
func (h *Handler) Rerank(w http.ResponseWriter, r *http.Request) {
	var req types.RerankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	if errs := validation.ValidateRerankRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	query := req.Query.Item(0)
	candidates := make([]types.Item, len(req.Candidates))
	for i, ci := range req.Candidates {
		candidates[i] = ci.Item(i)
	}

	entries, err := h.ranker.Rank(r.Context(), query, candidates)
	if err != nil {
		slog.Warn("rerank request failed", "component", "api", "error", err)
		MapRankError(w, r, err)
		return
	}

	resp := types.RerankResponse{
		Model:   h.info.Model,
		Results: entries,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
