package types

// Item is one unit of client-submitted content flowing through the pipeline.
// Exactly one of Text, Blob, or Tensor is set. Index is the item's position in
// the originating request and is preserved through batching, preprocessing,
// inference, and the final merge.
type Item struct {
	Index  int
	Text   string
	Blob   []byte
	Tensor *Tensor
}

// HasContent reports whether exactly one content field is populated.
func (i Item) HasContent() bool {
	n := 0
	if i.Text != "" {
		n++
	}
	if len(i.Blob) > 0 {
		n++
	}
	if i.Tensor != nil {
		n++
	}
	return n == 1
}

// Tensor is the backend-ready representation of an Item's content.
// Text carries the normalized source text for backends that consume text
// natively rather than numeric data.
type Tensor struct {
	Shape []int
	Data  []float32
	Text  string
}

// ItemResult is the per-item outcome of an embedding request. Either Embedding
// or Err is set, never both. Index matches the input item's position.
type ItemResult struct {
	Index     int
	Embedding []float32
	Err       error
}

// Failed reports whether the item carries a failure marker instead of an embedding.
func (r ItemResult) Failed() bool {
	return r.Err != nil
}

// RankEntry is one scored candidate in a rerank result.
type RankEntry struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// ContentItem is the wire form of an Item. Blob is base64-encoded by the JSON
// codec; Tensor is a flat vector matching the model's input shape.
type ContentItem struct {
	Text   string    `json:"text,omitempty"`
	Blob   []byte    `json:"blob,omitempty"`
	Tensor []float32 `json:"tensor,omitempty"`
}

// ContentFields returns the number of populated content fields.
// Valid items have exactly one.
func (c ContentItem) ContentFields() int {
	n := 0
	if c.Text != "" {
		n++
	}
	if len(c.Blob) > 0 {
		n++
	}
	if len(c.Tensor) > 0 {
		n++
	}
	return n
}

// Item converts the wire form into a pipeline Item with the given index.
func (c ContentItem) Item(index int) Item {
	item := Item{Index: index, Text: c.Text, Blob: c.Blob}
	if len(c.Tensor) > 0 {
		item.Tensor = &Tensor{Shape: []int{len(c.Tensor)}, Data: c.Tensor}
	}
	return item
}

// EmbedRequest is the body of POST /api/v1/embed.
type EmbedRequest struct {
	Items []ContentItem `json:"items"`
}

// EmbedResult is one entry of an embed response: a vector for a successful
// item or an error marker for a failed one, never both.
type EmbedResult struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// EmbedResponse mixes successful vectors and per-item failure markers.
// A partially-failed request is still an HTTP 200.
type EmbedResponse struct {
	Model   string        `json:"model"`
	Results []EmbedResult `json:"results"`
}

// RerankRequest is the body of POST /api/v1/rerank.
type RerankRequest struct {
	Query      ContentItem   `json:"query"`
	Candidates []ContentItem `json:"candidates"`
}

// RerankResponse lists candidates sorted by descending score, one entry per
// input candidate.
type RerankResponse struct {
	Model   string      `json:"model"`
	Results []RankEntry `json:"results"`
}

// HealthResponse describes the serving configuration.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Backend      string `json:"backend"`
	Model        string `json:"model"`
	Metric       string `json:"metric"`
	BatchSize    int    `json:"batch_size"`
	PoolSize     int    `json:"pool_size"`
	CacheEnabled bool   `json:"cache_enabled"`
}
