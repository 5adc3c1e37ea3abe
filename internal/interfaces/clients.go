package interfaces

import "context"

// EmbedResult is ScienceClient.Embed's response shape (§4.5).
type EmbedResult struct {
	Vector   []float32
	CacheHit bool
}

// EmbedBatchItem is one input row of ScienceClient.EmbedBatch (§4.10 S4.3).
type EmbedBatchItem struct {
	ControlID string `json:"id"`
	Text      string `json:"text"`
}

// EmbedBatchResult is one output row of ScienceClient.EmbedBatch,
// positionally aligned with its input item. Error is set (Vector left nil)
// when that single item failed without failing the rest of the batch.
type EmbedBatchResult struct {
	Vector []float32 `json:"vector"`
	Error  string    `json:"error,omitempty"`
}

// RetrieveMatch is one entry of ScienceClient.Retrieve's ordered response.
type RetrieveMatch struct {
	Index      int     `json:"index"`
	Similarity float64 `json:"similarity"`
}

// RerankCandidate is one input item to ScienceClient.Rerank.
type RerankCandidate struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// RerankResult is one entry of ScienceClient.Rerank's ordered response.
type RerankResult struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// ScienceClient is a typed RPC wrapper over the inference service: embed,
// retrieve, rerank (C5, §4.5). All operations are idempotent and
// side-effect free; implementations retry ScienceTransient failures
// themselves and report ErrScienceUnavailable once retries run out (§7).
type ScienceClient interface {
	// Embed embeds a single control, used for the one-off source embedding
	// of S4.1.
	Embed(ctx context.Context, controlID, text string) (EmbedResult, error)

	// EmbedBatch embeds up to embedBatchSize controls in one round trip,
	// used for the target-candidate embeddings of S4.3.
	EmbedBatch(ctx context.Context, items []EmbedBatchItem) ([]EmbedBatchResult, error)

	Retrieve(ctx context.Context, sourceVector []float32, targetVectors [][]float32, topK int) ([]RetrieveMatch, error)
	Rerank(ctx context.Context, sourceText string, candidates []RerankCandidate) ([]RerankResult, error)
}

// EnrichRequest is AgentClient.Enrich's input shape (§4.6).
type EnrichRequest struct {
	FrameworkName    string
	FrameworkVersion string
	ShortID          string
	Title            string
	Description      string
}

// EnrichResult is AgentClient.Enrich's response shape.
type EnrichResult struct {
	EnrichedText string
	Status       string
}

// ReasonMapping describes the candidate mapping AgentClient.Reason should
// explain.
type ReasonMapping struct {
	TargetControlID string
	TargetFramework string
	Text            string
	SimilarityScore float64
	RerankScore     float64
}

// ReasonRequest is AgentClient.Reason's input shape.
type ReasonRequest struct {
	SourceControlID string
	SourceText      string
	Mapping         ReasonMapping
}

// ReasonResult is AgentClient.Reason's response shape.
type ReasonResult struct {
	Reasoning string
	Status    string
}

// AgentClient is a typed RPC wrapper over the agent service: enrich, reason
// (C6, §4.6). Both operations are treated as idempotent.
type AgentClient interface {
	Enrich(ctx context.Context, req EnrichRequest) (EnrichResult, error)
	Reason(ctx context.Context, req ReasonRequest) (ReasonResult, error)
}
