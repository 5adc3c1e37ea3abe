package models

import "time"

// Framework is a named, versioned set of controls. Population is owned by
// the out-of-scope CRUD API; the pipeline only reads these rows.
type Framework struct {
	FrameworkKey string `json:"frameworkKey"`
	Name         string `json:"name"`
	Version      string `json:"version"`
	Active       bool   `json:"active"`
}

// Control is a single compliance requirement within a framework.
type Control struct {
	ControlKey   string `json:"controlKey"`
	FrameworkKey string `json:"frameworkKey"`
	ControlID    string `json:"controlId"`
	ShortID      string `json:"shortId"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Active       bool   `json:"active"`
}

// EnrichmentEntry is an EnrichmentCache record: an LLM-expanded description
// of a control, cached by control key (§3, §4.3).
type EnrichmentEntry struct {
	ControlKey  string    `json:"controlKey"`
	EnrichedText string   `json:"enrichedText"`
	Version     string    `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
}

// EmbeddingEntry is an EmbeddingCache record: a fixed-dimension unit-norm
// vector representation of a control's text, keyed by (controlKey,
// modelVersion) (§3, §4.4).
type EmbeddingEntry struct {
	ControlKey   string    `json:"controlKey"`
	ModelVersion string    `json:"modelVersion"`
	Vector       []float32 `json:"vector"`
	CreatedAt    time.Time `json:"createdAt"`
}
