// Package interfaces defines the service contracts for the mapping
// pipeline's components (§4).
package interfaces

import (
	"context"
	"time"

	"github.com/ctrlmap/mapper/internal/models"
)

// JobStore is the durable record of every job's lifecycle state and
// terminal result (C2, §4.2). It is the only write path to Job, and its
// conditional writes are the sole source of the exactly-one-terminal-write
// guarantee (I5, P2).
type JobStore interface {
	// Create inserts a PENDING record. Fails with pipelineerr.ErrDuplicateJob
	// if jobId already exists.
	Create(ctx context.Context, job *models.Job) error

	// MarkRunning conditionally transitions PENDING -> RUNNING, stamping
	// executionHandle. If the job is already RUNNING with the same
	// executionHandle the call succeeds idempotently. If the job is already
	// terminal, or RUNNING under a different executionHandle, it fails with
	// pipelineerr.ErrConflict.
	MarkRunning(ctx context.Context, jobID, executionHandle string) error

	// MarkCompleted conditionally transitions {PENDING, RUNNING} -> COMPLETED.
	// If the job is already COMPLETED with byte-identical mappings, the call
	// is a no-op success. Any other terminal mismatch fails with
	// pipelineerr.ErrConflict.
	MarkCompleted(ctx context.Context, jobID string, mappings []models.Candidate) error

	// MarkFailed conditionally transitions {PENDING, RUNNING} -> FAILED. An
	// existing COMPLETED result is never overwritten by a late failure.
	MarkFailed(ctx context.Context, jobID, errorMessage string) error

	// Get returns the job record, or pipelineerr.ErrNotFound.
	Get(ctx context.Context, jobID string) (*models.Job, error)

	// ResetRunningJobs reverts RUNNING jobs owned by the given
	// executionHandlePrefix (i.e. this process's prior incarnation) back to
	// PENDING, so a restarted Worker can recover from a crash mid-run. It
	// never touches jobs owned by a different process.
	ResetRunningJobs(ctx context.Context, executionHandlePrefix string) (int, error)
}

// CacheEntry is the generic shape both derived-artifact caches share: an
// optional value plus presence.
type CacheEntry[T any] struct {
	Value T
	Found bool
}

// EnrichmentCache is a content-addressed store of enriched control text,
// keyed by (controlKey, enrichmentVersion) so that bumping
// enrichmentVersion forces re-enrichment for new reads without needing to
// invalidate already-cached entries (C3, §4.3).
type EnrichmentCache interface {
	Get(ctx context.Context, controlKey, enrichmentVersion string) (*models.EnrichmentEntry, bool, error)
	Put(ctx context.Context, entry *models.EnrichmentEntry) error
}

// EmbeddingCache is a KV store of (controlKey, modelVersion) -> vector
// (C4, §4.4).
type EmbeddingCache interface {
	Get(ctx context.Context, controlKey, modelVersion string) (*models.EmbeddingEntry, bool, error)
	Put(ctx context.Context, entry *models.EmbeddingEntry) error
}

// ControlCatalog is the read-only lookup of control/framework existence and
// text, backing Intake's validation and S1/S4.2. Population is owned by the
// out-of-scope CRUD API.
type ControlCatalog interface {
	GetFramework(ctx context.Context, frameworkKey string) (*models.Framework, bool, error)
	GetControl(ctx context.Context, controlKey string) (*models.Control, bool, error)

	// ListControls returns every active control of a framework, optionally
	// filtered to a subset of controlIds (B3: an empty, non-nil filter is
	// "no filter").
	ListControls(ctx context.Context, frameworkKey string, controlIDs []string) ([]*models.Control, error)

	// SuggestControlIDs returns up to limit short ids across the catalog
	// (optionally scoped to one framework) ordered by Levenshtein distance
	// to query ascending, then lexicographically.
	SuggestControlIDs(ctx context.Context, frameworkKey, query string, limit int) ([]string, error)

	// SuggestFrameworkKeys returns up to limit framework keys ordered the
	// same way, for FrameworkMissing suggestions.
	SuggestFrameworkKeys(ctx context.Context, query string, limit int) ([]string, error)
}

// DeliveryToken identifies one queue delivery attempt, opaque to callers.
type DeliveryToken string

// QueuedMessage pairs a decoded message with the token needed to ack/nack
// the specific delivery that produced it.
type QueuedMessage struct {
	Message models.QueueMessage
	Token   DeliveryToken
}

// RequestQueue is a durable, at-least-once FIFO-of-intent with DLQ support
// (C7, §4.7).
type RequestQueue interface {
	Enqueue(ctx context.Context, message models.QueueMessage) error
	Receive(ctx context.Context, maxCount int) ([]QueuedMessage, error)
	Ack(ctx context.Context, token DeliveryToken) error

	// ExtendVisibility postpones redelivery of an in-flight message, used
	// by long-running workflow steps that approach visibilityTimeout.
	ExtendVisibility(ctx context.Context, token DeliveryToken, d time.Duration) error
}

// DLQReader is the read side of the dead-letter queue, used by Redrive
// (C12, §4.12). Kept separate from RequestQueue because only the Redrive
// component talks to the DLQ directly.
type DLQReader interface {
	ReceiveFromDLQ(ctx context.Context, maxCount int) ([]QueuedMessage, error)
	DeleteFromDLQ(ctx context.Context, token DeliveryToken) error
	ApproximateDLQDepth(ctx context.Context) (int, error)
}
