// Package pipelineerr defines the error taxonomy shared by every stage of
// the mapping pipeline. Callers classify failures with errors.Is/errors.As
// against these sentinels rather than comparing strings.
package pipelineerr

import "errors"

var (
	// ErrMalformedKey is returned by KeyCodec when a composite key violates
	// its format.
	ErrMalformedKey = errors.New("malformed key")

	// ErrSourceMissing is returned when a source control does not exist in
	// the control catalog.
	ErrSourceMissing = errors.New("source control missing")

	// ErrFrameworkMissing is returned when a target framework does not
	// exist in the control catalog.
	ErrFrameworkMissing = errors.New("target framework missing")

	// ErrDuplicateJob is returned by JobStore.Create when jobId already
	// exists.
	ErrDuplicateJob = errors.New("duplicate job")

	// ErrNotFound is returned by JobStore.Get and StatusQuery.Get when a
	// job record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by conditional JobStore writes whose guard
	// condition no longer holds (another writer won the race with
	// different content).
	ErrConflict = errors.New("conflict")

	// ErrScienceTransient marks a retryable ScienceClient failure (5xx or
	// timeout).
	ErrScienceTransient = errors.New("science service transient error")

	// ErrScienceUnavailable marks an exhausted-retries or
	// majority-candidate-failure condition from the science pipeline.
	// This is a fatal, workflow-failing error.
	ErrScienceUnavailable = errors.New("science service unavailable")

	// ErrAgentTransient marks a retryable AgentClient failure (5xx or
	// timeout).
	ErrAgentTransient = errors.New("agent service transient error")

	// ErrAgentUnavailable marks exhausted retries during enrichment.
	// Non-fatal: the workflow degrades gracefully rather than failing.
	ErrAgentUnavailable = errors.New("agent service unavailable")

	// ErrWorkflowTimeout marks exhaustion of the overall workflow soft
	// budget.
	ErrWorkflowTimeout = errors.New("workflow timeout")

	// ErrQueueUnavailable marks an enqueue failure at Intake after the job
	// record was already created.
	ErrQueueUnavailable = errors.New("queue unavailable")

	// ErrVectorNotUnitNorm marks an embedding vector whose L2 norm falls
	// outside the ε tolerance of 1 (B4).
	ErrVectorNotUnitNorm = errors.New("embedding vector is not unit-norm")
)

// UserMessage maps an internal error to one of the fixed, ≤200-char
// messages a client is allowed to observe on a FAILED job (§7). Unrecognized
// errors map to the generic InternalError message so that no internal
// detail ever reaches the client surface.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrSourceMissing):
		return "SourceMissing"
	case errors.Is(err, ErrScienceUnavailable):
		return "ScienceUnavailable"
	case errors.Is(err, ErrVectorNotUnitNorm):
		return "ScienceUnavailable"
	case errors.Is(err, ErrWorkflowTimeout):
		return "WorkflowTimeout"
	default:
		return "InternalError"
	}
}
