package models

import "time"

// JobStatus is the lifecycle state of a mapping job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// Terminal reports whether status is a terminal state (COMPLETED or FAILED).
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Fixed, user-visible failure messages. No stack traces or internal identifiers
// ever leave the Orchestrator through this field.
const (
	ErrorSourceMissing      = "SourceMissing"
	ErrorScienceUnavailable = "ScienceUnavailable"
	ErrorWorkflowTimeout    = "WorkflowTimeout"
	ErrorInternal           = "InternalError"
)

// Candidate is one ranked target control inside a completed job's result.
type Candidate struct {
	TargetControlKey string  `json:"targetControlKey"`
	TargetControlID  string  `json:"targetControlId"`
	SimilarityScore  float64 `json:"similarityScore"`
	RerankScore      float64 `json:"rerankScore"`
	Reasoning        string  `json:"reasoning"`
}

// JobResult holds the terminal payload of a job. Exactly one of Mappings
// (on COMPLETED) or ErrorMessage (on FAILED) is populated — see I3/I4.
type JobResult struct {
	Mappings     []Candidate `json:"mappings,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
}

// Job is the durable, client-visible record of one asynchronous mapping
// request. It is the only entity in the system with a nontrivial state
// machine: PENDING -> RUNNING -> {COMPLETED, FAILED}, terminal-write-once.
type Job struct {
	JobID              string     `json:"jobId"`
	Status             JobStatus  `json:"status"`
	SourceControlKey   string     `json:"sourceControlKey"`
	TargetFrameworkKey string     `json:"targetFrameworkKey"`
	TargetControlIDs   []string   `json:"targetControlIds,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	TerminalAt         *time.Time `json:"terminalAt,omitempty"`
	ExecutionHandle    string     `json:"executionHandle,omitempty"`
	Result             *JobResult `json:"result,omitempty"`
	TTL                int64      `json:"ttl"`

	// EnrichmentDegraded records that S3 fell back to the raw control
	// description. Internal-only: never serialized to the client surface.
	EnrichmentDegraded bool `json:"-"`
}

// QueueMessage is the payload durably committed to RequestQueue by Intake.
// Message identity is JobID.
type QueueMessage struct {
	JobID              string    `json:"jobId"`
	SourceControlKey   string    `json:"sourceControlKey"`
	TargetFrameworkKey string    `json:"targetFrameworkKey"`
	TargetControlIDs   []string  `json:"targetControlIds,omitempty"`
	EnqueuedAt         time.Time `json:"enqueuedAt"`
}
