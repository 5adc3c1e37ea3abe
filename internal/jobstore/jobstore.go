// Package jobstore implements interfaces.JobStore (C2, §4.2) against
// SurrealDB, using the same select-then-conditional-update claim idiom the
// teacher's job_queue table uses for its own Dequeue/Complete operations.
package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sdk "github.com/surrealdb/surrealdb.go"
	sdkmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/ctrlmap/mapper/internal/common"
	"github.com/ctrlmap/mapper/internal/interfaces"
	"github.com/ctrlmap/mapper/internal/models"
	"github.com/ctrlmap/mapper/internal/pipelineerr"
)

const selectFields = "job_id, status, source_control_key, target_framework_key, target_control_ids, " +
	"created_at, updated_at, terminal_at, execution_handle, result_mappings, result_error_message, ttl"

// row is the wire shape stored in SurrealDB's job table.
type row struct {
	JobID              string     `json:"job_id"`
	Status             string     `json:"status"`
	SourceControlKey   string     `json:"source_control_key"`
	TargetFrameworkKey string     `json:"target_framework_key"`
	TargetControlIDs   []string   `json:"target_control_ids"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	TerminalAt         *time.Time `json:"terminal_at"`
	ExecutionHandle    string     `json:"execution_handle"`
	ResultMappings     string     `json:"result_mappings"` // JSON-encoded []models.Candidate, "" if absent
	ResultErrorMessage string     `json:"result_error_message"`
	TTL                int64      `json:"ttl"`
}

func (r row) toJob() (*models.Job, error) {
	job := &models.Job{
		JobID:              r.JobID,
		Status:             models.JobStatus(r.Status),
		SourceControlKey:   r.SourceControlKey,
		TargetFrameworkKey: r.TargetFrameworkKey,
		TargetControlIDs:   r.TargetControlIDs,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
		TerminalAt:         r.TerminalAt,
		ExecutionHandle:    r.ExecutionHandle,
		TTL:                r.TTL,
	}
	if r.ResultMappings != "" || r.ResultErrorMessage != "" {
		job.Result = &models.JobResult{ErrorMessage: r.ResultErrorMessage}
		if r.ResultMappings != "" {
			var mappings []models.Candidate
			if err := json.Unmarshal([]byte(r.ResultMappings), &mappings); err != nil {
				return nil, fmt.Errorf("decode result_mappings: %w", err)
			}
			job.Result.Mappings = mappings
		}
	}
	return job, nil
}

// Store implements interfaces.JobStore.
type Store struct {
	db     *sdk.DB
	logger *common.Logger
}

// New builds a Store over an already-connected SurrealDB handle.
func New(db *sdk.DB, logger *common.Logger) *Store {
	return &Store{db: db, logger: logger}
}

func recordID(jobID string) sdkmodels.RecordID {
	return sdkmodels.NewRecordID("job", jobID)
}

func (s *Store) Create(ctx context.Context, job *models.Job) error {
	existing, err := s.Get(ctx, job.JobID)
	if err == nil && existing != nil {
		return fmt.Errorf("%w: jobId %s", pipelineerr.ErrDuplicateJob, job.JobID)
	}

	now := job.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	job.Status = models.JobStatusPending

	sql := `CREATE $rid SET
		job_id = $job_id, status = $status, source_control_key = $source_control_key,
		target_framework_key = $target_framework_key, target_control_ids = $target_control_ids,
		created_at = $created_at, updated_at = $updated_at, terminal_at = $terminal_at,
		execution_handle = $execution_handle, result_mappings = $result_mappings,
		result_error_message = $result_error_message, ttl = $ttl`
	vars := map[string]any{
		"rid":                  recordID(job.JobID),
		"job_id":               job.JobID,
		"status":               string(job.Status),
		"source_control_key":   job.SourceControlKey,
		"target_framework_key": job.TargetFrameworkKey,
		"target_control_ids":   job.TargetControlIDs,
		"created_at":           job.CreatedAt,
		"updated_at":           job.UpdatedAt,
		"terminal_at":          nil,
		"execution_handle":     "",
		"result_mappings":      "",
		"result_error_message": "",
		"ttl":                  job.TTL,
	}
	if _, err := sdk.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("create job %s: %w", job.JobID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, jobID string) (*models.Job, error) {
	sql := "SELECT " + selectFields + " FROM $rid"
	vars := map[string]any{"rid": recordID(jobID)}

	results, err := sdk.Query[[]row](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("%w: jobId %s", pipelineerr.ErrNotFound, jobID)
	}
	return (*results)[0].Result[0].toJob()
}

// MarkRunning implements the PENDING -> RUNNING conditional transition.
// Idempotent if the job is already RUNNING under the same executionHandle
// (the Worker retrying its own claim); conflicts otherwise.
func (s *Store) MarkRunning(ctx context.Context, jobID, executionHandle string) error {
	existing, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if existing.Status == models.JobStatusRunning && existing.ExecutionHandle == executionHandle {
		return nil
	}
	if existing.Status != models.JobStatusPending {
		return fmt.Errorf("%w: jobId %s not PENDING (status=%s)", pipelineerr.ErrConflict, jobID, existing.Status)
	}

	now := time.Now().UTC()
	sql := `UPDATE $rid SET status = $running, execution_handle = $handle, updated_at = $now
		WHERE status = $pending`
	vars := map[string]any{
		"rid":     recordID(jobID),
		"running": string(models.JobStatusRunning),
		"pending": string(models.JobStatusPending),
		"handle":  executionHandle,
		"now":     now,
	}
	if _, err := sdk.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("mark running %s: %w", jobID, err)
	}

	// Re-read to detect a lost race against a concurrent claimant.
	updated, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if updated.ExecutionHandle != executionHandle {
		return fmt.Errorf("%w: jobId %s claimed by another run", pipelineerr.ErrConflict, jobID)
	}
	return nil
}

func (s *Store) MarkCompleted(ctx context.Context, jobID string, mappings []models.Candidate) error {
	encoded, err := json.Marshal(mappings)
	if err != nil {
		return fmt.Errorf("encode mappings for %s: %w", jobID, err)
	}
	return s.markTerminal(ctx, jobID, models.JobStatusCompleted, string(encoded), "")
}

func (s *Store) MarkFailed(ctx context.Context, jobID, errorMessage string) error {
	return s.markTerminal(ctx, jobID, models.JobStatusFailed, "", errorMessage)
}

// markTerminal implements the shared conditional-write semantics for
// markCompleted/markFailed: succeeds from {PENDING, RUNNING}; no-ops if
// already terminal with byte-identical content; a late FAILED never
// overwrites an existing COMPLETED result; any other terminal mismatch is
// ErrConflict.
func (s *Store) markTerminal(ctx context.Context, jobID string, status models.JobStatus, mappingsJSON, errorMessage string) error {
	existing, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if existing.Status.Terminal() {
		if existing.Status == models.JobStatusCompleted {
			if status == models.JobStatusCompleted {
				existingJSON, encErr := json.Marshal(existing.Result.Mappings)
				if encErr != nil {
					return fmt.Errorf("encode existing mappings for %s: %w", jobID, encErr)
				}
				if normalizeJSON(string(existingJSON)) == normalizeJSON(mappingsJSON) {
					return nil
				}
				return fmt.Errorf("%w: jobId %s already COMPLETED with different content", pipelineerr.ErrConflict, jobID)
			}
			// A late FAILED never overwrites an existing COMPLETED result.
			return nil
		}
		// Existing status is FAILED.
		if status == models.JobStatusFailed && existing.Result != nil && existing.Result.ErrorMessage == errorMessage {
			return nil
		}
		if status == models.JobStatusFailed {
			return fmt.Errorf("%w: jobId %s already FAILED with different message", pipelineerr.ErrConflict, jobID)
		}
		return fmt.Errorf("%w: jobId %s already FAILED, cannot mark COMPLETED", pipelineerr.ErrConflict, jobID)
	}

	now := time.Now().UTC()
	sql := `UPDATE $rid SET status = $status, result_mappings = $mappings,
		result_error_message = $error_message, updated_at = $now, terminal_at = $now
		WHERE status IN [$pending, $running]`
	vars := map[string]any{
		"rid":           recordID(jobID),
		"status":        string(status),
		"mappings":      mappingsJSON,
		"error_message": errorMessage,
		"now":           now,
		"pending":       string(models.JobStatusPending),
		"running":       string(models.JobStatusRunning),
	}
	if _, err := sdk.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("mark terminal %s: %w", jobID, err)
	}
	return nil
}

// ResetRunningJobs reverts RUNNING jobs whose executionHandle carries the
// given prefix (this process's prior incarnation) back to PENDING, so the
// queue's own redelivery will pick them up again. Cross-process orphan
// recovery is left to the queue's visibilityTimeout, per §4.9.
func (s *Store) ResetRunningJobs(ctx context.Context, executionHandlePrefix string) (int, error) {
	sql := `SELECT ` + selectFields + ` FROM job WHERE status = $running AND string::starts_with(execution_handle, $prefix)`
	vars := map[string]any{
		"running": string(models.JobStatusRunning),
		"prefix":  executionHandlePrefix,
	}
	results, err := sdk.Query[[]row](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("find orphaned running jobs: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return 0, nil
	}

	count := 0
	now := time.Now().UTC()
	for _, r := range (*results)[0].Result {
		updateSQL := `UPDATE $rid SET status = $pending, execution_handle = "", updated_at = $now WHERE status = $running`
		updateVars := map[string]any{
			"rid":     recordID(r.JobID),
			"pending": string(models.JobStatusPending),
			"running": string(models.JobStatusRunning),
			"now":     now,
		}
		if _, err := sdk.Query[any](ctx, s.db, updateSQL, updateVars); err != nil {
			s.logger.Warn().Err(err).Str("jobId", r.JobID).Msg("failed to reset orphaned running job")
			continue
		}
		count++
	}
	return count, nil
}

// normalizeJSON strips insignificant whitespace so two JSON encodings of
// the same slice compare equal regardless of encoder formatting.
func normalizeJSON(s string) string {
	return strings.Join(strings.Fields(s), "")
}

var _ interfaces.JobStore = (*Store)(nil)
