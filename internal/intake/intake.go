// Package intake implements Intake (C8, §4.8): the synchronous entry point
// that validates a mapping request, persists its PENDING job record, and
// durably enqueues it for the Worker.
package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ctrlmap/mapper/internal/common"
	"github.com/ctrlmap/mapper/internal/interfaces"
	"github.com/ctrlmap/mapper/internal/keycodec"
	"github.com/ctrlmap/mapper/internal/models"
	"github.com/ctrlmap/mapper/internal/pipelineerr"
)

// MaxSuggestions bounds the suggestion list returned on SourceMissing /
// FrameworkMissing (§4.8 step 2).
const MaxSuggestions = 10

// Request is Intake's input (the client's POST body).
type Request struct {
	SourceControlKey   string
	TargetFrameworkKey string
	TargetControlIDs   []string
}

// Accepted is Intake's 202 response shape.
type Accepted struct {
	MappingID string
	Status    string
	StatusURL string
}

// Suggestions accompanies a NotFound rejection.
type Suggestions struct {
	SourceControlSuggestions   []string
	TargetFrameworkSuggestions []string
}

// NotFoundError wraps pipelineerr.ErrSourceMissing or ErrFrameworkMissing
// with ranked suggestions for the client.
type NotFoundError struct {
	Err         error
	Suggestions Suggestions
}

func (e *NotFoundError) Error() string { return e.Err.Error() }
func (e *NotFoundError) Unwrap() error { return e.Err }

// Intake is the stateless coordinator of the C8 algorithm; all durable
// state lives in its collaborators.
type Intake struct {
	jobs          interfaces.JobStore
	catalog       interfaces.ControlCatalog
	queue         interfaces.RequestQueue
	statusURLBase string
	logger        *common.Logger
}

// New builds an Intake. statusURLBase is prefixed to jobId to build
// statusUrl, e.g. "https://api.example.com/mappings/".
func New(jobs interfaces.JobStore, catalog interfaces.ControlCatalog, queue interfaces.RequestQueue, statusURLBase string, logger *common.Logger) *Intake {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Intake{jobs: jobs, catalog: catalog, queue: queue, statusURLBase: statusURLBase, logger: logger}
}

// Submit runs the full §4.8 algorithm. Returns *NotFoundError for a missing
// source/framework, or pipelineerr.ErrMalformedKey for a format violation;
// any other error is an internal failure.
func (in *Intake) Submit(ctx context.Context, req Request) (*Accepted, error) {
	sourceFrameworkKey, _, err := keycodec.ParseControlKey(req.SourceControlKey)
	if err != nil {
		return nil, err
	}
	if _, _, err := keycodec.ParseFrameworkKey(req.TargetFrameworkKey); err != nil {
		return nil, err
	}

	if _, found, err := in.catalog.GetControl(ctx, req.SourceControlKey); err != nil {
		return nil, fmt.Errorf("lookup source control: %w", err)
	} else if !found {
		suggestions, err := in.catalog.SuggestControlIDs(ctx, sourceFrameworkKey, req.SourceControlKey, MaxSuggestions)
		if err != nil {
			return nil, fmt.Errorf("suggest source controls: %w", err)
		}
		return nil, &NotFoundError{
			Err:         fmt.Errorf("%w: %s", pipelineerr.ErrSourceMissing, req.SourceControlKey),
			Suggestions: Suggestions{SourceControlSuggestions: suggestions},
		}
	}

	if _, found, err := in.catalog.GetFramework(ctx, req.TargetFrameworkKey); err != nil {
		return nil, fmt.Errorf("lookup target framework: %w", err)
	} else if !found {
		suggestions, err := in.catalog.SuggestFrameworkKeys(ctx, req.TargetFrameworkKey, MaxSuggestions)
		if err != nil {
			return nil, fmt.Errorf("suggest target frameworks: %w", err)
		}
		return nil, &NotFoundError{
			Err:         fmt.Errorf("%w: %s", pipelineerr.ErrFrameworkMissing, req.TargetFrameworkKey),
			Suggestions: Suggestions{TargetFrameworkSuggestions: suggestions},
		}
	}

	jobID, err := in.createJobWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := in.queue.Enqueue(ctx, models.QueueMessage{
		JobID:              jobID,
		SourceControlKey:   req.SourceControlKey,
		TargetFrameworkKey: req.TargetFrameworkKey,
		TargetControlIDs:   req.TargetControlIDs,
		EnqueuedAt:         now,
	}); err != nil {
		// The job record stays PENDING; a stuck-PENDING sweeper (out of
		// scope here) is responsible for reissuing it (§4.8 step 5). The
		// caller still gets a failure so the HTTP layer can surface 500
		// instead of reporting success for a request that never enqueued.
		in.logger.Error().Err(err).Str("jobId", jobID).Msg("enqueue failed after job creation")
		return nil, fmt.Errorf("%w: %v", pipelineerr.ErrQueueUnavailable, err)
	}

	return &Accepted{
		MappingID: jobID,
		Status:    "ACCEPTED",
		StatusURL: in.statusURLBase + jobID,
	}, nil
}

// createJobWithRetry generates a UUIDv4 jobId and creates its PENDING
// record, retrying once on a jobId collision before failing internally
// (§4.8 steps 3-4).
func (in *Intake) createJobWithRetry(ctx context.Context, req Request) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		jobID := uuid.NewString()
		now := time.Now().UTC()
		job := &models.Job{
			JobID:              jobID,
			Status:             models.JobStatusPending,
			SourceControlKey:   req.SourceControlKey,
			TargetFrameworkKey: req.TargetFrameworkKey,
			TargetControlIDs:   req.TargetControlIDs,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		err := in.jobs.Create(ctx, job)
		if err == nil {
			return jobID, nil
		}
		if errors.Is(err, pipelineerr.ErrDuplicateJob) {
			in.logger.Warn().Str("jobId", jobID).Msg("jobId collision, retrying")
			continue
		}
		return "", fmt.Errorf("create job: %w", err)
	}
	return "", fmt.Errorf("create job: %w: exhausted jobId retry", pipelineerr.ErrDuplicateJob)
}
