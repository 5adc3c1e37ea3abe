// Package statusquery implements StatusQuery (C11, §4.11): the read-only
// projection of a job record exposed to clients.
package statusquery

import (
	"context"
	"fmt"

	"github.com/ctrlmap/mapper/internal/interfaces"
	"github.com/ctrlmap/mapper/internal/models"
)

// Projection is the client-visible shape of a job, omitting internal-only
// fields such as executionHandle and enrichmentDegraded.
type Projection struct {
	MappingID          string            `json:"mappingId"`
	Status             models.JobStatus  `json:"status"`
	SourceControlKey   string            `json:"sourceControlKey"`
	TargetFrameworkKey string            `json:"targetFrameworkKey"`
	CreatedAt          string            `json:"createdAt"`
	UpdatedAt          string            `json:"updatedAt"`
	TerminalAt         string            `json:"terminalAt,omitempty"`
	Result             *models.JobResult `json:"result,omitempty"`
}

// StatusQuery wraps JobStore for the read path.
type StatusQuery struct {
	jobs interfaces.JobStore
}

// New builds a StatusQuery over jobs.
func New(jobs interfaces.JobStore) *StatusQuery {
	return &StatusQuery{jobs: jobs}
}

// Get returns jobId's current projection, or pipelineerr.ErrNotFound.
func (s *StatusQuery) Get(ctx context.Context, jobID string) (*Projection, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}

	p := &Projection{
		MappingID:          job.JobID,
		Status:             job.Status,
		SourceControlKey:   job.SourceControlKey,
		TargetFrameworkKey: job.TargetFrameworkKey,
		CreatedAt:          job.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:          job.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		Result:             job.Result,
	}
	if job.TerminalAt != nil {
		p.TerminalAt = job.TerminalAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return p, nil
}
