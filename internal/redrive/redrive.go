// Package redrive implements Redrive (C12, §4.12): draining the DLQ back
// onto the main queue, idempotent on partial failure by always sending to
// the main queue before deleting from the DLQ.
package redrive

import (
	"context"
	"fmt"

	"github.com/ctrlmap/mapper/internal/common"
	"github.com/ctrlmap/mapper/internal/interfaces"
)

// MaxMessages bounds a single Redrive invocation (§4.12).
const MaxMessages = 1000

// Request is Redrive's input.
type Request struct {
	DryRun      bool
	MaxMessages int
}

// Report is Redrive's output, matching §6's CLI response shape.
type Report struct {
	MessagesRedriven     int
	DLQMessageCountBefore int
	Message              string
}

// Redrive wraps the combined RequestQueue/DLQReader surface.
type Redrive struct {
	dlq    interfaces.DLQReader
	queue  interfaces.RequestQueue
	logger *common.Logger
}

// New builds a Redrive. dlq and queue are typically the same *queue.Queue
// value, satisfying both interfaces.
func New(dlq interfaces.DLQReader, queue interfaces.RequestQueue, logger *common.Logger) *Redrive {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Redrive{dlq: dlq, queue: queue, logger: logger}
}

// Run executes one Redrive pass. On DryRun, it reports the DLQ depth
// without touching any message.
func (r *Redrive) Run(ctx context.Context, req Request) (*Report, error) {
	max := req.MaxMessages
	if max <= 0 || max > MaxMessages {
		max = MaxMessages
	}

	depth, err := r.dlq.ApproximateDLQDepth(ctx)
	if err != nil {
		return nil, fmt.Errorf("read DLQ depth: %w", err)
	}

	if req.DryRun {
		return &Report{
			DLQMessageCountBefore: depth,
			Message:               fmt.Sprintf("%d messages would be redriven", min(depth, max)),
		}, nil
	}

	redriven := 0
	for redriven < max {
		remaining := max - redriven
		batch := remaining
		if batch > 10 {
			batch = 10
		}
		messages, err := r.dlq.ReceiveFromDLQ(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("receive from DLQ: %w", err)
		}
		if len(messages) == 0 {
			break
		}

		for _, qm := range messages {
			// Idempotence-on-partial-failure (§4.12): send to main queue
			// first, delete from DLQ second. A crash between the two leaves
			// the message in the DLQ to be resent next run; JobStore's
			// conditional writes absorb the resulting duplicate.
			if err := r.queue.Enqueue(ctx, qm.Message); err != nil {
				r.logger.Warn().Err(err).Str("jobId", qm.Message.JobID).Msg("redrive enqueue failed, leaving message in DLQ")
				continue
			}
			if err := r.dlq.DeleteFromDLQ(ctx, qm.Token); err != nil {
				r.logger.Warn().Err(err).Str("jobId", qm.Message.JobID).Msg("redrive delete from DLQ failed; message will be redelivered next run")
				continue
			}
			redriven++
		}
	}

	return &Report{
		MessagesRedriven:      redriven,
		DLQMessageCountBefore: depth,
		Message:               fmt.Sprintf("%d messages redriven", redriven),
	}, nil
}
