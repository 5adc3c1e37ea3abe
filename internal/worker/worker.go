// Package worker implements Worker (C9, §4.9): a pool of goroutines that
// poll RequestQueue at batch size 1 and drive each message through the
// Orchestrator, following the teacher's panic-recovering processLoop idiom
// (internal/services/jobmanager/manager.go) adapted from a priority-queue
// poll to RequestQueue's receive/ack contract.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ctrlmap/mapper/internal/common"
	"github.com/ctrlmap/mapper/internal/interfaces"
	"github.com/ctrlmap/mapper/internal/models"
	"github.com/ctrlmap/mapper/internal/pipelineerr"
)

// Pool polls RequestQueue with concurrency goroutines, each handling one
// message at a time end to end (§4.9).
type Pool struct {
	jobs            interfaces.JobStore
	queue           interfaces.RequestQueue
	run             func(ctx context.Context, jobID string, msg models.QueueMessage) error
	logger          *common.Logger
	concurrency     int
	executionPrefix string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Pool. run is orchestrator.Orchestrator.Run, passed as a
// plain function value so this package has no compile-time dependency on
// the orchestrator package — only internal/app wires the two together.
func New(jobs interfaces.JobStore, queue interfaces.RequestQueue, run func(ctx context.Context, jobID string, msg models.QueueMessage) error, concurrency int, logger *common.Logger) *Pool {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pool{
		jobs:            jobs,
		queue:           queue,
		run:             run,
		logger:          logger,
		concurrency:     concurrency,
		executionPrefix: uuid.NewString(),
	}
}

// safeGo launches a goroutine with panic recovery and logging, the same
// idiom jobmanager.JobManager.safeGo uses.
func (p *Pool) safeGo(name string, fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("recovered from panic in worker goroutine")
			}
		}()
		fn()
	}()
}

// Start recovers this process's own orphaned RUNNING jobs, then launches
// concurrency poll loops. Safe to call once; call Stop before a second Start.
func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	if count, err := p.jobs.ResetRunningJobs(runCtx, p.executionPrefix); err != nil {
		p.logger.Warn().Err(err).Msg("failed to reset orphaned running jobs")
	} else if count > 0 {
		p.logger.Info().Int("count", count).Msg("reset orphaned running jobs to pending")
	}

	for i := 0; i < p.concurrency; i++ {
		name := fmt.Sprintf("worker-%d", i)
		p.safeGo(name, func() { p.pollLoop(runCtx) })
	}
	p.logger.Info().Int("concurrency", p.concurrency).Msg("worker pool started")
}

// Stop cancels every poll loop and waits for in-flight messages to settle.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.wg.Wait()
	p.logger.Info().Msg("worker pool stopped")
}

func (p *Pool) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := p.queue.Receive(ctx, 1)
		if err != nil {
			p.logger.Warn().Err(err).Msg("receive error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}
		if len(messages) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}

		p.handle(ctx, messages[0])
	}
}

func (p *Pool) handle(ctx context.Context, qm interfaces.QueuedMessage) {
	jobID := qm.Message.JobID
	executionHandle := p.executionPrefix + ":" + uuid.NewString()

	err := p.jobs.MarkRunning(ctx, jobID, executionHandle)
	if err != nil {
		if errors.Is(err, pipelineerr.ErrConflict) {
			// Already terminal: a prior run finished. Ack and move on (§4.9 step 1).
			if ackErr := p.queue.Ack(ctx, qm.Token); ackErr != nil {
				p.logger.Warn().Err(ackErr).Str("jobId", jobID).Msg("failed to ack already-terminal job")
			}
			return
		}
		p.logger.Error().Err(err).Str("jobId", jobID).Msg("markRunning failed, leaving message for redelivery")
		return
	}

	if err := p.run(ctx, jobID, qm.Message); err != nil {
		// Unrecoverable local exception before Orchestrator's terminal write:
		// do not ack (§4.9 step 4). The message redelivers after
		// visibilityTimeout, eventually moving to DLQ at maxReceiveCount.
		p.logger.Error().Err(err).Str("jobId", jobID).Msg("orchestrator run failed before terminal write")
		return
	}

	if err := p.queue.Ack(ctx, qm.Token); err != nil {
		p.logger.Warn().Err(err).Str("jobId", jobID).Msg("failed to ack completed job")
	}
}
