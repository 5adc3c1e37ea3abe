package worker_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrlmap/mapper/internal/interfaces"
	"github.com/ctrlmap/mapper/internal/models"
	"github.com/ctrlmap/mapper/internal/pipelineerr"
	"github.com/ctrlmap/mapper/internal/worker"
)

type fakeJobStore struct {
	mu             sync.Mutex
	markRunningErr error
	runningCalls   int
}

func (f *fakeJobStore) Create(ctx context.Context, job *models.Job) error { return nil }
func (f *fakeJobStore) MarkRunning(ctx context.Context, jobID, executionHandle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runningCalls++
	return f.markRunningErr
}
func (f *fakeJobStore) MarkCompleted(ctx context.Context, jobID string, mappings []models.Candidate) error {
	return nil
}
func (f *fakeJobStore) MarkFailed(ctx context.Context, jobID, errorMessage string) error { return nil }
func (f *fakeJobStore) Get(ctx context.Context, jobID string) (*models.Job, error)        { return nil, nil }
func (f *fakeJobStore) ResetRunningJobs(ctx context.Context, prefix string) (int, error) {
	return 0, nil
}

type fakeQueue struct {
	mu        sync.Mutex
	messages  []interfaces.QueuedMessage
	acked     []interfaces.DeliveryToken
	received  int32
}

func (f *fakeQueue) Enqueue(ctx context.Context, message models.QueueMessage) error { return nil }
func (f *fakeQueue) Receive(ctx context.Context, maxCount int) ([]interfaces.QueuedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return nil, nil
	}
	atomic.AddInt32(&f.received, 1)
	m := f.messages[0]
	f.messages = f.messages[1:]
	return []interfaces.QueuedMessage{m}, nil
}
func (f *fakeQueue) Ack(ctx context.Context, token interfaces.DeliveryToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, token)
	return nil
}
func (f *fakeQueue) ExtendVisibility(ctx context.Context, token interfaces.DeliveryToken, d time.Duration) error {
	return nil
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPool_RunsOrchestratorAndAcksOnSuccess(t *testing.T) {
	jobs := &fakeJobStore{}
	q := &fakeQueue{messages: []interfaces.QueuedMessage{
		{Message: models.QueueMessage{JobID: "job-1"}, Token: "token-1"},
	}}
	var ranJobID string
	var mu sync.Mutex
	run := func(ctx context.Context, jobID string, msg models.QueueMessage) error {
		mu.Lock()
		ranJobID = jobID
		mu.Unlock()
		return nil
	}

	p := worker.New(jobs, q, run, 1, nil)
	p.Start(context.Background())
	defer p.Stop()

	waitUntil(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ranJobID == "job-1"
	})

	q.mu.Lock()
	acked := append([]interfaces.DeliveryToken{}, q.acked...)
	q.mu.Unlock()
	require.Len(t, acked, 1)
	assert.Equal(t, interfaces.DeliveryToken("token-1"), acked[0])
}

func TestPool_DoesNotAckOnOrchestratorFailure(t *testing.T) {
	jobs := &fakeJobStore{}
	q := &fakeQueue{messages: []interfaces.QueuedMessage{
		{Message: models.QueueMessage{JobID: "job-2"}, Token: "token-2"},
	}}
	var attempts int32
	run := func(ctx context.Context, jobID string, msg models.QueueMessage) error {
		atomic.AddInt32(&attempts, 1)
		return assert.AnError
	}

	p := worker.New(jobs, q, run, 1, nil)
	p.Start(context.Background())
	defer p.Stop()

	waitUntil(t, 2*time.Second, func() bool { return atomic.LoadInt32(&attempts) == 1 })

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Empty(t, q.acked)
}

func TestPool_AcksWithoutRunningOrchestratorWhenAlreadyTerminal(t *testing.T) {
	jobs := &fakeJobStore{markRunningErr: pipelineerr.ErrConflict}
	q := &fakeQueue{messages: []interfaces.QueuedMessage{
		{Message: models.QueueMessage{JobID: "job-3"}, Token: "token-3"},
	}}
	var ran int32
	run := func(ctx context.Context, jobID string, msg models.QueueMessage) error {
		atomic.AddInt32(&ran, 1)
		return nil
	}

	p := worker.New(jobs, q, run, 1, nil)
	p.Start(context.Background())
	defer p.Stop()

	waitUntil(t, 2*time.Second, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.acked) == 1
	})
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))
}
