package queue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ragchat/internal/util"
)

// ErrQueueFull is returned by ChannelQueue.Enqueue when the buffer is full.
var ErrQueueFull = errors.New("queue full")

// ChannelQueue is an in-process Queue backed by a buffered channel. Jobs do
// not survive a restart.
type ChannelQueue struct {
	jobs       chan JobStatus
	maxRetries int

	mu     sync.Mutex
	status map[string]JobStatus
	closed bool
}

func NewChannelQueue(buffer, maxRetries int) *ChannelQueue {
	return &ChannelQueue{
		jobs:       make(chan JobStatus, orInt(buffer, 64)),
		maxRetries: orInt(maxRetries, 3),
		status:     make(map[string]JobStatus),
	}
}

func (q *ChannelQueue) Enqueue(ctx context.Context, documentID string) (JobStatus, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return JobStatus{}, ErrDocumentIDRequired
	}
	if err := ctx.Err(); err != nil {
		return JobStatus{}, err
	}
	now := time.Now().UTC()
	job := JobStatus{ID: util.NewID(), DocumentID: documentID, Status: StatusQueued, CreatedAt: now, UpdatedAt: now}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return JobStatus{}, ErrQueueClosed
	}
	select {
	case q.jobs <- job:
	default:
		return JobStatus{}, ErrQueueFull
	}
	q.status[job.ID] = job
	return job, nil
}

func (q *ChannelQueue) GetJob(_ context.Context, jobID string) (JobStatus, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.status[jobID]
	return job, ok, nil
}

// Close stops accepting jobs. Workers drain what is buffered.
func (q *ChannelQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}

func (q *ChannelQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	for i := 0; i < orInt(concurrency, 1); i++ {
		go q.worker(ctx, handler)
	}
}

func (q *ChannelQueue) worker(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.run(ctx, job, handler)
		}
	}
}

func (q *ChannelQueue) run(ctx context.Context, job JobStatus, handler Handler) {
	job.Attempts++
	job.Status = StatusProcessing
	q.update(job)

	err := handler(ctx, job)
	switch {
	case err == nil:
		job.Status = StatusDone
		job.ErrorMessage = ""
	case IsPermanent(err) || job.Attempts >= q.maxRetries:
		slog.Warn("queue: job failed", "job_id", job.ID, "document_id", job.DocumentID, "err", err)
		job.Status = StatusFailed
		job.ErrorMessage = err.Error()
	default:
		job.Status = StatusQueued
		job.ErrorMessage = err.Error()
		q.update(job)
		if q.requeue(job) {
			return
		}
		job.Status = StatusFailed
	}
	q.update(job)
}

func (q *ChannelQueue) requeue(job JobStatus) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.jobs <- job:
		return true
	default:
		return false
	}
}

func (q *ChannelQueue) update(job JobStatus) {
	job.UpdatedAt = time.Now().UTC()
	q.mu.Lock()
	q.status[job.ID] = job
	q.mu.Unlock()
}

var _ Queue = (*ChannelQueue)(nil)
