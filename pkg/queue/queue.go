package queue

import (
	"context"
	"time"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// JobStatus tracks one dispatch of a document for processing. It is queue
// bookkeeping only; the document row stays the source of truth.
type JobStatus struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"documentId"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Handler processes one job. Returning an error wrapped with Permanent stops
// redelivery; any other error is retried up to the queue's limit.
type Handler func(ctx context.Context, job JobStatus) error

// Dispatcher hands a document off to asynchronous processing. Enqueue returns
// as soon as the job is durable; it never waits for processing.
type Dispatcher interface {
	Enqueue(ctx context.Context, documentID string) (JobStatus, error)
}

// Consumer runs handlers for dispatched jobs until ctx is done.
type Consumer interface {
	Start(ctx context.Context, concurrency int, handler Handler)
	GetJob(ctx context.Context, jobID string) (JobStatus, bool, error)
}

// Queue is both sides of a job queue.
type Queue interface {
	Dispatcher
	Consumer
}
