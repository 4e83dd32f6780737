package queue

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentIDRequired = errors.New("document id required")
	ErrQueueClosed        = errors.New("queue closed")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// DispatchError reports that a document could not be handed to the queue.
type DispatchError struct {
	DocumentID string
	Err        error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch document %s: %v", e.DocumentID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
