package errors

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict is returned when an optimistic write loses a race.
	ErrConflict = errors.New("conflict")
	// ErrLeaseLost means the worker no longer owns the job it is writing for.
	ErrLeaseLost = errors.New("job lease lost")
	// ErrCanceled means the owning document pipeline was canceled.
	ErrCanceled = errors.New("pipeline canceled")
)

// TransientIOError wraps network or timeout failures from external
// collaborators (parser, embedder, extractor). It is retried with backoff.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("transient io error (%s): %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientIOError{Op: op, Err: err}
}

// MalformedExtractionError describes a single rejected extraction candidate.
type MalformedExtractionError struct {
	Index  int
	Reason string
}

func (e *MalformedExtractionError) Error() string {
	return fmt.Sprintf("malformed extraction candidate #%d: %s", e.Index, e.Reason)
}

// AmbiguousTemporalError is raised when the resolver cannot classify a pair of
// findings. The new finding is committed as needs_review with no edge.
type AmbiguousTemporalError struct {
	FindingID string
	OtherID   string
	Reason    string
}

func (e *AmbiguousTemporalError) Error() string {
	return fmt.Sprintf("ambiguous temporal relation %s~%s: %s", e.FindingID, e.OtherID, e.Reason)
}

// PermanentPipelineFailure marks an error that must not be retried automatically.
type PermanentPipelineFailure struct {
	Stage string
	Err   error
}

func (e *PermanentPipelineFailure) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("permanent failure: %v", e.Err)
	}
	return fmt.Sprintf("permanent failure in %s: %v", e.Stage, e.Err)
}

func (e *PermanentPipelineFailure) Unwrap() error { return e.Err }

func Permanent(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &PermanentPipelineFailure{Stage: stage, Err: err}
}

// ConflictingWriteError is returned when the per-topic lock cannot be obtained.
type ConflictingWriteError struct {
	TopicKey string
	Attempts int
}

func (e *ConflictingWriteError) Error() string {
	return fmt.Sprintf("conflicting write on topic %q after %d attempt(s)", e.TopicKey, e.Attempts)
}

// IsRetryable reports whether err should follow the job retry/backoff path.
// Permanent failures, invalid input and cancellation are never retried;
// everything else, including timeouts and exhausted topic-lock retries, is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var perm *PermanentPipelineFailure
	switch {
	case errors.As(err, &perm):
		return false
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// IsTimeout reports whether err came from a deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// Re-exports so callers importing this package under the name "errors" keep
// access to the standard helpers.
var (
	Is  = errors.Is
	As  = errors.As
	New = errors.New
)
