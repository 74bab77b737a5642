package errors

import "errors"

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidRequest    = errors.New("invalid enqueue request")
	ErrDuplicateSegment  = errors.New("segment already has an unfinished upload")
	ErrNotRetryable      = errors.New("task is not in a retryable state")
	ErrInvalidTransition = errors.New("invalid task status transition")
	ErrEngineClosed      = errors.New("upload engine is closed")
	ErrUnknownSnapshot   = errors.New("unknown snapshot version")
)

// Failure classes reported by object store adapters. The retry policy
// decides on these, so adapters wrap provider errors with one of them.
var (
	ErrNetwork          = errors.New("network error")
	ErrUnavailable      = errors.New("storage service unavailable")
	ErrPermissionDenied = errors.New("permission denied")
	ErrQuotaExceeded    = errors.New("storage quota exceeded")
	ErrObjectNotFound   = errors.New("object not found")
	ErrInvalidInput     = errors.New("invalid local input")
)
