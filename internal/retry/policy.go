package retry

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
	"time"

	errpkg "github.com/veranemoloko/segment-uploader/internal/errors"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second

	// defaultRetryable decides errors no rule recognises. Unknown failures are
	// retried: a spurious retry costs one backoff delay, a spurious failure
	// needs the user to act.
	defaultRetryable = true
)

var terminalErrors = []error{
	errpkg.ErrPermissionDenied,
	errpkg.ErrQuotaExceeded,
	errpkg.ErrObjectNotFound,
	errpkg.ErrInvalidInput,
	os.ErrPermission,
	os.ErrNotExist,
}

var retryableErrors = []error{
	errpkg.ErrNetwork,
	errpkg.ErrUnavailable,
	context.DeadlineExceeded,
	syscall.ECONNRESET,
	syscall.ECONNREFUSED,
	syscall.EPIPE,
}

// Policy decides whether a failed upload is rescheduled and after how long.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// NewPolicy returns a Policy. A negative maxAttempts or a non-positive
// baseDelay falls back to the default.
func NewPolicy(maxAttempts int, baseDelay time.Duration) Policy {
	if maxAttempts < 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	return Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay}
}

// Decision is the outcome of evaluating one failure.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Decide evaluates err for a task that has already been retried retryCount times.
func (p Policy) Decide(err error, retryCount int) Decision {
	if !IsRetryable(err) || retryCount >= p.MaxAttempts {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.Delay(retryCount)}
}

// Delay returns BaseDelay * 2^retryCount.
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	return p.BaseDelay << uint(retryCount)
}

// IsRetryable classifies err as transient (true) or terminal (false).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	for _, target := range terminalErrors {
		if errors.Is(err, target) {
			return false
		}
	}

	for _, target := range retryableErrors {
		if errors.Is(err, target) {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return defaultRetryable
}
