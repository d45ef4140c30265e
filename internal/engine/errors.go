package engine

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotConfigured means no integration config has been synced yet.
var ErrNotConfigured = errors.New("integration not configured")

// ErrAuthenticationRequired is fatal: the device rejected the configured
// credentials and polling stays suspended until the config changes.
var ErrAuthenticationRequired = errors.New("authentication required")

// UpdateFailedError marks one failed poll cycle that the scheduler should
// simply retry on its normal interval.
type UpdateFailedError struct {
	Err     error
	Attempt int
	// RetryIn is the advisory exponential backoff value. It only shows up
	// in logs; the poll schedule itself never stretches.
	RetryIn time.Duration
}

func (e *UpdateFailedError) Error() string {
	if e == nil {
		return "update failed"
	}
	if e.Attempt > 0 {
		return fmt.Sprintf("update failed (attempt %d, backoff %s): %v", e.Attempt, e.RetryIn, e.Err)
	}
	return fmt.Sprintf("update failed: %v", e.Err)
}

func (e *UpdateFailedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ExhaustedRetriesError is fatal: the connection retry bound was exceeded.
type ExhaustedRetriesError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedRetriesError) Error() string {
	if e == nil {
		return "retries exhausted"
	}
	return fmt.Sprintf("giving up after %d consecutive connection failures: %v", e.Attempts, e.Err)
}

func (e *ExhaustedRetriesError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
