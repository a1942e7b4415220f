package queue

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// RetryManager manages retry logic for failed tasks
type RetryManager struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewRetryManager creates a new RetryManager
func NewRetryManager(baseDelay time.Duration) *RetryManager {
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	return &RetryManager{
		baseDelay: baseDelay,
		maxDelay:  baseDelay * 16, // Maximum 16x base delay
	}
}

// ShouldRetry determines if a task should be retried and returns the delay
func (r *RetryManager) ShouldRetry(task *Task, err error) (bool, time.Duration) {
	if task.Attempts >= task.MaxRetries {
		return false, 0
	}

	if !r.isRetryableError(err) {
		return false, 0
	}

	return true, r.calculateBackoff(task.Attempts)
}

func (r *RetryManager) isRetryableError(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// calculateBackoff: base * 2^(attempt-1) with ±25% jitter, capped at maxDelay
func (r *RetryManager) calculateBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return r.baseDelay
	}
	if attempt > 16 {
		return r.maxDelay
	}

	backoff := r.baseDelay * time.Duration(1<<(attempt-1))

	if quarter := int64(backoff / 4); quarter > 0 {
		jitter := time.Duration(rand.Int63n(quarter))
		if rand.Intn(2) == 0 {
			backoff += jitter
		} else {
			backoff -= jitter
		}
	}

	if backoff > r.maxDelay {
		backoff = r.maxDelay
	}

	return backoff
}
