package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"enrichd/internal/port/outbound"
)

// CircuitOpenError is returned when the breaker disallows a call. No
// dependency call is made and no attempt is consumed.
type CircuitOpenError struct {
	Dependency string
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return e.Dependency + " circuit breaker is open"
}

// RetryExhaustedError is returned once all permitted attempts failed.
type RetryExhaustedError struct {
	Dependency string
	Attempts   int
	LastErr    error
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s call failed after %d attempts: %v", e.Dependency, e.Attempts, e.LastErr)
}

// Unwrap returns the last attempt's error.
func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

// RetryExecutorConfig holds retry behavior for one guarded dependency.
type RetryExecutorConfig struct {
	Dependency        string
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterMaxPercent  int
	// AttemptTimeout bounds each individual dependency call; hitting it
	// cancels the in-flight call and counts as a failure.
	AttemptTimeout time.Duration
}

// RetryExecutor wraps a single dependency call with circuit breaker
// consultation, per-attempt timeouts and exponential backoff with jitter.
type RetryExecutor struct {
	config  RetryExecutorConfig
	breaker CircuitBreaker
}

// NewRetryExecutor creates a retry executor driven by the given breaker.
func NewRetryExecutor(config RetryExecutorConfig, breaker CircuitBreaker) *RetryExecutor {
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &RetryExecutor{config: config, breaker: breaker}
}

// Breaker returns the breaker driving this executor.
func (e *RetryExecutor) Breaker() CircuitBreaker {
	return e.breaker
}

// Execute runs the operation with the configured attempt limit. It returns
// the number of dependency calls actually made alongside the outcome.
func (e *RetryExecutor) Execute(ctx context.Context, operation func(ctx context.Context) error) (int, error) {
	return e.ExecuteWithLimit(ctx, e.config.MaxAttempts, operation)
}

// ExecuteWithLimit runs the operation with an explicit attempt cap, letting
// callers shrink the budget to whatever a job has left before its retry
// limit.
func (e *RetryExecutor) ExecuteWithLimit(
	ctx context.Context,
	maxAttempts int,
	operation func(ctx context.Context) error,
) (int, error) {
	if maxAttempts <= 0 || maxAttempts > e.config.MaxAttempts {
		maxAttempts = e.config.MaxAttempts
	}

	attempts := 0
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempts, err
		}

		if !e.breaker.Allow() {
			return attempts, &CircuitOpenError{Dependency: e.config.Dependency}
		}

		err := e.invoke(ctx, operation)
		attempts++

		if err == nil {
			e.breaker.RecordSuccess()
			return attempts, nil
		}

		lastErr = err
		e.breaker.RecordFailure()

		if !isRetryable(err) || attempt == maxAttempts {
			break
		}

		delay := e.backoffDelay(attempt)
		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-time.After(delay):
		}
	}

	return attempts, &RetryExhaustedError{
		Dependency: e.config.Dependency,
		Attempts:   attempts,
		LastErr:    lastErr,
	}
}

func (e *RetryExecutor) invoke(ctx context.Context, operation func(ctx context.Context) error) error {
	if e.config.AttemptTimeout <= 0 {
		return operation(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.config.AttemptTimeout)
	defer cancel()
	return operation(attemptCtx)
}

// backoffDelay computes the exponential backoff delay for the given attempt
// with bounded random jitter.
func (e *RetryExecutor) backoffDelay(attempt int) time.Duration {
	delay := time.Duration(float64(e.config.BaseDelay) * math.Pow(e.config.BackoffMultiplier, float64(attempt-1)))

	if e.config.MaxDelay > 0 && delay > e.config.MaxDelay {
		delay = e.config.MaxDelay
	}

	if e.config.JitterMaxPercent > 0 {
		jitterAmount := float64(delay) * (float64(e.config.JitterMaxPercent) / 100.0)
		delay += time.Duration(rand.Float64() * jitterAmount) //nolint:gosec // Non-cryptographic use for retry jitter
	}

	return delay
}

// isRetryable reports whether another attempt could change the outcome.
// Typed non-retryable dependency errors exhaust the executor immediately;
// timeouts and everything else are retried up to the attempt cap.
func isRetryable(err error) bool {
	var processorErr *outbound.ProcessorError
	if errors.As(err, &processorErr) {
		return processorErr.IsRetryable()
	}

	var embeddingErr *outbound.EmbeddingError
	if errors.As(err, &embeddingErr) {
		return embeddingErr.IsRetryable()
	}

	return true
}

// IsCircuitOpen reports whether err is a breaker fail-fast rejection.
func IsCircuitOpen(err error) bool {
	var circuitOpen *CircuitOpenError
	return errors.As(err, &circuitOpen)
}

// IsTimeout reports whether err is a per-attempt deadline hit.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
