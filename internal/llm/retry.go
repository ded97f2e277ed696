package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"deepscout/internal/logging"

	"go.uber.org/zap"
)

// RetryConfig configures retry behavior for generation calls.
type RetryConfig struct {
	MaxRetries     int           // Maximum number of retry attempts
	InitialBackoff time.Duration // Initial backoff duration (doubles each retry)
	MaxBackoff     time.Duration // Maximum backoff duration
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     8 * time.Second,
	}
}

// retryClient wraps a Client with exponential backoff on transient failures.
type retryClient struct {
	inner  Client
	config RetryConfig
}

// WithRetry decorates a client with bounded exponential-backoff retries.
// Context cancellation is never retried.
func WithRetry(inner Client, config RetryConfig) Client {
	if config.MaxRetries <= 0 {
		return inner
	}
	return &retryClient{inner: inner, config: config}
}

// GenerateStructured implements Client.
func (r *retryClient) GenerateStructured(ctx context.Context, req Request) (Response, error) {
	log := logging.For(logging.CategoryLLM)
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		default:
		}

		resp, err := r.inner.GenerateStructured(ctx, req)
		if err == nil {
			if attempt > 0 {
				log.Debug("retry succeeded", zap.Int("attempt", attempt+1))
			}
			return resp, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Response{}, err
		}

		lastErr = err
		log.Warn("generation attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", r.config.MaxRetries+1),
			zap.Error(err))

		// Don't sleep after the last attempt.
		if attempt < r.config.MaxRetries {
			backoff := calculateBackoff(r.config, attempt)
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return Response{}, fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

// calculateBackoff computes exponential backoff: initial * 2^attempt, capped.
func calculateBackoff(config RetryConfig, attempt int) time.Duration {
	backoff := float64(config.InitialBackoff) * math.Pow(2, float64(attempt))
	if backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}
	return time.Duration(backoff)
}
