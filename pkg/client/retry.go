package client

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/Sternrassler/crm-migrate/pkg/metrics"
	"github.com/rs/zerolog/log"
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	// Values <= 1 disable retries.
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the retry configuration used when retries are enabled.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Retrying wraps a Requester with exponential backoff for server, rate limit
// and network errors. Client errors are returned on the first attempt.
//
// A bulk-create that the destination applied before failing will be applied
// again on retry, so enable this only against idempotent endpoints.
type Retrying struct {
	next   Requester
	config RetryConfig
}

// WithRetry wraps next with the given retry policy. With MaxAttempts <= 1 it
// returns next unchanged.
func WithRetry(next Requester, cfg RetryConfig) Requester {
	if cfg.MaxAttempts <= 1 {
		return next
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 1
	}
	return &Retrying{next: next, config: cfg}
}

// Do implements Requester.
func (r *Retrying) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	var resp *Response
	err := retryWithBackoff(ctx, r.config, func() error {
		var err error
		resp, err = r.next.Do(ctx, method, path, body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// retryWithBackoff executes fn with exponential backoff retry logic.
// It respects context cancellation and adds jitter to prevent thundering herd.
func retryWithBackoff(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		errorClass := classOf(err)

		if !shouldRetry(errorClass) {
			return lastErr
		}

		if attempt >= config.MaxAttempts {
			break
		}

		metrics.RetriesTotal.WithLabelValues(string(errorClass)).Inc()

		// ±20% jitter
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))

		log.Warn().
			Err(err).
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(jitter):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	log.Warn().
		Int("max_attempts", config.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, config.MaxAttempts, lastErr)
}
