// Package ratelimit caps the rate of outbound CRM API requests.
//
// Each API client owns its own Limiter, so the source and destination budgets
// are independent. The limiter only delays calls; it never drops or reorders
// them.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrInvalidRate is returned when a non-positive requests-per-second cap is configured.
var ErrInvalidRate = errors.New("requests per second must be positive")

// Limiter is a token bucket sized for a fixed number of requests per second.
type Limiter struct {
	limiter *rate.Limiter
	rps     int
	logger  zerolog.Logger
}

// NewLimiter creates a limiter allowing at most rps requests per second.
// The bucket holds a single token so bursts never exceed the cap.
func NewLimiter(rps int, logger zerolog.Logger) (*Limiter, error) {
	if rps <= 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidRate, rps)
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		rps:     rps,
		logger:  logger,
	}, nil
}

// Wait blocks until the next request may be dispatched and reports how long it waited.
func (l *Limiter) Wait(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return time.Since(start), fmt.Errorf("rate limiter wait: %w", err)
	}

	waited := time.Since(start)
	if waited > 0 {
		l.logger.Debug().
			Dur("waited", waited).
			Int("rps", l.rps).
			Msg("Request delayed by rate limiter")
	}
	return waited, nil
}

// RPS returns the configured requests-per-second cap.
func (l *Limiter) RPS() int {
	return l.rps
}
