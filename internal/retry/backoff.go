// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// Func is an operation that may be retried.
type Func func(ctx context.Context) error

// Config holds retry configuration.
type Config struct {
	MaxRetries int           // attempts after the first
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
	Retryable  func(error) bool // nil retries every error
}

// DefaultConfig returns a short backoff suited to request paths.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  50 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Retrier executes functions with exponential backoff.
type Retrier struct {
	config  Config
	log     logrus.FieldLogger
	onRetry func()
}

// New creates a Retrier. onRetry, if set, runs before each retry.
func New(config Config, log logrus.FieldLogger, onRetry func()) *Retrier {
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	return &Retrier{config: config, log: log, onRetry: onRetry}
}

// Execute runs fn until it succeeds, fails with a non-retryable error, the
// context ends or MaxRetries is exhausted.
func (r *Retrier) Execute(ctx context.Context, fn Func) error {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				r.log.WithField("attempts", attempt+1).Info("operation succeeded after retries")
			}
			return nil
		}
		lastErr = err

		if r.config.Retryable != nil && !r.config.Retryable(err) {
			return err
		}
		if attempt == r.config.MaxRetries {
			break
		}

		delay := r.delay(attempt)
		r.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay.String(),
		}).Debug("operation failed, retrying")
		if r.onRetry != nil {
			r.onRetry()
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	r.log.WithError(lastErr).WithField("attempts", r.config.MaxRetries+1).Warn("operation failed after all retries")
	return fmt.Errorf("retry limit exceeded after %d attempts: %w", r.config.MaxRetries+1, lastErr)
}

func (r *Retrier) delay(attempt int) time.Duration {
	d := float64(r.config.BaseDelay) * math.Pow(r.config.Multiplier, float64(attempt))
	if r.config.MaxDelay > 0 && d > float64(r.config.MaxDelay) {
		d = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		// up to 10% extra
		d += d * 0.1 * rand.Float64()
	}
	return time.Duration(d)
}
