// Package capacity applies desired replica counts to the running fleet.
package capacity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"k8s.io/apimachinery/pkg/util/wait"
)

// Sink applies a desired capacity to the fleet. Apply must be idempotent.
type Sink interface {
	Apply(ctx context.Context, desired int) error
	Current(ctx context.Context) (int, error)
}

// FatalError marks a sink failure that retrying will not fix,
// such as a permission or not-found error.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as non-retryable. Unwrapped errors are treated as transient.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err, or anything it wraps, is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// RetryConfig bounds the backoff used for transient apply failures.
type RetryConfig struct {
	Attempts     int           `mapstructure:"attempts" validate:"gte=1"`
	InitialDelay time.Duration `mapstructure:"initialDelay" validate:"gte=0"`
	MaxDelay     time.Duration `mapstructure:"maxDelay" validate:"gte=0"`
}

// DefaultRetryConfig returns the production retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:     5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// RetryingSink retries transient Apply failures with exponential backoff.
type RetryingSink struct {
	Sink
	cfg RetryConfig
}

// WithRetry wraps sink so Apply is attempted up to cfg.Attempts times.
func WithRetry(sink Sink, cfg RetryConfig) *RetryingSink {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &RetryingSink{Sink: sink, cfg: cfg}
}

// Apply sends desired to the wrapped sink. Fatal errors are returned immediately.
func (r *RetryingSink) Apply(ctx context.Context, desired int) error {
	var err error
	backoff := r.backoff()
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		err = r.Sink.Apply(ctx, desired)
		if err == nil {
			if attempt > 1 {
				log.Info().Int("desired", desired).Int("attempts", attempt).Msg("Apply succeeded after retries")
			}
			return nil
		}
		if IsFatal(err) {
			return err
		}
		if attempt == r.cfg.Attempts {
			break
		}

		delay := backoff.Step()
		log.Warn().
			Err(err).
			Int("desired", desired).
			Int("attempt", attempt).
			Int("maxAttempts", r.cfg.Attempts).
			Dur("delay", delay).
			Msg("Transient apply failure. Retrying...")

		select {
		case <-ctx.Done():
			return fmt.Errorf("apply %d cancelled: %w", desired, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("apply %d failed after %d attempts: %w", desired, r.cfg.Attempts, err)
}

// backoff doubles from InitialDelay and holds at MaxDelay.
func (r *RetryingSink) backoff() wait.Backoff {
	return wait.Backoff{
		Duration: r.cfg.InitialDelay,
		Factor:   2.0,
		Steps:    r.cfg.Attempts,
		Cap:      r.cfg.MaxDelay,
	}
}
