package retry

import (
	"context"
	stderrors "errors"
	"math"
	"time"

	"github.com/crypto-dashboard/internal/errors"
	"github.com/crypto-dashboard/internal/logging"
)

// Config configures retry behavior
type Config struct {
	MaxAttempts  int           // Total attempts including the first call
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Multiplier for exponential backoff
}

// DefaultConfig returns the backoff used for quote requests.
// Pattern: 500ms, 1s, capped at 5s
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// Result contains information about the retry operation
type Result struct {
	Attempts      int           `json:"attempts"`
	TotalDuration time.Duration `json:"totalDuration"`
	LastError     error         `json:"-"`
}

// Func is a function that can be retried
type Func func(ctx context.Context, attempt int) error

// Do calls fn until it succeeds, fails with a non-retryable error, runs out
// of attempts or ctx ends. The returned error is the last one fn produced,
// or the context error when ctx ended during backoff.
func Do(ctx context.Context, cfg Config, fn Func) (Result, error) {
	logger := logging.FromContext(ctx)
	start := time.Now()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var result Result
	for attempt := 1; ; attempt++ {
		result.Attempts = attempt

		err := fn(ctx, attempt)
		result.LastError = err
		result.TotalDuration = time.Since(start)
		if err == nil {
			if attempt > 1 {
				logger.WithFields(map[string]interface{}{
					"attempts":      attempt,
					"totalDuration": result.TotalDuration,
				}).Info("Operation succeeded after retry")
			}
			return result, nil
		}

		if !Retryable(err) || ctx.Err() != nil {
			return result, err
		}
		if attempt >= cfg.MaxAttempts {
			logger.WithError(err).WithField("attempts", attempt).Warn("Operation failed after max retry attempts")
			return result, err
		}

		delay := calculateDelay(cfg, attempt)
		logger.WithError(err).WithFields(map[string]interface{}{
			"attempt":     attempt,
			"maxAttempts": cfg.MaxAttempts,
			"delay":       delay,
		}).Debug("Operation failed, retrying with exponential backoff")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result, ctx.Err()
		}
	}
}

// Retryable reports whether err may succeed on a later attempt. Caller
// mistakes, permanent upstream conditions and cancellation never do.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.IsInvalidInput(err) || errors.IsPermanent(err) {
		return false
	}
	return !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, context.DeadlineExceeded)
}

// calculateDelay returns initialDelay * multiplier^(attempt-1), capped at MaxDelay
func calculateDelay(cfg Config, attempt int) time.Duration {
	multiplier := cfg.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}
