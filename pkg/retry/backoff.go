// Package retry implements the exponential-backoff retry loop shared by the
// event bus publisher and the LLM gateway's provider calls (both configured
// via config.RetryConfig), grounded on the backoff-with-wall-clock-cap shape
// tarsy's queue worker uses for session claim retries.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/aibozo/codeurv2/pkg/config"
)

// ErrWallClockExceeded is returned when the overall retry budget (not just
// the attempt count) has been exhausted.
var ErrWallClockExceeded = errors.New("retry: wall-clock budget exceeded")

// Do runs fn, retrying on error with exponential backoff and full jitter
// until cfg.MaxAttempts is reached or cfg.WallClockCap elapses, whichever
// comes first. A nil error from fn stops the loop immediately.
func Do(ctx context.Context, cfg config.RetryConfig, fn func(ctx context.Context) error) error {
	deadline := time.Now().Add(cfg.WallClockCap)
	backoff := cfg.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if time.Now().After(deadline) {
			if lastErr != nil {
				return lastErr
			}
			return ErrWallClockExceeded
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		sleep := jitter(backoff)
		if remaining := time.Until(deadline); remaining < sleep {
			sleep = remaining
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
	return lastErr
}

// jitter applies full jitter (0..d) the way AWS's backoff guidance
// recommends, so a fleet of retrying workers doesn't thunder in lockstep.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}
