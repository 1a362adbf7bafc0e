package gameerr

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// RetryPolicy bounds how a retryable failure is recovered.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Exponential bool
}

// DefaultRetryPolicy is the policy used for transient transport and storage
// failures.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       200 * time.Millisecond,
		Exponential: true,
	}
}

// Retry runs fn until it succeeds, the error is not retryable, or the attempt
// budget is exhausted. GAME_STATE and PERMISSION rejections return on the
// first attempt since retrying a business-rule rejection cannot succeed.
func Retry(ctx context.Context, clock clockwork.Clock, policy RetryPolicy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := policy.Delay
			if policy.Exponential {
				delay = policy.Delay << (attempt - 1)
			}
			select {
			case <-ctx.Done():
				return Classify(ctx.Err())
			case <-clock.After(delay):
			}
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				log.Info().Int("attempt", attempt+1).Msg("retry succeeded")
			}
			return nil
		}

		classified := Classify(err)
		if !classified.Retryable {
			return classified
		}
		lastErr = classified
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", policy.MaxAttempts).
			Str("category", string(classified.Category)).
			Msg("retryable failure")
	}
	return Classify(lastErr)
}
