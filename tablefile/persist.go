package tablefile

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
)

// Persist runs save up to attempts times, backing off between failures.
// It is meant for the final write of a long run, where losing hours of
// accumulated state to a transient I/O error is worse than waiting.
func Persist(ctx context.Context, attempts int, what string, save func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	logger := zerolog.Ctx(ctx)
	return retry.Do(
		save,
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			logger.Warn().Err(err).Str("table", what).Uint("n", n).Msg("save-failed-retrying")
			return retry.BackOffDelay(n, err, config)
		}),
	)
}
