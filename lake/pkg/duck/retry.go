package duck

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	maxRetries        = 8
	initialRetryDelay = 50 * time.Millisecond
	maxRetryDelay     = 5 * time.Second
)

// isTransactionConflictError reports whether err is a DuckDB/DuckLake commit conflict that is
// safe to retry.
func isTransactionConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Transaction conflict") ||
		strings.Contains(msg, "Failed to commit DuckLake transaction") ||
		strings.Contains(msg, "but another transaction has compacted it")
}

// RetryOnConflict runs fn until it succeeds, returns an error that is not a transaction
// conflict, or runs out of attempts.
func RetryOnConflict(ctx context.Context, log *slog.Logger, operation string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialRetryDelay
	bo.MaxInterval = maxRetryDelay

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := fn()
		if err != nil && !isTransactionConflictError(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(maxRetries),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Warn("duck: transaction conflict, retrying", "operation", operation, "attempt", attempts, "max_attempts", maxRetries, "delay", d, "error", err)
		}),
	)
	if err == nil && attempts > 1 {
		log.Info("duck: operation succeeded after retries", "operation", operation, "attempts", attempts)
	}
	return err
}
