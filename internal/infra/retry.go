package infra

import (
	"context"
	"log/slog"
	"time"
)

const pingAttempts = 5

var pingBackoff = 2 * time.Second

// pingWithRetry gives a store that is still starting a few chances to answer
// before startup fails.
func pingWithRetry(ctx context.Context, logger *slog.Logger, store string, ping func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= pingAttempts; attempt++ {
		if err = ping(ctx); err == nil {
			logger.Info("connected", slog.String("store", store))
			return nil
		}
		if attempt == pingAttempts {
			break
		}
		logger.Warn("store not reachable, retrying",
			slog.String("store", store),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", pingBackoff),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pingBackoff):
		}
	}
	return err
}
