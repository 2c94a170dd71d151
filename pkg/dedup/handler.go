package dedup

import (
	"context"

	"github.com/sakashimaa/order-saga/pkg/eventbus"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.uber.org/zap"
)

// Handler skips deliveries whose dedup key is already marked and marks the
// key once next has succeeded.
func Handler(store Store, logger *zap.Logger, next eventbus.Handler) eventbus.Handler {
	return func(ctx context.Context, d eventbus.Delivery) error {
		key := d.DedupKey()

		seen, err := store.Seen(ctx, key)
		if err != nil {
			return err
		}
		if seen {
			mylogger.Info(
				ctx,
				logger,
				"Duplicate event, skipping",
				zap.String("queue", d.Queue),
				zap.String("dedup_key", key),
				zap.String("message_id", d.MessageID),
			)

			return nil
		}

		if err := next(ctx, d); err != nil {
			return err
		}

		if err := store.Mark(ctx, key); err != nil {
			// The handler is idempotent, so a lost mark only costs a re-apply.
			mylogger.Warn(ctx, logger, "Failed to mark event as handled", zap.String("dedup_key", key), zap.Error(err))
		}
		return nil
	}
}
