package eventbus

import "context"

// HandleAs adapts a typed event handler. A payload that does not decode into
// T is dead-lettered.
func HandleAs[T any](fn func(ctx context.Context, event T) error) Handler {
	return func(ctx context.Context, d Delivery) error {
		var event T
		if err := d.Decode(&event); err != nil {
			return err
		}
		return fn(ctx, event)
	}
}
