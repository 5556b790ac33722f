// Package invalidate notifies interested caches and UI subscriptions
// that an entity changed. Publishing is fire-and-forget: the core never
// waits on it and never fails a write because of it.
package invalidate

import "context"

type Invalidator interface {
	Invalidate(ctx context.Context, entity, id string)
}

// Noop is used when no NATS URL is configured (local dev, tests).
type Noop struct{}

func (Noop) Invalidate(context.Context, string, string) {}
