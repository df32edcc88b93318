package dispatcher

import (
	"context"
	"sync"

	"github.com/liamcoop/retention/events"
)

type bundleKey struct{}

type bundleCollector struct {
	mu    sync.Mutex
	notes events.Bundle
}

// WithBundle scopes a unit of work: notifications passed to Collect with the
// returned context, or a context derived from it, are gathered into one
// bundle. take returns the bundle and resets it.
func WithBundle(ctx context.Context) (_ context.Context, take func() events.Bundle) {
	c := &bundleCollector{}
	return context.WithValue(ctx, bundleKey{}, c), func() events.Bundle {
		c.mu.Lock()
		defer c.mu.Unlock()
		out := c.notes
		c.notes = nil
		return out
	}
}

// Collect appends n to the bundle scoped by ctx. Notifications produced
// outside any scope are dropped. It matches repository.Notifier.
func Collect(ctx context.Context, n events.Notification) {
	c, ok := ctx.Value(bundleKey{}).(*bundleCollector)
	if !ok {
		return
	}
	c.mu.Lock()
	c.notes = append(c.notes, n)
	c.mu.Unlock()
}
