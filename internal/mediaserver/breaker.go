package mediaserver

import (
	"context"
	"time"

	"github.com/sybethiesant/flexerr/internal/circuitbreaker"
	"github.com/sybethiesant/flexerr/internal/errors"
)

// breakerAdapter guards a backend with a circuit breaker so a failing media
// server trips fast instead of stalling every evaluation pass on timeouts
type breakerAdapter struct {
	inner   Adapter
	breaker *circuitbreaker.CircuitBreaker
}

// WithBreaker wraps an adapter with a circuit breaker
func WithBreaker(inner Adapter, cfg circuitbreaker.Config) Adapter {
	if cfg.MaxFailures == 0 {
		cfg = circuitbreaker.DefaultConfig()
	}
	// Not-found is an answer, not an outage
	cfg.IsSuccessful = func(err error) bool {
		return err == nil || errors.IsNotFound(err)
	}
	return &breakerAdapter{
		inner:   inner,
		breaker: circuitbreaker.New(cfg),
	}
}

func (b *breakerAdapter) Libraries(ctx context.Context) ([]Library, error) {
	var libs []Library
	err := b.breaker.Execute(func() error {
		var err error
		libs, err = b.inner.Libraries(ctx)
		return err
	})
	return libs, err
}

func (b *breakerAdapter) LibraryItems(ctx context.Context, libraryID string) ([]Item, error) {
	var items []Item
	err := b.breaker.Execute(func() error {
		var err error
		items, err = b.inner.LibraryItems(ctx, libraryID)
		return err
	})
	return items, err
}

func (b *breakerAdapter) Item(ctx context.Context, key string) (*Item, error) {
	var item *Item
	err := b.breaker.Execute(func() error {
		var err error
		item, err = b.inner.Item(ctx, key)
		return err
	})
	return item, err
}

func (b *breakerAdapter) Children(ctx context.Context, key string) ([]Item, error) {
	var items []Item
	err := b.breaker.Execute(func() error {
		var err error
		items, err = b.inner.Children(ctx, key)
		return err
	})
	return items, err
}

func (b *breakerAdapter) WatchHistory(ctx context.Context, showKey string, since time.Time) ([]WatchEvent, error) {
	var events []WatchEvent
	err := b.breaker.Execute(func() error {
		var err error
		events, err = b.inner.WatchHistory(ctx, showKey, since)
		return err
	})
	return events, err
}

func (b *breakerAdapter) DeleteItem(ctx context.Context, key string) error {
	return b.breaker.Execute(func() error {
		return b.inner.DeleteItem(ctx, key)
	})
}

func (b *breakerAdapter) OnWatchlist(ctx context.Context, item *Item) (bool, error) {
	var onList bool
	err := b.breaker.Execute(func() error {
		var err error
		onList, err = b.inner.OnWatchlist(ctx, item)
		return err
	})
	return onList, err
}

func (b *breakerAdapter) AddLabel(ctx context.Context, key, label string) error {
	return b.breaker.Execute(func() error {
		return b.inner.AddLabel(ctx, key, label)
	})
}
