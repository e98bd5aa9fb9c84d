package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest observed market price per
// item. The ws feed keeps it warm; controllers read it as a fallback when
// the aggregated-price endpoint is unavailable.
type PriceCache interface {
	SetPrice(ctx context.Context, game Game, title string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, game Game, title string) (float64, time.Time, error)
}

// RateLimiter provides distributed rate limiting for marketplace calls.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides per-order-id locking so checks on one order are
// never interleaved across processes (single-writer-per-id discipline).
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus publishes target lifecycle events (created, overbid, relist,
// breach) for interested consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
