package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub for resolution events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Event channels published on the SignalBus.
const (
	ChannelMarkets = "oracle:markets"
	ChannelCycles  = "oracle:cycles"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// OutcomeCache keeps the latest outcome per market for fast status reads.
type OutcomeCache interface {
	SetLatest(ctx context.Context, outcome MarketOutcome) error
	GetLatest(ctx context.Context, marketID uint64) (MarketOutcome, error)
}
