package domain

import (
	"context"
	"io"
	"math/big"
	"time"
)

// Token models one of the two escrowed assets with ERC-20 style
// transfer/transferFrom semantics. Both operations are atomic external
// calls: they either fully succeed or have no effect, and report failure
// (insufficient balance or allowance) as an error.
type Token interface {
	// Transfer moves amount from the escrow's own custody to the given
	// address.
	Transfer(ctx context.Context, to string, amount *big.Int) error
	// TransferFrom moves amount from the given address into custody. The
	// depositor must have approved the escrow beforehand.
	TransferFrom(ctx context.Context, from, to string, amount *big.Int) error
	BalanceOf(ctx context.Context, owner string) (*big.Int, error)
}

// PriceFeed is the upstream oracle capability: a raw price and its decimal
// precision at query time. Implementations must not cache; every call
// re-queries live.
type PriceFeed interface {
	LatestPrice(ctx context.Context) (price *big.Int, decimals uint8, err error)
}

// Clock abstracts the time source so settlement-window logic is testable
// without waiting real time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking for deployments running more
// than one instance against the same bet store.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for lifecycle events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// BlobWriter uploads opaque objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
