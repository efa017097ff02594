package kv

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps any transport or auth failure talking to the store.
// Callers classify with errors.Is; the cause is preserved in the message.
var ErrUnavailable = errors.New("kv: store unavailable")

// Store is the contract the coordinator needs from the shared key-value
// store: plain reads, TTL'd overwrites, and one atomic create-only write.
type Store interface {
	// Get returns the value for key, with found=false when the key is
	// absent or has expired.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set unconditionally overwrites key, refreshing its TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetIfAbsent creates key only if it does not already exist, in a single
	// atomic round trip. It reports whether this call created the key.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (acquired bool, err error)
}
