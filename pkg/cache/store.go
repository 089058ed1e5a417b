package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStoreUnavailable indicates the key/value store failed or timed out.
	ErrStoreUnavailable = errors.New("cache store unavailable")

	// ErrInvalidEntry indicates a stored slot could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store is the shared key/value capability the coordinator runs on.
// It is the sole authority for slot state; implementations must be safe
// for concurrent use and expire entries on their own.
type Store interface {
	// Get returns the stored value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set unconditionally overwrites key with value, expiring after ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetIfAbsent atomically stores value only if key is absent.
	// Returns true if this call stored the value.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes key. Idempotent.
	Delete(ctx context.Context, key string) error
}
