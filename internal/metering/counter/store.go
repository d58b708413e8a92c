// Package counter provides the ephemeral key/value backend used for request
// counters and abuse markers. Exactly one provider (local or redis) is chosen
// at startup; the remote provider should always be wrapped by the Breaker so
// an outage degrades to "skip metering" instead of failing requests.
package counter

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the backend cannot be reached or the
// circuit is open. Callers must treat it as "skip metering for this call",
// never as an error to surface.
var ErrUnavailable = errors.New("counter store unavailable")

// Store is the atomic counter contract. Incr must be a single-round-trip
// atomic increment; without that guarantee usage undercounts under load.
type Store interface {
	// Incr atomically increments key and returns the new value. The TTL is
	// applied only on the absent->1 transition; later increments never
	// refresh it.
	Incr(ctx context.Context, key string, ttlOnFirstWrite time.Duration) (int64, error)

	// Get returns the current value and whether the key exists.
	Get(ctx context.Context, key string) (int64, bool, error)

	// Del removes the key, returning how many keys were removed (0 or 1).
	Del(ctx context.Context, key string) (int64, error)

	// Expire sets a fresh TTL, reporting whether the key existed.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// SetNX writes value only if key is absent, with the given TTL.
	// This is the atomic dedup gate used by the abuse guard; the value is
	// readable back through Get.
	SetNX(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error)

	// Enabled reports whether calls are worth attempting right now.
	Enabled() bool

	Close() error
}
