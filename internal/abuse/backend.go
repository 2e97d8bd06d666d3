// Package abuse implements the per-client gates in front of the conversion
// endpoint: fixed-window rate limits, an active-conversion cap, duplicate
// upload suppression and an optional human-verification challenge.
package abuse

import (
	"context"
	"time"
)

// Backend holds the counters behind the gates. Keys are opaque strings
// built by Guard.
type Backend interface {
	// Hit counts one request in key's fixed window and reports the count
	// so far and the time until the window resets.
	Hit(ctx context.Context, key string, window time.Duration) (count int, resetIn time.Duration, err error)
	// Remember records key for ttl and reports whether it was absent.
	Remember(ctx context.Context, key string, ttl time.Duration) (fresh bool, err error)
	// Acquire takes one of max slots for key.
	Acquire(ctx context.Context, key string, max int) (bool, error)
	Release(ctx context.Context, key string) error
	// Sweep drops entries that expired before now.
	Sweep(ctx context.Context, now time.Time) error
}
