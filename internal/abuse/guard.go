package abuse

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"math"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	Count      int
	Limit      int
	RetryAfter time.Duration
}

// RetryAfterSeconds is the Retry-After header value: whole seconds,
// rounded up, never less than one.
func (d Decision) RetryAfterSeconds() int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

type GuardConfig struct {
	MaxActiveConversions  int
	DuplicateUploadWindow time.Duration
}

// Guard applies the abuse gates against a Backend. Backend errors fail open:
// an unreachable counter store must not take the service down with it.
type Guard struct {
	backend Backend
	cfg     GuardConfig
	now     func() time.Time
	logger  *zap.Logger
}

func NewGuard(backend Backend, cfg GuardConfig, logger *zap.Logger) *Guard {
	return &Guard{backend: backend, cfg: cfg, now: time.Now, logger: logger}
}

// Allow counts one request from ip against bucket's fixed window.
func (g *Guard) Allow(ctx context.Context, bucket, ip string, limit int, window time.Duration) Decision {
	count, resetIn, err := g.backend.Hit(ctx, bucket+":"+ip, window)
	if err != nil {
		g.logger.Error("rate limit backend failed", zap.String("bucket", bucket), zap.Error(err))
		return Decision{Allowed: true, Limit: limit}
	}
	if resetIn > window {
		resetIn = window
	}
	return Decision{
		Allowed:    count <= limit,
		Count:      count,
		Limit:      limit,
		RetryAfter: resetIn,
	}
}

// Acquire takes an active-conversion slot for ip. The returned release must
// be called exactly once when ok is true.
func (g *Guard) Acquire(ctx context.Context, ip string) (release func(), ok bool) {
	acquired, err := g.backend.Acquire(ctx, ip, g.cfg.MaxActiveConversions)
	if err != nil {
		g.logger.Error("active conversion backend failed", zap.Error(err))
		return func() {}, true
	}
	if !acquired {
		return nil, false
	}
	return func() {
		if err := g.backend.Release(context.WithoutCancel(ctx), ip); err != nil {
			g.logger.Error("failed to release active conversion", zap.Error(err))
		}
	}, true
}

// MaxActive is the per-client active-conversion cap.
func (g *Guard) MaxActive() int {
	return g.cfg.MaxActiveConversions
}

// DuplicateWindow is how long an identical upload is suppressed.
func (g *Guard) DuplicateWindow() time.Duration {
	return g.cfg.DuplicateUploadWindow
}

// CheckDuplicate reports whether ip uploaded the same content within the
// duplicate window. A fresh fingerprint is remembered as a side effect.
func (g *Guard) CheckDuplicate(ctx context.Context, ip, fingerprint string) bool {
	fresh, err := g.backend.Remember(ctx, ip+":"+fingerprint, g.cfg.DuplicateUploadWindow)
	if err != nil {
		g.logger.Error("fingerprint backend failed", zap.Error(err))
		return false
	}
	return !fresh
}

// Sweep prunes expired buckets and fingerprints.
func (g *Guard) Sweep(ctx context.Context) error {
	return g.backend.Sweep(ctx, g.now())
}

// Fingerprint returns the hex sha256 of the file at path.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "open upload")
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrap(err, "hash upload")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
