package abuse

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type brokenBackend struct{}

func (brokenBackend) Hit(context.Context, string, time.Duration) (int, time.Duration, error) {
	return 0, 0, errors.New("connection refused")
}

func (brokenBackend) Remember(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func (brokenBackend) Acquire(context.Context, string, int) (bool, error) {
	return false, errors.New("connection refused")
}

func (brokenBackend) Release(context.Context, string) error { return nil }

func (brokenBackend) Sweep(context.Context, time.Time) error { return nil }

func newTestGuard(clock *fakeClock) *Guard {
	return NewGuard(NewMemoryBackendWithClock(clock.Now), GuardConfig{
		MaxActiveConversions:  2,
		DuplicateUploadWindow: 2 * time.Minute,
	}, zap.NewNop())
}

func TestGuardRejectsRequestOverLimit(t *testing.T) {
	clock := newFakeClock()
	g := newTestGuard(clock)
	ctx := context.Background()
	window := 10 * time.Minute

	for i := 1; i <= 8; i++ {
		d := g.Allow(ctx, "convert", "1.2.3.4", 8, window)
		require.True(t, d.Allowed, "request %d", i)
	}

	clock.Advance(90 * time.Second)
	d := g.Allow(ctx, "convert", "1.2.3.4", 8, window)
	assert.False(t, d.Allowed)
	assert.Equal(t, 9, d.Count)
	assert.Equal(t, 510, d.RetryAfterSeconds())
	assert.LessOrEqual(t, d.RetryAfter, window)

	// a different bucket is untouched
	assert.True(t, g.Allow(ctx, "read", "1.2.3.4", 120, time.Minute).Allowed)

	clock.Advance(window)
	assert.True(t, g.Allow(ctx, "convert", "1.2.3.4", 8, window).Allowed)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, Decision{RetryAfter: 0}.RetryAfterSeconds())
	assert.Equal(t, 1, Decision{RetryAfter: 200 * time.Millisecond}.RetryAfterSeconds())
	assert.Equal(t, 2, Decision{RetryAfter: 1001 * time.Millisecond}.RetryAfterSeconds())
	assert.Equal(t, 60, Decision{RetryAfter: time.Minute}.RetryAfterSeconds())
}

func TestGuardActiveCap(t *testing.T) {
	g := newTestGuard(newFakeClock())
	ctx := context.Background()

	release1, ok := g.Acquire(ctx, "ip")
	require.True(t, ok)
	release2, ok := g.Acquire(ctx, "ip")
	require.True(t, ok)

	_, ok = g.Acquire(ctx, "ip")
	assert.False(t, ok)

	_, ok = g.Acquire(ctx, "other-ip")
	assert.True(t, ok)

	release1()
	release3, ok := g.Acquire(ctx, "ip")
	assert.True(t, ok)
	release2()
	release3()
}

func TestGuardDuplicateWindow(t *testing.T) {
	clock := newFakeClock()
	g := newTestGuard(clock)
	ctx := context.Background()

	assert.False(t, g.CheckDuplicate(ctx, "ip", "abc"))
	clock.Advance(time.Minute)
	assert.True(t, g.CheckDuplicate(ctx, "ip", "abc"))
	assert.False(t, g.CheckDuplicate(ctx, "other-ip", "abc"))

	clock.Advance(90 * time.Second)
	assert.False(t, g.CheckDuplicate(ctx, "ip", "abc"))
}

func TestGuardFailsOpen(t *testing.T) {
	g := NewGuard(brokenBackend{}, GuardConfig{MaxActiveConversions: 1, DuplicateUploadWindow: time.Minute}, zap.NewNop())
	ctx := context.Background()

	assert.True(t, g.Allow(ctx, "convert", "ip", 1, time.Minute).Allowed)
	release, ok := g.Acquire(ctx, "ip")
	assert.True(t, ok)
	release()
	assert.False(t, g.CheckDuplicate(ctx, "ip", "abc"))
}

func TestFingerprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	sum, err := Fingerprint(path)
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sum)

	_, err = Fingerprint(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
