package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docspark/api/internal/store"
	"github.com/docspark/api/internal/store/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "docspark.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return newTestStore(t)
	})
}

func TestReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docspark.db")
	ctx := context.Background()

	s, err := New(path)
	require.NoError(t, err)
	job := storetest.NewJob(time.Now(), 30*time.Minute)
	require.NoError(t, s.Create(ctx, job))
	require.NoError(t, s.Close())

	// migrations must be idempotent across restarts
	s, err = New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.OriginalName, got.OriginalName)
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}

func TestMigrationVersion(t *testing.T) {
	assert.Equal(t, 1, migrationVersion("001_init.sql"))
	assert.Equal(t, 12, migrationVersion("12"))
	assert.Equal(t, 0, migrationVersion("init.sql"))
}
