package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensor/internal/config"
)

func TestSQLiteBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "app.db")
	b := NewSQLiteBackend(path)
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()

	_, _, err := b.Read(ctx)
	assert.ErrorIs(t, err, ErrNotExist)

	require.NoError(t, b.Write(ctx, []byte("one")))
	require.NoError(t, b.Write(ctx, []byte("two")))

	data, modTime, err := b.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)
	assert.False(t, modTime.IsZero())

	require.NoError(t, b.Remove(ctx))
	_, _, err = b.Read(ctx)
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestSQLiteBackendSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	ctx := context.Background()

	first := NewSQLiteBackend(path)
	require.NoError(t, first.Write(ctx, []byte("persisted")))
	require.NoError(t, first.Close())

	second := NewSQLiteBackend(path)
	t.Cleanup(func() { _ = second.Close() })
	data, _, err := second.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), data)
}

func TestResolveDatabasePath(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "primary.db")
	legacy := filepath.Join(dir, "legacy.db")

	assert.Equal(t, primary, ResolveDatabasePath([]string{primary, legacy}))

	require.NoError(t, os.WriteFile(legacy, nil, 0600))
	assert.Equal(t, legacy, ResolveDatabasePath([]string{primary, legacy}))

	assert.Empty(t, ResolveDatabasePath(nil))
}

func TestBackendsFromConfig(t *testing.T) {
	paths := config.NewPaths(t.TempDir(), t.TempDir(), t.TempDir())
	cfg := config.StorageConfig{
		FilePaths:     paths.LicenseFileCandidates(),
		DatabasePaths: paths.DatabaseCandidates(),
		SecureStore:   true,
	}

	backends := BackendsFromConfig(cfg, paths)
	require.Len(t, backends, 4)
	assert.Equal(t, "file", backends[0].Name())
	assert.Equal(t, "file_2", backends[1].Name())
	assert.Equal(t, "database", backends[3].Name())

	cfg.DisableDatabase = true
	cfg.SecureStore = false
	assert.Len(t, BackendsFromConfig(cfg, paths), 2)
}

func TestSQLiteBackendPathWithURICharacters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "odd?name#1%20", "app.db")
	b := NewSQLiteBackend(path)
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()

	require.NoError(t, b.Write(ctx, []byte("blob")))
	assert.FileExists(t, path)

	data, _, err := b.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), data)
}

func TestSQLiteDSN(t *testing.T) {
	dsn := sqliteDSN("/var/lib/a?b#c%d/app.db")
	assert.Equal(t, "file:/var/lib/a%3Fb%23c%25d/app.db?_pragma=busy_timeout%285000%29&_pragma=journal_mode%28WAL%29", dsn)
}

func TestSQLiteSlotsAreIndependent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	record := NewSQLiteBackend(path)
	ledger := NewSQLiteSlotBackend("database_ledger", path, ledgerSlot)
	t.Cleanup(func() {
		_ = record.Close()
		_ = ledger.Close()
	})
	ctx := context.Background()

	require.NoError(t, record.Write(ctx, []byte("record")))
	require.NoError(t, ledger.Write(ctx, []byte("ledger")))
	require.NoError(t, record.Remove(ctx))

	_, _, err := record.Read(ctx)
	assert.ErrorIs(t, err, ErrNotExist)
	data, _, err := ledger.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("ledger"), data)
	assert.Equal(t, "database_ledger", ledger.Name())
}

func TestLedgerBackendsFromConfig(t *testing.T) {
	paths := config.NewPaths(t.TempDir(), t.TempDir(), t.TempDir())
	cfg := config.StorageConfig{
		FilePaths:     paths.LicenseFileCandidates(),
		DatabasePaths: paths.DatabaseCandidates(),
		SecureStore:   true,
	}

	backends := LedgerBackendsFromConfig(cfg, paths)
	require.Len(t, backends, 2)
	assert.Equal(t, secureStoreName+"_ledger", backends[0].Name())
	assert.Equal(t, "database_ledger", backends[1].Name())

	cfg.SecureStore = false
	cfg.DisableDatabase = true
	backends = LedgerBackendsFromConfig(cfg, paths)
	require.Len(t, backends, 1)
	fb, ok := backends[0].(*FileBackend)
	require.True(t, ok)
	assert.Equal(t, filepath.Dir(cfg.FilePaths[0]), filepath.Dir(fb.Path()))
	assert.NotContains(t, cfg.FilePaths, fb.Path())

	cfg.FilePaths = nil
	assert.Empty(t, LedgerBackendsFromConfig(cfg, paths))
}
