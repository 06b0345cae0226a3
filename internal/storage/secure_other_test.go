//go:build !windows

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"licensor/internal/config"
)

func TestKeyringBackendUsesKeyring(t *testing.T) {
	keyring.MockInit()
	fallback := filepath.Join(t.TempDir(), "activation.bin")
	b := NewSecureBackend("keyring", "ActivationRecord", fallback)
	ctx := context.Background()

	_, _, err := b.Read(ctx)
	assert.ErrorIs(t, err, ErrNotExist)

	before := time.Now()
	require.NoError(t, b.Write(ctx, []byte{0x00, 0xff, 'x'}))
	assert.NoFileExists(t, fallback)

	_, err = keyring.Get(config.KeyringService, "ActivationRecord")
	require.NoError(t, err)

	data, modTime, err := b.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff, 'x'}, data)
	assert.False(t, modTime.Before(before.Truncate(time.Second)))

	require.NoError(t, b.Remove(ctx))
	_, _, err = b.Read(ctx)
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestKeyringBackendEntriesAreSeparate(t *testing.T) {
	keyring.MockInit()
	dir := t.TempDir()
	record := NewSecureBackend("keyring", config.RegistryValueName, filepath.Join(dir, "a"))
	ledger := NewSecureBackend("keyring_ledger", config.GraceLedgerValueName, filepath.Join(dir, "b"))
	ctx := context.Background()

	require.NoError(t, record.Write(ctx, []byte("record")))
	require.NoError(t, ledger.Write(ctx, []byte("ledger")))
	require.NoError(t, record.Remove(ctx))

	data, _, err := ledger.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("ledger"), data)
}

func TestKeyringBackendFallsBackToFile(t *testing.T) {
	keyring.MockInitWithError(errors.New("no session bus"))
	t.Cleanup(keyring.MockInit)

	fallback := filepath.Join(t.TempDir(), "activation.bin")
	b := NewSecureBackend("keyring", "ActivationRecord", fallback)
	ctx := context.Background()

	require.NoError(t, b.Write(ctx, []byte("blob")))
	assert.FileExists(t, fallback)

	data, _, err := b.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), data)

	require.NoError(t, b.Remove(ctx))
	assert.NoFileExists(t, fallback)
}

func TestKeyringBackendMovesFallbackIntoKeyring(t *testing.T) {
	keyring.MockInitWithError(errors.New("no session bus"))
	fallback := filepath.Join(t.TempDir(), "activation.bin")
	b := NewSecureBackend("keyring", "ActivationRecord", fallback)
	ctx := context.Background()
	require.NoError(t, b.Write(ctx, []byte("old")))

	keyring.MockInit()
	require.NoError(t, b.Write(ctx, []byte("new")))
	assert.NoFileExists(t, fallback)

	data, _, err := b.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), data)
}

func TestDecodeKeyringItem(t *testing.T) {
	stamp := time.Unix(1700000000, 42)
	data, modTime, err := decodeKeyringItem(encodeKeyringItem([]byte("blob"), stamp))
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), data)
	assert.True(t, modTime.Equal(stamp))

	for _, item := range []string{"no-separator", "abc:YmxvYg==", "1:not base64!"} {
		_, _, err := decodeKeyringItem(item)
		assert.Error(t, err, item)
	}
}
