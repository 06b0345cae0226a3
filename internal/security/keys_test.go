package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensor/internal/config"
)

// fastScrypt keeps passphrase tests quick
var fastScrypt = ScryptParams{N: 1024, R: 8, P: 1, KeyLen: 32}

func TestPublicKeyPEMRoundTrip(t *testing.T) {
	kp := testKeyPair(t)

	pemBytes, err := EncodePublicKeyPEM(kp.PublicKey)
	require.NoError(t, err)

	pub, err := ParsePublicKeyPEM(pemBytes)
	require.NoError(t, err)
	assert.True(t, pub.Equal(kp.PublicKey))

	_, err = ParsePublicKeyPEM([]byte("not pem"))
	assert.Error(t, err)
}

func TestEmbeddedVendorKeyParses(t *testing.T) {
	pub, err := ParsePublicKeyPEM(config.VendorPublicKeyPEM())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pub.N.BitLen(), MinRSAKeyBits)
}

func TestEncryptedPrivateKey(t *testing.T) {
	kp := testKeyPair(t)
	pass := []byte("correct horse")

	pemBytes, err := EncodePrivateKeyPEM(kp.PrivateKey, pass, fastScrypt)
	require.NoError(t, err)
	assert.Contains(t, string(pemBytes), pemTypeEncryptedPrivateKey)

	priv, err := ParsePrivateKeyPEM(pemBytes, pass)
	require.NoError(t, err)
	assert.True(t, priv.Equal(kp.PrivateKey))

	_, err = ParsePrivateKeyPEM(pemBytes, nil)
	assert.ErrorIs(t, err, ErrPassphraseRequired)

	_, err = ParsePrivateKeyPEM(pemBytes, []byte("wrong"))
	assert.Error(t, err)
}

func TestWriteKeyPairRefusesOverwrite(t *testing.T) {
	kp := testKeyPair(t)
	dir := t.TempDir()

	privPath, pubPath, err := WriteKeyPair(dir, kp, nil, false)
	require.NoError(t, err)

	info, err := os.Stat(privPath)
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(config.PrivateKeyPermissions), info.Mode().Perm())
	}

	original, err := os.ReadFile(privPath)
	require.NoError(t, err)

	_, _, err = WriteKeyPair(dir, kp, nil, false)
	assert.ErrorIs(t, err, ErrKeyExists)

	after, err := os.ReadFile(privPath)
	require.NoError(t, err)
	assert.Equal(t, original, after, "existing key untouched")

	_, _, err = WriteKeyPair(dir, kp, nil, true)
	assert.NoError(t, err)

	loaded, err := LoadPrivateKey(privPath, nil)
	require.NoError(t, err)
	assert.True(t, loaded.PublicKey.Equal(kp.PublicKey))

	pub, err := LoadPublicKey(pubPath)
	require.NoError(t, err)
	assert.True(t, pub.Equal(kp.PublicKey))
	assert.Equal(t, filepath.Join(dir, config.PublicKeyFileName), pubPath)
}
