package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPathsLayout(t *testing.T) {
	root := t.TempDir()
	exeDir := filepath.Join(root, "bin")
	configDir := filepath.Join(root, "config")
	homeDir := filepath.Join(root, "home")

	p := NewPaths(exeDir, configDir, homeDir)

	vendorDir := filepath.Join(configDir, VendorDirName, ProductDirName)
	assert.Equal(t, vendorDir, p.VendorDir)
	assert.Equal(t, filepath.Join(vendorDir, LicenseFileName), p.LicenseFile)
	assert.Equal(t, filepath.Join(vendorDir, TelemetryDBFileName), p.TelemetryDB)
	assert.Equal(t, filepath.Join(exeDir, "data", LicenseDBFileName), p.LegacyDB)
	assert.Equal(t, "activation.bin", filepath.Base(p.SecureStoreFile))
}

func TestCandidateOrder(t *testing.T) {
	p := NewPaths("/opt/app", "/cfg", "/home/u")

	files := p.LicenseFileCandidates()
	require.Len(t, files, 2)
	assert.Equal(t, p.LicenseFile, files[0], "vendor directory comes first")
	assert.Equal(t, p.MirrorFile, files[1])

	dbs := p.DatabaseCandidates()
	require.Len(t, dbs, 2)
	assert.Equal(t, p.LicenseDB, dbs[0])
	assert.Equal(t, p.LegacyDB, dbs[1])
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	p := NewPaths(root, filepath.Join(root, "cfg"), root)

	require.NoError(t, p.EnsureDirectories())

	for _, dir := range []string{p.VendorDir, p.DataDir, p.LogsDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "present")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600))

	assert.True(t, FileExists(file))
	assert.False(t, FileExists(filepath.Join(dir, "absent")))
}

func TestEmbeddedPublicKey(t *testing.T) {
	pem := VendorPublicKeyPEM()
	assert.Contains(t, string(pem), "BEGIN PUBLIC KEY")

	// callers get a copy
	pem[0] = 'X'
	assert.Contains(t, string(VendorPublicKeyPEM()), "-----BEGIN")
}
