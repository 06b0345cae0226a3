package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensor/internal/config"
	licerrors "licensor/internal/errors"
	"licensor/internal/license"
	"licensor/internal/security"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func run(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(args, strings.NewReader(stdin), &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// keyDir generates a 2048-bit key pair into a temp dir
func keyDir(t *testing.T, extra ...string) string {
	t.Helper()
	dir := t.TempDir()
	args := append([]string{"generate-keys", "--out-dir", dir, "--bits", "2048"}, extra...)
	res := run(t, "", args...)
	require.Equal(t, 0, res.code, res.stderr)
	return dir
}

func TestGenerateKeys(t *testing.T) {
	dir := keyDir(t)
	privPath := filepath.Join(dir, config.PrivateKeyFileName)
	pubPath := filepath.Join(dir, config.PublicKeyFileName)

	require.FileExists(t, privPath)
	require.FileExists(t, pubPath)
	info, err := os.Stat(privPath)
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	original, err := os.ReadFile(privPath)
	require.NoError(t, err)

	t.Run("declined overwrite keeps the key", func(t *testing.T) {
		res := run(t, "n\n", "generate-keys", "--out-dir", dir, "--bits", "2048")
		assert.Equal(t, licerrors.CategoryInvalidArguments.ExitCode(), res.code)
		assert.Contains(t, res.stdout, "Overwrite?")
		assert.Contains(t, res.stderr, security.ErrKeyExists.Error())

		current, err := os.ReadFile(privPath)
		require.NoError(t, err)
		assert.Equal(t, original, current)
	})

	t.Run("confirmed overwrite replaces the key", func(t *testing.T) {
		res := run(t, "y\n", "generate-keys", "--out-dir", dir, "--bits", "2048")
		require.Equal(t, 0, res.code, res.stderr)

		current, err := os.ReadFile(privPath)
		require.NoError(t, err)
		assert.NotEqual(t, original, current)
	})

	t.Run("force skips the prompt", func(t *testing.T) {
		res := run(t, "", "generate-keys", "--out-dir", dir, "--bits", "2048", "--force")
		require.Equal(t, 0, res.code, res.stderr)
		assert.NotContains(t, res.stdout, "Overwrite?")
	})

	t.Run("weak key size is refused", func(t *testing.T) {
		res := run(t, "", "generate-keys", "--out-dir", t.TempDir(), "--bits", "1024")
		assert.Equal(t, licerrors.CategoryInvalidArguments.ExitCode(), res.code)
		assert.Contains(t, res.stderr, "[ERROR] InvalidArguments: ")
		assert.Contains(t, res.stderr, "1024")
	})
}

func TestIssueLicense(t *testing.T) {
	dir := keyDir(t)
	keyPath := filepath.Join(dir, config.PrivateKeyFileName)
	pub, err := security.LoadPublicKey(filepath.Join(dir, config.PublicKeyFileName))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "cust.lic")
	res := run(t, "",
		"issue-license",
		"--machine-id", "M1",
		"--expires", "2030-01-01",
		"--features", "reports, payroll,reports",
		"--customer", "CUST-042",
		"--key", keyPath,
		"--out", out,
		"--yes",
	)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "CUST-042")
	assert.Contains(t, res.stdout, "License written to")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	sl, err := license.Decode(data)
	require.NoError(t, err)
	require.NoError(t, sl.Verify(pub))
	p, err := sl.Open("M1", config.PayloadSecretBytes())
	require.NoError(t, err)

	assert.Equal(t, []string{"payroll", "reports"}, p.Features)
	assert.Equal(t, "CUST-042", p.CustomerRef)
	require.NotNil(t, p.ExpiresAt)
	assert.Equal(t, time.Date(2030, 1, 1, 23, 59, 59, 0, time.UTC), *p.ExpiresAt)
}

func TestIssueLicenseFromTermsFile(t *testing.T) {
	dir := keyDir(t)
	terms := filepath.Join(t.TempDir(), "terms.yaml")
	require.NoError(t, os.WriteFile(terms, []byte(`
machine_id: M-from-file
expires: never
features: [reports]
customer: CUST-7
`), 0644))

	out := filepath.Join(t.TempDir(), "armored.lic")
	res := run(t, "y\n",
		"issue-license",
		"--terms", terms,
		"--machine-id", "M-from-flag",
		"--key", filepath.Join(dir, config.PrivateKeyFileName),
		"--armor",
		"--out", out,
	)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Is the license information correct?")
	assert.Contains(t, res.stdout, "Never (perpetual)")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("-----BEGIN LICENSE FILE-----")))

	sl, err := license.Decode(data)
	require.NoError(t, err)
	p, err := sl.Open("M-from-flag", config.PayloadSecretBytes())
	require.NoError(t, err)
	assert.Nil(t, p.ExpiresAt)
	assert.Equal(t, "CUST-7", p.CustomerRef)
}

func TestIssueLicenseRejectsBadInput(t *testing.T) {
	dir := keyDir(t)
	keyPath := filepath.Join(dir, config.PrivateKeyFileName)

	tests := []struct {
		name string
		args []string
	}{
		{"missing machine id", []string{"--expires", "2030-01-01"}},
		{"missing expiry", []string{"--machine-id", "M1"}},
		{"past expiry", []string{"--machine-id", "M1", "--expires", "2001-01-01"}},
		{"unknown terms key", []string{"--terms", writeTerms(t, "machine: M1\n")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "x.lic")
			args := append([]string{"issue-license", "--key", keyPath, "--out", out, "--yes"}, tt.args...)
			res := run(t, "", args...)
			assert.Equal(t, licerrors.CategoryInvalidArguments.ExitCode(), res.code)
			assert.NoFileExists(t, out)
		})
	}

	t.Run("declined confirmation", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "x.lic")
		res := run(t, "n\n", "issue-license", "--key", keyPath, "--out", out, "--machine-id", "M1", "--expires", "never")
		assert.Equal(t, licerrors.CategoryInvalidArguments.ExitCode(), res.code)
		assert.NoFileExists(t, out)
	})
}

func TestIssueLicenseWithEncryptedKey(t *testing.T) {
	passFile := filepath.Join(t.TempDir(), "pass.txt")
	require.NoError(t, os.WriteFile(passFile, []byte("correct horse battery\n"), 0600))
	dir := keyDir(t, "--passphrase-file", passFile)
	keyPath := filepath.Join(dir, config.PrivateKeyFileName)

	out := filepath.Join(t.TempDir(), "x.lic")
	res := run(t, "", "issue-license", "--key", keyPath, "--out", out, "--machine-id", "M1", "--expires", "never", "--yes")
	assert.Equal(t, licerrors.CategoryInvalidArguments.ExitCode(), res.code)
	assert.Contains(t, res.stderr, security.ErrPassphraseRequired.Error())

	res = run(t, "", "issue-license", "--key", keyPath, "--passphrase-file", passFile, "--out", out, "--machine-id", "M1", "--expires", "never", "--yes")
	require.Equal(t, 0, res.code, res.stderr)
	assert.FileExists(t, out)
}

func TestInspect(t *testing.T) {
	dir := keyDir(t)
	pubPath := filepath.Join(dir, config.PublicKeyFileName)
	out := filepath.Join(t.TempDir(), "cust.lic")
	res := run(t, "", "issue-license", "--machine-id", "M1", "--expires", "2030-06-30", "--features", "reports",
		"--key", filepath.Join(dir, config.PrivateKeyFileName), "--out", out, "--yes")
	require.Equal(t, 0, res.code, res.stderr)

	t.Run("verified and opened", func(t *testing.T) {
		res := run(t, "", "inspect", "--public-key", pubPath, "--machine-id", "M1", out)
		require.Equal(t, 0, res.code, res.stderr)
		assert.Contains(t, res.stdout, "signature_valid: true")
		assert.Contains(t, res.stdout, "machine_id: M1")
		assert.Contains(t, res.stdout, "features: [reports]")
	})

	t.Run("wrong machine", func(t *testing.T) {
		res := run(t, "", "inspect", "--public-key", pubPath, "--machine-id", "M2", out)
		assert.Equal(t, licerrors.CategoryHardwareMismatch.ExitCode(), res.code)
		assert.Contains(t, res.stderr, string(licerrors.CategoryHardwareMismatch))
	})

	t.Run("other vendor key", func(t *testing.T) {
		other := keyDir(t)
		res := run(t, "", "inspect", "--public-key", filepath.Join(other, config.PublicKeyFileName), out)
		assert.Equal(t, licerrors.CategorySignatureInvalid.ExitCode(), res.code)
		assert.Contains(t, res.stdout, "signature_valid: false")
	})

	t.Run("not a license", func(t *testing.T) {
		junk := filepath.Join(t.TempDir(), "junk.lic")
		require.NoError(t, os.WriteFile(junk, []byte("hello world, definitely not a license"), 0644))
		res := run(t, "", "inspect", "--public-key", pubPath, junk)
		assert.Equal(t, licerrors.CategoryPayloadCorrupted.ExitCode(), res.code)
	})
}

func TestParseExpiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		in      string
		want    *time.Time
		wantErr bool
	}{
		{in: "never"},
		{in: "NEVER"},
		{in: "2027-02-28", want: timePtr(time.Date(2027, 2, 28, 23, 59, 59, 0, time.UTC))},
		{in: "2027-02-28T10:00:00+03:00", want: timePtr(time.Date(2027, 2, 28, 7, 0, 0, 0, time.UTC))},
		{in: "", wantErr: true},
		{in: "28/02/2027", wantErr: true},
		{in: "2026-04-30", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseExpiry(tt.in, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVersion(t *testing.T) {
	res := run(t, "", "version")
	require.Equal(t, 0, res.code)
	assert.Contains(t, res.stdout, config.AppVersion)
}

func writeTerms(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "terms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func timePtr(t time.Time) *time.Time { return &t }
