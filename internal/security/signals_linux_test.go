package security

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensor/internal/config"
)

func TestCPUSignature(t *testing.T) {
	sig, err := cpuSignature([]byte("processor\t: 0\nvendor_id\t: GenuineIntel\nmodel name\t: Intel(R) Core(TM) i5\n\nprocessor\t: 1\nvendor_id\t: Other\n"))
	require.NoError(t, err)
	assert.Equal(t, "GenuineIntel/Intel(R) Core(TM) i5", sig)

	_, err = cpuSignature([]byte("processor\t: 0\n"))
	assert.Error(t, err)
}

func TestRootVolumeUUID(t *testing.T) {
	dir := t.TempDir()
	dev := filepath.Join(dir, "sda2")
	require.NoError(t, os.WriteFile(dev, nil, 0600))

	byUUID := filepath.Join(dir, "by-uuid")
	require.NoError(t, os.Mkdir(byUUID, 0700))
	require.NoError(t, os.Symlink(dev, filepath.Join(byUUID, "0f3e-aa")))

	// the source must look like a /dev path; "/dev/.." walks back to the temp file
	mountinfo := filepath.Join(dir, "mountinfo")
	content := "30 22 0:5 / /dev rw - devtmpfs udev rw\n" +
		"22 1 8:2 / / rw,relatime shared:1 - ext4 /dev/.." + dev + " rw\n"
	require.NoError(t, os.WriteFile(mountinfo, []byte(content), 0600))

	got, err := rootVolumeUUID(mountinfo, byUUID)
	require.NoError(t, err)
	assert.Equal(t, "0f3e-aa", got)
}

func TestRootVolumeUUIDOverlay(t *testing.T) {
	dir := t.TempDir()
	mountinfo := filepath.Join(dir, "mountinfo")
	require.NoError(t, os.WriteFile(mountinfo, []byte("1 0 0:50 / / rw - overlay overlay rw\n"), 0600))

	_, err := rootVolumeUUID(mountinfo, dir)
	assert.Error(t, err)
}

// fakeSysfs lays out the files the Linux sources read. restricted holds the
// DMI files that the kernel exposes as 0400; nil leaves them out entirely.
func fakeSysfs(t *testing.T, restricted map[string]string) string {
	t.Helper()
	root := t.TempDir()
	write := func(rel, content string, mode os.FileMode) {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content+"\n"), mode))
		require.NoError(t, os.Chmod(p, mode))
	}
	write("etc/machine-id", "4c4c4544004e3510", 0644)
	write("proc/cpuinfo", "vendor_id\t: GenuineIntel\nmodel name\t: Xeon\n", 0444)
	write("sys/class/dmi/id/board_vendor", "ASUSTeK", 0444)
	write("sys/class/dmi/id/board_name", "PRIME X570-P", 0444)
	for name, value := range restricted {
		write(filepath.Join("sys/class/dmi/id", name), value, 0400)
	}
	return root
}

func machineIDFor(t *testing.T, root string, identity []string) Fingerprint {
	t.Helper()
	p := NewFingerprintProvider(identity, nil,
		WithCacheDuration(0),
		WithSignalSources(linuxSignalSources(root)...))
	fp, err := p.ComputeFingerprint(context.Background())
	require.NoError(t, err)
	return fp
}

func TestLinuxMachineIDIgnoresPrivilegeLevel(t *testing.T) {
	// As root the DMI serials exist with content; an ordinary user sees
	// the same 0400 files, and some kernels hide them altogether.
	rootView := fakeSysfs(t, map[string]string{
		"product_uuid": "4a1f2c9e-7b3d-4e21-9c55-0d2f6b7a8e11",
		"board_serial": "MB-1234567",
	})
	userView := fakeSysfs(t, nil)

	identities := map[string][]string{
		"defaults":   config.DefaultIdentitySignals,
		"configured": {SignalPlatformID, SignalProductUUID, SignalBoardSerial, SignalCPU},
	}
	for name, identity := range identities {
		t.Run(name, func(t *testing.T) {
			asRoot := machineIDFor(t, rootView, identity)
			asUser := machineIDFor(t, userView, identity)
			assert.Equal(t, asRoot.MachineID, asUser.MachineID)
			assert.Equal(t, asRoot.Missing, asUser.Missing)
		})
	}

	fp := machineIDFor(t, rootView, config.DefaultIdentitySignals)
	assert.NotContains(t, fp.Signals, SignalProductUUID)
	assert.NotContains(t, fp.Signals, SignalBoardSerial, "board name is never reported as the serial")
	assert.Equal(t, signalDigest(SignalBoardName, "asustek/prime x570-p"), fp.Signals[SignalBoardName])
	assert.NotContains(t, config.DefaultIdentitySignals, SignalProductUUID)
	assert.NotContains(t, config.DefaultIdentitySignals, SignalBoardSerial)
}

func TestReadWorldReadable(t *testing.T) {
	dir := t.TempDir()
	open := filepath.Join(dir, "product_uuid")
	require.NoError(t, os.WriteFile(open, []byte("uuid-1\n"), 0444))
	require.NoError(t, os.Chmod(open, 0444))
	v, err := readWorldReadable(open)
	require.NoError(t, err)
	assert.Equal(t, "uuid-1", v)

	closed := filepath.Join(dir, "board_serial")
	require.NoError(t, os.WriteFile(closed, []byte("serial\n"), 0400))
	require.NoError(t, os.Chmod(closed, 0400))
	_, err = readWorldReadable(closed)
	assert.Error(t, err)

	_, err = readWorldReadable(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
