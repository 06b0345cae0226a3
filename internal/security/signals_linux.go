package security

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func defaultSignalSources() []SignalSource {
	return linuxSignalSources("/")
}

// linuxSignalSources reads the signals below root. DMI files that are
// readable by root alone are treated as missing for every caller, so the
// MachineId does not depend on who runs the process.
func linuxSignalSources(root string) []SignalSource {
	dmi := func(name string) string {
		return filepath.Join(root, "sys", "class", "dmi", "id", name)
	}
	return []SignalSource{
		SignalFunc{SignalName: SignalPlatformID, Fn: func(context.Context) (string, error) {
			return readFirstFile(filepath.Join(root, "etc", "machine-id"), filepath.Join(root, "var", "lib", "dbus", "machine-id"))
		}},
		SignalFunc{SignalName: SignalProductUUID, Fn: func(context.Context) (string, error) {
			return readWorldReadable(dmi("product_uuid"))
		}},
		SignalFunc{SignalName: SignalBoardSerial, Fn: func(context.Context) (string, error) {
			return readWorldReadable(dmi("board_serial"))
		}},
		SignalFunc{SignalName: SignalBoardName, Fn: func(context.Context) (string, error) {
			vendor, _ := readWorldReadable(dmi("board_vendor"))
			name, err := readWorldReadable(dmi("board_name"))
			if err != nil {
				return "", err
			}
			if vendor == "" {
				return name, nil
			}
			return vendor + "/" + name, nil
		}},
		SignalFunc{SignalName: SignalVolumeID, Fn: func(context.Context) (string, error) {
			return rootVolumeUUID(filepath.Join(root, "proc", "self", "mountinfo"), filepath.Join(root, "dev", "disk", "by-uuid"))
		}},
		SignalFunc{SignalName: SignalCPU, Fn: func(context.Context) (string, error) {
			data, err := os.ReadFile(filepath.Join(root, "proc", "cpuinfo"))
			if err != nil {
				return "", err
			}
			return cpuSignature(data)
		}},
		macSource(),
		hostnameSource(),
	}
}

// readWorldReadable reads path only when its permission bits let any user
// read it
func readWorldReadable(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Mode().Perm()&0o004 == 0 {
		return "", fmt.Errorf("%s is not world-readable", path)
	}
	return readFirstFile(path)
}

// cpuSignature joins vendor and model of the first processor entry
func cpuSignature(cpuinfo []byte) (string, error) {
	var vendor, model string
	scanner := bufio.NewScanner(bytes.NewReader(cpuinfo))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "vendor_id", "CPU implementer":
			if vendor == "" {
				vendor = strings.TrimSpace(value)
			}
		case "model name", "CPU part", "Hardware":
			if model == "" {
				model = strings.TrimSpace(value)
			}
		}
	}
	if vendor == "" && model == "" {
		return "", errors.New("no cpu identification in cpuinfo")
	}
	return vendor + "/" + model, nil
}

// rootVolumeUUID finds the device mounted at / and maps it to its filesystem
// UUID through the by-uuid symlinks.
func rootVolumeUUID(mountinfoPath, byUUIDDir string) (string, error) {
	data, err := os.ReadFile(mountinfoPath)
	if err != nil {
		return "", err
	}

	device := ""
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		// <id> <parent> <maj:min> <root> <mount point> ... - <fstype> <source> <opts>
		pre, post, ok := strings.Cut(scanner.Text(), " - ")
		if !ok {
			continue
		}
		fields := strings.Fields(pre)
		if len(fields) < 5 || fields[4] != "/" {
			continue
		}
		postFields := strings.Fields(post)
		if len(postFields) >= 2 {
			device = postFields[1]
		}
	}
	if device == "" || !strings.HasPrefix(device, "/dev/") {
		return "", fmt.Errorf("root filesystem is not backed by a block device (%q)", device)
	}

	resolvedDevice, err := filepath.EvalSymlinks(device)
	if err != nil {
		resolvedDevice = device
	}

	entries, err := os.ReadDir(byUUIDDir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		target, err := filepath.EvalSymlinks(filepath.Join(byUUIDDir, e.Name()))
		if err != nil {
			continue
		}
		if target == resolvedDevice {
			return e.Name(), nil
		}
	}

	return "", fmt.Errorf("no filesystem UUID for %s", device)
}
