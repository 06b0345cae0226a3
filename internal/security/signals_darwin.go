package security

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

var ioregValue = regexp.MustCompile(`"(IOPlatformUUID|IOPlatformSerialNumber)" = "([^"]+)"`)

func defaultSignalSources() []SignalSource {
	return []SignalSource{
		SignalFunc{SignalName: SignalPlatformID, Fn: func(ctx context.Context) (string, error) {
			return ioregPlatform(ctx, "IOPlatformUUID")
		}},
		SignalFunc{SignalName: SignalBoardSerial, Fn: func(ctx context.Context) (string, error) {
			return ioregPlatform(ctx, "IOPlatformSerialNumber")
		}},
		SignalFunc{SignalName: SignalVolumeID, Fn: func(ctx context.Context) (string, error) {
			out, err := exec.CommandContext(ctx, "diskutil", "info", "/").Output()
			if err != nil {
				return "", err
			}
			for _, line := range strings.Split(string(out), "\n") {
				key, value, ok := strings.Cut(line, ":")
				if ok && strings.TrimSpace(key) == "Volume UUID" {
					return strings.TrimSpace(value), nil
				}
			}
			return "", fmt.Errorf("volume UUID not reported")
		}},
		SignalFunc{SignalName: SignalCPU, Fn: func(ctx context.Context) (string, error) {
			out, err := exec.CommandContext(ctx, "sysctl", "-n", "machdep.cpu.brand_string").Output()
			if err != nil {
				return "", err
			}
			return string(out), nil
		}},
		macSource(),
		hostnameSource(),
	}
}

func ioregPlatform(ctx context.Context, key string) (string, error) {
	out, err := exec.CommandContext(ctx, "ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err != nil {
		return "", err
	}
	for _, m := range ioregValue.FindAllStringSubmatch(string(out), -1) {
		if m[1] == key {
			return m[2], nil
		}
	}
	return "", fmt.Errorf("%s not found in ioreg output", key)
}
