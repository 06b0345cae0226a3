//go:build !linux && !windows && !darwin

package security

import (
	"context"
	"os/exec"
)

func defaultSignalSources() []SignalSource {
	return []SignalSource{
		SignalFunc{SignalName: SignalPlatformID, Fn: func(ctx context.Context) (string, error) {
			if v, err := readFirstFile("/etc/hostid", "/etc/machine-id"); err == nil {
				return v, nil
			}
			out, err := exec.CommandContext(ctx, "sysctl", "-n", "kern.hostuuid").Output()
			if err != nil {
				return "", err
			}
			return string(out), nil
		}},
		macSource(),
		hostnameSource(),
	}
}
