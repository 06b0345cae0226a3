package security

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

func defaultSignalSources() []SignalSource {
	return []SignalSource{
		SignalFunc{SignalName: SignalPlatformID, Fn: func(context.Context) (string, error) {
			return registryString(`SOFTWARE\Microsoft\Cryptography`, "MachineGuid")
		}},
		SignalFunc{SignalName: SignalProductUUID, Fn: func(context.Context) (string, error) {
			// SMBIOS system UUID as recorded by the last hardware profile
			return registryString(`SYSTEM\HardwareConfig`, "LastConfig")
		}},
		SignalFunc{SignalName: SignalBoardName, Fn: func(context.Context) (string, error) {
			maker, err := registryString(`HARDWARE\DESCRIPTION\System\BIOS`, "BaseBoardManufacturer")
			if err != nil {
				return "", err
			}
			product, err := registryString(`HARDWARE\DESCRIPTION\System\BIOS`, "BaseBoardProduct")
			if err != nil {
				return "", err
			}
			return maker + "/" + product, nil
		}},
		SignalFunc{SignalName: SignalVolumeID, Fn: func(context.Context) (string, error) {
			return systemVolumeSerial()
		}},
		SignalFunc{SignalName: SignalCPU, Fn: func(context.Context) (string, error) {
			if name, err := registryString(`HARDWARE\DESCRIPTION\System\CentralProcessor\0`, "ProcessorNameString"); err == nil {
				return name, nil
			}
			if id := os.Getenv("PROCESSOR_IDENTIFIER"); id != "" {
				return id, nil
			}
			return "", fmt.Errorf("processor identification unavailable")
		}},
		macSource(),
		hostnameSource(),
	}
}

func registryString(path, value string) (string, error) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, path, registry.QUERY_VALUE|registry.WOW64_64KEY)
	if err != nil {
		return "", err
	}
	defer key.Close()

	s, _, err := key.GetStringValue(value)
	if err != nil {
		return "", err
	}
	return s, nil
}

// systemVolumeSerial returns the serial number of the system drive volume
func systemVolumeSerial() (string, error) {
	drive := os.Getenv("SystemDrive")
	if drive == "" {
		drive = "C:"
	}
	root, err := windows.UTF16PtrFromString(strings.TrimRight(drive, `\`) + `\`)
	if err != nil {
		return "", err
	}

	var serial uint32
	if err := windows.GetVolumeInformation(root, nil, 0, &serial, nil, nil, nil, 0); err != nil {
		return "", fmt.Errorf("GetVolumeInformation: %w", err)
	}
	return fmt.Sprintf("%08x", serial), nil
}
