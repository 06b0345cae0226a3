//go:build windows

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/windows/registry"

	"licensor/internal/config"
)

// secureStoreName names the secure location in logs and telemetry
const secureStoreName = "registry"

// RegistryBackend keeps the blob as a REG_BINARY value under HKCU. A single
// value write is atomic.
type RegistryBackend struct {
	name  string
	root  registry.Key
	path  string
	value string
}

// NewSecureBackend returns the OS-native secure location holding the entry
// key. On Windows this is a value under the per-user registry key;
// fallbackPath is unused.
func NewSecureBackend(name, key, fallbackPath string) Backend {
	return &RegistryBackend{
		name:  name,
		root:  registry.CURRENT_USER,
		path:  config.RegistryKeyPath,
		value: key,
	}
}

func (r *RegistryBackend) Name() string { return r.name }

func (r *RegistryBackend) Read(ctx context.Context) ([]byte, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, err
	}

	k, err := registry.OpenKey(r.root, r.path, registry.QUERY_VALUE)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return nil, time.Time{}, ErrNotExist
		}
		return nil, time.Time{}, fmt.Errorf("open registry key: %w", err)
	}
	defer k.Close()

	data, _, err := k.GetBinaryValue(r.value)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return nil, time.Time{}, ErrNotExist
		}
		return nil, time.Time{}, fmt.Errorf("read registry value: %w", err)
	}

	var modTime time.Time
	if info, err := k.Stat(); err == nil {
		modTime = info.ModTime()
	}
	return data, modTime, nil
}

func (r *RegistryBackend) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	k, _, err := registry.CreateKey(r.root, r.path, registry.SET_VALUE|registry.QUERY_VALUE)
	if err != nil {
		return fmt.Errorf("create registry key: %w", err)
	}
	defer k.Close()

	if err := k.SetBinaryValue(r.value, data); err != nil {
		return fmt.Errorf("write registry value: %w", err)
	}
	return nil
}

func (r *RegistryBackend) Remove(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	k, err := registry.OpenKey(r.root, r.path, registry.SET_VALUE)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open registry key: %w", err)
	}
	defer k.Close()

	if err := k.DeleteValue(r.value); err != nil && !errors.Is(err, registry.ErrNotExist) {
		return fmt.Errorf("delete registry value: %w", err)
	}
	return nil
}
