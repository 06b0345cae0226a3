//go:build !windows

package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zalando/go-keyring"

	"licensor/internal/config"
)

// secureStoreName names the secure location in logs and telemetry
const secureStoreName = "keyring"

// KeyringBackend keeps the blob in the user keyring (macOS Keychain, the
// Secret Service on Linux). When the keyring cannot be reached, as on a
// headless Linux host without a session bus, it falls back to an owner-only
// file. A successful keyring write removes the fallback file.
type KeyringBackend struct {
	name     string
	service  string
	user     string
	fallback *FileBackend
}

// NewSecureBackend returns the OS-native secure location holding the entry
// key, with fallbackPath used only while the keyring is unavailable
func NewSecureBackend(name, key, fallbackPath string) Backend {
	return &KeyringBackend{
		name:     name,
		service:  config.KeyringService,
		user:     key,
		fallback: NewFileBackend(name, fallbackPath),
	}
}

func (k *KeyringBackend) Name() string { return k.name }

func (k *KeyringBackend) Read(ctx context.Context) ([]byte, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, err
	}

	item, err := keyring.Get(k.service, k.user)
	if err != nil {
		// Absent from the keyring, or no keyring: the file holds any blob
		// written while the keyring was unreachable
		return k.fallback.Read(ctx)
	}
	return decodeKeyringItem(item)
}

func (k *KeyringBackend) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := keyring.Set(k.service, k.user, encodeKeyringItem(data, time.Now())); err != nil {
		if ferr := k.fallback.Write(ctx, data); ferr != nil {
			return fmt.Errorf("keyring: %v; fallback file: %w", err, ferr)
		}
		return nil
	}
	return k.fallback.Remove(ctx)
}

func (k *KeyringBackend) Remove(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var errs []error
	if err := keyring.Delete(k.service, k.user); err != nil && !errors.Is(err, keyring.ErrNotFound) && keyringReachable() {
		errs = append(errs, fmt.Errorf("delete keyring item: %w", err))
	}
	if err := k.fallback.Remove(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// keyringReachable checks the keyring with a lookup of a name that is never
// stored
func keyringReachable() bool {
	_, err := keyring.Get(config.KeyringService, "reachability-check")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}

// Keyring items are strings: "<unix nanos>:<base64 blob>"
func encodeKeyringItem(data []byte, modTime time.Time) string {
	return strconv.FormatInt(modTime.UnixNano(), 10) + ":" + base64.StdEncoding.EncodeToString(data)
}

func decodeKeyringItem(item string) ([]byte, time.Time, error) {
	stamp, encoded, ok := strings.Cut(item, ":")
	if !ok {
		return nil, time.Time{}, errors.New("keyring item: missing timestamp")
	}
	nanos, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("keyring item timestamp: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("keyring item: %w", err)
	}
	return data, time.Unix(0, nanos), nil
}
