package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	filePermissions = 0600
	dirPermissions  = 0700
	lockRetryDelay  = 25 * time.Millisecond
	lockTimeout     = 5 * time.Second
)

// FileBackend stores the blob in a single file. Writes go to a temp file in
// the same directory which is renamed over the target, so readers only ever
// observe complete files. Writers from different processes are serialized
// by an advisory lock on a sibling ".lock" file.
type FileBackend struct {
	name string
	path string
}

// NewFileBackend creates a file location
func NewFileBackend(name, path string) *FileBackend {
	return &FileBackend{name: name, path: path}
}

func (f *FileBackend) Name() string { return f.name }

// Path returns the file location
func (f *FileBackend) Path() string { return f.path }

func (f *FileBackend) Read(ctx context.Context) ([]byte, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, err
	}

	info, err := os.Stat(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, time.Time{}, ErrNotExist
		}
		return nil, time.Time{}, fmt.Errorf("stat %s: %w", f.name, err)
	}
	if !info.Mode().IsRegular() {
		return nil, time.Time{}, fmt.Errorf("%s: not a regular file", f.name)
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, time.Time{}, ErrNotExist
		}
		return nil, time.Time{}, fmt.Errorf("read %s: %w", f.name, err)
	}
	return data, info.ModTime(), nil
}

func (f *FileBackend) Write(ctx context.Context, data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("create directory for %s: %w", f.name, err)
	}

	unlock, err := f.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", f.name, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", f.name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", f.name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", f.name, err)
	}
	if err := os.Chmod(tmpPath, filePermissions); err != nil {
		return fmt.Errorf("chmod %s: %w", f.name, err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("rename %s: %w", f.name, err)
	}
	committed = true

	syncDir(dir)
	return nil
}

func (f *FileBackend) Remove(ctx context.Context) error {
	unlock, err := f.lock(ctx)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	defer unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", f.name, err)
	}
	return nil
}

func (f *FileBackend) lock(ctx context.Context) (func(), error) {
	if _, err := os.Stat(filepath.Dir(f.path)); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	fl := flock.New(f.path + ".lock")
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", f.name, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s: held by another process", f.name)
	}
	return func() { _ = fl.Unlock() }, nil
}

// syncDir flushes the rename to disk where the platform supports it
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
