package license

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce collapses bursts of file events into one validation
const DefaultWatchDebounce = 500 * time.Millisecond

// Watch revalidates whenever one of the given license files is created,
// written, renamed or removed by anyone. Directories are watched rather than
// files because writers replace files by rename. Watch blocks until ctx is
// done.
func (m *Manager) Watch(ctx context.Context, paths []string, debounce time.Duration) error {
	if len(paths) == 0 {
		return nil
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	targets := make(map[string]struct{}, len(paths))
	dirs := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		p = filepath.Clean(p)
		targets[p] = struct{}{}
		dir := filepath.Dir(p)
		if _, ok := dirs[dir]; ok {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			m.logger.WarnContext(ctx, "Cannot create license directory for watching",
				slog.String("dir", dir), slog.String("error", err.Error()))
			continue
		}
		if err := watcher.Add(dir); err != nil {
			m.logger.WarnContext(ctx, "Cannot watch license directory",
				slog.String("dir", dir), slog.String("error", err.Error()))
			continue
		}
		dirs[dir] = struct{}{}
	}
	if len(dirs) == 0 {
		return fmt.Errorf("no license directory could be watched")
	}

	m.logger.InfoContext(ctx, "Watching license locations", slog.Int("directories", len(dirs)))

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if _, ok := targets[filepath.Clean(ev.Name)]; !ok {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			m.logger.DebugContext(ctx, "License location changed",
				slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			if m.externallyChanged(paths) {
				m.ValidateNow(ctx)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.WarnContext(ctx, "License watcher error", slog.String("error", err.Error()))
		}
	}
}

// externallyChanged reports whether any watched file differs from the
// record this manager last wrote. Events caused by the manager's own writes
// are ignored this way.
func (m *Manager) externallyChanged(paths []string) bool {
	m.stateMu.RLock()
	last := m.lastSealed
	m.stateMu.RUnlock()

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			if last != nil {
				return true
			}
			continue
		}
		if !bytes.Equal(data, last) {
			return true
		}
	}
	return false
}
