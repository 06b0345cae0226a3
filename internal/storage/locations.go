package storage

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"licensor/internal/config"
)

// BackendsFromConfig builds the location list in priority order: the
// configured files, then the OS secure store, then the database.
func BackendsFromConfig(cfg config.StorageConfig, paths *config.Paths) []Backend {
	var backends []Backend
	for i, p := range cfg.FilePaths {
		name := "file"
		if i > 0 {
			name = fmt.Sprintf("file_%d", i+1)
		}
		backends = append(backends, NewFileBackend(name, p))
	}
	if cfg.SecureStore && paths != nil {
		backends = append(backends, NewSecureBackend(secureStoreName, config.RegistryValueName, paths.SecureStoreFile))
	}
	if !cfg.DisableDatabase {
		if p := ResolveDatabasePath(cfg.DatabasePaths); p != "" {
			backends = append(backends, NewSQLiteBackend(p))
		}
	}
	return backends
}

// NewFromConfig creates the store described by the configuration
func NewFromConfig(cfg config.StorageConfig, paths *config.Paths, logger *slog.Logger) (*Store, error) {
	return New(BackendsFromConfig(cfg, paths), logger)
}

// LedgerBackendsFromConfig builds the locations of the grace ledger: the OS
// secure store and a separate slot of the database. They never share a file
// with the activation record. Without either, the ledger sits next to the
// first license file.
func LedgerBackendsFromConfig(cfg config.StorageConfig, paths *config.Paths) []Backend {
	var backends []Backend
	if cfg.SecureStore && paths != nil {
		backends = append(backends, NewSecureBackend(secureStoreName+"_ledger", config.GraceLedgerValueName, paths.GraceLedgerFile))
	}
	if !cfg.DisableDatabase {
		if p := ResolveDatabasePath(cfg.DatabasePaths); p != "" {
			backends = append(backends, NewSQLiteSlotBackend("database_ledger", p, ledgerSlot))
		}
	}
	if len(backends) == 0 && len(cfg.FilePaths) > 0 {
		backends = append(backends, NewFileBackend("file_ledger",
			filepath.Join(filepath.Dir(cfg.FilePaths[0]), "."+config.GraceLedgerFileName)))
	}
	return backends
}

// NewLedgerFromConfig creates the grace ledger store, or returns nil when
// the configuration names no location for it
func NewLedgerFromConfig(cfg config.StorageConfig, paths *config.Paths, logger *slog.Logger) (*Store, error) {
	backends := LedgerBackendsFromConfig(cfg, paths)
	if len(backends) == 0 {
		return nil, nil
	}
	return New(backends, logger)
}

// FilePaths returns the paths of the file-based locations, for watching
func (s *Store) FilePaths() []string {
	var out []string
	for _, b := range s.backends {
		if fb, ok := b.(*FileBackend); ok {
			out = append(out, fb.Path())
		}
	}
	return out
}
