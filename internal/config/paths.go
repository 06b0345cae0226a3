package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Paths contains all the application paths.
// This is the single source of truth for every location the licensing
// subsystem reads or writes; call sites receive candidate lists from here
// instead of probing the filesystem themselves.
type Paths struct {
	ExecutableDir string
	VendorDir     string
	DataDir       string
	LogsDir       string
	HomeDir       string

	LicenseFile     string
	MirrorFile      string
	SecureStoreFile string
	GraceLedgerFile string
	LicenseDB       string
	LegacyDB        string
	TelemetryDB     string
	ConfigFile      string
}

// GetPaths resolves the application paths for the current user and executable
func GetPaths() (*Paths, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}

	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable symlinks: %w", err)
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config dir: %w", err)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home dir: %w", err)
	}

	return NewPaths(filepath.Dir(exe), configDir, homeDir), nil
}

// NewPaths builds the path layout from explicit base directories.
//
// Layout:
//
//	<configDir>/NorthwindRetail/SalesDesk/
//	  ├── license.dat           (primary license location)
//	  ├── licensor.yaml         (optional config file)
//	  ├── telemetry.db          (append-only event log)
//	  ├── data/salesdesk.db     (database license location)
//	  └── logs/
//	<homeDir>/.salesdesk/.license.mirror
//	<dataHome>/.northwindretail/activation.bin  (secure store fallback without a keyring)
//	<dataHome>/.northwindretail/grace.bin       (grace ledger fallback without a keyring)
//	<exeDir>/data/salesdesk.db  (legacy database candidate)
func NewPaths(exeDir, configDir, homeDir string) *Paths {
	vendorDir := filepath.Join(configDir, VendorDirName, ProductDirName)
	dataDir := filepath.Join(vendorDir, "data")

	return &Paths{
		ExecutableDir: exeDir,
		VendorDir:     vendorDir,
		DataDir:       dataDir,
		LogsDir:       filepath.Join(vendorDir, "logs"),
		HomeDir:       homeDir,

		LicenseFile:     filepath.Join(vendorDir, LicenseFileName),
		MirrorFile:      filepath.Join(homeDir, "."+strings.ToLower(ProductDirName), LicenseMirrorFileName),
		SecureStoreFile: filepath.Join(userDataHome(configDir, homeDir), "."+strings.ToLower(VendorDirName), "activation.bin"),
		GraceLedgerFile: filepath.Join(userDataHome(configDir, homeDir), "."+strings.ToLower(VendorDirName), GraceLedgerFileName),
		LicenseDB:       filepath.Join(dataDir, LicenseDBFileName),
		LegacyDB:        filepath.Join(exeDir, "data", LicenseDBFileName),
		TelemetryDB:     filepath.Join(vendorDir, TelemetryDBFileName),
		ConfigFile:      filepath.Join(vendorDir, "licensor.yaml"),
	}
}

// userDataHome follows XDG on Linux and falls back to the config dir elsewhere
func userDataHome(configDir, homeDir string) string {
	if runtime.GOOS != "linux" {
		return configDir
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return xdg
	}
	return filepath.Join(homeDir, ".local", "share")
}

// LicenseFileCandidates returns the filesystem license locations in priority order
func (p *Paths) LicenseFileCandidates() []string {
	return []string{p.LicenseFile, p.MirrorFile}
}

// DatabaseCandidates returns the database locations in priority order
func (p *Paths) DatabaseCandidates() []string {
	return []string{p.LicenseDB, p.LegacyDB}
}

// EnsureDirectories creates the vendor-private directories if they don't exist
func (p *Paths) EnsureDirectories() error {
	directories := []string{
		p.VendorDir,
		p.DataDir,
		p.LogsDir,
	}

	for _, dir := range directories {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		slog.Debug("Ensured directory exists", slog.String("directory", dir))
	}

	return nil
}

// GetLogPath returns the path for a log file
func (p *Paths) GetLogPath(filename string) string {
	return filepath.Join(p.LogsDir, filename)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// LogPathResolution logs path resolution information for debugging
func (p *Paths) LogPathResolution(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("Path resolution summary",
		slog.Group("directories",
			slog.String("executable", p.ExecutableDir),
			slog.String("vendor", p.VendorDir),
			slog.String("data", p.DataDir),
			slog.String("logs", p.LogsDir),
		),
		slog.Group("license_locations",
			slog.String("primary", p.LicenseFile),
			slog.String("mirror", p.MirrorFile),
			slog.String("secure_store", p.SecureStoreFile),
			slog.String("database", p.LicenseDB),
			slog.String("legacy_database", p.LegacyDB),
		),
		slog.String("telemetry", p.TelemetryDB),
	)
}
