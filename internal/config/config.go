package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Logging     LoggingConfig     `yaml:"logging" envconfig:"LOGGING"`
	License     LicenseConfig     `yaml:"license" envconfig:"LICENSE"`
	Storage     StorageConfig     `yaml:"storage" envconfig:"STORAGE"`
	Fingerprint FingerprintConfig `yaml:"fingerprint" envconfig:"FINGERPRINT"`
	Server      ServerConfig      `yaml:"server" envconfig:"SERVER"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn warning error"`
	Format      string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output      string `yaml:"output" envconfig:"OUTPUT" default:"console" validate:"oneof=console file both"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT" default:"false"`
}

// LicenseConfig contains activation policy settings
type LicenseConfig struct {
	GracePeriod        time.Duration `yaml:"grace_period" envconfig:"GRACE_PERIOD" default:"336h" validate:"gt=0"`
	ValidationInterval time.Duration `yaml:"validation_interval" envconfig:"VALIDATION_INTERVAL" default:"1h" validate:"gt=0"`
	ImportRate         time.Duration `yaml:"import_rate" envconfig:"IMPORT_RATE" default:"1m" validate:"gt=0"`
	ImportBurst        int           `yaml:"import_burst" envconfig:"IMPORT_BURST" default:"5" validate:"gte=1"`
	WatchStorage       bool          `yaml:"watch_storage" envconfig:"WATCH_STORAGE" default:"true"`
}

// StorageConfig lists the candidate license locations in priority order.
// Empty lists fall back to the locations derived from GetPaths.
type StorageConfig struct {
	FilePaths       []string `yaml:"file_paths" envconfig:"FILE_PATHS"`
	DatabasePaths   []string `yaml:"database_paths" envconfig:"DATABASE_PATHS"`
	SecureStore     bool     `yaml:"secure_store" envconfig:"SECURE_STORE" default:"true"`
	DisableDatabase bool     `yaml:"disable_database" envconfig:"DISABLE_DATABASE" default:"false"`
}

// FingerprintConfig selects which hardware signals make up the MachineId
type FingerprintConfig struct {
	IdentitySignals []string `yaml:"identity_signals" envconfig:"IDENTITY_SIGNALS" validate:"dive,oneof=platform_id product_uuid board_serial board_name volume_id cpu mac hostname"`
}

// ServerConfig contains the loopback host API configuration
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr" envconfig:"LISTEN_ADDR" default:"127.0.0.1:47615" validate:"hostname_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	EnableMetrics   bool          `yaml:"enable_metrics" envconfig:"ENABLE_METRICS" default:"true"`
	EnableTracing   bool          `yaml:"enable_tracing" envconfig:"ENABLE_TRACING" default:"false"`
}

// TelemetryConfig contains the local event log configuration
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	DatabasePath string `yaml:"database_path" envconfig:"DATABASE_PATH"`
}

var validate = validator.New()

// Load loads configuration from .env, environment variables and an optional config file
func Load() (*Config, error) {
	// A missing .env is the normal case on customer machines.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if configFile := getConfigFilePath(); configFile != "" {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to resolve defaults: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs merges file config into env config. Values explicitly set in the
// environment win; list-valued settings and paths come from the file when the
// environment left them empty.
func mergeConfigs(fileConfig, envConfig Config) Config {
	if _, ok := os.LookupEnv(EnvPrefix + "_LOGGING_LEVEL"); !ok && fileConfig.Logging.Level != "" {
		envConfig.Logging.Level = fileConfig.Logging.Level
	}
	if _, ok := os.LookupEnv(EnvPrefix + "_LOGGING_OUTPUT"); !ok && fileConfig.Logging.Output != "" {
		envConfig.Logging.Output = fileConfig.Logging.Output
	}
	if envConfig.Logging.FilePath == "" {
		envConfig.Logging.FilePath = fileConfig.Logging.FilePath
	}
	if _, ok := os.LookupEnv(EnvPrefix + "_LICENSE_GRACE_PERIOD"); !ok && fileConfig.License.GracePeriod > 0 {
		envConfig.License.GracePeriod = fileConfig.License.GracePeriod
	}
	if _, ok := os.LookupEnv(EnvPrefix + "_LICENSE_VALIDATION_INTERVAL"); !ok && fileConfig.License.ValidationInterval > 0 {
		envConfig.License.ValidationInterval = fileConfig.License.ValidationInterval
	}
	if len(envConfig.Storage.FilePaths) == 0 {
		envConfig.Storage.FilePaths = fileConfig.Storage.FilePaths
	}
	if len(envConfig.Storage.DatabasePaths) == 0 {
		envConfig.Storage.DatabasePaths = fileConfig.Storage.DatabasePaths
	}
	if len(envConfig.Fingerprint.IdentitySignals) == 0 {
		envConfig.Fingerprint.IdentitySignals = fileConfig.Fingerprint.IdentitySignals
	}
	if _, ok := os.LookupEnv(EnvPrefix + "_SERVER_LISTEN_ADDR"); !ok && fileConfig.Server.ListenAddr != "" {
		envConfig.Server.ListenAddr = fileConfig.Server.ListenAddr
	}
	if envConfig.Telemetry.DatabasePath == "" {
		envConfig.Telemetry.DatabasePath = fileConfig.Telemetry.DatabasePath
	}

	return envConfig
}

// applyDefaults fills path-dependent settings from the centralized paths system
func (c *Config) applyDefaults() error {
	if len(c.Fingerprint.IdentitySignals) == 0 {
		c.Fingerprint.IdentitySignals = append([]string(nil), DefaultIdentitySignals...)
	}

	if len(c.Storage.FilePaths) > 0 && len(c.Storage.DatabasePaths) > 0 &&
		c.Telemetry.DatabasePath != "" && c.Logging.FilePath != "" {
		return nil
	}

	paths, err := GetPaths()
	if err != nil {
		return fmt.Errorf("failed to get paths: %w", err)
	}

	if len(c.Storage.FilePaths) == 0 {
		c.Storage.FilePaths = paths.LicenseFileCandidates()
	}
	if len(c.Storage.DatabasePaths) == 0 {
		c.Storage.DatabasePaths = paths.DatabaseCandidates()
	}
	if c.Telemetry.DatabasePath == "" {
		c.Telemetry.DatabasePath = paths.TelemetryDB
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = paths.GetLogPath("licensor.log")
	}

	return nil
}

// Validate checks struct constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.License.ValidationInterval > c.License.GracePeriod {
		return fmt.Errorf("validation interval %s exceeds grace period %s",
			c.License.ValidationInterval, c.License.GracePeriod)
	}

	if len(c.Storage.FilePaths) == 0 && !c.Storage.SecureStore && (c.Storage.DisableDatabase || len(c.Storage.DatabasePaths) == 0) {
		return errors.New("at least one storage location must be configured")
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if explicit := os.Getenv(EnvPrefix + "_CONFIG_FILE"); explicit != "" {
		return explicit
	}

	locations := []string{
		"licensor.yaml",
		"configs/licensor.yaml",
	}
	if paths, err := GetPaths(); err == nil {
		locations = append(locations, paths.ConfigFile)
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration without touching the filesystem
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "console",
		},
		License: LicenseConfig{
			GracePeriod:        DefaultGracePeriod,
			ValidationInterval: DefaultValidationInterval,
			ImportRate:         DefaultImportRate,
			ImportBurst:        DefaultImportBurst,
			WatchStorage:       true,
		},
		Storage: StorageConfig{
			SecureStore: true,
		},
		Fingerprint: FingerprintConfig{
			IdentitySignals: append([]string(nil), DefaultIdentitySignals...),
		},
		Server: ServerConfig{
			ListenAddr:      DefaultListenAddr,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			EnableMetrics:   true,
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
		},
	}
}
