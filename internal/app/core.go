package app

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"

	"licensor/internal/config"
	"licensor/internal/license"
	"licensor/internal/security"
	"licensor/internal/storage"
	"licensor/internal/telemetry"
)

// Core is the license subsystem without any network surface. The CLIs use
// it directly; the HTTP application wraps it.
type Core struct {
	Config       *config.Config
	Logger       *slog.Logger
	Store        *storage.Store
	Ledger       *storage.Store
	Fingerprints *security.FingerprintProvider
	Manager      *license.Manager
	Health       *license.HealthCheck

	// Recorder receives telemetry; Events reads it back and is nil when
	// telemetry is disabled
	Recorder license.Recorder
	Events   telemetry.Source

	telemetryLog *telemetry.Log
}

// CoreOption customizes NewCore
type CoreOption func(*license.Options)

// WithMetrics sets the license instruments
func WithMetrics(m *license.LicenseMetrics) CoreOption {
	return func(o *license.Options) { o.Metrics = m }
}

// WithPublicKey replaces the embedded vendor key
func WithPublicKey(pub *rsa.PublicKey) CoreOption {
	return func(o *license.Options) { o.PublicKey = pub }
}

// WithFingerprints replaces the platform fingerprint provider
func WithFingerprints(fp *security.FingerprintProvider) CoreOption {
	return func(o *license.Options) { o.Fingerprints = fp }
}

// WithClock replaces the wall clock, for tests
func WithClock(c license.Clock) CoreOption {
	return func(o *license.Options) { o.Clock = c }
}

// NewCore wires storage, fingerprinting, telemetry and the manager from cfg
func NewCore(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...CoreOption) (*Core, error) {
	publicKey, err := security.ParsePublicKeyPEM(config.VendorPublicKeyPEM())
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded public key: %w", err)
	}

	var paths *config.Paths
	if cfg.Storage.SecureStore {
		if paths, err = config.GetPaths(); err != nil {
			return nil, fmt.Errorf("failed to get paths: %w", err)
		}
	}

	store, err := storage.NewFromConfig(cfg.Storage, paths, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create license store: %w", err)
	}

	ledger, err := storage.NewLedgerFromConfig(cfg.Storage, paths, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create grace ledger: %w", err)
	}

	c := &Core{
		Config:       cfg,
		Logger:       logger,
		Store:        store,
		Ledger:       ledger,
		Fingerprints: security.NewFingerprintProvider(cfg.Fingerprint.IdentitySignals, logger),
		Recorder:     telemetry.Nop{},
	}

	if cfg.Telemetry.Enabled {
		log, err := telemetry.Open(ctx, cfg.Telemetry.DatabasePath, logger)
		if err != nil {
			// Telemetry must never block licensing
			logger.WarnContext(ctx, "telemetry log unavailable, keeping events in memory",
				slog.String("path", cfg.Telemetry.DatabasePath),
				slog.String("error", err.Error()))
			mem := &telemetry.Memory{}
			c.Recorder, c.Events = mem, mem
		} else {
			c.telemetryLog = log
			c.Recorder, c.Events = log, log
		}
	}

	options := license.Options{
		PublicKey:    publicKey,
		Secret:       config.PayloadSecretBytes(),
		Store:        store,
		Fingerprints: c.Fingerprints,
		Recorder:     c.Recorder,
		GracePeriod:  cfg.License.GracePeriod,
		ImportRate:   cfg.License.ImportRate,
		ImportBurst:  cfg.License.ImportBurst,
		Logger:       logger,
	}
	if ledger != nil {
		options.Ledger = ledger
	}
	for _, opt := range opts {
		opt(&options)
	}
	if fp, ok := options.Fingerprints.(*security.FingerprintProvider); ok {
		c.Fingerprints = fp
	}

	manager, err := license.NewManager(options)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to create license manager: %w", err)
	}
	c.Manager = manager
	c.Health = license.NewHealthCheck(manager, store, c.Fingerprints)

	return c, nil
}

// Close releases the store and telemetry databases
func (c *Core) Close() error {
	var errs []error
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if c.Ledger != nil {
		if err := c.Ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close grace ledger: %w", err))
		}
	}
	if c.telemetryLog != nil {
		if err := c.telemetryLog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}
