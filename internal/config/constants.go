package config

import "time"

// Application constants for the licensing subsystem
const (
	// Application Info
	AppName    = "Licensor"
	AppVersion = "1.0.0"
	AppVendor  = "Northwind Retail Systems"

	// Directory names under the user config dir
	VendorDirName  = "NorthwindRetail"
	ProductDirName = "SalesDesk"

	// Environment variable prefix used by envconfig
	EnvPrefix = "LICENSOR"

	// License storage names
	LicenseFileName       = "license.dat"
	LicenseMirrorFileName = ".license.mirror"
	LicenseDBFileName     = "salesdesk.db"
	TelemetryDBFileName   = "telemetry.db"
	GraceLedgerFileName   = "grace.bin"

	// Registry location (Windows secure store)
	RegistryKeyPath   = `Software\NorthwindRetail\SalesDesk`
	RegistryValueName = "ActivationRecord"
	// GraceLedgerValueName is the secure store entry for the grace ledger
	GraceLedgerValueName = "GraceLedger"

	// Keyring service (macOS Keychain, Secret Service)
	KeyringService = "NorthwindRetail SalesDesk"

	// License policy defaults
	DefaultGracePeriod        = 14 * 24 * time.Hour
	DefaultValidationInterval = 1 * time.Hour
	DefaultImportRate         = 1 * time.Minute // one token per minute
	DefaultImportBurst        = 5

	// License file bounds
	MaxLicenseFileSize = 64 * 1024
	MinLicenseFileSize = 16

	// Key material
	DefaultRSAKeyBits     = 3072
	PrivateKeyFileName    = "vendor_private.pem"
	PublicKeyFileName     = "vendor_public.pem"
	PrivateKeyPermissions = 0600

	// Store read retries
	StoreReadAttempts = 3
	StoreRetryDelay   = 50 * time.Millisecond

	// Server (loopback host API)
	DefaultListenAddr = "127.0.0.1:47615"
)

