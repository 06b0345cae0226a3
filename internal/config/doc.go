// Package config provides centralized configuration management for the licensing
// subsystem. It handles loading configuration from multiple sources, validation,
// and resolves every storage location the license store is allowed to touch.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. A .env file in the working directory
//	3. licensor.yaml (working directory, configs/, or the vendor directory)
//	4. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern LICENSOR_* for namespacing:
//
//	LICENSOR_LICENSE_GRACE_PERIOD=336h
//	LICENSOR_STORAGE_FILE_PATHS=/srv/lic/license.dat,/mnt/backup/license.dat
//	LICENSOR_FINGERPRINT_IDENTITY_SIGNALS=platform_id,volume_id
//	LICENSOR_LOGGING_LEVEL=debug
//
// # Storage Candidates
//
// The license store receives ordered candidate locators built here (see
// Paths.LicenseFileCandidates and Paths.DatabaseCandidates). No other package
// constructs license paths on its own.
//
// # Build-time Material
//
// The vendor public key is embedded from keys/vendor_public.pem and the payload
// secret is a link-time variable. Neither is read from user-writable config in
// release builds.
package config
