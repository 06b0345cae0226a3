// Package license implements hardware-bound, offline license activation.
//
// # License files
//
// A license file carries a JSON Payload sealed with AES-256-GCM under a key
// derived from the target machine's MachineId and the vendor payload secret.
// The vendor signs the ciphertext with RSA-PSS. The binary layout is
//
//	magic "LICF" | format version (uint16) | fields...
//
// where every field is tag(1) | length(uint32) | value. Unknown tags are
// skipped so later revisions can add fields. Files may also be PEM armored
// ("-----BEGIN LICENSE FILE-----") for e-mail transport. Decode checks only
// structure; Verify checks the signature; Open decrypts and is called only
// after Verify succeeds.
//
// # Activation state machine
//
// The Manager persists an ActivationRecord through a redundant store and
// moves between these states:
//
//	Unactivated -> Active <-> GracePeriod -> HardwareMismatch
//	Active/GracePeriod -> Expired
//	any -> Tampered | Corrupted (stored record fails its seal, signature or parse)
//
// Import rejects any file whose signature fails, whose payload does not
// open under this machine's key, or that is already expired; rejected files
// are never persisted. Routine validation checks the record seal and the
// license signature, then expiry, then the fingerprint. A first fingerprint
// mismatch starts a grace period; a re-match clears it; an elapsed grace
// period locks the record in HardwareMismatch until a new license is
// imported. Expiry and grace decisions use the later of the wall clock and
// the last validation time.
//
// # Usage
//
//	mgr, err := license.NewManager(license.Options{
//	    PublicKey:    pub,
//	    Secret:       config.PayloadSecretBytes(),
//	    Store:        store,
//	    Fingerprints: provider,
//	    Recorder:     telemetryLog,
//	})
//	status := mgr.ValidateNow(ctx)
//	if mgr.HasFeature("reports") { ... }
package license
