package config

import (
	_ "embed"
)

// vendorPublicKeyPEM is the verification key shipped inside the binary.
// The matching private key stays with the vendor's licgen installation.
//
//go:embed keys/vendor_public.pem
var vendorPublicKeyPEM []byte

// PayloadSecret is mixed into the payload key derivation together with the
// MachineId. Release builds override it at link time:
//
//	go build -ldflags "-X licensor/internal/config.PayloadSecret=..."
var PayloadSecret = "nwr-salesdesk-dev-payload-secret-01"

// VendorPublicKeyPEM returns the embedded public key. It is never read from
// user-writable configuration.
func VendorPublicKeyPEM() []byte {
	out := make([]byte, len(vendorPublicKeyPEM))
	copy(out, vendorPublicKeyPEM)
	return out
}

// PayloadSecretBytes returns the vendor payload secret
func PayloadSecretBytes() []byte {
	return []byte(PayloadSecret)
}
