package security

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
)

// SignatureAlgorithm identifies the signature scheme in the license header
type SignatureAlgorithm uint8

// EncryptionAlgorithm identifies the payload cipher in the license header
type EncryptionAlgorithm uint8

const (
	SignatureRSAPSSSHA256 SignatureAlgorithm  = 1
	EncryptionAES256GCM   EncryptionAlgorithm = 1
)

func (a SignatureAlgorithm) String() string {
	if a == SignatureRSAPSSSHA256 {
		return "RSA-PSS-SHA256"
	}
	return fmt.Sprintf("signature(%d)", uint8(a))
}

func (a EncryptionAlgorithm) String() string {
	if a == EncryptionAES256GCM {
		return "AES-256-GCM"
	}
	return fmt.Sprintf("encryption(%d)", uint8(a))
}

// MinRSAKeyBits is the smallest modulus accepted for signing keys
const MinRSAKeyBits = 2048

// KeyPair holds the vendor signing keys. The private half only exists in
// the vendor tool; the application only ever sees PublicKey.
type KeyPair struct {
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
}

var pssOptions = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}

// GenerateKeyPair creates a new RSA signing key pair
func GenerateKeyPair(bits int) (*KeyPair, error) {
	if bits < MinRSAKeyBits {
		return nil, fmt.Errorf("key size %d below minimum %d", bits, MinRSAKeyBits)
	}

	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	return &KeyPair{PrivateKey: priv, PublicKey: &priv.PublicKey}, nil
}

// Sign produces an RSA-PSS SHA-256 signature over data
func Sign(priv *rsa.PrivateKey, data []byte) ([]byte, error) {
	if priv == nil {
		return nil, errors.New("private key is nil")
	}

	digest := sha256.Sum256(data)
	sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], pssOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return sig, nil
}

// Verify reports whether sig is a valid signature over data. It never
// panics and returns false for any malformed input.
func Verify(pub *rsa.PublicKey, data, sig []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if pub == nil || pub.N == nil || len(sig) == 0 {
		return false
	}
	if pub.N.BitLen() < MinRSAKeyBits || len(sig) != pub.Size() {
		return false
	}

	digest := sha256.Sum256(data)
	return rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, pssOptions) == nil
}

// PublicKeyFingerprint returns a short hex id of the public key for display
func PublicKeyFingerprint(pub *rsa.PublicKey) string {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:8])
}
