package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/scrypt"

	"licensor/internal/config"
)

const (
	pemTypePrivateKey          = "PRIVATE KEY"
	pemTypePublicKey           = "PUBLIC KEY"
	pemTypeEncryptedPrivateKey = "LICENSOR ENCRYPTED PRIVATE KEY"
)

// ScryptParams controls passphrase stretching for the vendor private key
type ScryptParams struct {
	N      int
	R      int
	P      int
	KeyLen int
}

// DefaultScryptParams follows the OWASP minimum for interactive use
func DefaultScryptParams() ScryptParams {
	return ScryptParams{N: 32768, R: 8, P: 1, KeyLen: 32}
}

var (
	// ErrKeyExists is returned when generate-keys would overwrite a private key
	ErrKeyExists = errors.New("private key already exists")
	// ErrPassphraseRequired is returned for an encrypted key without a passphrase
	ErrPassphraseRequired = errors.New("private key is encrypted; passphrase required")
)

// EncodePublicKeyPEM encodes an RSA public key as PKIX PEM
func EncodePublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePublicKey, Bytes: der}), nil
}

// ParsePublicKeyPEM parses a PKIX PEM RSA public key
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypePublicKey {
		return nil, errors.New("no PUBLIC KEY block found")
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unsupported public key type %T", key)
	}
	if pub.N.BitLen() < MinRSAKeyBits {
		return nil, fmt.Errorf("public key too small: %d bits", pub.N.BitLen())
	}
	return pub, nil
}

// EncodePrivateKeyPEM encodes the private key as PKCS#8 PEM. With a non-empty
// passphrase the DER is sealed with AES-256-GCM under a scrypt-derived key.
func EncodePrivateKeyPEM(priv *rsa.PrivateKey, passphrase []byte, params ScryptParams) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	defer zero(der)

	if len(passphrase) == 0 {
		return pem.EncodeToMemory(&pem.Block{Type: pemTypePrivateKey, Bytes: der}), nil
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := scrypt.Key(passphrase, salt, params.N, params.R, params.P, params.KeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	defer zero(key)

	sealed, err := EncryptPayload(der, key, salt)
	if err != nil {
		return nil, err
	}

	return pem.EncodeToMemory(&pem.Block{
		Type: pemTypeEncryptedPrivateKey,
		Headers: map[string]string{
			"KDF":  "scrypt",
			"Salt": hex.EncodeToString(salt),
			"N":    fmt.Sprint(params.N),
			"R":    fmt.Sprint(params.R),
			"P":    fmt.Sprint(params.P),
		},
		Bytes: sealed,
	}), nil
}

// ParsePrivateKeyPEM parses a private key written by EncodePrivateKeyPEM
func ParsePrivateKeyPEM(data, passphrase []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	der := block.Bytes
	switch block.Type {
	case pemTypePrivateKey:
	case pemTypeEncryptedPrivateKey:
		if len(passphrase) == 0 {
			return nil, ErrPassphraseRequired
		}
		plain, err := openEncryptedKey(block, passphrase)
		if err != nil {
			return nil, err
		}
		defer zero(plain)
		der = plain
	default:
		return nil, fmt.Errorf("unexpected PEM block %q", block.Type)
	}

	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
	return priv, nil
}

func openEncryptedKey(block *pem.Block, passphrase []byte) ([]byte, error) {
	if block.Headers["KDF"] != "scrypt" {
		return nil, fmt.Errorf("unsupported KDF %q", block.Headers["KDF"])
	}

	salt, err := hex.DecodeString(block.Headers["Salt"])
	if err != nil || len(salt) == 0 {
		return nil, errors.New("invalid salt header")
	}

	params := DefaultScryptParams()
	if _, err := fmt.Sscan(block.Headers["N"], &params.N); err != nil {
		return nil, errors.New("invalid N header")
	}
	if _, err := fmt.Sscan(block.Headers["R"], &params.R); err != nil {
		return nil, errors.New("invalid R header")
	}
	if _, err := fmt.Sscan(block.Headers["P"], &params.P); err != nil {
		return nil, errors.New("invalid P header")
	}

	key, err := scrypt.Key(passphrase, salt, params.N, params.R, params.P, params.KeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	defer zero(key)

	plain, err := DecryptPayload(block.Bytes, key, salt)
	if err != nil {
		return nil, errors.New("wrong passphrase or damaged key file")
	}
	return plain, nil
}

// WriteKeyPair writes the key pair into dir. An existing private key is only
// replaced when overwrite is set.
func WriteKeyPair(dir string, kp *KeyPair, passphrase []byte, overwrite bool) (privPath, pubPath string, err error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", "", fmt.Errorf("failed to create key directory: %w", err)
	}

	privPath = filepath.Join(dir, config.PrivateKeyFileName)
	pubPath = filepath.Join(dir, config.PublicKeyFileName)

	privPEM, err := EncodePrivateKeyPEM(kp.PrivateKey, passphrase, DefaultScryptParams())
	if err != nil {
		return "", "", err
	}
	pubPEM, err := EncodePublicKeyPEM(kp.PublicKey)
	if err != nil {
		return "", "", err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	f, err := os.OpenFile(privPath, flags, config.PrivateKeyPermissions)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", "", fmt.Errorf("%s: %w", privPath, ErrKeyExists)
		}
		return "", "", fmt.Errorf("failed to create private key file: %w", err)
	}
	if _, err := f.Write(privPEM); err != nil {
		_ = f.Close()
		return "", "", fmt.Errorf("failed to write private key: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", "", fmt.Errorf("failed to write private key: %w", err)
	}

	if err := os.WriteFile(pubPath, pubPEM, 0644); err != nil {
		return "", "", fmt.Errorf("failed to write public key: %w", err)
	}

	return privPath, pubPath, nil
}

// LoadPrivateKey reads a private key file written by WriteKeyPair
func LoadPrivateKey(path string, passphrase []byte) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	priv, err := ParsePrivateKeyPEM(data, passphrase)
	if err != nil {
		return nil, err
	}
	return &KeyPair{PrivateKey: priv, PublicKey: &priv.PublicKey}, nil
}

// LoadPublicKey reads a PEM public key file
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	return ParsePublicKeyPEM(data)
}
