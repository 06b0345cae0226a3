package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF info strings separate the keys derived from the same vendor secret
const (
	payloadKeyInfo = "licensor/payload/v1"
	recordKeyInfo  = "licensor/activation-record/v1"
	ledgerKeyInfo  = "licensor/grace-ledger/v1"

	// ledgerSalt stands in for the MachineId: the ledger must stay readable
	// after the hardware changes
	ledgerSalt = "grace-ledger"
)

// PayloadKeySize is the AES-256 key length
const PayloadKeySize = 32

// ErrDecryptionFailed hides the reason a ciphertext was rejected
var ErrDecryptionFailed = errors.New("decryption failed")

// DerivePayloadKey derives the license payload key from the MachineId and
// the vendor secret, so only the machine the license names can decrypt it.
func DerivePayloadKey(machineID string, secret []byte) ([]byte, error) {
	return deriveKey(secret, machineID, payloadKeyInfo)
}

// DeriveRecordKey derives the HMAC key sealing a persisted activation record
func DeriveRecordKey(machineID string, secret []byte) ([]byte, error) {
	return deriveKey(secret, machineID, recordKeyInfo)
}

// DeriveLedgerKey derives the HMAC key sealing the grace ledger
func DeriveLedgerKey(secret []byte) ([]byte, error) {
	return deriveKey(secret, ledgerSalt, ledgerKeyInfo)
}

func deriveKey(secret []byte, machineID, info string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("vendor secret is empty")
	}
	if machineID == "" {
		return nil, errors.New("machine id is empty")
	}

	key := make([]byte, PayloadKeySize)
	r := hkdf.New(sha256.New, secret, []byte(machineID), []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}

// EncryptPayload seals plaintext with AES-256-GCM under a fresh random
// nonce. The result is nonce || ciphertext || tag. aad is authenticated but
// not encrypted.
func EncryptPayload(plaintext, key, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize(), gcm.NonceSize()+len(plaintext)+gcm.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

// DecryptPayload is the inverse of EncryptPayload. Any failure, including a
// wrong key or a modified byte, returns ErrDecryptionFailed.
func DecryptPayload(ciphertext, key, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	if len(ciphertext) < gcm.NonceSize()+gcm.Overhead() {
		return nil, ErrDecryptionFailed
	}

	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != PayloadKeySize {
		return nil, fmt.Errorf("invalid key length %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// zero overwrites key material that is no longer needed
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
