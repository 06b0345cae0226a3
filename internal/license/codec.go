package license

import (
	"bytes"
	"crypto/rsa"
	"encoding/binary"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"

	"licensor/internal/config"
	licerrors "licensor/internal/errors"
	"licensor/internal/security"
)

// FormatVersion is the only license file layout this build reads and writes
const FormatVersion uint16 = 1

// ArmorType is the PEM block type of an ASCII-armored license file
const ArmorType = "LICENSE FILE"

// fileMagic opens every binary license file
var fileMagic = []byte{'L', 'I', 'C', 'F'}

// Field tags. Each field is encoded as tag(1) | length(4, big endian) | value.
const (
	tagEncryptionAlgorithm byte = 1
	tagSignatureAlgorithm  byte = 2
	tagCiphertext          byte = 3
	tagSignature           byte = 4
)

const (
	headerSize   = 4 + 2
	fieldHdrSize = 1 + 4
)

// SignedLicense is a parsed license file. Nothing in it is trusted until
// Verify succeeds.
type SignedLicense struct {
	FormatVersion       uint16
	EncryptionAlgorithm security.EncryptionAlgorithm
	SignatureAlgorithm  security.SignatureAlgorithm
	Ciphertext          []byte
	Signature           []byte
}

// Encode seals the payload for its machine and signs the ciphertext with
// the vendor key. The result is the binary license file.
func Encode(payload *Payload, kp *security.KeyPair, secret []byte) ([]byte, error) {
	if kp == nil || kp.PrivateKey == nil {
		return nil, errors.New("encode: signing key required")
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode: failed to marshal payload: %w", err)
	}

	key, err := security.DerivePayloadKey(payload.MachineID, secret)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	sl := &SignedLicense{
		FormatVersion:       FormatVersion,
		EncryptionAlgorithm: security.EncryptionAES256GCM,
		SignatureAlgorithm:  security.SignatureRSAPSSSHA256,
	}

	sl.Ciphertext, err = security.EncryptPayload(plaintext, key, sl.header())
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	sl.Signature, err = security.Sign(kp.PrivateKey, sl.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	return sl.Marshal(), nil
}

// Decode parses a binary or armored license file. Only structure is checked
// here; no cryptographic operation runs.
func Decode(data []byte) (*SignedLicense, error) {
	if looksArmored(data) {
		raw, err := Unarmor(data)
		if err != nil {
			return nil, corrupted(err)
		}
		data = raw
	}

	if len(data) < config.MinLicenseFileSize || len(data) > config.MaxLicenseFileSize {
		return nil, corrupted(fmt.Errorf("size %d outside [%d, %d]",
			len(data), config.MinLicenseFileSize, config.MaxLicenseFileSize))
	}
	if !bytes.Equal(data[:len(fileMagic)], fileMagic) {
		return nil, corrupted(errors.New("not a license file"))
	}

	sl := &SignedLicense{FormatVersion: binary.BigEndian.Uint16(data[4:headerSize])}
	if sl.FormatVersion != FormatVersion {
		return nil, corrupted(fmt.Errorf("unsupported format version %d", sl.FormatVersion))
	}

	seen := make(map[byte]bool, 4)
	rest := data[headerSize:]
	for len(rest) > 0 {
		if len(rest) < fieldHdrSize {
			return nil, corrupted(errors.New("truncated field header"))
		}
		tag := rest[0]
		n := binary.BigEndian.Uint32(rest[1:fieldHdrSize])
		rest = rest[fieldHdrSize:]
		if uint64(n) > uint64(len(rest)) {
			return nil, corrupted(fmt.Errorf("field %d length %d exceeds remaining %d", tag, n, len(rest)))
		}
		value := rest[:n]
		rest = rest[n:]

		if seen[tag] {
			return nil, corrupted(fmt.Errorf("duplicate field %d", tag))
		}
		seen[tag] = true

		switch tag {
		case tagEncryptionAlgorithm:
			if len(value) != 1 {
				return nil, corrupted(errors.New("bad encryption algorithm field"))
			}
			sl.EncryptionAlgorithm = security.EncryptionAlgorithm(value[0])
		case tagSignatureAlgorithm:
			if len(value) != 1 {
				return nil, corrupted(errors.New("bad signature algorithm field"))
			}
			sl.SignatureAlgorithm = security.SignatureAlgorithm(value[0])
		case tagCiphertext:
			sl.Ciphertext = append([]byte(nil), value...)
		case tagSignature:
			sl.Signature = append([]byte(nil), value...)
		default:
			// Fields added by later minor revisions are skipped
		}
	}

	for _, tag := range []byte{tagEncryptionAlgorithm, tagSignatureAlgorithm, tagCiphertext, tagSignature} {
		if !seen[tag] {
			return nil, corrupted(fmt.Errorf("missing field %d", tag))
		}
	}
	if sl.EncryptionAlgorithm != security.EncryptionAES256GCM {
		return nil, corrupted(fmt.Errorf("unsupported encryption algorithm %d", sl.EncryptionAlgorithm))
	}
	if sl.SignatureAlgorithm != security.SignatureRSAPSSSHA256 {
		return nil, corrupted(fmt.Errorf("unsupported signature algorithm %d", sl.SignatureAlgorithm))
	}
	if len(sl.Ciphertext) == 0 || len(sl.Signature) == 0 {
		return nil, corrupted(errors.New("empty ciphertext or signature"))
	}

	return sl, nil
}

// Marshal returns the canonical binary encoding
func (sl *SignedLicense) Marshal() []byte {
	var buf bytes.Buffer
	buf.Grow(headerSize + 4*fieldHdrSize + 2 + len(sl.Ciphertext) + len(sl.Signature))
	buf.Write(sl.preamble())
	writeField(&buf, tagEncryptionAlgorithm, []byte{byte(sl.EncryptionAlgorithm)})
	writeField(&buf, tagSignatureAlgorithm, []byte{byte(sl.SignatureAlgorithm)})
	writeField(&buf, tagCiphertext, sl.Ciphertext)
	writeField(&buf, tagSignature, sl.Signature)
	return buf.Bytes()
}

// Verify checks the vendor signature over the ciphertext
func (sl *SignedLicense) Verify(pub *rsa.PublicKey) error {
	if !security.Verify(pub, sl.Ciphertext, sl.Signature) {
		return licerrors.NewLicenseError(licerrors.CategorySignatureInvalid, "verify", nil)
	}
	return nil
}

// Open decrypts the payload with the key of the given machine. Call only
// after Verify: a ciphertext that is authentic but will not open means the
// license was issued for a different machine.
func (sl *SignedLicense) Open(machineID string, secret []byte) (*Payload, error) {
	key, err := security.DerivePayloadKey(machineID, secret)
	if err != nil {
		return nil, licerrors.NewLicenseError(licerrors.CategoryInternal, "open", err)
	}

	plaintext, err := security.DecryptPayload(sl.Ciphertext, key, sl.header())
	if err != nil {
		return nil, licerrors.NewLicenseError(licerrors.CategoryHardwareMismatch, "open", err)
	}

	var p Payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, licerrors.NewLicenseError(licerrors.CategoryPayloadCorrupted, "open", err)
	}
	if err := p.Validate(); err != nil {
		return nil, licerrors.NewLicenseError(licerrors.CategoryPayloadCorrupted, "open", err)
	}
	if p.MachineID != machineID {
		return nil, licerrors.NewLicenseError(licerrors.CategoryHardwareMismatch, "open",
			errors.New("payload machine id differs"))
	}

	return &p, nil
}

// header is the additional authenticated data for the payload cipher. It
// binds the algorithm fields to the ciphertext.
func (sl *SignedLicense) header() []byte {
	h := sl.preamble()
	return append(h, byte(sl.EncryptionAlgorithm), byte(sl.SignatureAlgorithm))
}

func (sl *SignedLicense) preamble() []byte {
	h := make([]byte, headerSize, headerSize+2)
	copy(h, fileMagic)
	binary.BigEndian.PutUint16(h[4:], sl.FormatVersion)
	return h
}

func writeField(buf *bytes.Buffer, tag byte, value []byte) {
	var hdr [fieldHdrSize]byte
	hdr[0] = tag
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(value)))
	buf.Write(hdr[:])
	buf.Write(value)
}

// Armor wraps a binary license file in a PEM block for text transport
func Armor(data []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:    ArmorType,
		Headers: map[string]string{"Format-Version": fmt.Sprint(FormatVersion)},
		Bytes:   data,
	})
}

// Unarmor extracts the binary license file from a PEM block
func Unarmor(data []byte) ([]byte, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if block.Type != ArmorType {
		return nil, fmt.Errorf("unexpected PEM block %q", block.Type)
	}
	return block.Bytes, nil
}

func looksArmored(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN "))
}

func corrupted(err error) error {
	return licerrors.NewLicenseError(licerrors.CategoryPayloadCorrupted, "decode", err)
}
