package audit

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"argus/core"
)

var (
	// ErrInvalidKeySize is returned when the encryption key is not 32 bytes
	ErrInvalidKeySize = errors.New("encryption key must be 32 bytes")
	// ErrCiphertextTooShort is returned when a ciphertext is shorter than
	// its nonce prefix
	ErrCiphertextTooShort = errors.New("ciphertext shorter than nonce")
)

// fieldCipher encrypts individual detail fields with ChaCha20-Poly1305.
// Every encryption draws a fresh random nonce, stored as a prefix of the
// base64 ciphertext, so identical plaintexts never produce identical
// ciphertexts.
type fieldCipher struct {
	key []byte
}

func newFieldCipher(key []byte) (*fieldCipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKeySize
	}
	return &fieldCipher{key: key}, nil
}

// Encrypt seals a field value and returns base64(nonce || ciphertext)
func (c *fieldCipher) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt
func (c *fieldCipher) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return "", ErrCiphertextTooShort
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// ComputeIntegrity returns the SHA-256 digest of the event's canonical JSON
// with the Integrity field blanked. It runs after redaction and encryption,
// so verification never needs the encryption key.
func ComputeIntegrity(event *core.AuditEvent) (string, error) {
	shadow := *event
	shadow.Integrity = ""

	data, err := json.Marshal(&shadow)
	if err != nil {
		return "", fmt.Errorf("failed to serialize event for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyIntegrity recomputes the event hash and compares it against the
// stored one. A mismatch is reported, never repaired.
func VerifyIntegrity(event *core.AuditEvent) (bool, error) {
	if event.Integrity == "" {
		return false, errors.New("event has no integrity hash")
	}
	expected, err := ComputeIntegrity(event)
	if err != nil {
		return false, err
	}
	return expected == event.Integrity, nil
}
