/**
 * @description
 * This package provides the seal/open capability applied to sensitive fields
 * at the persistence boundary (withdrawal beneficiary and reason, payout
 * beneficiary snapshot and provider payload, recovery payloads). The business
 * logic is agnostic to the cipher; it only requires the transform to be
 * reversible and to fail closed: an unreadable value surfaces an error, it is
 * never silently treated as valid plaintext.
 *
 * Bundle format: "v1:" + base64(nonce || ciphertext). AES-256-GCM with a
 * random 12-byte nonce per value; the GCM tag rides at the end of the
 * ciphertext.
 */

package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const bundlePrefix = "v1:"

var (
	// ErrUnreadableValue is returned when a stored bundle cannot be opened
	// with the configured key. Callers must treat the record as unusable.
	ErrUnreadableValue = errors.New("sealed value is unreadable")
)

// Codec seals and opens string values with a process-wide symmetric key.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a Codec from a 32-byte key supplied as 64 hex characters
// (e.g. `openssl rand -hex 32`).
func NewCodec(hexKey string) (*Codec, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("decode field encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("field encryption key must be 32 bytes (64 hex chars), got %d bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Seal encrypts a plaintext string into a versioned bundle.
func (c *Codec) Seal(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	bundle := append(nonce, sealed...)
	return bundlePrefix + base64.StdEncoding.EncodeToString(bundle), nil
}

// Open decrypts a bundle produced by Seal. Any malformed or tampered input
// returns ErrUnreadableValue.
func (c *Codec) Open(bundle string) (string, error) {
	if !strings.HasPrefix(bundle, bundlePrefix) {
		return "", fmt.Errorf("%w: unsupported format", ErrUnreadableValue)
	}

	raw, err := base64.StdEncoding.DecodeString(bundle[len(bundlePrefix):])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadableValue, err)
	}
	if len(raw) <= c.aead.NonceSize() {
		return "", fmt.Errorf("%w: bundle too short", ErrUnreadableValue)
	}

	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadableValue, err)
	}
	return string(plaintext), nil
}

// SealJSON marshals v and seals the JSON text. Used for structured fields
// like beneficiary snapshots.
func (c *Codec) SealJSON(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal sealed field: %w", err)
	}
	return c.Seal(string(raw))
}

// OpenJSON opens a bundle and unmarshals the plaintext into v.
func (c *Codec) OpenJSON(bundle string, v interface{}) error {
	plain, err := c.Open(bundle)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(plain), v); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadableValue, err)
	}
	return nil
}
