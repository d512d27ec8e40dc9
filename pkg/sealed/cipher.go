// Package sealed provides the at-rest encryption capability consumed by the
// transactional writer. Key management stays behind the Cipher interface; the
// engine only ever sees opaque encrypt/decrypt operations.
package sealed

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// ErrNoKey is returned when a sensitive key must be written or read but no
// encryption key is loaded. The writer treats this as a hard failure; data
// for sensitive keys is never stored in plaintext.
var ErrNoKey = errors.New("sealed: no encryption key available")

// ErrDecrypt is returned when a ciphertext fails authentication.
var ErrDecrypt = errors.New("sealed: decryption failed")

// magic prefixes every sealed payload so reads can distinguish ciphertext
// from legacy plaintext.
var magic = []byte("LSE1")

// Cipher is the encryption capability.
type Cipher interface {
	// IsSensitive reports whether values under key must be encrypted at rest.
	IsSensitive(key string) bool
	// HasKey reports whether encryption material is loaded.
	HasKey() bool
	// Encrypt seals plaintext.
	Encrypt(plaintext []byte) ([]byte, error)
	// Decrypt opens a sealed payload.
	Decrypt(ciphertext []byte) ([]byte, error)
}

// IsSealed reports whether data carries the sealed payload prefix.
func IsSealed(data []byte) bool {
	if len(data) < len(magic) {
		return false
	}
	for i := range magic {
		if data[i] != magic[i] {
			return false
		}
	}
	return true
}

// AESGCM is an AES-256-GCM Cipher with a static set of sensitive keys.
type AESGCM struct {
	aead      cipher.AEAD
	sensitive map[string]bool
}

// NewAESGCM creates a cipher from a 32-byte key. A nil key yields a cipher
// with no material: IsSensitive still answers, but Encrypt/Decrypt fail with
// ErrNoKey.
func NewAESGCM(key []byte, sensitiveKeys []string) (*AESGCM, error) {
	c := &AESGCM{sensitive: make(map[string]bool, len(sensitiveKeys))}
	for _, k := range sensitiveKeys {
		c.sensitive[k] = true
	}
	if key == nil {
		return c, nil
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("sealed: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("sealed: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sealed: %w", err)
	}
	c.aead = aead
	return c, nil
}

// IsSensitive implements Cipher.
func (c *AESGCM) IsSensitive(key string) bool { return c.sensitive[key] }

// HasKey implements Cipher.
func (c *AESGCM) HasKey() bool { return c.aead != nil }

// Encrypt implements Cipher. Output is magic || nonce || ciphertext.
func (c *AESGCM) Encrypt(plaintext []byte) ([]byte, error) {
	if c.aead == nil {
		return nil, ErrNoKey
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("sealed: nonce generation failed: %w", err)
	}
	out := make([]byte, 0, len(magic)+len(nonce)+len(plaintext)+c.aead.Overhead())
	out = append(out, magic...)
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, plaintext, nil), nil
}

// Decrypt implements Cipher.
func (c *AESGCM) Decrypt(data []byte) ([]byte, error) {
	if c.aead == nil {
		return nil, ErrNoKey
	}
	if !IsSealed(data) {
		return nil, fmt.Errorf("%w: missing payload prefix", ErrDecrypt)
	}
	data = data[len(magic):]
	ns := c.aead.NonceSize()
	if len(data) < ns {
		return nil, fmt.Errorf("%w: truncated payload", ErrDecrypt)
	}
	plaintext, err := c.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

// Noop is a Cipher that marks nothing sensitive. Used when encryption is not
// configured.
type Noop struct{}

// IsSensitive implements Cipher.
func (Noop) IsSensitive(string) bool { return false }

// HasKey implements Cipher.
func (Noop) HasKey() bool { return false }

// Encrypt implements Cipher.
func (Noop) Encrypt([]byte) ([]byte, error) { return nil, ErrNoKey }

// Decrypt implements Cipher.
func (Noop) Decrypt([]byte) ([]byte, error) { return nil, ErrNoKey }
