// Package crypto provides the column encryptor used for PHI at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// KeySize is the required key length in bytes (AES-256).
const KeySize = 32

// formatV1 prefixes every ciphertext so the layout can change later.
const formatV1 byte = 1

var (
	ErrKeySize    = errors.New("crypto: key must be 32 bytes")
	ErrCiphertext = errors.New("crypto: malformed ciphertext")
)

// AESGCM implements ports.ColumnEncryptor with AES-256-GCM. Each value is
// stored as version byte, random nonce and sealed data.
type AESGCM struct {
	aead cipher.AEAD
	rand io.Reader
}

// NewAESGCM creates an encryptor from a raw 32-byte key.
func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	return &AESGCM{aead: aead, rand: rand.Reader}, nil
}

// ParseKey decodes a base64 key as found in configuration.
func ParseKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("crypto: decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	return key, nil
}

// Encrypt seals plaintext. Nil stays nil so optional columns remain NULL.
func (c *AESGCM) Encrypt(plaintext []byte) ([]byte, error) {
	if plaintext == nil {
		return nil, nil
	}
	nonceSize := c.aead.NonceSize()
	out := make([]byte, 1+nonceSize, 1+nonceSize+len(plaintext)+c.aead.Overhead())
	out[0] = formatV1
	if _, err := io.ReadFull(c.rand, out[1:]); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	return c.aead.Seal(out, out[1:], plaintext, nil), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *AESGCM) Decrypt(ciphertext []byte) ([]byte, error) {
	if ciphertext == nil {
		return nil, nil
	}
	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < 1+nonceSize+c.aead.Overhead() || ciphertext[0] != formatV1 {
		return nil, ErrCiphertext
	}
	nonce := ciphertext[1 : 1+nonceSize]
	plain, err := c.aead.Open(nil, nonce, ciphertext[1+nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	if plain == nil {
		plain = []byte{}
	}
	return plain, nil
}
