// Package fieldcrypt is the boundary to the external field-encryption
// service. The governance core treats identity fields as opaque ciphertext at
// rest and only decrypts in memory for the comparisons matching needs; it
// never logs or persists decrypted values.
package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// Codec encrypts and decrypts opaque byte blobs. It has no knowledge of
// access control.
type Codec interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AESGCM is a Codec backed by AES-256-GCM with a random nonce prefix.
type AESGCM struct {
	aead cipher.AEAD
}

// NewAESGCM builds a codec from a 32-byte key.
func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("fieldcrypt: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: %w", err)
	}
	return &AESGCM{aead: aead}, nil
}

func (c *AESGCM) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("fieldcrypt: nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *AESGCM) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < c.aead.NonceSize() {
		return nil, errors.New("fieldcrypt: ciphertext too short")
	}
	nonce, sealed := ciphertext[:c.aead.NonceSize()], ciphertext[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.New("fieldcrypt: decryption failed")
	}
	return plaintext, nil
}

// Plain is a pass-through Codec for tests. Never wire it in production paths.
type Plain struct{}

func (Plain) Encrypt(plaintext []byte) ([]byte, error)  { return plaintext, nil }
func (Plain) Decrypt(ciphertext []byte) ([]byte, error) { return ciphertext, nil }
