// Package secrets provides symmetric encryption for credentials at rest.
//
// OAuth access and refresh tokens are sealed with AES-256-GCM before they
// reach the database and opened again only inside the engine. Nothing outside
// this package handles the raw key material.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// KeySize is the required key length in bytes (AES-256).
const KeySize = 32

// ErrDecryption indicates a ciphertext could not be opened: the payload was
// tampered with, truncated, or sealed under a different key. Callers must not
// try to distinguish these cases.
var ErrDecryption = errors.New("secrets: decryption failed")

// ErrInvalidKey indicates the configured key is not 32 bytes.
var ErrInvalidKey = errors.New("secrets: key must be exactly 32 bytes")

// Encryptor seals and opens secret values using AES-256-GCM.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor builds an Encryptor from a raw 256-bit key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// Encrypt seals a plaintext value and returns an opaque base64 blob.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	// GCM requires a unique nonce per sealing under the same key.
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	ciphertext := e.aead.Seal(nil, nonce, []byte(plaintext), nil)
	// Stored as nonce || ciphertext, base64-encoded.
	payload := append(nonce, ciphertext...)
	return base64.StdEncoding.EncodeToString(payload), nil
}

// Decrypt opens a blob produced by Encrypt. Any tampering or key mismatch
// yields ErrDecryption.
func (e *Encryptor) Decrypt(blob string) (string, error) {
	payload, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	nonceSize := e.aead.NonceSize()
	if len(payload) < nonceSize {
		return "", fmt.Errorf("%w: payload too short", ErrDecryption)
	}
	nonce := payload[:nonceSize]
	ciphertext := payload[nonceSize:]

	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return string(plaintext), nil
}

// GenerateToken returns n cryptographically random bytes encoded as
// unpadded base64url, suitable for state nonces and PKCE verifiers.
func GenerateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Equal compares two strings in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
