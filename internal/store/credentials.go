// ABOUTME: Encryption at rest for agent API keys using XChaCha20-Poly1305
// ABOUTME: Keys are derived from an operator passphrase with HKDF-SHA256

package store

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const sealedPrefix = "sealed:v1:"

// ErrCredentialTampered is returned when a sealed credential fails authentication
var ErrCredentialTampered = errors.New("sealed credential failed authentication")

// CredentialSealer encrypts and decrypts agent API keys.
// A nil *CredentialSealer stores credentials as plaintext.
type CredentialSealer struct {
	aead cipher.AEAD
}

// NewCredentialSealer derives a sealing key from passphrase.
func NewCredentialSealer(passphrase string) (*CredentialSealer, error) {
	if passphrase == "" {
		return nil, errors.New("credential passphrase is empty")
	}

	kdf := hkdf.New(sha256.New, []byte(passphrase), nil, []byte("agentmix credential sealing v1"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("deriving sealing key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return &CredentialSealer{aead: aead}, nil
}

// Seal encrypts plaintext. Empty input stays empty.
func (c *CredentialSealer) Seal(plaintext string) (string, error) {
	if c == nil || plaintext == "" {
		return plaintext, nil
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Values without the sealed prefix
// are returned unchanged so plaintext rows written before sealing was
// enabled keep working.
func (c *CredentialSealer) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	if c == nil {
		return "", errors.New("credential is sealed but no credential key is configured")
	}

	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decoding sealed credential: %w", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", ErrCredentialTampered
	}

	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrCredentialTampered
	}
	return string(plaintext), nil
}
