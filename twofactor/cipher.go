package twofactor

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// SecretCipher encrypts TOTP secrets at rest with AES-256-GCM.
type SecretCipher struct {
	aead cipher.AEAD
}

// NewSecretCipher accepts a base64 (standard encoding) 32-byte key.
func NewSecretCipher(encodedKey string) (*SecretCipher, error) {
	if encodedKey == "" {
		return nil, errors.New("twofactor: encryption key not configured")
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("twofactor: invalid encryption key format: %w", err)
	}
	if len(key) != 32 {
		return nil, errors.New("twofactor: encryption key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("twofactor: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("twofactor: create GCM: %w", err)
	}
	return &SecretCipher{aead: aead}, nil
}

// Encrypt seals secret; the output is base64(nonce || ciphertext).
func (c *SecretCipher) Encrypt(secret string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("twofactor: generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(secret), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *SecretCipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("twofactor: invalid ciphertext format: %w", err)
	}
	n := c.aead.NonceSize()
	if len(raw) < n {
		return "", errors.New("twofactor: ciphertext too short")
	}
	plain, err := c.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("twofactor: decrypt: %w", err)
	}
	return string(plain), nil
}
