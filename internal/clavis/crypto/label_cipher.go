// Package crypto encrypts tag labels at rest with AES-256-GCM under a
// locally persisted key. Labels are the only plaintext the system holds
// about people, so they never touch the database unencrypted.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	// KeySize is the raw AES-256 key length.
	KeySize = 32

	// NonceSize is the GCM nonce length; each blob carries its own.
	NonceSize = 12
)

// ErrDecrypt is returned for any blob that cannot be authenticated and
// opened: truncated, corrupted, or sealed under a different key. Callers
// treat it as "label unknown", never as fatal.
var ErrDecrypt = errors.New("label decrypt failed")

// LabelCipher seals and opens label blobs. The blob layout is
// nonce || ciphertext || tag, with no associated data, so a blob is not
// bound to the record that references it.
type LabelCipher struct {
	aead cipher.AEAD
}

// Load reads the raw 32-byte key at path, generating and persisting a
// fresh one (mode 0600) when the file does not exist yet. Blobs are never
// re-encrypted: losing the key file means losing every stored label.
func Load(path string) (*LabelCipher, error) {
	key, err := loadOrCreateKey(path)
	if err != nil {
		return nil, err
	}
	return New(key)
}

// New builds a LabelCipher from a raw 32-byte key. Tests use this
// directly; production callers go through Load.
func New(key []byte) (*LabelCipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("label key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init label cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init label cipher: %w", err)
	}
	return &LabelCipher{aead: aead}, nil
}

// Encrypt seals label under a fresh random nonce.
func (c *LabelCipher) Encrypt(label string) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, []byte(label), nil), nil
}

// Decrypt opens a blob produced by Encrypt.
func (c *LabelCipher) Decrypt(blob []byte) (string, error) {
	if len(blob) < NonceSize {
		return "", ErrDecrypt
	}
	nonce, ciphertext := blob[:NonceSize], blob[NonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}

func loadOrCreateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != KeySize {
			return nil, fmt.Errorf("key file %s holds %d bytes, want %d", path, len(key), KeySize)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	key = make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate label key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("mkdir key dir: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return key, nil
}
