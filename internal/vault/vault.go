// Package vault seals and opens refresh credentials at rest.
//
// A sealed blob is base64(nonce[12] || ciphertext || tag) produced by
// AES-256-GCM. The key is the first 32 bytes of the configured secret,
// zero-padded when the secret is shorter. Existing rows depend on this
// exact layout.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	// NonceSize is the GCM nonce length stored at the front of every blob.
	NonceSize = 12
)

var (
	// ErrDecryptionFailure means the blob did not authenticate: corrupted
	// data, a wrong key or tampering.
	ErrDecryptionFailure = errors.New("decryption failure")
	// ErrMissingKey means no encryption secret was configured.
	ErrMissingKey = errors.New("encryption key is not configured")
)

// Vault seals secrets with a process-wide key.
type Vault struct {
	key []byte
}

// New creates a vault from raw key material. Missing key material is
// reported by Seal and Open, not here.
func New(keyMaterial string) *Vault {
	if keyMaterial == "" {
		return &Vault{}
	}
	return &Vault{key: deriveKey([]byte(keyMaterial))}
}

// Configured reports whether key material was supplied.
func (v *Vault) Configured() bool {
	return v.key != nil
}

// Seal encrypts plaintext under a fresh random nonce.
func (v *Vault) Seal(plaintext string) (string, error) {
	if v.key == nil {
		return "", ErrMissingKey
	}
	return Seal(plaintext, v.key)
}

// Open reverses Seal.
func (v *Vault) Open(blob string) (string, error) {
	if v.key == nil {
		return "", ErrMissingKey
	}
	return Open(blob, v.key)
}

// Seal encrypts plaintext with keyMaterial and returns the base64 blob.
func Seal(plaintext string, keyMaterial []byte) (string, error) {
	aead, err := newGCM(keyMaterial)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// nonce || ciphertext || tag
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a blob produced by Seal. Any malformed or unauthenticated
// input yields ErrDecryptionFailure.
func Open(blob string, keyMaterial []byte) (string, error) {
	aead, err := newGCM(keyMaterial)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: invalid encoding", ErrDecryptionFailure)
	}
	if len(raw) < NonceSize+aead.Overhead() {
		return "", fmt.Errorf("%w: blob too short", ErrDecryptionFailure)
	}

	plaintext, err := aead.Open(nil, raw[:NonceSize], raw[NonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailure
	}
	return string(plaintext), nil
}

func newGCM(keyMaterial []byte) (cipher.AEAD, error) {
	if len(keyMaterial) == 0 {
		return nil, ErrMissingKey
	}
	block, err := aes.NewCipher(deriveKey(keyMaterial))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

// deriveKey truncates or zero-pads keyMaterial to KeySize.
func deriveKey(keyMaterial []byte) []byte {
	key := make([]byte, KeySize)
	copy(key, keyMaterial)
	return key
}
