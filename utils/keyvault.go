// utils/keyvault.go
package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/scrypt"
)

// Scrypt parameters for deriving the sealing key from the process secret.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32

	saltLen = 16
)

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed: authentication error")
)

// KeyVault seals and opens private key material with AES-256-GCM keyed by a
// process-wide secret. Each ciphertext carries its own scrypt salt, so the
// stored blob is self-contained: salt (16) + nonce (12) + sealed key.
type KeyVault struct {
	secret []byte
}

func NewKeyVault(secret string) *KeyVault {
	return &KeyVault{secret: []byte(secret)}
}

// Seal encrypts plaintext key material. Plaintext is never persisted.
func (v *KeyVault) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	gcm, err := v.cipherFor(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := append(salt, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Open decrypts a blob produced by Seal. Callers must treat the returned key
// as scoped to the current operation and zero it when done.
func (v *KeyVault) Open(blob []byte) ([]byte, error) {
	if len(blob) < saltLen {
		return nil, ErrInvalidCiphertext
	}
	salt := blob[:saltLen]

	gcm, err := v.cipherFor(salt)
	if err != nil {
		return nil, err
	}

	rest := blob[saltLen:]
	if len(rest) < gcm.NonceSize() {
		return nil, ErrInvalidCiphertext
	}

	nonce := rest[:gcm.NonceSize()]
	plaintext, err := gcm.Open(nil, nonce, rest[gcm.NonceSize():], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func (v *KeyVault) cipherFor(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(v.secret, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// ZeroBytes wipes key material in place after use.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
