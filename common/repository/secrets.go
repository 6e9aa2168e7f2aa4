package repository

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

const saltLength = 16

// SecretBox encrypts environment variable values with AES-256-GCM. Each
// value gets its own random salt; the salt and the master key derive the
// per-value key, so rotating one variable never re-keys the rest.
type SecretBox struct {
	masterKey []byte
}

// NewSecretBox builds a box from the configured secrets key.
func NewSecretBox(masterKey string) (*SecretBox, error) {
	if masterKey == "" {
		return nil, errors.New("secrets key must not be empty")
	}
	return &SecretBox{masterKey: []byte(masterKey)}, nil
}

func (b *SecretBox) deriveKey(salt []byte) []byte {
	h := sha256.New()
	h.Write(b.masterKey)
	h.Write(salt)
	return h.Sum(nil)
}

// Seal encrypts plaintext and returns the fresh salt and the ciphertext.
// The GCM nonce is prepended to the ciphertext.
func (b *SecretBox) Seal(plaintext []byte) (salt, ciphertext []byte, err error) {
	salt = make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, nil, fmt.Errorf("generate salt: %w", err)
	}
	gcm, err := b.aead(salt)
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext = gcm.Seal(nonce, nonce, plaintext, nil)
	return salt, ciphertext, nil
}

// Open decrypts a sealed value using its stored salt.
func (b *SecretBox) Open(ciphertext, salt []byte) ([]byte, error) {
	gcm, err := b.aead(salt)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed value: %w", err)
	}
	return plaintext, nil
}

func (b *SecretBox) aead(salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(b.deriveKey(salt))
	if err != nil {
		return nil, fmt.Errorf("build cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
