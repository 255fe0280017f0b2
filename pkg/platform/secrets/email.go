// Package secrets protects identifiers at rest: emails are stored as AES-256-GCM
// ciphertext and looked up through a keyed HMAC-SHA256 blind index.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrInvalidKey        = errors.New("key must decode to 32 bytes")
	ErrInvalidCiphertext = errors.New("ciphertext is too short or corrupted")
	ErrEmptyEmail        = errors.New("email is empty")
)

// EmailProtector encrypts emails and derives their blind index.
// The blind index key must differ from the encryption key.
type EmailProtector struct {
	aead     cipher.AEAD
	indexKey []byte
}

// NewEmailProtector builds a protector from two base64 encoded 32-byte keys.
func NewEmailProtector(encryptionKeyB64, indexKeyB64 string) (*EmailProtector, error) {
	encKey, err := decodeKey(encryptionKeyB64)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	indexKey, err := decodeKey(indexKeyB64)
	if err != nil {
		return nil, fmt.Errorf("blind index key: %w", err)
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &EmailProtector{aead: aead, indexKey: indexKey}, nil
}

func decodeKey(b64 string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// Normalize lowercases and trims an email so equal addresses index equally.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Encrypt returns nonce||ciphertext for the normalized email.
func (p *EmailProtector) Encrypt(email string) ([]byte, error) {
	email = Normalize(email)
	if email == "" {
		return nil, ErrEmptyEmail
	}
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return p.aead.Seal(nonce, nonce, []byte(email), nil), nil
}

// Decrypt reverses Encrypt.
func (p *EmailProtector) Decrypt(ciphertext []byte) (string, error) {
	nonceSize := p.aead.NonceSize()
	if len(ciphertext) <= nonceSize {
		return "", ErrInvalidCiphertext
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := p.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// BlindIndex is the hex HMAC-SHA256 of the normalized email.
func (p *EmailProtector) BlindIndex(email string) string {
	mac := hmac.New(sha256.New, p.indexKey)
	mac.Write([]byte(Normalize(email)))
	return hex.EncodeToString(mac.Sum(nil))
}

// GenerateKey returns a random base64 encoded 32-byte key.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
