// Package crypto encrypts database connection strings kept in the query catalog.
//
// A sealed connection string is "v1:" followed by base64(nonce || ciphertext || tag).
// The lower-cased database name is authenticated with it, so a sealed value copied to a
// different database entry fails to open.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const sealedPrefix = "v1:"

var (
	// ErrInvalidKey is returned when the credentials key is empty.
	ErrInvalidKey = errors.New("invalid credentials key: must not be empty")
	// ErrDecryptionFailed is returned when a sealed value cannot be opened with the key and database name.
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext, wrong key or wrong database")
)

// CredentialEncryptor seals connection strings with AES-256-GCM.
type CredentialEncryptor struct {
	gcm cipher.AEAD
}

// NewCredentialEncryptor creates an encryptor from CREDENTIALS_KEY. A base64 value decoding to
// 32 bytes is used as the key; anything else is treated as a passphrase and hashed with SHA-256.
func NewCredentialEncryptor(keyInput string) (*CredentialEncryptor, error) {
	if keyInput == "" {
		return nil, ErrInvalidKey
	}

	key := deriveKey(keyInput)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &CredentialEncryptor{gcm: gcm}, nil
}

func deriveKey(input string) []byte {
	if decoded, err := base64.StdEncoding.DecodeString(input); err == nil && len(decoded) == 32 {
		return decoded
	}
	sum := sha256.Sum256([]byte(input))
	return sum[:]
}

// Seal encrypts the connection string of database.
func (e *CredentialEncryptor) Seal(database, connString string) (string, error) {
	if connString == "" {
		return "", errors.New("connection string is empty")
	}

	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := e.gcm.Seal(nonce, nonce, []byte(connString), associatedData(database))
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal for the same database.
func (e *CredentialEncryptor) Open(database, sealed string) (string, error) {
	encoded, ok := strings.CutPrefix(strings.TrimSpace(sealed), sealedPrefix)
	if !ok {
		return "", fmt.Errorf("%w: missing %q prefix", ErrDecryptionFailed, sealedPrefix)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode failed", ErrDecryptionFailed)
	}

	nonceSize := e.gcm.NonceSize()
	if len(data) < nonceSize+e.gcm.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	plain, err := e.gcm.Open(nil, data[:nonceSize], data[nonceSize:], associatedData(database))
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}
	return string(plain), nil
}

// Database names are case-insensitive in the catalog.
func associatedData(database string) []byte {
	return []byte(strings.ToLower(database))
}
