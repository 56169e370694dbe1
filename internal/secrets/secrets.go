// Package secrets encrypts credentials at rest.
//
// The key is derived once per installation from an identifying string and a
// salt, so the same key is reconstructible across processes without being
// persisted. Stored values are base64(iv || ciphertext); Decrypt degrades to
// pass-through on anything that does not look like one of our ciphertexts,
// which lets plaintext values survive until the migration routine re-encrypts
// them.
package secrets

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	apperrors "github.com/deckward/deckward/internal/errors"
)

const (
	keyLength  = 32
	ivLength   = aes.BlockSize
	iterations = 10000
)

// Service performs symmetric encryption with an installation-derived key.
type Service struct {
	key []byte

	// rand is swapped in tests for deterministic IVs.
	rand io.Reader
}

// NewService derives the installation key and returns a ready service.
func NewService(installationID, salt string) *Service {
	key := pbkdf2.Key([]byte(installationID), []byte(salt), iterations, keyLength, sha256.New)
	return &Service{key: key, rand: rand.Reader}
}

// Encrypt returns base64(iv || AES-256-CBC(plaintext)) with a fresh random
// IV. Encrypting the same plaintext twice yields different ciphertexts.
func (s *Service) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", apperrors.NewEncryptionFailure(err.Error())
	}

	iv := make([]byte, ivLength)
	if _, err := io.ReadFull(s.rand, iv); err != nil {
		return "", apperrors.NewEncryptionFailure(fmt.Sprintf("iv generation: %v", err))
	}

	padded := padPKCS7([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(append(iv, ciphertext...)), nil
}

// Decrypt is total for string input. Empty input returns empty; input that is
// not valid base64, is shorter than the IV, or fails cipher verification is
// returned unchanged and treated as legacy plaintext.
func (s *Service) Decrypt(value string) string {
	if value == "" {
		return ""
	}

	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return value
	}
	if len(raw) < ivLength+aes.BlockSize || (len(raw)-ivLength)%aes.BlockSize != 0 {
		return value
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return value
	}

	iv := raw[:ivLength]
	ciphertext := raw[ivLength:]
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, ok := unpadPKCS7(plaintext, aes.BlockSize)
	if !ok {
		return value
	}
	return string(unpadded)
}

// IsEncrypted reports whether a value looks like one of our ciphertexts:
// valid base64, long enough to hold an IV plus one block, and decryptable to
// valid padding.
func (s *Service) IsEncrypted(value string) bool {
	if value == "" {
		return false
	}

	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return false
	}
	if len(raw) < ivLength+aes.BlockSize || (len(raw)-ivLength)%aes.BlockSize != 0 {
		return false
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return false
	}

	iv := raw[:ivLength]
	ciphertext := raw[ivLength:]
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	_, ok := unpadPKCS7(plaintext, aes.BlockSize)
	return ok
}

func padPKCS7(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func unpadPKCS7(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}

	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, false
		}
	}
	return data[:len(data)-padding], true
}
