package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// EncryptToken encrypts a page access token using AES-GCM with a random
// nonce. Tokens are never looked up by ciphertext (pages are resolved by
// external id), so a fresh nonce per encryption is used.
// Format: Base64(Nonce + Ciphertext + Tag)
func EncryptToken(plaintext, key string) (string, error) {
	if len(key) != 32 {
		return "", fmt.Errorf("key must be exactly 32 bytes (got %d)", len(key))
	}

	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// GCM tag is appended to the ciphertext by Seal
	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	finalPayload := append(nonce, ciphertext...)

	return base64.StdEncoding.EncodeToString(finalPayload), nil
}

// DecryptToken decrypts a base64 encoded string produced by EncryptToken
func DecryptToken(cryptoText, key string) (string, error) {
	if len(key) != 32 {
		return "", fmt.Errorf("key must be exactly 32 bytes")
	}

	data, err := base64.StdEncoding.DecodeString(cryptoText)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("invalid ciphertext length")
	}

	nonce := data[:gcm.NonceSize()]
	ciphertext := data[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
