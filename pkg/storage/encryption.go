package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/raterudder/fleetproxy/pkg/log"
	"github.com/raterudder/fleetproxy/pkg/types"
)

// Cipher encrypts refresh tokens at rest with AES-256-GCM.
type Cipher struct {
	gcm cipher.AEAD
}

// NewCipher returns a Cipher for a 32 byte key.
func NewCipher(key string) (*Cipher, error) {
	if key == "" {
		return nil, errors.New("no encryption key configured")
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key length %d (must be 32 bytes)", len(key))
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return &Cipher{gcm: gcm}, nil
}

// Seal encrypts plaintext, prefixing the random nonce.
func (c *Cipher) Seal(ctx context.Context, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to generate nonce", slog.Any("error", err))
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts what Seal produced.
func (c *Cipher) Open(ctx context.Context, sealed []byte) ([]byte, error) {
	if len(sealed) < c.gcm.NonceSize() {
		log.Ctx(ctx).ErrorContext(ctx, "malformed encrypted data", slog.Int("length", len(sealed)))
		return nil, errors.New("malformed encrypted data")
	}
	nonce, ciphertext := sealed[:c.gcm.NonceSize()], sealed[c.gcm.NonceSize():]
	plaintext, err := c.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decrypt", slog.Any("error", err))
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// sealCredentials moves the refresh token into EncryptedRefreshToken. A nil
// Cipher leaves the credentials untouched.
func sealCredentials(ctx context.Context, c *Cipher, creds types.Credentials) (types.Credentials, error) {
	if c == nil || creds.RefreshToken == "" {
		return creds, nil
	}
	sealed, err := c.Seal(ctx, []byte(creds.RefreshToken))
	if err != nil {
		return types.Credentials{}, err
	}
	creds.EncryptedRefreshToken = sealed
	creds.RefreshToken = ""
	return creds, nil
}

// openCredentials reverses sealCredentials.
func openCredentials(ctx context.Context, c *Cipher, creds types.Credentials) (types.Credentials, error) {
	if len(creds.EncryptedRefreshToken) == 0 {
		return creds, nil
	}
	if c == nil {
		return types.Credentials{}, errors.New("cannot decrypt refresh token: no encryption key configured")
	}
	token, err := c.Open(ctx, creds.EncryptedRefreshToken)
	if err != nil {
		return types.Credentials{}, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	creds.RefreshToken = string(token)
	creds.EncryptedRefreshToken = nil
	return creds, nil
}
