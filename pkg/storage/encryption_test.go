package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/fleetproxy/pkg/types"
)

// 32-byte key for AES-256
const testKey = "01234567890123456789012345678901"

func TestCipher(t *testing.T) {
	t.Run("Seal and Open", func(t *testing.T) {
		c, err := NewCipher(testKey)
		require.NoError(t, err)

		sealed, err := c.Seal(t.Context(), []byte("refresh-token"))
		require.NoError(t, err)
		assert.NotContains(t, string(sealed), "refresh-token")

		plain, err := c.Open(t.Context(), sealed)
		require.NoError(t, err)
		assert.Equal(t, "refresh-token", string(plain))
	})

	t.Run("Wrong Key Fails", func(t *testing.T) {
		c1, err := NewCipher(testKey)
		require.NoError(t, err)
		c2, err := NewCipher("12345678901234567890123456789012")
		require.NoError(t, err)

		sealed, err := c1.Seal(t.Context(), []byte("refresh-token"))
		require.NoError(t, err)
		_, err = c2.Open(t.Context(), sealed)
		assert.Error(t, err)
	})

	t.Run("Bad Keys", func(t *testing.T) {
		_, err := NewCipher("")
		assert.ErrorContains(t, err, "no encryption key configured")
		_, err = NewCipher("short")
		assert.ErrorContains(t, err, "invalid encryption key length")
	})

	t.Run("Malformed Ciphertext", func(t *testing.T) {
		c, err := NewCipher(testKey)
		require.NoError(t, err)

		_, err = c.Open(t.Context(), []byte("short"))
		assert.Error(t, err)

		junk := make([]byte, 50)
		_, err = c.Open(t.Context(), junk)
		assert.Error(t, err)
	})
}

func TestSealCredentials(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)
	creds := types.Credentials{ClientID: "client", RefreshToken: "refresh"}

	t.Run("round trip", func(t *testing.T) {
		sealed, err := sealCredentials(t.Context(), c, creds)
		require.NoError(t, err)
		assert.Empty(t, sealed.RefreshToken)
		assert.NotEmpty(t, sealed.EncryptedRefreshToken)

		opened, err := openCredentials(t.Context(), c, sealed)
		require.NoError(t, err)
		assert.Equal(t, creds, opened)
	})

	t.Run("nil cipher is plain text", func(t *testing.T) {
		sealed, err := sealCredentials(t.Context(), nil, creds)
		require.NoError(t, err)
		assert.Equal(t, creds, sealed)

		opened, err := openCredentials(t.Context(), nil, sealed)
		require.NoError(t, err)
		assert.Equal(t, creds, opened)
	})

	t.Run("encrypted without cipher fails", func(t *testing.T) {
		sealed, err := sealCredentials(t.Context(), c, creds)
		require.NoError(t, err)
		_, err = openCredentials(t.Context(), nil, sealed)
		assert.ErrorContains(t, err, "no encryption key configured")
	})

	t.Run("empty refresh token", func(t *testing.T) {
		sealed, err := sealCredentials(t.Context(), c, types.Credentials{ClientID: "client"})
		require.NoError(t, err)
		assert.Empty(t, sealed.EncryptedRefreshToken)
	})
}
