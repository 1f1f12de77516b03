package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/raterudder/fleetproxy/pkg/types"
)

func TestTokenSaver(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)
	f := NewFileProvider(filepath.Join(t.TempDir(), DefaultConfigFile), c)
	require.NoError(t, f.SetCredentials(t.Context(), types.Credentials{
		ClientID:     "client",
		SiteID:       12345,
		AccessToken:  "old",
		RefreshToken: "refresh",
	}))

	expiry := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	save := TokenSaver(f)
	require.NoError(t, save(t.Context(), &oauth2.Token{AccessToken: "new", Expiry: expiry}))

	creds, err := f.GetCredentials(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "new", creds.AccessToken)
	assert.Equal(t, "refresh", creds.RefreshToken)
	assert.Equal(t, expiry, creds.TokenExpiry)
	assert.Equal(t, int64(12345), creds.SiteID)

	// rotated refresh tokens replace the stored one
	require.NoError(t, save(t.Context(), &oauth2.Token{AccessToken: "newer", RefreshToken: "refresh2"}))
	creds, err = f.GetCredentials(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "refresh2", creds.RefreshToken)

	empty := NewFileProvider(filepath.Join(t.TempDir(), DefaultConfigFile), nil)
	err = TokenSaver(empty)(t.Context(), &oauth2.Token{AccessToken: "x"})
	assert.True(t, errors.Is(err, ErrCredentialsNotFound))
}
