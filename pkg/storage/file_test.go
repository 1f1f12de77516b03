package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/fleetproxy/pkg/types"
)

func TestFileProvider(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		f := NewFileProvider(filepath.Join(t.TempDir(), DefaultConfigFile), nil)
		_, err := f.GetCredentials(t.Context())
		assert.ErrorIs(t, err, ErrCredentialsNotFound)

		actions, err := f.GetActionHistory(t.Context(), time.Time{}, time.Now())
		require.NoError(t, err)
		assert.Empty(t, actions)
	})

	t.Run("setup file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), DefaultConfigFile)
		require.NoError(t, os.WriteFile(path, []byte(`{
			"CLIENT_ID": "client",
			"CLIENT_SECRET": "secret",
			"DOMAIN": "example.com",
			"REDIRECT_URI": "https://example.com/access",
			"AUDIENCE": "https://fleet-api.prd.na.vn.cloud.tesla.com",
			"access_token": "access",
			"refresh_token": "refresh",
			"site_id": "12345"
		}`), 0o600))

		f := NewFileProvider(path, nil)
		creds, err := f.GetCredentials(t.Context())
		require.NoError(t, err)
		assert.Equal(t, "client", creds.ClientID)
		assert.Equal(t, "secret", creds.ClientSecret)
		assert.Equal(t, "https://fleet-api.prd.na.vn.cloud.tesla.com", creds.BaseURL)
		assert.Equal(t, "refresh", creds.RefreshToken)
		assert.Equal(t, int64(12345), creds.SiteID)

		// keys outside the credentials survive a save
		creds.AccessToken = "access2"
		require.NoError(t, f.SetCredentials(t.Context(), creds))
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		var raw map[string]any
		require.NoError(t, json.Unmarshal(b, &raw))
		assert.Equal(t, "example.com", raw["DOMAIN"])
		assert.Equal(t, "access2", raw["access_token"])
		assert.Equal(t, 12345.0, raw["site_id"])

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("numeric site id", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), DefaultConfigFile)
		require.NoError(t, os.WriteFile(path, []byte(`{"CLIENT_ID": "client", "site_id": 67890}`), 0o600))
		creds, err := NewFileProvider(path, nil).GetCredentials(t.Context())
		require.NoError(t, err)
		assert.Equal(t, int64(67890), creds.SiteID)
	})

	t.Run("invalid site id", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), DefaultConfigFile)
		require.NoError(t, os.WriteFile(path, []byte(`{"CLIENT_ID": "client", "site_id": "home"}`), 0o600))
		_, err := NewFileProvider(path, nil).GetCredentials(t.Context())
		assert.Error(t, err)
	})

	t.Run("encrypted round trip", func(t *testing.T) {
		c, err := NewCipher(testKey)
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), DefaultConfigFile)
		f := NewFileProvider(path, c)

		creds := types.Credentials{
			Email:        "owner@example.com",
			ClientID:     "client",
			RefreshToken: "refresh",
			TokenExpiry:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		}
		require.NoError(t, f.SetCredentials(t.Context(), creds))

		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotContains(t, string(b), `"refresh_token"`)
		assert.Contains(t, string(b), `"encrypted_refresh_token"`)

		got, err := f.GetCredentials(t.Context())
		require.NoError(t, err)
		assert.Equal(t, creds, got)

		_, err = NewFileProvider(path, nil).GetCredentials(t.Context())
		assert.Error(t, err)
	})

	t.Run("actions", func(t *testing.T) {
		f := NewFileProvider(filepath.Join(t.TempDir(), DefaultConfigFile), nil)
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		reserve := 20
		require.NoError(t, f.InsertAction(t.Context(), types.Action{Timestamp: base.Add(time.Hour), Rule: "b", RealMode: types.OperationModeBackup}))
		require.NoError(t, f.InsertAction(t.Context(), types.Action{Timestamp: base, Rule: "a", BackupReservePercent: &reserve}))
		require.NoError(t, f.InsertAction(t.Context(), types.Action{Timestamp: base.Add(2 * time.Hour), Rule: "c"}))

		actions, err := f.GetActionHistory(t.Context(), base, base.Add(2*time.Hour))
		require.NoError(t, err)
		require.Len(t, actions, 2)
		assert.Equal(t, "a", actions[0].Rule)
		assert.Equal(t, 20, *actions[0].BackupReservePercent)
		assert.Equal(t, "b", actions[1].Rule)

		// action history alone does not count as setup
		_, err = f.GetCredentials(t.Context())
		assert.ErrorIs(t, err, ErrCredentialsNotFound)
	})

	t.Run("actions are bounded", func(t *testing.T) {
		f := NewFileProvider(filepath.Join(t.TempDir(), DefaultConfigFile), nil)
		base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		for i := range maxFileActions + 5 {
			require.NoError(t, f.InsertAction(t.Context(), types.Action{Timestamp: base.Add(time.Duration(i) * time.Minute)}))
		}
		actions, err := f.GetActionHistory(t.Context(), base, base.Add(24*time.Hour))
		require.NoError(t, err)
		require.Len(t, actions, maxFileActions)
		assert.Equal(t, base.Add(5*time.Minute), actions[0].Timestamp)
	})
}
