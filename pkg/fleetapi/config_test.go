package fleetapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/raterudder/fleetproxy/pkg/types"
)

func TestConfigBaseURL(t *testing.T) {
	c := &Config{region: "na"}

	u, err := c.BaseURL(types.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, Regions["na"], u)

	u, err = c.BaseURL(types.Credentials{Region: "EU"})
	require.NoError(t, err)
	assert.Equal(t, Regions["eu"], u)

	u, err = c.BaseURL(types.Credentials{BaseURL: "http://stored"})
	require.NoError(t, err)
	assert.Equal(t, "http://stored", u)

	c.baseURL = "http://flag"
	u, err = c.BaseURL(types.Credentials{BaseURL: "http://stored"})
	require.NoError(t, err)
	assert.Equal(t, "http://flag", u)

	_, err = (&Config{region: "mars"}).BaseURL(types.Credentials{})
	assert.ErrorContains(t, err, "unknown fleetapi region")
}

func TestConfigNewClient(t *testing.T) {
	var tokenCalls atomic.Int32
	var issuer string
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 issuer,
			"authorization_endpoint": issuer + "/authorize",
			"token_endpoint":         issuer + "/token",
			"jwks_uri":               issuer + "/keys",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "refresh-1", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-2",
			"refresh_token": "refresh-2",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/api/1/products", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-2", r.Header.Get("Authorization"))
		writeResponse(w, []map[string]any{{"energy_site_id": 1, "site_name": "Home"}})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	issuer = ts.URL

	var saved []*oauth2.Token
	c := &Config{issuer: issuer, baseURL: ts.URL}
	client, err := c.NewClient(context.Background(), types.Credentials{
		ClientID:     "client",
		RefreshToken: "refresh-1",
	}, func(ctx context.Context, tok *oauth2.Token) error {
		saved = append(saved, tok)
		return nil
	})
	require.NoError(t, err)

	sites, err := client.ListSites(context.Background())
	require.NoError(t, err)
	require.Len(t, sites, 1)

	_, err = client.ListSites(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), tokenCalls.Load(), "token should be reused until it expires")
	require.Len(t, saved, 1)
	assert.Equal(t, "access-2", saved[0].AccessToken)
	assert.Equal(t, "refresh-2", saved[0].RefreshToken)
}

func TestConfigNewClientValidation(t *testing.T) {
	c := &Config{baseURL: "http://unused", issuer: "http://unused"}

	_, err := c.NewClient(context.Background(), types.Credentials{RefreshToken: "r"}, nil)
	assert.ErrorContains(t, err, "missing fleetapi client id")

	_, err = c.NewClient(context.Background(), types.Credentials{ClientID: "c"}, nil)
	assert.ErrorContains(t, err, "missing refresh token")
}
