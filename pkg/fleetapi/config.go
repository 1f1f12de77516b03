package fleetapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"golang.org/x/oauth2"

	"github.com/raterudder/fleetproxy/pkg/common"
	"github.com/raterudder/fleetproxy/pkg/log"
	"github.com/raterudder/fleetproxy/pkg/types"
)

// DefaultIssuer is the Tesla OIDC issuer used to discover the token endpoint.
const DefaultIssuer = "https://auth.tesla.com/oauth2/v3"

// Scopes requested for energy sites.
var Scopes = []string{"openid", "offline_access", "energy_device_data", "energy_cmds"}

// Regions maps a region name to its FleetAPI base URL.
var Regions = map[string]string{
	"na": "https://fleet-api.prd.na.vn.cloud.tesla.com",
	"eu": "https://fleet-api.prd.eu.vn.cloud.tesla.com",
	"cn": "https://fleet-api.prd.cn.vn.cloud.tesla.cn",
}

// TokenSaver persists a refreshed token.
type TokenSaver func(ctx context.Context, token *oauth2.Token) error

// Config holds the flag-driven settings used to build a Client.
type Config struct {
	region       string
	baseURL      string
	issuer       string
	clientID     string
	clientSecret string
	timeout      time.Duration
}

// Configured registers the fleetapi flags.
func Configured() *Config {
	region := lflag.String("fleet-region", "na", "FleetAPI region (na, eu, cn)")
	baseURL := lflag.String("fleet-base-url", "", "Override the FleetAPI base URL")
	issuer := lflag.String("fleet-issuer", DefaultIssuer, "OIDC issuer used to discover the token endpoint")
	clientID := lflag.String("fleet-client-id", "", "FleetAPI application client ID (overrides the stored one)")
	clientSecret := lflag.String("fleet-client-secret", "", "FleetAPI application client secret (overrides the stored one)")
	timeout := lflag.Duration("fleet-timeout", 10*time.Second, "Timeout for FleetAPI requests")

	c := &Config{}
	lflag.Do(func() {
		c.region = *region
		c.baseURL = *baseURL
		c.issuer = *issuer
		c.clientID = *clientID
		c.clientSecret = *clientSecret
		c.timeout = *timeout
	})
	return c
}

// BaseURL resolves the FleetAPI base URL from the flags and then the stored
// credentials.
func (c *Config) BaseURL(creds types.Credentials) (string, error) {
	if c.baseURL != "" {
		return c.baseURL, nil
	}
	if creds.BaseURL != "" {
		return creds.BaseURL, nil
	}
	region := c.region
	if creds.Region != "" {
		region = creds.Region
	}
	u, ok := Regions[strings.ToLower(region)]
	if !ok {
		return "", fmt.Errorf("unknown fleetapi region: %s", region)
	}
	return u, nil
}

// NewClient builds an authenticated Client. The token endpoint is discovered
// from the issuer and refreshed tokens are handed to save.
func (c *Config) NewClient(ctx context.Context, creds types.Credentials, save TokenSaver) (*Client, error) {
	baseURL, err := c.BaseURL(creds)
	if err != nil {
		return nil, err
	}
	clientID := creds.ClientID
	if c.clientID != "" {
		clientID = c.clientID
	}
	clientSecret := creds.ClientSecret
	if c.clientSecret != "" {
		clientSecret = c.clientSecret
	}
	if clientID == "" {
		return nil, fmt.Errorf("missing fleetapi client id")
	}
	if creds.RefreshToken == "" {
		return nil, fmt.Errorf("missing refresh token, run setup first")
	}

	base := common.HTTPClient(c.timeout)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	provider, err := oidc.NewProvider(ctx, c.issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover token endpoint (issuer=%s): %w", c.issuer, err)
	}
	oc := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     provider.Endpoint(),
		Scopes:       Scopes,
	}
	ts := newPersistingTokenSource(ctx, oc.TokenSource(ctx, &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.TokenExpiry,
	}), creds.AccessToken, save)

	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Source: ts,
			Base:   base.Transport,
		},
		Timeout: c.timeout,
	}
	return NewClient(httpClient, baseURL), nil
}

// persistingTokenSource calls save whenever the underlying source hands out a
// new access token.
type persistingTokenSource struct {
	ctx  context.Context
	mu   sync.Mutex
	src  oauth2.TokenSource
	last string
	save TokenSaver
}

func newPersistingTokenSource(ctx context.Context, src oauth2.TokenSource, current string, save TokenSaver) *persistingTokenSource {
	return &persistingTokenSource{
		ctx:  ctx,
		src:  src,
		last: current,
		save: save,
	}
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	t, err := p.src.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if t.AccessToken != p.last {
		p.last = t.AccessToken
		log.Ctx(p.ctx).InfoContext(p.ctx, "fleetapi token refreshed", slog.Time("expiry", t.Expiry))
		if p.save != nil {
			if err := p.save(p.ctx, t); err != nil {
				// the token is still usable for this process
				log.Ctx(p.ctx).WarnContext(p.ctx, "failed to persist refreshed token", slog.Any("error", err))
			}
		}
	}
	return t, nil
}
