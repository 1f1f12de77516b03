package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/fleetproxy/pkg/log"
	"github.com/raterudder/fleetproxy/pkg/types"
)

// DefaultConfigFile is the name of the config file written by setup.
const DefaultConfigFile = ".pypowerwall.fleetapi"

// maxFileActions bounds the action history kept in the config file.
const maxFileActions = 500

// FileProvider stores everything in one JSON file. The upper case keys match
// the file setup has always written so existing files keep working.
type FileProvider struct {
	mu     sync.Mutex
	path   string
	cipher *Cipher
}

func configuredFile() *FileProvider {
	path := lflag.String("config-file", DefaultConfigFile, "Path of the FleetAPI config file (file storage provider)")

	f := &FileProvider{}
	lflag.Do(func() {
		f.path = *path
	})
	return f
}

// NewFileProvider returns a provider backed by path. c may be nil to store the
// refresh token in plain text.
func NewFileProvider(path string, c *Cipher) *FileProvider {
	return &FileProvider{path: path, cipher: c}
}

// siteIDField accepts the site id as a number or a string.
type siteIDField int64

func (s *siteIDField) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*s = 0
		return nil
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid site_id %q: %w", b, err)
	}
	*s = siteIDField(id)
	return nil
}

type fileConfig struct {
	ClientID     string      `json:"CLIENT_ID"`
	ClientSecret string      `json:"CLIENT_SECRET,omitempty"`
	Domain       string      `json:"DOMAIN,omitempty"`
	RedirectURI  string      `json:"REDIRECT_URI,omitempty"`
	Audience     string      `json:"AUDIENCE,omitempty"`
	AccessToken  string      `json:"access_token,omitempty"`
	RefreshToken string      `json:"refresh_token,omitempty"`
	SiteID       siteIDField `json:"site_id,omitempty"`

	Email                 string    `json:"email,omitempty"`
	Region                string    `json:"region,omitempty"`
	TokenExpiry           time.Time `json:"token_expiry,omitzero"`
	EncryptedRefreshToken []byte    `json:"encrypted_refresh_token,omitempty"`

	Actions []types.Action `json:"actions,omitempty"`
}

func (c fileConfig) credentials() types.Credentials {
	return types.Credentials{
		Email:                 c.Email,
		ClientID:              c.ClientID,
		ClientSecret:          c.ClientSecret,
		Region:                c.Region,
		BaseURL:               c.Audience,
		SiteID:                int64(c.SiteID),
		AccessToken:           c.AccessToken,
		RefreshToken:          c.RefreshToken,
		TokenExpiry:           c.TokenExpiry,
		EncryptedRefreshToken: c.EncryptedRefreshToken,
	}
}

func (c *fileConfig) setCredentials(creds types.Credentials) {
	c.Email = creds.Email
	c.ClientID = creds.ClientID
	c.ClientSecret = creds.ClientSecret
	c.Region = creds.Region
	c.Audience = creds.BaseURL
	c.SiteID = siteIDField(creds.SiteID)
	c.AccessToken = creds.AccessToken
	c.RefreshToken = creds.RefreshToken
	c.TokenExpiry = creds.TokenExpiry
	c.EncryptedRefreshToken = creds.EncryptedRefreshToken
}

// load must be called with mu held. A missing file is reported as
// ErrCredentialsNotFound.
func (f *FileProvider) load() (fileConfig, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fileConfig{}, ErrCredentialsNotFound
		}
		return fileConfig{}, fmt.Errorf("failed to read config file %s: %w", f.path, err)
	}
	var c fileConfig
	if err := json.Unmarshal(b, &c); err != nil {
		return fileConfig{}, fmt.Errorf("failed to parse config file %s: %w", f.path, err)
	}
	return c, nil
}

// save must be called with mu held. The file is replaced atomically.
func (f *FileProvider) save(c fileConfig) error {
	b, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod temp config file: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace config file %s: %w", f.path, err)
	}
	return nil
}

// GetCredentials reads the credentials from the config file.
func (f *FileProvider) GetCredentials(ctx context.Context) (types.Credentials, error) {
	f.mu.Lock()
	c, err := f.load()
	f.mu.Unlock()
	if err != nil {
		return types.Credentials{}, err
	}
	if c.ClientID == "" && c.RefreshToken == "" && len(c.EncryptedRefreshToken) == 0 {
		return types.Credentials{}, ErrCredentialsNotFound
	}
	return openCredentials(ctx, f.cipher, c.credentials())
}

// SetCredentials writes the credentials, keeping any other keys of the file.
func (f *FileProvider) SetCredentials(ctx context.Context, creds types.Credentials) error {
	sealed, err := sealCredentials(ctx, f.cipher, creds)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, err := f.load()
	if err != nil && !errors.Is(err, ErrCredentialsNotFound) {
		return err
	}
	c.setCredentials(sealed)
	if err := f.save(c); err != nil {
		return err
	}
	log.Ctx(ctx).DebugContext(ctx, "saved credentials", slog.String("path", f.path))
	return nil
}

// InsertAction appends an action, dropping the oldest ones beyond
// maxFileActions.
func (f *FileProvider) InsertAction(ctx context.Context, action types.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, err := f.load()
	if err != nil && !errors.Is(err, ErrCredentialsNotFound) {
		return err
	}
	c.Actions = append(c.Actions, action)
	if n := len(c.Actions); n > maxFileActions {
		c.Actions = c.Actions[n-maxFileActions:]
	}
	return f.save(c)
}

// GetActionHistory returns the actions in [start, end) ordered by time.
func (f *FileProvider) GetActionHistory(ctx context.Context, start, end time.Time) ([]types.Action, error) {
	f.mu.Lock()
	c, err := f.load()
	f.mu.Unlock()
	if err != nil {
		if errors.Is(err, ErrCredentialsNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var actions []types.Action
	for _, a := range c.Actions {
		if !a.Timestamp.Before(start) && a.Timestamp.Before(end) {
			actions = append(actions, a)
		}
	}
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Timestamp.Before(actions[j].Timestamp)
	})
	return actions, nil
}

// Close is a no-op, the file is not held open.
func (f *FileProvider) Close() error {
	return nil
}
