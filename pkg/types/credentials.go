package types

import "time"

// Credentials holds everything needed to talk to the FleetAPI on behalf of one
// account. It is persisted by the storage package.
type Credentials struct {
	Email        string `json:"email"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	Region       string `json:"region,omitempty"`
	BaseURL      string `json:"base_url,omitempty"`
	// SiteID is the energy_site_id selected during setup, 0 means "first site".
	SiteID int64 `json:"site_id,omitempty"`

	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenExpiry  time.Time `json:"token_expiry,omitzero"`

	// EncryptedRefreshToken replaces RefreshToken when the store is
	// configured with an encryption key.
	EncryptedRefreshToken []byte `json:"encrypted_refresh_token,omitempty"`
}
