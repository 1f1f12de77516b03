package storage

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// TokenSaver returns a function that writes refreshed tokens back into the
// stored credentials, leaving every other field as it is.
func TokenSaver(db Database) func(ctx context.Context, token *oauth2.Token) error {
	return func(ctx context.Context, token *oauth2.Token) error {
		creds, err := db.GetCredentials(ctx)
		if err != nil {
			return fmt.Errorf("failed to load credentials: %w", err)
		}
		creds.AccessToken = token.AccessToken
		if token.RefreshToken != "" {
			creds.RefreshToken = token.RefreshToken
		}
		creds.TokenExpiry = token.Expiry
		return db.SetCredentials(ctx, creds)
	}
}
