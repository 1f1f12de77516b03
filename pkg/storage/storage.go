package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/fleetproxy/pkg/types"
)

var (
	// ErrCredentialsNotFound is returned before setup stored any credentials.
	ErrCredentialsNotFound = errors.New("credentials not found")
)

// Database persists the FleetAPI credentials and the history of scheduled
// changes.
type Database interface {
	// Credentials
	GetCredentials(ctx context.Context) (types.Credentials, error)
	SetCredentials(ctx context.Context, creds types.Credentials) error

	// History
	InsertAction(ctx context.Context, action types.Action) error
	GetActionHistory(ctx context.Context, start, end time.Time) ([]types.Action, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "file", "Storage provider to use (available: file, firestore)")
	encryptionKey := lflag.String("credentials-encryption-key", "", "32 byte key for encrypting refresh tokens at rest (required for firestore)")

	var p struct{ Database }

	file := configuredFile()
	fs := configuredFirestore()

	lflag.Do(func() {
		var c *Cipher
		if *encryptionKey != "" {
			var err error
			if c, err = NewCipher(*encryptionKey); err != nil {
				panic(fmt.Sprintf("invalid --credentials-encryption-key: %v", err))
			}
		}
		switch *provider {
		case "file":
			file.cipher = c
			p.Database = file
		case "firestore":
			fs.cipher = c
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
