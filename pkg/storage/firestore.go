package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/raterudder/fleetproxy/pkg/log"
	"github.com/raterudder/fleetproxy/pkg/types"
)

// FirestoreProvider implements Database using Google Cloud Firestore. Each
// account is a document in the "accounts" collection with its action history
// in a sub-collection.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
	account   string
	cipher    *Cipher
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	account := lflag.String("firestore-account", "default", "Document id of the account in the accounts collection")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.account = *account

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	if f.account == "" {
		return errors.New("firestore account cannot be empty")
	}
	// refresh tokens are never stored in plain text in a shared database
	if f.cipher == nil {
		return errors.New("firestore requires --credentials-encryption-key")
	}
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) accountDoc() *firestore.DocumentRef {
	return f.client.Collection("accounts").Doc(f.account)
}

// GetCredentials retrieves the credentials from the account document.
func (f *FirestoreProvider) GetCredentials(ctx context.Context) (types.Credentials, error) {
	doc, err := f.accountDoc().Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Credentials{}, fmt.Errorf("%w: %s", ErrCredentialsNotFound, f.account)
		}
		return types.Credentials{}, fmt.Errorf("failed to get account %s: %w", f.account, err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "account doc missing json", slog.String("account", f.account), slog.Any("err", err))
		return types.Credentials{}, fmt.Errorf("account %s missing json: %w", f.account, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "account doc json not string", slog.String("account", f.account))
		return types.Credentials{}, fmt.Errorf("account %s json not string", f.account)
	}

	var creds types.Credentials
	if err := json.Unmarshal([]byte(jsonStr), &creds); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal account", slog.String("account", f.account), slog.Any("err", err))
		return types.Credentials{}, fmt.Errorf("failed to unmarshal account %s: %w", f.account, err)
	}
	return openCredentials(ctx, f.cipher, creds)
}

// SetCredentials saves the credentials as a JSON string with the refresh
// token encrypted.
func (f *FirestoreProvider) SetCredentials(ctx context.Context, creds types.Credentials) error {
	sealed, err := sealCredentials(ctx, f.cipher, creds)
	if err != nil {
		return err
	}
	jsonBytes, err := json.Marshal(sealed)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	_, err = f.accountDoc().Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"updatedAt": time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// InsertAction adds a new action record to the "action_history" collection as a JSON blob.
// The document ID is the RFC3339Nano timestamp for efficient range queries.
func (f *FirestoreProvider) InsertAction(ctx context.Context, action types.Action) error {
	jsonBytes, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}

	coll := f.accountDoc().Collection("action_history")
	docID := action.Timestamp.UTC().Format(time.RFC3339Nano)
	_, err = coll.Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": action.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to insert action: %w", err)
	}
	return nil
}

// GetActionHistory retrieves action records within the specified time range.
func (f *FirestoreProvider) GetActionHistory(ctx context.Context, start, end time.Time) ([]types.Action, error) {
	coll := f.accountDoc().Collection("action_history")
	iter := coll.
		Where("timestamp", ">=", start).
		Where("timestamp", "<", end).
		OrderBy("timestamp", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var actions []types.Action
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating actions: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "action doc missing json", slog.String("actionID", doc.Ref.ID), slog.Any("err", err))
			return nil, fmt.Errorf("action document %s missing 'json' field: %w", doc.Ref.ID, err)
		}

		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "action doc json not string", slog.String("actionID", doc.Ref.ID))
			return nil, fmt.Errorf("action document %s 'json' field is not string", doc.Ref.ID)
		}

		var a types.Action
		if err := json.Unmarshal([]byte(jsonStr), &a); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal action", slog.String("actionID", doc.Ref.ID), slog.Any("err", err))
			return nil, fmt.Errorf("failed to unmarshal action (id=%s): %w", doc.Ref.ID, err)
		}
		actions = append(actions, a)
	}
	return actions, nil
}
