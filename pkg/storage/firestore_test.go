package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/fleetproxy/pkg/types"
)

func TestFirestoreProvider(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	c, err := NewCipher(testKey)
	require.NoError(t, err)

	// Use a random database for isolation
	randDB := fmt.Sprintf("test-db-%d", time.Now().UnixNano())
	f := &FirestoreProvider{
		projectID: "test-project-id",
		database:  randDB,
		account:   "test-account",
		cipher:    c,
	}

	ctx := context.Background()
	require.NoError(t, f.Init(ctx))
	defer f.Close()

	t.Run("Validate", func(t *testing.T) {
		require.NoError(t, f.Validate())
		assert.Error(t, (&FirestoreProvider{account: "x"}).Validate())
	})

	t.Run("CredentialsNotFound", func(t *testing.T) {
		_, err := f.GetCredentials(ctx)
		assert.True(t, errors.Is(err, ErrCredentialsNotFound))
	})

	t.Run("Credentials", func(t *testing.T) {
		creds := types.Credentials{
			Email:        "owner@example.com",
			ClientID:     "client",
			Region:       "na",
			SiteID:       12345,
			AccessToken:  "access",
			RefreshToken: "refresh",
			TokenExpiry:  time.Now().Add(time.Hour).Truncate(time.Second).UTC(),
		}
		require.NoError(t, f.SetCredentials(ctx, creds))

		got, err := f.GetCredentials(ctx)
		require.NoError(t, err)
		assert.Equal(t, creds, got)

		raw, err := f.accountDoc().Get(ctx)
		require.NoError(t, err)
		assert.NotContains(t, raw.Data()["json"], `"refresh"`)
	})

	t.Run("Actions", func(t *testing.T) {
		now := time.Now().Truncate(time.Second).UTC()
		reserve := 40
		a1 := types.Action{Timestamp: now, SiteID: 12345, Rule: "0 6 * * *", BackupReservePercent: &reserve}
		a2 := types.Action{Timestamp: now.Add(-2 * time.Hour), SiteID: 12345, Rule: "0 4 * * *", RealMode: types.OperationModeBackup}
		a3 := types.Action{Timestamp: now.Add(10 * time.Second), SiteID: 12345, Rule: "0 7 * * *", RealMode: types.OperationModeAutonomous}
		require.NoError(t, f.InsertAction(ctx, a1))
		require.NoError(t, f.InsertAction(ctx, a2))
		require.NoError(t, f.InsertAction(ctx, a3))

		actions, err := f.GetActionHistory(ctx, now.Add(-time.Minute), now.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, actions, 2)
		assert.Equal(t, "0 6 * * *", actions[0].Rule)
		assert.Equal(t, 40, *actions[0].BackupReservePercent)
		assert.Equal(t, "0 7 * * *", actions[1].Rule)
	})
}
