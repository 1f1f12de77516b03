package schedule

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/fleetproxy/pkg/localapi"
	"github.com/raterudder/fleetproxy/pkg/storage/storagemock"
	"github.com/raterudder/fleetproxy/pkg/types"
)

const sampleFile = `
timezone: America/Los_Angeles
rules:
  - cron: "0 0 * * *"
    real_mode: self_consumption
  - cron: "0 12 * * *"
    real_mode: autonomous
    backup_reserve_percent: 20
  - cron: "30 19 * * *"
    backup_reserve_percent: 50
`

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Poll(ctx context.Context, path string, opts localapi.PollOptions) (any, error) {
	args := m.Called(ctx, path, opts)
	return args.Get(0), args.Error(1)
}

func (m *mockGateway) Post(ctx context.Context, path string, payload map[string]any, deviceID string) (any, error) {
	args := m.Called(ctx, path, payload, deviceID)
	return args.Get(0), args.Error(1)
}

func (m *mockGateway) Site() (types.SiteSummary, bool) {
	return types.SiteSummary{EnergySiteID: 12345, SiteName: "Home"}, true
}

func mustParse(t *testing.T, s string) *File {
	t.Helper()
	f, err := Parse([]byte(s))
	require.NoError(t, err)
	return f
}

func TestParse(t *testing.T) {
	f := mustParse(t, sampleFile)
	assert.Equal(t, "America/Los_Angeles", f.Location().String())
	require.Len(t, f.Rules, 3)
	assert.Equal(t, types.OperationModeAutonomous, f.Rules[1].RealMode)
	require.NotNil(t, f.Rules[1].BackupReservePercent)
	assert.Equal(t, 20, *f.Rules[1].BackupReservePercent)
	assert.Empty(t, f.Rules[2].RealMode)

	f = mustParse(t, "rules:\n  - cron: \"@hourly\"\n    real_mode: backup\n")
	assert.Equal(t, time.UTC, f.Location())
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		err  string
	}{
		{"not yaml", "rules: [", "failed to decode"},
		{"no rules", "timezone: UTC\n", "no rules"},
		{"bad timezone", "timezone: Mars/Olympus\nrules:\n  - cron: \"0 0 * * *\"\n    real_mode: backup\n", "invalid timezone"},
		{"missing cron", "rules:\n  - real_mode: backup\n", "missing cron"},
		{"bad cron", "rules:\n  - cron: \"61 * * * *\"\n    real_mode: backup\n", "invalid cron"},
		{"nothing to set", "rules:\n  - cron: \"0 0 * * *\"\n", "needs real_mode"},
		{"bad mode", "rules:\n  - cron: \"0 0 * * *\"\n    real_mode: turbo\n", "unknown real_mode"},
		{"bad reserve", "rules:\n  - cron: \"0 0 * * *\"\n    backup_reserve_percent: 101\n", "out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorContains(t, err, tt.err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o600))
	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, f.Rules, 3)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCurrent(t *testing.T) {
	f := mustParse(t, sampleFile)
	la := f.Location()

	tests := []struct {
		at   time.Time
		cron string
	}{
		{time.Date(2026, 5, 1, 8, 0, 0, 0, la), "0 0 * * *"},
		{time.Date(2026, 5, 1, 0, 0, 0, 0, la), "0 0 * * *"},
		{time.Date(2026, 5, 1, 12, 0, 0, 0, la), "0 12 * * *"},
		{time.Date(2026, 5, 1, 19, 29, 0, 0, la), "0 12 * * *"},
		{time.Date(2026, 5, 1, 23, 59, 0, 0, la), "30 19 * * *"},
		// evaluated in the file's time zone
		{time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC), "0 12 * * *"},
	}
	for _, tt := range tests {
		t.Run(tt.at.String(), func(t *testing.T) {
			r, ok := f.Current(tt.at)
			require.True(t, ok)
			assert.Equal(t, tt.cron, r.Cron)
		})
	}

	yearly := mustParse(t, "rules:\n  - cron: \"0 0 1 1 *\"\n    real_mode: backup\n")
	_, ok := yearly.Current(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	assert.False(t, ok)
}

func TestDecide(t *testing.T) {
	ctx := context.Background()
	f := mustParse(t, sampleFile)
	rule := f.Rules[1]

	d := Decide(ctx, rule, nil)
	assert.Equal(t, map[string]any{"real_mode": "autonomous", "backup_reserve_percent": 20}, d.Payload)

	d = Decide(ctx, rule, &localapi.OperationDoc{RealMode: types.OperationModeAutonomous, BackupReservePercent: 20})
	assert.Nil(t, d.Payload)
	assert.Contains(t, d.Explanation, "already autonomous")

	d = Decide(ctx, rule, &localapi.OperationDoc{RealMode: types.OperationModeAutonomous, BackupReservePercent: 20.5})
	assert.Equal(t, map[string]any{"backup_reserve_percent": 20}, d.Payload)

	d = Decide(ctx, f.Rules[0], &localapi.OperationDoc{RealMode: types.OperationModeBackup, BackupReservePercent: 100})
	assert.Equal(t, map[string]any{"real_mode": "self_consumption"}, d.Payload)
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	f := mustParse(t, sampleFile)
	rule := f.Rules[1]
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	ok := &types.CommandResult{Code: 201, Message: "Updated"}

	t.Run("writes and records", func(t *testing.T) {
		gw := &mockGateway{}
		db := &storagemock.MockDatabase{}
		gw.On("Poll", mock.Anything, "/api/operation", localapi.PollOptions{Force: true}).
			Return(localapi.OperationDoc{RealMode: types.OperationModeSelfConsumption, BackupReservePercent: 20}, nil)
		gw.On("Post", mock.Anything, "/api/operation", map[string]any{"real_mode": "autonomous"}, "").
			Return(localapi.OperationWriteDoc{SetOperation: &localapi.SetOperationResult{RealMode: "autonomous", Result: ok}}, nil)
		db.On("InsertAction", mock.Anything, mock.MatchedBy(func(a types.Action) bool {
			return a.SiteID == 12345 && a.RealMode == types.OperationModeAutonomous && a.BackupReservePercent == nil && a.Error == ""
		})).Return(nil)

		s := New(gw, db, f)
		s.now = func() time.Time { return at }
		action, err := s.Apply(ctx, rule)
		require.NoError(t, err)
		assert.Equal(t, at, action.Timestamp)
		assert.Equal(t, "0 12 * * *", action.Rule)
		gw.AssertExpectations(t)
		db.AssertExpectations(t)
	})

	t.Run("nothing to change", func(t *testing.T) {
		gw := &mockGateway{}
		db := &storagemock.MockDatabase{}
		gw.On("Poll", mock.Anything, "/api/operation", localapi.PollOptions{Force: true}).
			Return(localapi.OperationDoc{RealMode: types.OperationModeAutonomous, BackupReservePercent: 20}, nil)

		_, err := New(gw, db, f).Apply(ctx, rule)
		require.NoError(t, err)
		gw.AssertNotCalled(t, "Post", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		db.AssertNotCalled(t, "InsertAction", mock.Anything, mock.Anything)
	})

	t.Run("partial failure", func(t *testing.T) {
		gw := &mockGateway{}
		db := &storagemock.MockDatabase{}
		gw.On("Poll", mock.Anything, "/api/operation", localapi.PollOptions{Force: true}).Return(nil, nil)
		gw.On("Post", mock.Anything, "/api/operation", map[string]any{"real_mode": "autonomous", "backup_reserve_percent": 20}, "").
			Return(localapi.OperationWriteDoc{
				SetOperation:            &localapi.SetOperationResult{RealMode: "autonomous", Result: ok},
				SetBackupReservePercent: &localapi.SetReserveResult{BackupReservePercent: 20},
			}, nil)
		db.On("InsertAction", mock.Anything, mock.MatchedBy(func(a types.Action) bool {
			return a.Error == "failed to set backup_reserve_percent" && a.RealMode == types.OperationModeAutonomous
		})).Return(nil)

		action, err := New(gw, db, f).Apply(ctx, rule)
		assert.EqualError(t, err, "failed to set backup_reserve_percent")
		assert.Nil(t, action.BackupReservePercent)
		db.AssertExpectations(t)
	})

	t.Run("not connected", func(t *testing.T) {
		gw := &mockGateway{}
		gw.On("Poll", mock.Anything, "/api/operation", localapi.PollOptions{Force: true}).Return(nil, localapi.ErrNotConnected)

		_, err := New(gw, nil, f).Apply(ctx, rule)
		assert.ErrorIs(t, err, localapi.ErrNotConnected)
	})
}
