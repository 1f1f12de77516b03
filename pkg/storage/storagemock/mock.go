package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/raterudder/fleetproxy/pkg/storage"
	"github.com/raterudder/fleetproxy/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetCredentials(ctx context.Context) (types.Credentials, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Credentials), args.Error(1)
}

func (m *MockDatabase) SetCredentials(ctx context.Context, creds types.Credentials) error {
	args := m.Called(ctx, creds)
	return args.Error(0)
}

func (m *MockDatabase) InsertAction(ctx context.Context, action types.Action) error {
	args := m.Called(ctx, action)
	return args.Error(0)
}

func (m *MockDatabase) GetActionHistory(ctx context.Context, start, end time.Time) ([]types.Action, error) {
	args := m.Called(ctx, start, end)
	if v := args.Get(0); v != nil {
		return v.([]types.Action), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
