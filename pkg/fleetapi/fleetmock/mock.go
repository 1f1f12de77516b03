package fleetmock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/raterudder/fleetproxy/pkg/fleetapi"
	"github.com/raterudder/fleetproxy/pkg/types"
)

// MockSiteClient is a testify mock of fleetapi.SiteClient.
type MockSiteClient struct {
	mock.Mock
}

var _ fleetapi.SiteClient = (*MockSiteClient)(nil)

func (m *MockSiteClient) ListSites(ctx context.Context) ([]types.SiteSummary, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]types.SiteSummary), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSiteClient) SiteInfo(ctx context.Context, siteID int64) (types.SiteInfo, error) {
	args := m.Called(ctx, siteID)
	return args.Get(0).(types.SiteInfo), args.Error(1)
}

func (m *MockSiteClient) LiveStatus(ctx context.Context, siteID int64) (types.LiveStatus, error) {
	args := m.Called(ctx, siteID)
	return args.Get(0).(types.LiveStatus), args.Error(1)
}

func (m *MockSiteClient) SetBackupReserve(ctx context.Context, siteID int64, percent int) (types.CommandResult, error) {
	args := m.Called(ctx, siteID, percent)
	return args.Get(0).(types.CommandResult), args.Error(1)
}

func (m *MockSiteClient) SetOperationMode(ctx context.Context, siteID int64, mode types.OperationMode) (types.CommandResult, error) {
	args := m.Called(ctx, siteID, mode)
	return args.Get(0).(types.CommandResult), args.Error(1)
}
