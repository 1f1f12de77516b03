package fleetapi

import (
	"context"

	"github.com/raterudder/fleetproxy/pkg/types"
)

// SiteClient is authenticated access to the energy sites of one FleetAPI
// account.
type SiteClient interface {
	// ListSites returns every energy site on the account.
	ListSites(ctx context.Context) ([]types.SiteSummary, error)

	// SiteInfo returns the configuration of a site.
	SiteInfo(ctx context.Context, siteID int64) (types.SiteInfo, error)

	// LiveStatus returns the live telemetry of a site.
	LiveStatus(ctx context.Context, siteID int64) (types.LiveStatus, error)

	// SetBackupReserve sets the backup reserve percentage (0-100).
	SetBackupReserve(ctx context.Context, siteID int64, percent int) (types.CommandResult, error)

	// SetOperationMode sets the default operating mode.
	SetOperationMode(ctx context.Context, siteID int64, mode types.OperationMode) (types.CommandResult, error)
}
