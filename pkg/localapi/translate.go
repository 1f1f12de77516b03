package localapi

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/raterudder/fleetproxy/pkg/log"
	"github.com/raterudder/fleetproxy/pkg/types"
)

// gitHash is reported by /api/status. The FleetAPI does not expose the
// gateway build.
const gitHash = "27626f98a66cad5c665bbe1d4d788cdb3e94fd34"

// GridStatus maps live telemetry onto the local API grid state. A site is
// connected when it reports on_grid, or when the coarser grid_status flag is
// Active.
func GridStatus(live types.LiveStatus) string {
	if live.IslandStatus == types.IslandStatusOnGrid || live.GridStatus == types.GridStatusActive {
		return GridStatusConnected
	}
	return GridStatusIslanded
}

// GridAlert returns the vitals alert for the live island state.
func GridAlert(live types.LiveStatus) string {
	switch live.IslandStatus {
	case types.IslandStatusOnGrid:
		return AlertConnectedToGrid
	case types.IslandStatusOffGridIntentional:
		return AlertScheduledIsland
	case types.IslandStatusOffGrid:
		return AlertUnscheduledIsland
	}
	if live.GridStatus == types.GridStatusActive {
		return AlertConnectedToGrid
	}
	return ""
}

// SplitDeviceID splits a gateway id such as 1232100-00-E--TG12345678904G into
// part and serial number. Both are nil unless the id has exactly two parts.
func SplitDeviceID(id string) (part, serial *string) {
	parts := strings.Split(id, "--")
	if len(parts) != 2 {
		return nil, nil
	}
	return &parts[0], &parts[1]
}

func kilo(v *float64) float64 {
	if v == nil {
		return 0
	}
	return math.Trunc(*v) / 1000
}

// upstreamFailed logs a fetch failure that a translator renders as null.
func upstreamFailed(ctx context.Context, req Request, err error) {
	log.Ctx(ctx).ErrorContext(ctx, "failed to fetch upstream data",
		slog.String("path", string(req.Path)),
		slog.Any("error", err),
	)
}

// soe never returns null, an unavailable charge level reads as 0.
func (g *Gateway) soe(ctx context.Context, req Request) (any, error) {
	live, err := g.liveStatus(ctx, req.Site, req.Force)
	if err != nil {
		upstreamFailed(ctx, req, err)
		return SOEDoc{Percentage: 0}, nil
	}
	return SOEDoc{Percentage: live.PercentageCharged}, nil
}

func (g *Gateway) gridStatus(ctx context.Context, req Request) (any, error) {
	live, err := g.liveStatus(ctx, req.Site, req.Force)
	if err != nil {
		upstreamFailed(ctx, req, err)
		return nil, nil
	}
	return GridStatusDoc{
		GridStatus:         GridStatus(live),
		GridServicesActive: live.GridServicesActive,
	}, nil
}

func (g *Gateway) siteName(ctx context.Context, req Request) (any, error) {
	info, err := g.siteInfo(ctx, req.Site, req.Force)
	if err != nil {
		upstreamFailed(ctx, req, err)
		return nil, nil
	}
	return SiteNameDoc{
		SiteName: info.SiteName,
		Timezone: info.InstallationTimeZone,
	}, nil
}

func (g *Gateway) siteInfoDoc(ctx context.Context, req Request) (any, error) {
	info, err := g.siteInfo(ctx, req.Site, req.Force)
	if err != nil {
		upstreamFailed(ctx, req, err)
		return nil, nil
	}
	power := kilo(info.NameplatePower)
	energy := kilo(info.NameplateEnergy)
	return SiteInfoDoc{
		MaxSystemEnergyKWh:     energy,
		MaxSystemPowerKW:       power,
		SiteName:               info.SiteName,
		Timezone:               info.InstallationTimeZone,
		MaxSiteMeterPowerKW:    info.MaxSiteMeterPowerAC,
		MinSiteMeterPowerKW:    info.MinSiteMeterPowerAC,
		NominalSystemEnergyKWh: energy,
		NominalSystemPowerKW:   power,
		GridCode: GridCode{
			Utility: info.TariffContent.Utility,
		},
	}, nil
}

func (g *Gateway) status(ctx context.Context, req Request) (any, error) {
	info, err := g.siteInfo(ctx, req.Site, req.Force)
	if err != nil {
		upstreamFailed(ctx, req, err)
		return nil, nil
	}
	return StatusDoc{
		DIN:        info.ID,
		StartTime:  info.InstallationDate,
		Version:    info.Version,
		GitHash:    gitHash,
		DeviceType: info.Components.Gateway,
		TEGType:    "unknown",
		SyncType:   "v2.1",
		CanReboot:  true,
	}, nil
}

func (g *Gateway) operation(ctx context.Context, req Request) (any, error) {
	info, err := g.siteInfo(ctx, req.Site, req.Force)
	if err != nil {
		upstreamFailed(ctx, req, err)
		return nil, nil
	}
	doc := OperationDoc{RealMode: info.DefaultRealMode}
	if info.BackupReservePercent != nil {
		doc.BackupReservePercent = *info.BackupReservePercent
	}
	return doc, nil
}

// siteAndLive fetches both upstream documents a composite translator needs.
func (g *Gateway) siteAndLive(ctx context.Context, req Request) (types.SiteInfo, types.LiveStatus, bool) {
	info, err := g.siteInfo(ctx, req.Site, req.Force)
	if err != nil {
		upstreamFailed(ctx, req, err)
		return types.SiteInfo{}, types.LiveStatus{}, false
	}
	live, err := g.liveStatus(ctx, req.Site, req.Force)
	if err != nil {
		upstreamFailed(ctx, req, err)
		return types.SiteInfo{}, types.LiveStatus{}, false
	}
	return info, live, true
}

func (g *Gateway) vitals(ctx context.Context, req Request) (any, error) {
	info, live, ok := g.siteAndLive(ctx, req)
	if !ok {
		return nil, nil
	}
	part, serial := SplitDeviceID(info.ID)
	name := "STSTSM--" + info.ID
	if part != nil {
		name = "STSTSM--" + *part + "--" + *serial
	}
	dev := VitalsDevice{
		PartNumber:            part,
		SerialNumber:          serial,
		Manufacturer:          "Simulated",
		FirmwareVersion:       info.Version,
		LastCommunicationTime: g.now().Unix(),
		Location:              "Simulated",
		Alerts:                []string{GridAlert(live)},
	}
	dev.EcuAttributes.EcuType = 207
	return VitalsDoc{name: dev}, nil
}

// solarCount is the number of solar meters: the inverter inventory when there
// is one, otherwise one meter if the site has solar at all.
func solarCount(c types.SiteComponents) int {
	if c.Inverters != nil {
		return len(c.Inverters)
	}
	if c.Solar {
		return 1
	}
	return 0
}

func (g *Gateway) metersAggregates(ctx context.Context, req Request) (any, error) {
	info, live, ok := g.siteAndLive(ctx, req)
	if !ok {
		return nil, nil
	}
	one := 1
	solar := solarCount(info.Components)
	return MetersAggregatesDoc{
		Site:    newMeter(live.Timestamp, live.GridPower, &one),
		Battery: newMeter(live.Timestamp, live.BatteryPower, info.BatteryCount),
		Load:    newMeter(live.Timestamp, live.LoadPower, &one),
		Solar:   newMeter(live.Timestamp, live.SolarPower, &solar),
	}, nil
}

func (g *Gateway) systemStatus(ctx context.Context, req Request) (any, error) {
	info, live, ok := g.siteAndLive(ctx, req)
	if !ok {
		return nil, nil
	}
	doc := newSystemStatus()
	doc.NominalFullPackEnergy = live.TotalPackEnergy
	doc.NominalEnergyRemaining = live.EnergyLeft
	doc.MaxChargePower = info.NameplatePower
	doc.MaxDischargePower = info.NameplatePower
	doc.MaxApparentPower = info.NameplatePower
	doc.GridServicesPower = live.GridServicesPower
	doc.SystemIslandState = GridStatus(live)
	doc.AvailableBlocks = info.BatteryCount
	doc.BlocksControlled = info.BatteryCount
	doc.SolarRealPowerLimit = live.SolarPower
	return doc, nil
}
