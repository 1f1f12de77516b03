package types

import "strconv"

// SiteSummary is one energy site entry from the FleetAPI products list.
type SiteSummary struct {
	EnergySiteID int64  `json:"energy_site_id"`
	SiteName     string `json:"site_name"`
	ResourceType string `json:"resource_type"`
	ID           string `json:"id"`
	GatewayID    string `json:"gateway_id"`
	Components   struct {
		Battery bool   `json:"battery"`
		Solar   bool   `json:"solar"`
		Grid    bool   `json:"grid"`
		Gateway string `json:"gateway"`
	} `json:"components"`
}

// Key returns the site id as a string, which is how the local API and the
// config file refer to a site.
func (s SiteSummary) Key() string {
	return strconv.FormatInt(s.EnergySiteID, 10)
}

// SiteInfo is the site configuration returned by the site_info endpoint.
// Optional numeric fields are pointers so that a missing value can be told
// apart from zero.
type SiteInfo struct {
	ID                   string         `json:"id"`
	SiteName             string         `json:"site_name"`
	BackupReservePercent *float64       `json:"backup_reserve_percent"`
	DefaultRealMode      OperationMode  `json:"default_real_mode"`
	InstallationDate     string         `json:"installation_date"`
	InstallationTimeZone string         `json:"installation_time_zone"`
	NameplatePower       *float64       `json:"nameplate_power"`
	NameplateEnergy      *float64       `json:"nameplate_energy"`
	MaxSiteMeterPowerAC  *float64       `json:"max_site_meter_power_ac"`
	MinSiteMeterPowerAC  *float64       `json:"min_site_meter_power_ac"`
	Version              string         `json:"version"`
	BatteryCount         *int           `json:"battery_count"`
	Components           SiteComponents `json:"components"`
	TariffContent        struct {
		Utility *string `json:"utility"`
	} `json:"tariff_content"`
	UserSettings map[string]bool `json:"user_settings,omitempty"`
}

// SiteComponents describes the hardware installed at a site.
type SiteComponents struct {
	Solar       bool   `json:"solar"`
	SolarType   string `json:"solar_type"`
	Battery     bool   `json:"battery"`
	Grid        bool   `json:"grid"`
	Backup      bool   `json:"backup"`
	Gateway     string `json:"gateway"`
	LoadMeter   bool   `json:"load_meter"`
	BatteryType string `json:"battery_type"`
	// Inverters is nil when the upstream document has no inverter list at
	// all, and empty when the list is present but empty.
	Inverters []Device `json:"inverters"`
	Batteries []Device `json:"batteries"`
	Gateways  []Device `json:"gateways"`
}

// Device is one hardware component of a site.
type Device struct {
	DeviceID        string `json:"device_id"`
	DIN             string `json:"din"`
	SerialNumber    string `json:"serial_number"`
	PartNumber      string `json:"part_number"`
	PartType        int    `json:"part_type"`
	PartName        string `json:"part_name"`
	IsActive        bool   `json:"is_active"`
	FirmwareVersion string `json:"firmware_version,omitempty"`

	NameplateMaxChargePower    float64 `json:"nameplate_max_charge_power,omitempty"`
	NameplateMaxDischargePower float64 `json:"nameplate_max_discharge_power,omitempty"`
	NameplateEnergy            float64 `json:"nameplate_energy,omitempty"`
}

// Island and grid states reported by live_status.
const (
	IslandStatusOnGrid             = "on_grid"
	IslandStatusOffGridIntentional = "off_grid_intentional"
	IslandStatusOffGrid            = "off_grid"

	GridStatusActive = "Active"
)

// LiveStatus is the live telemetry document of a site. Power values are in
// watts, energy values in watt hours.
type LiveStatus struct {
	SolarPower         float64 `json:"solar_power"`
	EnergyLeft         float64 `json:"energy_left"`
	TotalPackEnergy    float64 `json:"total_pack_energy"`
	PercentageCharged  float64 `json:"percentage_charged"`
	BackupCapable      bool    `json:"backup_capable"`
	BatteryPower       float64 `json:"battery_power"`
	LoadPower          float64 `json:"load_power"`
	GridStatus         string  `json:"grid_status"`
	GridServicesActive *bool   `json:"grid_services_active"`
	GridPower          float64 `json:"grid_power"`
	GridServicesPower  float64 `json:"grid_services_power"`
	GeneratorPower     float64 `json:"generator_power"`
	IslandStatus       string  `json:"island_status"`
	StormModeActive    bool    `json:"storm_mode_active"`
	Timestamp          string  `json:"timestamp"`
}

// CommandResult is the upstream reply to a mutating call.
type CommandResult struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
