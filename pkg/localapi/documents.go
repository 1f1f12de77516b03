package localapi

import "github.com/raterudder/fleetproxy/pkg/types"

// Grid states of the local API.
const (
	GridStatusConnected = "SystemGridConnected"
	GridStatusIslanded  = "SystemIslandedActive"
)

// Alerts reported on the synthesized vitals device.
const (
	AlertConnectedToGrid   = "SystemConnectedToGrid"
	AlertScheduledIsland   = "ScheduledIslandContactorOpen"
	AlertUnscheduledIsland = "UnscheduledIslandContactorOpen"
)

// SOEDoc is /api/system_status/soe.
type SOEDoc struct {
	Percentage float64 `json:"percentage"`
}

// GridStatusDoc is /api/system_status/grid_status.
type GridStatusDoc struct {
	GridStatus string `json:"grid_status"`
	// GridServicesActive is true while the site takes part in a VPP event.
	GridServicesActive *bool `json:"grid_services_active"`
}

// SiteNameDoc is /api/site_info/site_name.
type SiteNameDoc struct {
	SiteName string `json:"site_name"`
	Timezone string `json:"timezone"`
}

// GridCode is the grid code section of /api/site_info. Only the utility is
// known to the FleetAPI.
type GridCode struct {
	GridCode           *string `json:"grid_code"`
	GridVoltageSetting *string `json:"grid_voltage_setting"`
	GridFreqSetting    *string `json:"grid_freq_setting"`
	GridPhaseSetting   *string `json:"grid_phase_setting"`
	Country            *string `json:"country"`
	State              *string `json:"state"`
	Utility            *string `json:"utility"`
}

// SiteInfoDoc is /api/site_info.
type SiteInfoDoc struct {
	MaxSystemEnergyKWh     float64  `json:"max_system_energy_kWh"`
	MaxSystemPowerKW       float64  `json:"max_system_power_kW"`
	SiteName               string   `json:"site_name"`
	Timezone               string   `json:"timezone"`
	MaxSiteMeterPowerKW    *float64 `json:"max_site_meter_power_kW"`
	MinSiteMeterPowerKW    *float64 `json:"min_site_meter_power_kW"`
	NominalSystemEnergyKWh float64  `json:"nominal_system_energy_kWh"`
	NominalSystemPowerKW   float64  `json:"nominal_system_power_kW"`
	PanelMaxCurrent        *float64 `json:"panel_max_current"`
	GridCode               GridCode `json:"grid_code"`
}

// StatusDoc is /api/status.
type StatusDoc struct {
	DIN              string  `json:"din"`
	StartTime        string  `json:"start_time"`
	UpTimeSeconds    *string `json:"up_time_seconds"`
	IsNew            bool    `json:"is_new"`
	Version          string  `json:"version"`
	GitHash          string  `json:"git_hash"`
	CommissionCount  int     `json:"commission_count"`
	DeviceType       string  `json:"device_type"`
	TEGType          string  `json:"teg_type"`
	SyncType         string  `json:"sync_type"`
	CellularDisabled bool    `json:"cellular_disabled"`
	CanReboot        bool    `json:"can_reboot"`
}

// OperationDoc is the read side of /api/operation.
type OperationDoc struct {
	RealMode             types.OperationMode `json:"real_mode"`
	BackupReservePercent float64             `json:"backup_reserve_percent"`
}

// VitalsDevice is one device of /vitals.
type VitalsDevice struct {
	PartNumber            *string `json:"partNumber"`
	SerialNumber          *string `json:"serialNumber"`
	Manufacturer          string  `json:"manufacturer"`
	FirmwareVersion       string  `json:"firmwareVersion"`
	LastCommunicationTime int64   `json:"lastCommunicationTime"`
	EcuAttributes         struct {
		EcuType int `json:"ecuType"`
	} `json:"teslaEnergyEcuAttributes"`
	Location string   `json:"STSTSM-Location"`
	Alerts   []string `json:"alerts"`
}

// VitalsDoc is /vitals, keyed by device name.
type VitalsDoc map[string]VitalsDevice

// Meter is one aggregated meter of /api/meters/aggregates.
type Meter struct {
	LastCommunicationTime             string  `json:"last_communication_time"`
	InstantPower                      float64 `json:"instant_power"`
	InstantReactivePower              float64 `json:"instant_reactive_power"`
	InstantApparentPower              float64 `json:"instant_apparent_power"`
	Frequency                         float64 `json:"frequency"`
	EnergyExported                    float64 `json:"energy_exported"`
	EnergyImported                    float64 `json:"energy_imported"`
	InstantAverageVoltage             float64 `json:"instant_average_voltage"`
	InstantAverageCurrent             float64 `json:"instant_average_current"`
	IACurrent                         float64 `json:"i_a_current"`
	IBCurrent                         float64 `json:"i_b_current"`
	ICCurrent                         float64 `json:"i_c_current"`
	LastPhaseVoltageCommunicationTime string  `json:"last_phase_voltage_communication_time"`
	LastPhasePowerCommunicationTime   string  `json:"last_phase_power_communication_time"`
	LastPhaseEnergyCommunicationTime  string  `json:"last_phase_energy_communication_time"`
	Timeout                           int64   `json:"timeout"`
	NumMetersAggregated               *int    `json:"num_meters_aggregated"`
	InstantTotalCurrent               float64 `json:"instant_total_current"`
}

const zeroTime = "0001-01-01T00:00:00Z"

func newMeter(timestamp string, power float64, aggregated *int) Meter {
	return Meter{
		LastCommunicationTime:             timestamp,
		InstantPower:                      power,
		LastPhaseVoltageCommunicationTime: zeroTime,
		LastPhasePowerCommunicationTime:   zeroTime,
		LastPhaseEnergyCommunicationTime:  zeroTime,
		Timeout:                           1500000000,
		NumMetersAggregated:               aggregated,
	}
}

// MetersAggregatesDoc is /api/meters/aggregates.
type MetersAggregatesDoc struct {
	Site    Meter `json:"site"`
	Battery Meter `json:"battery"`
	Load    Meter `json:"load"`
	Solar   Meter `json:"solar"`
}

// BatteryBlock is one entry of the battery_blocks list of /api/system_status.
type BatteryBlock struct {
	Type                   string   `json:"Type"`
	PackagePartNumber      string   `json:"PackagePartNumber"`
	PackageSerialNumber    string   `json:"PackageSerialNumber"`
	DisabledReasons        []string `json:"disabled_reasons"`
	PinvState              string   `json:"pinv_state"`
	PinvGridState          string   `json:"pinv_grid_state"`
	NominalEnergyRemaining float64  `json:"nominal_energy_remaining"`
	NominalFullPackEnergy  float64  `json:"nominal_full_pack_energy"`
	POut                   float64  `json:"p_out"`
	QOut                   float64  `json:"q_out"`
	VOut                   float64  `json:"v_out"`
	FOut                   float64  `json:"f_out"`
	IOut                   float64  `json:"i_out"`
	EnergyCharged          float64  `json:"energy_charged"`
	EnergyDischarged       float64  `json:"energy_discharged"`
	OffGrid                bool     `json:"off_grid"`
	VfMode                 bool     `json:"vf_mode"`
	WobbleDetected         bool     `json:"wobble_detected"`
	ChargePowerClamped     bool     `json:"charge_power_clamped"`
	BackupReady            bool     `json:"backup_ready"`
	OpSeqState             string   `json:"OpSeqState"`
	Version                string   `json:"version"`
}

// SystemStatusDoc is /api/system_status. Fields the FleetAPI does not report
// keep the values a healthy gateway would report.
type SystemStatusDoc struct {
	CommandSource                  string         `json:"command_source"`
	BatteryTargetPower             float64        `json:"battery_target_power"`
	BatteryTargetReactivePower     float64        `json:"battery_target_reactive_power"`
	NominalFullPackEnergy          float64        `json:"nominal_full_pack_energy"`
	NominalEnergyRemaining         float64        `json:"nominal_energy_remaining"`
	MaxPowerEnergyRemaining        float64        `json:"max_power_energy_remaining"`
	MaxPowerEnergyToBeCharged      float64        `json:"max_power_energy_to_be_charged"`
	MaxChargePower                 *float64       `json:"max_charge_power"`
	MaxDischargePower              *float64       `json:"max_discharge_power"`
	MaxApparentPower               *float64       `json:"max_apparent_power"`
	InstantaneousMaxDischargePower float64        `json:"instantaneous_max_discharge_power"`
	InstantaneousMaxChargePower    float64        `json:"instantaneous_max_charge_power"`
	InstantaneousMaxApparentPower  float64        `json:"instantaneous_max_apparent_power"`
	HardwareCapabilityChargePower  float64        `json:"hardware_capability_charge_power"`
	HardwareCapabilityDischarge    float64        `json:"hardware_capability_discharge_power"`
	GridServicesPower              float64        `json:"grid_services_power"`
	SystemIslandState              string         `json:"system_island_state"`
	AvailableBlocks                *int           `json:"available_blocks"`
	AvailableChargerBlocks         int            `json:"available_charger_blocks"`
	BatteryBlocks                  []BatteryBlock `json:"battery_blocks"`
	FFRPowerAvailabilityHigh       float64        `json:"ffr_power_availability_high"`
	FFRPowerAvailabilityLow        float64        `json:"ffr_power_availability_low"`
	LoadChargeConstraint           float64        `json:"load_charge_constraint"`
	MaxSustainedRampRate           float64        `json:"max_sustained_ramp_rate"`
	GridFaults                     []any          `json:"grid_faults"`
	CanReboot                      string         `json:"can_reboot"`
	SmartInvDeltaP                 float64        `json:"smart_inv_delta_p"`
	SmartInvDeltaQ                 float64        `json:"smart_inv_delta_q"`
	LastToggleTimestamp            string         `json:"last_toggle_timestamp"`
	SolarRealPowerLimit            float64        `json:"solar_real_power_limit"`
	Score                          int            `json:"score"`
	BlocksControlled               *int           `json:"blocks_controlled"`
	Primary                        bool           `json:"primary"`
	AuxiliaryLoad                  float64        `json:"auxiliary_load"`
	AllEnableLinesHigh             bool           `json:"all_enable_lines_high"`
	InverterNominalUsablePower     float64        `json:"inverter_nominal_usable_power"`
	ExpectedEnergyRemaining        float64        `json:"expected_energy_remaining"`
}

func newSystemStatus() SystemStatusDoc {
	return SystemStatusDoc{
		CommandSource:       "Configuration",
		SystemIslandState:   GridStatusConnected,
		BatteryBlocks:       []BatteryBlock{},
		GridFaults:          []any{},
		CanReboot:           "Yes",
		LastToggleTimestamp: "2023-10-13T04:08:05.957195-07:00",
		Score:               10000,
		Primary:             true,
		AllEnableLinesHigh:  true,
	}
}

// SetReserveResult reports one backup reserve write.
type SetReserveResult struct {
	// BackupReservePercent echoes the requested value as it was sent.
	BackupReservePercent any                  `json:"backup_reserve_percent"`
	Result               *types.CommandResult `json:"result"`
}

// SetOperationResult reports one operating mode write.
type SetOperationResult struct {
	RealMode any                  `json:"real_mode"`
	Result   *types.CommandResult `json:"result"`
}

// OperationWriteDoc is the write side of /api/operation. Only the operations
// present in the payload are set.
type OperationWriteDoc struct {
	SetBackupReservePercent *SetReserveResult   `json:"set_backup_reserve_percent,omitempty"`
	SetOperation            *SetOperationResult `json:"set_operation,omitempty"`
}
