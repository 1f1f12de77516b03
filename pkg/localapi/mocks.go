package localapi

import (
	_ "embed"
)

// Canned documents for local API paths that have no FleetAPI equivalent.
var (
	//go:embed mocks/installer.json
	mockInstaller string

	//go:embed mocks/meters.json
	mockMeters string

	//go:embed mocks/meters_site.json
	mockMetersSite string

	//go:embed mocks/powerwalls.json
	mockPowerwalls string

	//go:embed mocks/solars_brands.json
	mockSolarsBrands string
)

const (
	mockCustomerRegistration = `{"privacy_notice":null,"limited_warranty":null,"grid_services":null,"marketing":null,"registered":true,"timed_out_registration":false}`

	mockUpdateStatus = `{"state":"/update_succeeded","info":{"status":["nonactionable"]},"current_time":1702756114429,"last_status_time":1702753309227,"version":"23.28.2 27626f98","offline_updating":false,"offline_update_error":"","estimated_bytes_per_second":null}`
)
