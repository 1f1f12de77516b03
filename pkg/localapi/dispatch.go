package localapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/raterudder/fleetproxy/pkg/log"
)

// Path is a local API path such as /api/system_status/soe.
type Path string

// Local API paths with a live translation.
const (
	PathDevicesVitals   Path = "/api/devices/vitals"
	PathMetersAggregate Path = "/api/meters/aggregates"
	PathOperation       Path = "/api/operation"
	PathSiteInfo        Path = "/api/site_info"
	PathSiteName        Path = "/api/site_info/site_name"
	PathStatus          Path = "/api/status"
	PathSystemStatus    Path = "/api/system_status"
	PathGridStatus      Path = "/api/system_status/grid_status"
	PathSOE             Path = "/api/system_status/soe"
	PathVitals          Path = "/vitals"
)

// Request is one local API call after dispatch.
type Request struct {
	Path Path
	Site int64

	// Force bypasses the cache.
	Force bool
	// Recursive and Raw select format variants of the local API. They are
	// accepted for compatibility and ignored.
	Recursive bool
	Raw       bool

	// Payload and DeviceID are only set for writes.
	Payload  map[string]any
	DeviceID string
}

// Handler produces the document of one path.
type Handler interface {
	Handle(ctx context.Context, req Request) (any, error)
}

// liveHandler translates upstream documents fetched through the cache.
type liveHandler func(ctx context.Context, req Request) (any, error)

func (h liveHandler) Handle(ctx context.Context, req Request) (any, error) {
	return h(ctx, req)
}

// staticHandler serves a fixed JSON document. The document is decoded on
// every call so callers can never mutate a shared value.
type staticHandler []byte

func (h staticHandler) Handle(ctx context.Context, req Request) (any, error) {
	var v any
	if err := json.Unmarshal(h, &v); err != nil {
		return nil, fmt.Errorf("invalid mock document for %s: %w", req.Path, err)
	}
	return v, nil
}

// sentinelTimeout is what the gateway answers for endpoints that time out
// when the cloud has no equivalent.
const sentinelTimeout = `"TIMEOUT!"`

// unsupportedHandler serves null and logs why.
type unsupportedHandler string

func (h unsupportedHandler) Handle(ctx context.Context, req Request) (any, error) {
	log.Ctx(ctx).WarnContext(ctx, string(h), slog.String("path", string(req.Path)))
	return nil, nil
}

func (g *Gateway) readTable() map[Path]Handler {
	return map[Path]Handler{
		PathDevicesVitals:   unsupportedHandler("protobuf payload not supported, use /vitals instead"),
		PathMetersAggregate: liveHandler(g.metersAggregates),
		PathOperation:       liveHandler(g.operation),
		PathSiteInfo:        liveHandler(g.siteInfoDoc),
		PathSiteName:        liveHandler(g.siteName),
		PathStatus:          liveHandler(g.status),
		PathSystemStatus:    liveHandler(g.systemStatus),
		PathGridStatus:      liveHandler(g.gridStatus),
		PathSOE:             liveHandler(g.soe),
		PathVitals:          liveHandler(g.vitals),

		"/api/login/Basic": staticHandler(`{"status":"ok"}`),
		"/api/logout":      staticHandler(`{"status":"ok"}`),

		"/api/auth/toggle/supported":             staticHandler(`{"toggle_auth_supported":true}`),
		"/api/customer":                          staticHandler(`{"registered":true}`),
		"/api/customer/registration":             staticHandler(mockCustomerRegistration),
		"/api/installer":                         staticHandler(mockInstaller),
		"/api/meters":                            staticHandler(mockMeters),
		"/api/meters/readings":                   staticHandler(sentinelTimeout),
		"/api/meters/site":                       staticHandler(mockMetersSite),
		"/api/meters/solar":                      staticHandler(`null`),
		"/api/networks":                          staticHandler(sentinelTimeout),
		"/api/powerwalls":                        staticHandler(mockPowerwalls),
		"/api/site_info/grid_codes":              staticHandler(sentinelTimeout),
		"/api/sitemaster":                        staticHandler(`{"status":"StatusUp","running":true,"connected_to_tesla":true,"power_supply_mode":false,"can_reboot":"Yes"}`),
		"/api/solar_powerwall":                   staticHandler(`{}`),
		"/api/solars":                            staticHandler(`[{"brand":"Tesla","model":"Solar Inverter 7.6","power_rating_watts":7600}]`),
		"/api/solars/brands":                     staticHandler(mockSolarsBrands),
		"/api/synchrometer/ct_voltage_references": staticHandler(`{"ct1":"Phase1","ct2":"Phase2","ct3":"Phase1"}`),
		"/api/system/update/status":              staticHandler(mockUpdateStatus),
		"/api/system_status/grid_faults":         staticHandler(`[]`),
		"/api/troubleshooting/problems":          staticHandler(`{"problems":[]}`),
	}
}

func (g *Gateway) writeTable() map[Path]Handler {
	return map[Path]Handler{
		PathOperation: liveHandler(g.postOperation),
	}
}

// ErrorDoc is the document returned for paths the gateway does not know.
type ErrorDoc struct {
	Error string `json:"ERROR"`
}

func unknownAPI(path string) ErrorDoc {
	return ErrorDoc{Error: "Unknown API: " + path}
}

// PollOptions are the flags of a local API read.
type PollOptions struct {
	Force     bool
	Recursive bool
	Raw       bool
}

// Poll answers a local API read. Unknown paths produce an ErrorDoc, never an
// error. The document is nil when the upstream data is unavailable.
func (g *Gateway) Poll(ctx context.Context, path string, opts PollOptions) (any, error) {
	site, err := g.currentSite()
	if err != nil {
		return nil, err
	}
	h, ok := g.read[Path(path)]
	g.metrics.ObserveRequest(http.MethodGet, path, ok)
	if !ok {
		log.Ctx(ctx).DebugContext(ctx, "unknown local api path", slog.String("path", path))
		return unknownAPI(path), nil
	}
	ctx = log.WithAttrs(ctx, slog.Int64("siteID", site))
	return h.Handle(ctx, Request{
		Path:      Path(path),
		Site:      site,
		Force:     opts.Force,
		Recursive: opts.Recursive,
		Raw:       opts.Raw,
	})
}

// Post answers a local API write. Unknown paths produce an ErrorDoc, invalid
// payloads fail with ErrInvalidPayload.
func (g *Gateway) Post(ctx context.Context, path string, payload map[string]any, deviceID string) (any, error) {
	site, err := g.currentSite()
	if err != nil {
		return nil, err
	}
	h, ok := g.write[Path(path)]
	g.metrics.ObserveRequest(http.MethodPost, path, ok)
	if !ok {
		log.Ctx(ctx).DebugContext(ctx, "unknown local api path", slog.String("path", path))
		return unknownAPI(path), nil
	}
	ctx = log.WithAttrs(ctx, slog.Int64("siteID", site))
	return h.Handle(ctx, Request{
		Path:     Path(path),
		Site:     site,
		Payload:  payload,
		DeviceID: deviceID,
	})
}

// Paths returns the registered read and write paths, sorted.
func (g *Gateway) Paths() (read, write []Path) {
	for p := range g.read {
		read = append(read, p)
	}
	for p := range g.write {
		write = append(write, p)
	}
	slices.Sort(read)
	slices.Sort(write)
	return read, write
}
