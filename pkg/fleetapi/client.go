package fleetapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/raterudder/fleetproxy/pkg/log"
	"github.com/raterudder/fleetproxy/pkg/types"
)

// ErrUnauthorized is returned when the FleetAPI rejects our token.
var ErrUnauthorized = errors.New("fleetapi: unauthorized")

// APIError is a non-2xx reply from the FleetAPI.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("fleetapi: status %d", e.StatusCode)
	}
	return fmt.Sprintf("fleetapi: status %d: %s", e.StatusCode, e.Message)
}

// Client implements SiteClient over HTTP. The http.Client is expected to
// attach the bearer token, see Config.NewClient.
type Client struct {
	client  *http.Client
	baseURL string
}

var _ SiteClient = (*Client)(nil)

// NewClient returns a Client talking to baseURL with an already
// authenticated http client.
func NewClient(client *http.Client, baseURL string) *Client {
	return &Client{
		client:  client,
		baseURL: baseURL,
	}
}

type fleetResponse struct {
	Response         json.RawMessage `json:"response"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

func (c *Client) endpoint(elem ...string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	u.Path, err = url.JoinPath(u.Path, elem...)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (c *Client) newGetRequest(ctx context.Context, elem ...string) (*http.Request, error) {
	u, err := c.endpoint(elem...)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, "GET", u, nil)
}

func (c *Client) newPostJSONRequest(ctx context.Context, data any, elem ...string) (*http.Request, error) {
	u, err := c.endpoint(elem...)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	ctx := req.Context()
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var fr fleetResponse
	// error bodies are not always JSON, so only fail on decode for 2xx
	decodeErr := json.Unmarshal(body, &fr)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fr.Error
		if fr.ErrorDescription != "" {
			msg = fr.Error + ": " + fr.ErrorDescription
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: msg}
		log.Ctx(ctx).WarnContext(ctx, "fleetapi request failed",
			slog.String("url", req.URL.Path),
			slog.Int("status", resp.StatusCode),
			slog.String("message", msg),
		)
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %w", ErrUnauthorized, apiErr)
		}
		return apiErr
	}
	if decodeErr != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode fleetapi response", slog.Any("error", decodeErr), slog.String("body", string(body)))
		return fmt.Errorf("failed to decode fleetapi response: %w", decodeErr)
	}
	if fr.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: fr.Error}
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(fr.Response, dest); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode fleetapi result", slog.Any("error", err))
		return fmt.Errorf("failed to decode fleetapi result: %w", err)
	}
	return nil
}

func siteElem(siteID int64) string {
	return strconv.FormatInt(siteID, 10)
}

// ListSites returns the energy sites among the account's products. Vehicles
// are skipped.
func (c *Client) ListSites(ctx context.Context) ([]types.SiteSummary, error) {
	req, err := c.newGetRequest(ctx, "api/1/products")
	if err != nil {
		return nil, err
	}
	var products []types.SiteSummary
	if err := c.doRequest(req, &products); err != nil {
		return nil, fmt.Errorf("products failed: %w", err)
	}
	sites := make([]types.SiteSummary, 0, len(products))
	for _, p := range products {
		if p.EnergySiteID == 0 {
			continue
		}
		sites = append(sites, p)
	}
	log.Ctx(ctx).DebugContext(ctx, "fleetapi sites", slog.Int("products", len(products)), slog.Int("sites", len(sites)))
	return sites, nil
}

// SiteInfo returns the site configuration.
func (c *Client) SiteInfo(ctx context.Context, siteID int64) (types.SiteInfo, error) {
	req, err := c.newGetRequest(ctx, "api/1/energy_sites", siteElem(siteID), "site_info")
	if err != nil {
		return types.SiteInfo{}, err
	}
	var res types.SiteInfo
	if err := c.doRequest(req, &res); err != nil {
		return types.SiteInfo{}, fmt.Errorf("site_info failed: %w", err)
	}
	return res, nil
}

// LiveStatus returns the live telemetry.
func (c *Client) LiveStatus(ctx context.Context, siteID int64) (types.LiveStatus, error) {
	req, err := c.newGetRequest(ctx, "api/1/energy_sites", siteElem(siteID), "live_status")
	if err != nil {
		return types.LiveStatus{}, err
	}
	var res types.LiveStatus
	if err := c.doRequest(req, &res); err != nil {
		return types.LiveStatus{}, fmt.Errorf("live_status failed: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "fleetapi live status",
		slog.Float64("soc", res.PercentageCharged),
		slog.Float64("solarW", res.SolarPower),
		slog.Float64("gridW", res.GridPower),
		slog.Float64("loadW", res.LoadPower),
		slog.Float64("batteryW", res.BatteryPower),
		slog.String("island", res.IslandStatus),
	)
	return res, nil
}

// SetBackupReserve sets the backup reserve percentage.
func (c *Client) SetBackupReserve(ctx context.Context, siteID int64, percent int) (types.CommandResult, error) {
	if !types.ValidBackupReserve(percent) {
		return types.CommandResult{}, fmt.Errorf("invalid backup reserve: %d", percent)
	}
	body := struct {
		BackupReservePercent int `json:"backup_reserve_percent"`
	}{percent}
	req, err := c.newPostJSONRequest(ctx, body, "api/1/energy_sites", siteElem(siteID), "backup")
	if err != nil {
		return types.CommandResult{}, err
	}
	var res types.CommandResult
	if err := c.doRequest(req, &res); err != nil {
		return types.CommandResult{}, fmt.Errorf("backup failed: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "set backup reserve", slog.Int64("siteID", siteID), slog.Int("percent", percent), slog.String("message", res.Message))
	return res, nil
}

// SetOperationMode sets default_real_mode.
func (c *Client) SetOperationMode(ctx context.Context, siteID int64, mode types.OperationMode) (types.CommandResult, error) {
	if !mode.Valid() {
		return types.CommandResult{}, fmt.Errorf("invalid operation mode: %q", mode)
	}
	body := struct {
		DefaultRealMode types.OperationMode `json:"default_real_mode"`
	}{mode}
	req, err := c.newPostJSONRequest(ctx, body, "api/1/energy_sites", siteElem(siteID), "operation")
	if err != nil {
		return types.CommandResult{}, err
	}
	var res types.CommandResult
	if err := c.doRequest(req, &res); err != nil {
		return types.CommandResult{}, fmt.Errorf("operation failed: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "set operation mode", slog.Int64("siteID", siteID), slog.String("mode", string(mode)), slog.String("message", res.Message))
	return res, nil
}
