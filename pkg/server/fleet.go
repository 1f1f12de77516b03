package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/raterudder/fleetproxy/pkg/localapi"
	"github.com/raterudder/fleetproxy/pkg/log"
	"github.com/raterudder/fleetproxy/pkg/types"
)

type siteListResponse struct {
	Sites   []types.SiteSummary `json:"sites"`
	Current int64               `json:"current,omitempty"`
}

func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sites, err := s.gateway.Sites(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list sites", slog.Any("error", err))
		writeGatewayError(w, err)
		return
	}
	res := siteListResponse{Sites: sites}
	if res.Sites == nil {
		res.Sites = []types.SiteSummary{}
	}
	if site, ok := s.gateway.Site(); ok {
		res.Current = site.EnergySiteID
	}
	writeJSON(w, res)
}

func (s *Server) handleChangeSite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req struct {
		// SiteID is accepted as a number or a string.
		SiteID json.Number `json:"site_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode request body", slog.Any("error", err))
		writeJSONError(w, "invalid json body", http.StatusBadRequest)
		return
	}
	id, err := localapi.ParseSiteID(req.SiteID.String())
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if err := s.gateway.ChangeSite(ctx, id); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to change site", slog.Int64("siteID", id), slog.Any("error", err))
		writeGatewayError(w, err)
		return
	}
	site, _ := s.gateway.Site()
	writeJSON(w, site)
}

func (s *Server) handleHistoryActions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	actions, err := s.storage.GetActionHistory(ctx, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get actions", slog.Any("error", err))
		writeJSONError(w, "failed to get actions", http.StatusInternalServerError)
		return
	}
	if actions == nil {
		actions = []types.Action{}
	}

	// ranges that ended before today won't change
	today := time.Now().Truncate(24 * time.Hour)
	if end.Before(today) {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}
	writeJSON(w, actions)
}

func parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" || endStr == "" {
		// Default to last 24 hours if not specified
		end := time.Now()
		start := end.Add(-24 * time.Hour)
		return start, end, nil
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start %s is not before end %s", startStr, endStr)
	}
	return start, end, nil
}
