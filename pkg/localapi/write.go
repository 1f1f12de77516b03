package localapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/raterudder/fleetproxy/pkg/cache"
	"github.com/raterudder/fleetproxy/pkg/log"
	"github.com/raterudder/fleetproxy/pkg/types"
)

// field returns the value of key when it is present and not null.
func field(payload map[string]any, key string) (any, bool) {
	v, ok := payload[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// parseReserve accepts a whole number between 0 and 100. false is accepted as
// 0 since some callers send it to clear the reserve.
func parseReserve(v any) (int, error) {
	var f float64
	switch n := v.(type) {
	case bool:
		if n {
			return 0, fmt.Errorf("%w: backup_reserve_percent must be a number", ErrInvalidPayload)
		}
		return 0, nil
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, fmt.Errorf("%w: backup_reserve_percent: %v", ErrInvalidPayload, err)
		}
	default:
		return 0, fmt.Errorf("%w: backup_reserve_percent must be a number, got %T", ErrInvalidPayload, v)
	}
	if f != math.Trunc(f) || f < 0 || f > 100 {
		return 0, fmt.Errorf("%w: backup_reserve_percent must be a whole number between 0 and 100, got %v", ErrInvalidPayload, v)
	}
	return int(f), nil
}

func parseMode(v any) (types.OperationMode, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: real_mode must be a string, got %T", ErrInvalidPayload, v)
	}
	m, err := types.ParseOperationMode(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return m, nil
}

// postOperation sets the backup reserve and/or the operating mode. Both fields
// are validated before anything is sent upstream.
func (g *Gateway) postOperation(ctx context.Context, req Request) (any, error) {
	rawReserve, hasReserve := field(req.Payload, "backup_reserve_percent")
	rawMode, hasMode := field(req.Payload, "real_mode")
	if !hasReserve && !hasMode {
		return nil, fmt.Errorf("%w: %s requires backup_reserve_percent or real_mode, or both", ErrInvalidPayload, req.Path)
	}

	var (
		reserve int
		mode    types.OperationMode
		err     error
	)
	if hasReserve {
		if reserve, err = parseReserve(rawReserve); err != nil {
			return nil, err
		}
	}
	if hasMode {
		if mode, err = parseMode(rawMode); err != nil {
			return nil, err
		}
	}

	if req.DeviceID != "" {
		log.Ctx(ctx).WarnContext(ctx, "fleetapi operates on the whole site, ignoring device id",
			slog.String("din", req.DeviceID),
		)
	}

	var (
		doc       OperationWriteDoc
		succeeded bool
	)
	if hasReserve {
		r := &SetReserveResult{BackupReservePercent: rawReserve}
		res, err := g.client.SetBackupReserve(ctx, req.Site, reserve)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to set backup reserve",
				slog.Int("percent", reserve),
				slog.Any("error", err),
			)
		} else {
			r.Result = &res
			succeeded = true
		}
		doc.SetBackupReservePercent = r
	}
	if hasMode {
		r := &SetOperationResult{RealMode: rawMode}
		res, err := g.client.SetOperationMode(ctx, req.Site, mode)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to set operation mode",
				slog.String("mode", string(mode)),
				slog.Any("error", err),
			)
		} else {
			r.Result = &res
			succeeded = true
		}
		doc.SetOperation = r
	}

	if succeeded {
		g.cache.Invalidate(cache.Key{Site: req.Site, Resource: resourceSiteInfo})
	}
	return doc, nil
}
