package schedule

import (
	"context"
	"log/slog"
	"strings"

	"github.com/raterudder/fleetproxy/pkg/localapi"
	"github.com/raterudder/fleetproxy/pkg/log"
)

// Decision is what applying a rule against the current settings would change.
type Decision struct {
	// Payload is the /api/operation write, nil when nothing needs to change.
	Payload     map[string]any
	Explanation string
}

// Decide compares a rule against the current operation settings and only
// keeps the fields that differ. current may be nil when the settings could not
// be read, in which case every field of the rule is written.
func Decide(ctx context.Context, rule Rule, current *localapi.OperationDoc) Decision {
	payload := map[string]any{}
	var reasons []string

	if rule.RealMode != "" {
		if current != nil && current.RealMode == rule.RealMode {
			reasons = append(reasons, "real_mode already "+string(rule.RealMode))
		} else {
			payload["real_mode"] = string(rule.RealMode)
			reasons = append(reasons, "set real_mode to "+string(rule.RealMode))
		}
	}
	if rule.BackupReservePercent != nil {
		want := *rule.BackupReservePercent
		if current != nil && current.BackupReservePercent == float64(want) {
			reasons = append(reasons, "backup_reserve_percent unchanged")
		} else {
			payload["backup_reserve_percent"] = want
			reasons = append(reasons, "set backup_reserve_percent")
		}
	}

	d := Decision{Explanation: strings.Join(reasons, ", ")}
	if len(payload) > 0 {
		d.Payload = payload
	}
	log.Ctx(ctx).DebugContext(ctx, "schedule decision",
		slog.String("rule", rule.Cron),
		slog.Bool("change", d.Payload != nil),
		slog.String("explanation", d.Explanation),
	)
	return d
}
