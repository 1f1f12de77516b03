package main

import (
	"context"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/fleetproxy/pkg/localapi"
	"github.com/raterudder/fleetproxy/pkg/log"
	"github.com/raterudder/fleetproxy/pkg/schedule"
	"github.com/raterudder/fleetproxy/pkg/storage"
	"github.com/raterudder/fleetproxy/pkg/types"
)

// defaultRules mirrors the time-of-use schedule the scheduler was first
// written for.
const defaultRules = `
timezone: America/Los_Angeles
rules:
  - cron: "0 0 * * *"
    real_mode: self_consumption
  - cron: "0 12 * * *"
    real_mode: autonomous
  - cron: "0 15 * * *"
    real_mode: self_consumption
  - cron: "30 19 * * *"
    real_mode: autonomous
`

func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	s := storage.Configured()
	scheduleFile := lflag.String("schedule-file", "", "YAML schedule to replay (defaults to a time-of-use schedule)")
	siteIDStr := lflag.String("seed-site-id", "12345", "Site id recorded on the seeded actions")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	siteID, err := localapi.ParseSiteID(*siteIDStr)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid --seed-site-id", "error", err)
		os.Exit(1)
	}

	var f *schedule.File
	if *scheduleFile != "" {
		f, err = schedule.LoadFile(*scheduleFile)
	} else {
		f, err = schedule.Parse([]byte(defaultRules))
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load schedule", "error", err)
		os.Exit(1)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeding mock action history")

	// Use a new random source
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	// Midnight to now, in the schedule's time zone
	now := time.Now().In(f.Location())
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, f.Location())

	var last string
	count := 0
	for t := start; t.Before(now); t = t.Add(time.Minute) {
		rule, ok := f.Current(t)
		if !ok || rule.Cron == last {
			continue
		}
		last = rule.Cron

		action := types.Action{
			Timestamp:            t,
			SiteID:               siteID,
			Rule:                 rule.Cron,
			RealMode:             rule.RealMode,
			BackupReservePercent: rule.BackupReservePercent,
		}
		// the occasional FleetAPI hiccup
		if rng.Float64() < 0.1 {
			action.RealMode = ""
			action.BackupReservePercent = nil
			action.Error = "failed to set real_mode"
		}
		if err := s.InsertAction(ctx, action); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to insert action", "error", err)
			os.Exit(1)
		}
		count++
	}

	log.Ctx(ctx).InfoContext(ctx, "seeding complete", "actions", count)
}
