// Package schedule switches a site's operating mode and backup reserve at
// fixed times of day. Rules come from a YAML file and are applied through the
// local API write path.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/robfig/cron/v3"

	"github.com/raterudder/fleetproxy/pkg/localapi"
	"github.com/raterudder/fleetproxy/pkg/log"
	"github.com/raterudder/fleetproxy/pkg/storage"
	"github.com/raterudder/fleetproxy/pkg/types"
)

// Gateway is the part of localapi.Gateway the scheduler needs.
type Gateway interface {
	Poll(ctx context.Context, path string, opts localapi.PollOptions) (any, error)
	Post(ctx context.Context, path string, payload map[string]any, deviceID string) (any, error)
	Site() (types.SiteSummary, bool)
}

var _ Gateway = (*localapi.Gateway)(nil)

// Scheduler applies the rules of a File on their cron schedules.
type Scheduler struct {
	gw           Gateway
	db           storage.Database
	file         *File
	applyOnStart bool
	now          func() time.Time
}

// Config holds the scheduler flags.
type Config struct {
	path         string
	applyOnStart bool
}

// Configured registers the scheduler flags.
func Configured() *Config {
	path := lflag.RequiredString("schedule-file", "Path of the YAML schedule rules")
	applyOnStart := lflag.Bool("schedule-apply-on-start", true, "Apply the rule currently in effect when starting")

	c := &Config{}
	lflag.Do(func() {
		c.path = *path
		c.applyOnStart = *applyOnStart
	})
	return c
}

// NewScheduler loads the configured rule file.
func (c *Config) NewScheduler(gw Gateway, db storage.Database) (*Scheduler, error) {
	f, err := LoadFile(c.path)
	if err != nil {
		return nil, err
	}
	s := New(gw, db, f)
	s.applyOnStart = c.applyOnStart
	return s, nil
}

// New returns a Scheduler for f. db may be nil to not record actions.
func New(gw Gateway, db storage.Database, f *File) *Scheduler {
	return &Scheduler{
		gw:   gw,
		db:   db,
		file: f,
		now:  time.Now,
	}
}

// Apply brings the site in line with rule, writing only what differs from the
// current settings, and records the outcome.
func (s *Scheduler) Apply(ctx context.Context, rule Rule) (types.Action, error) {
	ctx = log.WithAttrs(ctx, slog.String("rule", rule.Cron))

	action := types.Action{
		Timestamp: s.now(),
		Rule:      rule.Cron,
	}
	if site, ok := s.gw.Site(); ok {
		action.SiteID = site.EnergySiteID
	}

	var current *localapi.OperationDoc
	doc, err := s.gw.Poll(ctx, string(localapi.PathOperation), localapi.PollOptions{Force: true})
	if err != nil {
		return action, fmt.Errorf("failed to read current operation: %w", err)
	}
	if op, ok := doc.(localapi.OperationDoc); ok {
		current = &op
	} else {
		log.Ctx(ctx).WarnContext(ctx, "current operation unavailable, writing every field")
	}

	d := Decide(ctx, rule, current)
	if d.Payload == nil {
		log.Ctx(ctx).InfoContext(ctx, "site already matches rule", slog.String("explanation", d.Explanation))
		return action, nil
	}

	res, err := s.gw.Post(ctx, string(localapi.PathOperation), d.Payload, "")
	if err != nil {
		return action, fmt.Errorf("failed to write operation: %w", err)
	}
	written, _ := res.(localapi.OperationWriteDoc)

	var failed []string
	if r := written.SetOperation; r != nil {
		if r.Result != nil {
			action.RealMode = rule.RealMode
		} else {
			failed = append(failed, "real_mode")
		}
	}
	if r := written.SetBackupReservePercent; r != nil {
		if r.Result != nil {
			action.BackupReservePercent = rule.BackupReservePercent
		} else {
			failed = append(failed, "backup_reserve_percent")
		}
	}
	if len(failed) > 0 {
		action.Error = "failed to set " + strings.Join(failed, ", ")
	}

	if s.db != nil {
		if err := s.db.InsertAction(ctx, action); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to record action", slog.Any("error", err))
		}
	}
	if action.Error != "" {
		return action, errors.New(action.Error)
	}
	log.Ctx(ctx).InfoContext(ctx, "applied schedule rule", slog.String("explanation", d.Explanation))
	return action, nil
}

// Run applies rules as they fire until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	loc := s.file.Location()
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	for _, rule := range s.file.Rules {
		c.Schedule(rule.schedule, cron.FuncJob(func() {
			if _, err := s.Apply(ctx, rule); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to apply schedule rule",
					slog.String("rule", rule.Cron),
					slog.Any("error", err),
				)
			}
		}))
	}

	if s.applyOnStart {
		if rule, ok := s.file.Current(s.now()); ok {
			if _, err := s.Apply(ctx, rule); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to apply current schedule rule", slog.Any("error", err))
			}
		}
	}

	log.Ctx(ctx).InfoContext(ctx, "scheduler started",
		slog.Int("rules", len(s.file.Rules)),
		slog.String("timezone", loc.String()),
	)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	log.Ctx(ctx).InfoContext(ctx, "scheduler stopped")
	return nil
}
