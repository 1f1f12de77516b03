package schedule

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/raterudder/fleetproxy/pkg/types"
)

// lookback bounds how far Current searches for the last time a rule fired.
const lookback = 8 * 24 * time.Hour

// Rule sets the operating mode and/or backup reserve when its cron expression
// fires. At least one of RealMode and BackupReservePercent is set.
type Rule struct {
	Cron                 string              `yaml:"cron"`
	RealMode             types.OperationMode `yaml:"real_mode,omitempty"`
	BackupReservePercent *int                `yaml:"backup_reserve_percent,omitempty"`

	schedule cron.Schedule
}

// File is the YAML rule file.
type File struct {
	// Timezone is an IANA name, empty means UTC.
	Timezone string `yaml:"timezone"`
	Rules    []Rule `yaml:"rules"`

	location *time.Location
}

// Location returns the time zone the rules are evaluated in.
func (f *File) Location() *time.Location {
	if f.location == nil {
		return time.UTC
	}
	return f.location
}

// LoadFile reads and validates a rule file.
func LoadFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule file %s: %w", path, err)
	}
	f, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule file %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates a rule file.
func Parse(b []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("failed to decode schedule: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	loc, err := time.LoadLocation(f.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", f.Timezone, err)
	}
	f.location = loc

	if len(f.Rules) == 0 {
		return errors.New("schedule has no rules")
	}
	for i := range f.Rules {
		r := &f.Rules[i]
		if r.Cron == "" {
			return fmt.Errorf("rule %d: missing cron", i)
		}
		sched, err := cron.ParseStandard(r.Cron)
		if err != nil {
			return fmt.Errorf("rule %d: invalid cron %q: %w", i, r.Cron, err)
		}
		r.schedule = sched
		if r.RealMode == "" && r.BackupReservePercent == nil {
			return fmt.Errorf("rule %d: needs real_mode or backup_reserve_percent", i)
		}
		if r.RealMode != "" && !r.RealMode.Valid() {
			return fmt.Errorf("rule %d: unknown real_mode %q", i, r.RealMode)
		}
		if r.BackupReservePercent != nil && !types.ValidBackupReserve(*r.BackupReservePercent) {
			return fmt.Errorf("rule %d: backup_reserve_percent %d out of range", i, *r.BackupReservePercent)
		}
	}
	return nil
}

// lastFire returns the latest time at or before now the rule fired, searching
// back lookback.
func (r Rule) lastFire(now time.Time) (time.Time, bool) {
	var (
		last  time.Time
		found bool
	)
	for t := r.schedule.Next(now.Add(-lookback)); !t.IsZero() && !t.After(now); t = r.schedule.Next(t) {
		last = t
		found = true
	}
	return last, found
}

// Current returns the rule that is in effect at now: the one that fired most
// recently. Ties go to the later rule in the file.
func (f *File) Current(now time.Time) (Rule, bool) {
	now = now.In(f.Location())
	var (
		current Rule
		at      time.Time
		found   bool
	)
	for _, r := range f.Rules {
		t, ok := r.lastFire(now)
		if !ok {
			continue
		}
		if !found || !t.Before(at) {
			current, at, found = r, t, true
		}
	}
	return current, found
}
