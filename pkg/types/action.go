package types

import "time"

// Action records one scheduled change applied to a site.
type Action struct {
	Timestamp time.Time `json:"timestamp"`
	SiteID    int64     `json:"siteID"`
	// Rule is the cron expression of the schedule rule that fired.
	Rule                 string        `json:"rule"`
	RealMode             OperationMode `json:"realMode,omitempty"`
	BackupReservePercent *int          `json:"backupReservePercent,omitempty"`
	// Error is set when the change could not be applied.
	Error string `json:"error,omitempty"`
}
