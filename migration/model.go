package migration

import "time"

// LogRecord mirrors a single row of the log table joined with its owning
// launch and project. Records are materialized one page at a time and handed
// to the index gateway; the migration keeps no copy afterwards.
//
// The JSON shape is the index document. ProjectID is excluded: it selects
// the target index and is not part of the document body.
type LogRecord struct {
	ID        int64     `json:"id"`
	LogTime   time.Time `json:"logTime"`
	Message   string    `json:"logMessage"`
	ItemID    int64     `json:"itemId"`
	LaunchID  int64     `json:"launchId"`
	ProjectID int64     `json:"-"`
}

// DefaultMaxBatchSize bounds each branch query when no explicit batch size
// is configured.
const DefaultMaxBatchSize = 1000

// Config carries the settings for one reconciliation run. It is passed to
// NewEngine by value and never mutated afterwards.
type Config struct {
	// MaxBatchSize caps how many rows each branch query returns per page.
	// Non-positive values fall back to DefaultMaxBatchSize.
	MaxBatchSize int

	// StartTime, when non-nil, selects the resume point by timestamp instead
	// of probing the index for its earliest record.
	StartTime *time.Time
}

func (c Config) withDefaults() Config {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	return c
}
