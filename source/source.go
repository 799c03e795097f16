package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/reportportal/complex-migrations/migration"
	"github.com/reportportal/complex-migrations/pager"
)

// The statements use $n placeholders, which PostgreSQL and SQLite both
// accept, so the same queries serve production and the in-memory tests.
//
// The without-launch branch is a UNION of two resolution paths: the log's
// own item carries the launch, or the item is a retry and the launch sits
// on the item it retries. Only the direct original is consulted; deeper
// retry chains are not followed.
const (
	queryEarliestID = `SELECT MIN(id) FROM log`

	queryIDNearTime = `SELECT id FROM log WHERE log_time >= $1 ORDER BY id LIMIT 1`

	queryWithLaunch = `
SELECT id, log_time, log_message, item_id, launch_id, project_id
  FROM log
 WHERE launch_id IS NOT NULL
 ORDER BY id DESC
 LIMIT $1`

	queryWithLaunchBefore = `
SELECT id, log_time, log_message, item_id, launch_id, project_id
  FROM log
 WHERE launch_id IS NOT NULL AND id < $1
 ORDER BY id DESC
 LIMIT $2`

	queryWithoutLaunch = `
SELECT l.id AS id, l.log_time, l.log_message, l.item_id, ti.launch_id, l.project_id
  FROM log l
  JOIN test_item ti ON l.item_id = ti.item_id
 WHERE l.launch_id IS NULL AND ti.launch_id IS NOT NULL
 UNION
SELECT l.id AS id, l.log_time, l.log_message, l.item_id, orig.launch_id, l.project_id
  FROM log l
  JOIN test_item ti ON l.item_id = ti.item_id
  JOIN test_item orig ON ti.retry_of = orig.item_id
 WHERE l.launch_id IS NULL AND orig.launch_id IS NOT NULL
 ORDER BY id DESC
 LIMIT $1`

	queryWithoutLaunchBefore = `
SELECT l.id AS id, l.log_time, l.log_message, l.item_id, ti.launch_id, l.project_id
  FROM log l
  JOIN test_item ti ON l.item_id = ti.item_id
 WHERE l.launch_id IS NULL AND ti.launch_id IS NOT NULL AND l.id < $1
 UNION
SELECT l.id AS id, l.log_time, l.log_message, l.item_id, orig.launch_id, l.project_id
  FROM log l
  JOIN test_item ti ON l.item_id = ti.item_id
  JOIN test_item orig ON ti.retry_of = orig.item_id
 WHERE l.launch_id IS NULL AND orig.launch_id IS NOT NULL AND l.id < $1
 ORDER BY id DESC
 LIMIT $2`
)

// Source implements migration.RecordSource over a database/sql handle.
type Source struct {
	db *sql.DB
}

// New wraps an open database handle. The handle stays owned by the caller.
func New(db *sql.DB) (*Source, error) {
	if db == nil {
		return nil, fmt.Errorf("source: db is nil")
	}
	return &Source{db: db}, nil
}

// EarliestID returns the smallest log id, or ok=false for an empty table.
func (s *Source) EarliestID(ctx context.Context) (int64, bool, error) {
	var id sql.NullInt64
	if err := s.db.QueryRowContext(ctx, queryEarliestID).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("source: earliest log id: %w", err)
	}
	return id.Int64, id.Valid, nil
}

// IDNearTime returns the smallest id whose log time is at or after t, or
// ok=false when every log predates t.
func (s *Source) IDNearTime(ctx context.Context, t time.Time) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, queryIDNearTime, t).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("source: log id near %s: %w", t, err)
	}
	return id, true, nil
}

// BatchWithLaunch fetches up to limit rows that already carry a launch id,
// newest first, strictly below the bound when the cursor has one.
func (s *Source) BatchWithLaunch(ctx context.Context, bound pager.Cursor, limit int) ([]migration.LogRecord, error) {
	if bound.IsExhausted() {
		return nil, nil
	}
	if b, ok := bound.Bound(); ok {
		return s.batch(ctx, queryWithLaunchBefore, b, int64(limit))
	}
	return s.batch(ctx, queryWithLaunch, int64(limit))
}

// BatchWithoutLaunch fetches up to limit rows lacking a launch id, each
// resolved through its test item or the item's direct retry original.
func (s *Source) BatchWithoutLaunch(ctx context.Context, bound pager.Cursor, limit int) ([]migration.LogRecord, error) {
	if bound.IsExhausted() {
		return nil, nil
	}
	if b, ok := bound.Bound(); ok {
		return s.batch(ctx, queryWithoutLaunchBefore, b, int64(limit))
	}
	return s.batch(ctx, queryWithoutLaunch, int64(limit))
}

func (s *Source) batch(ctx context.Context, query string, args ...any) ([]migration.LogRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("source: query log batch: %w", err)
	}
	defer rows.Close()

	var out []migration.LogRecord
	for rows.Next() {
		var rec migration.LogRecord
		if err := rows.Scan(&rec.ID, &rec.LogTime, &rec.Message, &rec.ItemID, &rec.LaunchID, &rec.ProjectID); err != nil {
			return nil, fmt.Errorf("source: scan log row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("source: iterate log rows: %w", err)
	}
	return out, nil
}

var _ migration.RecordSource = (*Source)(nil)
