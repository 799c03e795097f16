package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/reportportal/complex-migrations/observability"
	"github.com/reportportal/complex-migrations/pager"
)

// RecordSource reads pages of log rows from the relational store. Both
// batch methods return rows ordered by id descending, at most limit of
// them, and only rows strictly below the cursor's bound when it has one.
type RecordSource interface {
	// EarliestID returns the smallest id in the log table. ok is false when
	// the table has no rows.
	EarliestID(ctx context.Context) (id int64, ok bool, err error)

	// IDNearTime returns the smallest id whose log time is at or after t.
	// ok is false when every log predates t.
	IDNearTime(ctx context.Context, t time.Time) (id int64, ok bool, err error)

	// BatchWithLaunch fetches rows that already carry a launch id.
	BatchWithLaunch(ctx context.Context, bound pager.Cursor, limit int) ([]LogRecord, error)

	// BatchWithoutLaunch fetches rows lacking a launch id, each resolved to
	// its launch through the owning test item or, for retries, through the
	// item the retry points back to.
	BatchWithoutLaunch(ctx context.Context, bound pager.Cursor, limit int) ([]LogRecord, error)
}

// IndexGateway is the write side of the reconciliation: the search index
// the log records migrate into.
type IndexGateway interface {
	// EarliestRecord returns the oldest record currently indexed, or nil
	// when the index holds none.
	EarliestRecord(ctx context.Context) (*LogRecord, error)

	// BulkSave indexes one page of records, partitioned by project id.
	// A failure for any project fails the whole page.
	BulkSave(ctx context.Context, groups map[int64][]LogRecord) error
}

// Engine drives one reconciliation run: decide the resume point, then page
// backwards through the log history until the store and the index converge.
type Engine struct {
	cfg     Config
	source  RecordSource
	index   IndexGateway
	log     *slog.Logger
	metrics *observability.Registry
	tracer  trace.Tracer
}

// NewEngine assembles an engine. A nil logger falls back to slog.Default().
func NewEngine(cfg Config, source RecordSource, index IndexGateway, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:     cfg.withDefaults(),
		source:  source,
		index:   index,
		log:     logger,
		metrics: observability.Default,
		tracer:  otel.Tracer("migration"),
	}
}

// Run executes one reconciliation pass. It returns nil both after migrating
// records and when there was nothing to migrate; any query or index failure
// aborts the run as-is, and re-running after a failure is safe because
// index writes are keyed by record id.
func (e *Engine) Run(ctx context.Context) error {
	runID := uuid.NewString()
	ctx, span := e.tracer.Start(ctx, "migration.run",
		trace.WithAttributes(attribute.String("migration.run_id", runID)))
	defer span.End()

	log := e.log.With("runId", runID)
	log.Info("starting log migration", "maxBatchSize", e.cfg.MaxBatchSize)

	earliest, ok, err := e.source.EarliestID(ctx)
	if err != nil {
		return fmt.Errorf("migration: earliest log id: %w", err)
	}
	if !ok {
		log.Info("log table is empty, nothing to migrate")
		return nil
	}

	if e.cfg.StartTime != nil {
		resumeID, ok, err := e.source.IDNearTime(ctx, *e.cfg.StartTime)
		if err != nil {
			return fmt.Errorf("migration: resolve start time %s: %w", e.cfg.StartTime, err)
		}
		if !ok {
			// The configured point is newer than every log row.
			log.Info("no logs at or after configured start time", "startTime", *e.cfg.StartTime)
			return nil
		}
		return e.reconcile(ctx, log, earliest, resumeID)
	}

	first, err := e.index.EarliestRecord(ctx)
	if err != nil {
		return fmt.Errorf("migration: probe index for earliest record: %w", err)
	}
	if first == nil {
		log.Info("index is empty, migrating full log history")
		return e.drain(ctx, log, pager.Unbounded())
	}
	return e.reconcile(ctx, log, earliest, first.ID)
}

// reconcile compares the store's oldest id with the resume id and pages the
// gap between them.
func (e *Engine) reconcile(ctx context.Context, log *slog.Logger, earliest, resumeID int64) error {
	switch {
	case earliest == resumeID:
		log.Info("index already in sync with database")
		return nil
	case earliest < resumeID:
		return e.drain(ctx, log, pager.Before(resumeID))
	default:
		// The index reaches further back than the database; nothing is
		// defined to migrate in that direction.
		log.Warn("index history predates the database, skipping",
			"databaseEarliestId", earliest, "indexResumeId", resumeID)
		return nil
	}
}

// drain runs the paging loop from the given bound until both branches are
// exhausted. Every page is strictly below the previous bound, so the loop
// is finite for a finite table.
func (e *Engine) drain(ctx context.Context, log *slog.Logger, bound pager.Cursor) error {
	for {
		next, err := e.migratePage(ctx, bound)
		if err != nil {
			return err
		}
		if next.IsExhausted() {
			break
		}
		bound = next
	}
	log.Info("log migration completed", "finishedAt", time.Now(),
		"counters", e.metrics.Snapshot())
	return nil
}

func (e *Engine) migratePage(ctx context.Context, bound pager.Cursor) (pager.Cursor, error) {
	ctx, span := e.tracer.Start(ctx, "migration.page",
		trace.WithAttributes(attribute.Stringer("migration.bound", bound)))
	defer span.End()

	direct, err := e.source.BatchWithLaunch(ctx, bound, e.cfg.MaxBatchSize)
	if err != nil {
		return pager.Cursor{}, fmt.Errorf("migration: fetch launch-linked logs (%s): %w", bound, err)
	}
	joined, err := e.source.BatchWithoutLaunch(ctx, bound, e.cfg.MaxBatchSize)
	if err != nil {
		return pager.Cursor{}, fmt.Errorf("migration: fetch item-joined logs (%s): %w", bound, err)
	}

	if groups := GroupByProject(direct, joined); len(groups) > 0 {
		if err := e.index.BulkSave(ctx, groups); err != nil {
			return pager.Cursor{}, fmt.Errorf("migration: bulk save page (%s): %w", bound, err)
		}
		e.metrics.Add("migration_pages_total", nil, 1)
		e.metrics.Add("migration_logs_total", map[string]string{"branch": "direct"}, float64(len(direct)))
		e.metrics.Add("migration_logs_total", map[string]string{"branch": "joined"}, float64(len(joined)))
	}
	return NextCursor(direct, joined), nil
}
