// Command logmigration runs one reconciliation pass that carries log
// records from the relational store into the search index. It exits 0 when
// the two sides converge (including "nothing to do") and non-zero when any
// query or index write fails; re-running after a failure is safe.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/reportportal/complex-migrations/config"
	"github.com/reportportal/complex-migrations/elastic"
	"github.com/reportportal/complex-migrations/migration"
	"github.com/reportportal/complex-migrations/observability"
	"github.com/reportportal/complex-migrations/source"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML configuration (optional; env vars override)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(*cfgPath, logger); err != nil {
		logger.Error("log migration failed", "error", err)
		os.Exit(1)
	}
}

func run(cfgPath string, logger *slog.Logger) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.InitTracing(ctx, "complex-migrations", cfg.Tracing.Exporter, cfg.Tracing.Endpoint)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	db, err := source.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	src, err := source.New(db)
	if err != nil {
		return err
	}
	gateway := elastic.NewClient(elastic.Config{
		URL:         cfg.Elastic.URL,
		Username:    cfg.Elastic.Username,
		Password:    cfg.Elastic.Password,
		IndexPrefix: cfg.Elastic.IndexPrefix,
		Gzip:        cfg.Elastic.Gzip,
	})

	start, err := cfg.Migration.StartTime()
	if err != nil {
		return err
	}
	engine := migration.NewEngine(migration.Config{
		MaxBatchSize: cfg.Migration.MaxBatchSize,
		StartTime:    start,
	}, src, gateway, logger)

	return engine.Run(ctx)
}
