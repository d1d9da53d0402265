package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dbplane/dbplane/internal/migration"
	"github.com/dbplane/dbplane/internal/migrations"
	"github.com/dbplane/dbplane/internal/platform/cache"
	"github.com/dbplane/dbplane/internal/platform/config"
	"github.com/dbplane/dbplane/internal/platform/database"
	"github.com/dbplane/dbplane/internal/platform/logger"
	"github.com/dbplane/dbplane/internal/platform/metrics"
	"github.com/dbplane/dbplane/internal/pool"
)

func main() {
	cfg, err := config.Load("migrate")
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log := logger.New(cfg.Logger)
	log.Info("Starting Migrate Service", "version", cfg.Version, "environment", cfg.Service.Environment)

	if err := run(cfg, log); err != nil {
		log.Error("migration run failed", "error", err)
		os.Exit(1)
	}

	log.Info("Migrate Service finished")
}

func run(cfg *config.Config, log logger.Logger) error {
	m := metrics.New("dbplane")

	pcfg := pool.ConfigFrom(cfg.Pool)
	pcfg.Driver = cfg.Database.Driver

	p, err := pool.New("primary", cfg.Database.DSN(), pcfg, log, m)
	if err != nil {
		return fmt.Errorf("failed to build pool: %w", err)
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	// Serialize concurrent runs across processes when configured
	if cfg.Migrations.LockEnabled {
		client, err := cache.NewClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer client.Close()

		lock := migration.NewLock(client, cfg.Migrations.LockKey, cfg.Migrations.LockTTL)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("another migration run holds the lock %q", cfg.Migrations.LockKey)
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil {
				log.Warn("failed to release migration lock", "error", err)
			}
		}()
	}

	store, err := migration.NewPostgresStore(database.Wrap(p.DB()), cfg.Migrations.Table)
	if err != nil {
		return err
	}
	if err := store.EnsureTable(ctx); err != nil {
		return err
	}

	runner := migration.NewRunner(p, store, migration.Options{
		Environment:    cfg.Migrations.Environment,
		RecordFailures: cfg.Migrations.RecordFailures,
	}, log, m)

	plan, err := runner.Plan(ctx, migrations.All(), "", false)
	if err != nil {
		return err
	}

	if len(plan.ToApply) == 0 {
		log.Info("no pending migrations")
		return nil
	}
	log.Info("applying migrations", "pending", len(plan.ToApply))

	results, err := runner.Apply(ctx, plan)
	for _, res := range results {
		log.Info("migration result",
			"migration", res.Migration.ID,
			"status", res.Status,
			"duration_ms", res.ExecutionTimeMs,
			"error", res.ErrorMessage,
		)
	}
	if err != nil {
		return err
	}

	summary, err := runner.Status(ctx)
	if err != nil {
		return err
	}
	log.Info("migration status",
		"applied", summary.Applied,
		"pending", summary.Pending,
		"failed", summary.Failed,
	)
	return nil
}
