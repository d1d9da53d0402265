package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dbplane/dbplane/internal/monitor"
	"github.com/dbplane/dbplane/internal/platform/config"
	"github.com/dbplane/dbplane/internal/platform/logger"
	"github.com/dbplane/dbplane/internal/platform/metrics"
	"github.com/dbplane/dbplane/internal/pool"
)

func main() {
	cfg, err := config.Load("dbmonitor")
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log := logger.New(cfg.Logger)
	log.Info("Starting DB Monitor Service", "version", cfg.Version, "port", cfg.HTTP.Port)

	m := metrics.New("dbplane")

	pcfg := pool.ConfigFrom(cfg.Pool)
	pcfg.Driver = cfg.Database.Driver

	manager := pool.NewManager(log, m)
	if err := manager.AddPool("primary", cfg.Database.DSN(), pcfg); err != nil {
		log.Fatal("failed to register primary pool", "error", err)
	}
	defer manager.CloseAll()

	srv, err := monitor.New(
		monitor.WithConfig(cfg),
		monitor.WithLogger(log),
		monitor.WithMetrics(m),
		monitor.WithManager(manager),
	)
	if err != nil {
		log.Fatal("failed to create server", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Monitor.SystemMetrics {
		go monitor.CollectSystemMetrics(ctx, m, log, 15*time.Second)
	}

	sched := cron.New()
	if _, err := sched.AddFunc(cfg.Monitor.SweepSchedule, srv.Sweep); err != nil {
		log.Fatal("invalid sweep schedule", "schedule", cfg.Monitor.SweepSchedule, "error", err)
	}
	sched.Start()
	defer sched.Stop()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error("server error", "error", err)
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	log.Info("DB Monitor Service stopped gracefully")
}
