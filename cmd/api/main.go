package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"finsync/internal/scheduler"
	"finsync/internal/shared/config"
	"finsync/internal/shared/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal: %v", err)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize telemetry before anything that records spans or metrics
	var telemetryShutdown func(context.Context) error
	if cfg.Telemetry.Enabled {
		telemetryShutdown, err = telemetry.Init(ctx, telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			Environment:  cfg.Telemetry.Environment,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			MetricsPort:  cfg.Telemetry.MetricsPort,
		})
		if err != nil {
			return err
		}
	}

	deps, err := NewDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	// Start the refresh scheduler: one dashboard refresh job per user with
	// linked items, fanned out over the worker pool
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.NewScheduler(scheduler.SchedulerConfig{
			ScheduleTimes:   cfg.Scheduler.ScheduleTimes,
			WorkerCount:     cfg.Scheduler.WorkerCount,
			JobDelay:        cfg.Scheduler.JobDelay,
			QueueSize:       cfg.Scheduler.QueueSize,
			RunOnStartup:    cfg.Scheduler.RunOnStartup,
			JobFetchTimeout: cfg.Scheduler.JobFetchTimeout,
			JobProvider:     scheduler.RefreshJobProvider(deps.ItemRepo, deps.DashboardService),
		})
		if err != nil {
			return err
		}
		sched.Start()
		log.Printf("Scheduler started, next run at %s", sched.GetNextScheduledTime().Format(time.RFC3339))
	} else {
		log.Println("Scheduler disabled")
	}

	handler := SetupRoutes(deps, cfg)
	mainServer, redirectServer := StartServers(handler, NewServerConfigFromConfig(cfg))

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	GracefulShutdown(mainServer, redirectServer, sched, 30*time.Second)

	if telemetryShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			log.Printf("Telemetry shutdown error: %v", err)
		}
	}

	return nil
}
