package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledgercore/internal/config"
	"ledgercore/internal/database"
	"ledgercore/internal/dates"
	"ledgercore/internal/logger"
	"ledgercore/internal/server"
)

// sweep runs recurring generation and alert evaluation for every active
// user. With SWEEP_INTERVAL unset it runs once and exits; otherwise it
// repeats on that interval until interrupted.
func main() {
	logger.Init(os.Getenv("ENV"))

	code, err := run()
	if err != nil {
		logger.Get().Errorw("sweep failed", "error", err)
		code = 1
	}
	logger.Sync()
	os.Exit(code)
}

func run() (int, error) {
	log := logger.Named("sweep")

	appConfig, err := config.Load()
	if err != nil {
		return 1, fmt.Errorf("failed to load configuration: %w", err)
	}

	dbConfig, err := database.NewConfig()
	if err != nil {
		return 1, fmt.Errorf("failed to load database configuration: %w", err)
	}

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return 1, fmt.Errorf("failed to create database manager: %w", err)
	}
	defer dbManager.Close()

	publisher, closePublisher := server.NewPublisher(appConfig)
	defer closePublisher()

	svcs := server.NewServices(dbManager.DB(), server.NewEmailSender(appConfig), publisher, appConfig.SweepConcurrency)
	sweepService := svcs.Sweep

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if appConfig.SweepInterval <= 0 {
		report, err := sweepService.Run(ctx, dates.DateOf(time.Now()))
		if err != nil {
			return 1, err
		}
		if report.Failures > 0 {
			return 2, nil
		}
		return 0, nil
	}

	log.Infow("Sweep scheduler started", "interval", appConfig.SweepInterval)
	ticker := time.NewTicker(appConfig.SweepInterval)
	defer ticker.Stop()
	for {
		if _, err := sweepService.Run(ctx, dates.DateOf(time.Now())); err != nil && ctx.Err() == nil {
			log.Errorw("Sweep run failed", "error", err)
		}
		select {
		case <-ctx.Done():
			log.Info("Sweep scheduler stopped")
			return 0, nil
		case <-ticker.C:
		}
	}
}
