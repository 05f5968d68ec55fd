// README: Entry point; loads config, wires services, serves HTTP until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chauffeur/internal/config"
	httptransport "chauffeur/internal/http"
	"chauffeur/internal/infra"
	"chauffeur/internal/maps"
	"chauffeur/internal/metrics"
	"chauffeur/internal/modules/assignment"
	"chauffeur/internal/modules/dispatch"
	"chauffeur/internal/modules/driverpool"
	"chauffeur/internal/modules/matching"
	"chauffeur/internal/modules/pricing"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (defaults to ./config.yaml when present)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	if cfg.DB.AutoMigrate {
		if err := infra.ApplyMigrations(ctx, dbPool, cfg.DB.MigrationsDir); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("migrations applied", zap.String("dir", cfg.DB.MigrationsDir))
	}

	redisClient, err := infra.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()

	m := metrics.New()

	pricingOpts := []pricing.Option{pricing.WithMetrics(m), pricing.WithCurrency(cfg.Pricing.Currency)}
	if cfg.Maps.APIKey != "" {
		routes, err := maps.NewRouteService(cfg.Maps.APIKey, cfg.Maps.Language)
		if err != nil {
			return err
		}
		pricingOpts = append(pricingOpts, pricing.WithDistanceEstimator(routes))
	} else {
		logger.Warn("maps.api_key not set; transfers must carry an estimated distance")
	}
	pricingSvc := pricing.NewService(pricing.NewStore(dbPool), logger, pricingOpts...)

	driverPool := driverpool.NewStore(redisClient)
	matchingSvc := matching.NewService(driverPool, cfg.Matching, logger, m)
	coordinator := assignment.NewCoordinator(assignment.NewPostgresStore(dbPool), logger, m)
	dispatchSvc := dispatch.NewService(matchingSvc, coordinator, logger)

	server := httptransport.NewServer(cfg.HTTP, httptransport.RouterDeps{
		Pricing:     pricingSvc,
		Matching:    matchingSvc,
		Dispatch:    dispatchSvc,
		Assignments: coordinator,
		Drivers:     driverPool,
		Metrics:     m,
		Log:         logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })

	logger.Info("chauffeur api started", zap.String("addr", cfg.HTTP.Addr))
	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return err
	}
	logger.Info("chauffeur api stopped")
	return nil
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
