package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/example/fuelroute/internal/app"
	"github.com/example/fuelroute/internal/config"
	"github.com/example/fuelroute/pkg/observability"
)

// stationimport loads a fuel price CSV into the configured station backend.
func main() {
	path := flag.String("file", "", "station price CSV")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(".env")
	if err != nil {
		observability.SetupLogger("stationimport", "info").Fatal("load config", zap.Error(err))
	}
	logger := observability.SetupLogger("stationimport", cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck

	file := *path
	if file == "" {
		file = cfg.StationCSV
	}
	if file == "" {
		logger.Fatal("no input: pass -file or set STATION_CSV")
	}
	if cfg.StationBackend == config.BackendMemory {
		logger.Fatal("STATION_BACKEND must be redis or postgres for an import")
	}

	infra, err := app.Connect(ctx, cfg, "stationimport", logger)
	if err != nil {
		logger.Fatal("connect", zap.Error(err))
	}
	defer infra.Close()

	// the csv is applied below; skip the memory seed path
	cfg.StationCSV = ""
	store, err := app.BuildStations(ctx, cfg, infra, logger)
	if err != nil {
		logger.Fatal("station backend", zap.Error(err))
	}
	// sheets without coordinates are geocoded through the route provider
	geocoder, err := app.BuildGeocoder(cfg.Provider)
	if err != nil {
		logger.Warn("geocoding disabled", zap.Error(err))
		geocoder = nil
	}
	n, err := app.ImportCSV(ctx, file, store, geocoder, logger)
	if err != nil {
		logger.Error("import failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("import complete", zap.Int("stations", n), zap.String("backend", cfg.StationBackend))
}
