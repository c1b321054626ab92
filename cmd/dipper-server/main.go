package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"dipper/internal/api"
	"dipper/internal/backtest"
	"dipper/internal/config"
	"dipper/internal/store"
	"dipper/internal/util"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	reg, err := cfg.Registry()
	if err != nil {
		log.Fatalf("building preset registry: %v", err)
	}

	bars := store.NewParquetStore(cfg.Storage.DataDir)
	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening run store: %v", err)
	}
	defer runs.Close()

	svc := api.NewService(backtest.NewRunner(bars, reg, logger), reg, runs, logger)
	srv := api.NewServer(svc, cfg.Server.HTTPAddr(), cfg.Server.GRPCAddr())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("dipper-server starting",
		"http", cfg.Server.HTTPAddr(),
		"grpc", cfg.Server.GRPCAddr(),
		"dataDir", cfg.Storage.DataDir,
		"presets", len(reg.List()),
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
	}
	slog.Info("dipper-server stopped")
}
