package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rpattn/fieldsync/internal/config"
	"github.com/rpattn/fieldsync/internal/logging"
	"github.com/rpattn/fieldsync/internal/server"
)

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Default().Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Configure(cfg.Log.Level, cfg.Log.Format)
	logger := logging.Default()

	// Cancelled on SIGINT/SIGTERM, which starts a graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}
