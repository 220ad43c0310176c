// Package server runs the REST backend: it opens the configured store,
// builds the router and serves until its context ends.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/rpattn/fieldsync/internal/api"
	"github.com/rpattn/fieldsync/internal/config"
	"github.com/rpattn/fieldsync/internal/db"
	"github.com/rpattn/fieldsync/internal/repository"
	"github.com/rpattn/fieldsync/internal/schema/validator"
)

// OpenStore returns the repositories selected by cfg.Driver and a function
// releasing them.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger *zerolog.Logger) (repository.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn().Msg("using in-memory storage, data is lost on exit")
		return repository.NewMemoryStore(), func() {}, nil
	case config.DriverPostgres:
		if cfg.Migrations {
			if err := db.RunMigrations(cfg.Postgres); err != nil {
				return repository.Store{}, nil, err
			}
		}
		conn, err := db.NewConnection(ctx, cfg.Postgres)
		if err != nil {
			return repository.Store{}, nil, err
		}
		return repository.NewPostgresStore(conn), conn.Close, nil
	default:
		return repository.Store{}, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Run serves the backend on cfg.Server.Addr until ctx is cancelled, then
// shuts down gracefully.
func Run(ctx context.Context, cfg config.Config, logger *zerolog.Logger) error {
	if err := validator.ValidateSchemas(); err != nil {
		return fmt.Errorf("invalid entity schemas: %w", err)
	}

	store, closeStore, err := OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	router := api.NewRouter(api.Options{
		Store:          store,
		Logger:         logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Registry:       registry,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("driver", cfg.Database.Driver).
			Msg("REST API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info().Msg("server exited")
	return nil
}
