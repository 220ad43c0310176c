// Package api wires the REST resource backend: entity CRUD, bulk create,
// export, the activity feed, health and metrics.
package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/rpattn/fieldsync/internal/export"
	"github.com/rpattn/fieldsync/internal/ingestion"
	"github.com/rpattn/fieldsync/internal/logging"
	"github.com/rpattn/fieldsync/internal/middleware"
	"github.com/rpattn/fieldsync/internal/repository"
	"github.com/rpattn/fieldsync/internal/service"
)

// Options configures NewRouter.
type Options struct {
	Store          repository.Store
	Logger         *zerolog.Logger
	AllowedOrigins []string
	// Registry receives the HTTP metrics and backs /metrics. A fresh
	// registry is used when nil.
	Registry *prometheus.Registry
}

// Router is the backend's root handler.
type Router struct {
	handler  http.Handler
	entities *service.EntityService
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.handler.ServeHTTP(w, r)
}

// Entities exposes the service behind the handlers.
func (rt *Router) Entities() *service.EntityService {
	return rt.entities
}

// NewRouter builds the mux and its middleware chain.
func NewRouter(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	entities := service.NewEntityService(opts.Store, logger)
	h := &entityHandler{entities: entities}
	ingest := ingestion.NewService(entities, logger)
	if opts.Store.ImportLogs != nil {
		ingest.WithImportLog(opts.Store.ImportLogs)
	}
	bulk := ingestion.NewHTTPHandler(ingest)
	exports := export.NewHTTPHandler(export.NewService(opts.Store.Entities, export.WithLogger(logger)))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /api/activity/{$}", h.recentActivity)
	mux.HandleFunc("GET /api/{kind}/{$}", h.list)
	mux.HandleFunc("POST /api/{kind}/{$}", h.create)
	mux.Handle("POST /api/{kind}/bulk-create/{$}", bulk)
	mux.Handle("GET /api/{kind}/bulk-create/logs/{$}", ingestion.NewLogHandler(ingest))
	mux.Handle("GET /api/{kind}/export/{$}", exports)
	mux.HandleFunc("GET /api/{kind}/{id}/{$}", h.get)
	mux.HandleFunc("PATCH /api/{kind}/{id}/{$}", h.patch)
	mux.HandleFunc("PUT /api/{kind}/{id}/{$}", h.replace)
	mux.HandleFunc("DELETE /api/{kind}/{id}/{$}", h.delete)
	mux.HandleFunc("GET /api/{kind}/{id}/activities/{$}", h.activities)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Disposition", middleware.RequestIDHeader},
	})

	httpMetrics := middleware.NewHTTPMetrics(registry)
	handler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.Logging(logger),
		corsHandler.Handler,
		middleware.Actor,
		middleware.DataLoaderMiddleware(opts.Store.Entities),
		httpMetrics.Middleware,
	)(mux)

	return &Router{handler: handler, entities: entities}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
