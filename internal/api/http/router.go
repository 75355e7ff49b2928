package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arkilian/versionstore/internal/ingest"
	"github.com/arkilian/versionstore/internal/replay"
	"github.com/arkilian/versionstore/internal/versioning"
	"github.com/arkilian/versionstore/pkg/types"
)

// Service is the versioning surface the HTTP adapter serves.
type Service interface {
	CreateDataset(ctx context.Context, req versioning.CreateDatasetRequest) (*versioning.DatasetCreated, error)
	CreateVersion(ctx context.Context, req versioning.CreateVersionRequest) (*versioning.VersionCreated, error)
	GetVersion(ctx context.Context, datasetID, number string) (*replay.Materialization, error)
	GetLatestVersion(ctx context.Context, datasetID string) (*replay.Materialization, error)
	ListVersions(ctx context.Context, datasetID string, offset, limit int) (*versioning.VersionList, error)
	SearchVersions(ctx context.Context, datasetID string, q versioning.SearchQuery) ([]types.VersionSummary, error)
	BulkInsert(ctx context.Context, req ingest.BulkRequest) (*ingest.BulkResult, error)
	GetCachedVersion(ctx context.Context, datasetID, number string) (*versioning.CachedVersion, error)
	ExportVersion(ctx context.Context, datasetID, number string) (*versioning.Export, error)
	LoadExport(ctx context.Context, datasetID, number string) (*replay.Materialization, error)
	ListExports(ctx context.Context, datasetID string) ([]string, error)
}

// HealthFunc reports whether the service's dependencies are usable.
type HealthFunc func(ctx context.Context) error

// Options configures the HTTP handler.
type Options struct {
	// DefaultBatchSize is used when a bulk request omits batch_size.
	DefaultBatchSize int

	// MaxBodyBytes limits request bodies; 0 means 64 MiB.
	MaxBodyBytes int64

	Health HealthFunc
	Logger *zap.Logger
}

// Handler serves the versioning API.
type Handler struct {
	svc    Service
	opts   Options
	logger *zap.Logger
}

// NewHandler creates the API handler with all routes mounted.
func NewHandler(svc Service, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DefaultBatchSize <= 0 {
		opts.DefaultBatchSize = ingest.DefaultBatchSize
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 20
	}
	h := &Handler{svc: svc, opts: opts, logger: opts.Logger.Named("http")}

	r := chi.NewRouter()
	r.Use(DefaultMiddleware(h.logger))

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/datasets", func(r chi.Router) {
		r.Post("/", h.createDataset)
		r.Route("/{datasetID}", func(r chi.Router) {
			r.Get("/latest", h.getLatestVersion)
			r.Post("/bulk", h.bulkInsert)
			r.Post("/versions", h.createVersion)
			r.Get("/versions", h.listVersions)
			r.Get("/versions/search", h.searchVersions)
			r.Get("/versions/{number}", h.getVersion)
			r.Get("/versions/{number}/cached", h.getCachedVersion)
			r.Post("/versions/{number}/export", h.exportVersion)
			r.Get("/versions/{number}/export", h.loadExport)
			r.Get("/exports", h.listExports)
		})
	})
	return r
}

// NewServer wraps the handler in an http.Server.
func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout, idleTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.opts.Health != nil {
		if err := h.opts.Health(r.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
