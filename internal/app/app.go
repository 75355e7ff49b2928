// Package app provides application lifecycle management for versionstore.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	grpcapi "github.com/arkilian/versionstore/internal/api/grpc"
	httpapi "github.com/arkilian/versionstore/internal/api/http"
	"github.com/arkilian/versionstore/internal/cache"
	"github.com/arkilian/versionstore/internal/config"
	"github.com/arkilian/versionstore/internal/eventstore"
	"github.com/arkilian/versionstore/internal/replay"
	"github.com/arkilian/versionstore/internal/storage"
	"github.com/arkilian/versionstore/internal/versioning"
)

// App owns the store, cache, export storage and servers.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	// Shared resources
	store   *eventstore.Store
	cache   cache.Cache
	exports storage.ObjectStorage
	service *versioning.Service

	// Servers
	httpServer   *http.Server
	httpListener net.Listener
	grpcServer   *grpc.Server
	grpcHealth   *health.Server
	grpcListener net.Listener

	mu      sync.Mutex
	started bool
}

// New creates an App with the given configuration.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{cfg: cfg, logger: logger}, nil
}

// Init opens shared resources and binds the listeners. On error everything
// already opened is released.
func (a *App) Init(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("app is already initialized")
	}

	if err := a.initResources(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize resources: %w", err)
	}
	if err := a.initServers(); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to start servers: %w", err)
	}
	a.started = true
	return nil
}

func (a *App) initResources(ctx context.Context) error {
	var err error

	a.store, err = eventstore.Open(a.cfg.DBPath, eventstore.Options{
		LockStripes:  a.cfg.Store.LockStripes,
		ReadPoolSize: a.cfg.Store.ReadPoolSize,
		Logger:       a.logger,
	})
	if err != nil {
		return err
	}

	switch a.cfg.Cache.Backend {
	case config.CacheMemory:
		mc, err := cache.NewMemoryCache(a.cfg.Cache.MaxBytes, a.logger)
		if err != nil {
			return err
		}
		a.cache = mc
	case config.CacheRedis:
		rc, err := cache.NewRedisCache(ctx, a.cfg.Cache.RedisURL, a.logger)
		if err != nil {
			return err
		}
		a.cache = rc
	}

	switch a.cfg.Storage.Type {
	case config.StorageS3:
		a.exports, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, storage.S3Config{
			Region:       a.cfg.Storage.S3.Region,
			Endpoint:     a.cfg.Storage.S3.Endpoint,
			UsePathStyle: a.cfg.Storage.S3.UsePathStyle,
		})
	default:
		a.exports, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	}
	if err != nil {
		return err
	}

	deleteMode, err := replay.ParseDeleteMode(a.cfg.Replay.DeleteMode)
	if err != nil {
		return err
	}

	a.service = versioning.New(versioning.Config{
		Store:      a.store,
		Cache:      a.cache,
		CacheTTL:   a.cfg.Cache.TTL,
		Exports:    a.exports,
		DeleteMode: deleteMode,
		FlushEvery: a.cfg.Ingest.FlushEvery,
		Logger:     a.logger,
	})
	return nil
}

func (a *App) initServers() error {
	handler := httpapi.NewHandler(a.service, httpapi.Options{
		DefaultBatchSize: a.cfg.Ingest.DefaultBatchSize,
		Health:           a.store.Ping,
		Logger:           a.logger,
	})
	a.httpServer = httpapi.NewServer(a.cfg.HTTP.Addr, handler,
		a.cfg.HTTP.ReadTimeout, a.cfg.HTTP.WriteTimeout, a.cfg.HTTP.IdleTimeout)

	var err error
	a.httpListener, err = net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.HTTP.Addr, err)
	}

	if a.cfg.GRPC.Enabled {
		vs := grpcapi.NewVersionServer(a.service, a.cfg.Ingest.DefaultBatchSize, a.logger)
		a.grpcServer, a.grpcHealth = grpcapi.NewServer(vs)
		a.grpcListener, err = net.Listen("tcp", a.cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", a.cfg.GRPC.Addr, err)
		}
	}
	return nil
}

// Serve runs the servers until ctx is cancelled or one of them fails, then
// shuts everything down.
func (a *App) Serve(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return fmt.Errorf("app is not initialized")
	}
	a.mu.Unlock()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("http server listening", zap.String("addr", a.httpListener.Addr().String()))
		if err := a.httpServer.Serve(a.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.grpcServer != nil {
		g.Go(func() error {
			a.logger.Info("grpc server listening", zap.String("addr", a.grpcListener.Addr().String()))
			if err := a.grpcServer.Serve(a.grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		return a.shutdown()
	})

	err := g.Wait()
	a.cleanup()
	a.logger.Info("versionstore stopped")
	return err
}

// Run initializes and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.Init(ctx); err != nil {
		return err
	}
	return a.Serve(ctx)
}

// HTTPAddr returns the bound HTTP address, or "" before Init.
func (a *App) HTTPAddr() string {
	if a.httpListener == nil {
		return ""
	}
	return a.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC address, or "" when gRPC is disabled.
func (a *App) GRPCAddr() string {
	if a.grpcListener == nil {
		return ""
	}
	return a.grpcListener.Addr().String()
}

// shutdown stops the servers gracefully within the configured timeout.
func (a *App) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	if a.grpcServer != nil {
		a.grpcHealth.SetServingStatus(grpcapi.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		done := make(chan struct{})
		go func() {
			a.grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			a.logger.Warn("grpc graceful stop timed out, forcing")
			a.grpcServer.Stop()
		}
	}
	return errors.Join(errs...)
}

// cleanup releases shared resources. Safe to call more than once.
func (a *App) cleanup() {
	for _, l := range []net.Listener{a.httpListener, a.grpcListener} {
		if l != nil {
			l.Close()
		}
	}
	if a.cache != nil {
		if mc, ok := a.cache.(*cache.MemoryCache); ok {
			hits, misses, evictions, entries, size := mc.Stats()
			a.logger.Info("memory cache stats",
				zap.Int64("hits", hits),
				zap.Int64("misses", misses),
				zap.Int64("evictions", evictions),
				zap.Int64("entries", entries),
				zap.Int64("bytes", size),
				zap.Float64("hit_rate", mc.HitRate()))
		}
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("cache close failed", zap.Error(err))
		}
		a.cache = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store close failed", zap.Error(err))
		}
		a.store = nil
	}
}
