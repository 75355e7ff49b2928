package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arkilian/versionstore/internal/app"
	"github.com/arkilian/versionstore/internal/config"
)

type serveFlags struct {
	configFile string
	dataDir    string
	httpAddr   string
	grpcAddr   string
	cache      string
	redisURL   string
	logLevel   string
	noGRPC     bool
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("starting versionstore",
				zap.String("version", version),
				zap.String("db_path", cfg.DBPath),
				zap.String("cache", cfg.Cache.Backend))
			return a.Run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flags.StringVar(&f.dataDir, "data-dir", "", "Base directory for all data files")
	flags.StringVar(&f.httpAddr, "http-addr", "", "HTTP listen address")
	flags.StringVar(&f.grpcAddr, "grpc-addr", "", "gRPC listen address")
	flags.BoolVar(&f.noGRPC, "no-grpc", false, "Disable the gRPC server")
	flags.StringVar(&f.cache, "cache", "", "Cache backend: memory, redis, none")
	flags.StringVar(&f.redisURL, "redis-url", "", "Redis URL for the redis cache backend")
	flags.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	return cmd
}

// loadConfig layers defaults, the config file, the environment and flags, in
// increasing precedence.
func loadConfig(cmd *cobra.Command, f serveFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if f.configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(f.configFile); err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
	}
	config.LoadFromEnv(cfg)

	if f.dataDir != "" {
		cfg.DataDir = f.dataDir
	}
	if f.httpAddr != "" {
		cfg.HTTP.Addr = f.httpAddr
	}
	if f.grpcAddr != "" {
		cfg.GRPC.Addr = f.grpcAddr
	}
	if cmd.Flags().Changed("no-grpc") {
		cfg.GRPC.Enabled = !f.noGRPC
	}
	if f.cache != "" {
		cfg.Cache.Backend = f.cache
	}
	if f.redisURL != "" {
		cfg.Cache.RedisURL = f.redisURL
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	return cfg, nil
}
