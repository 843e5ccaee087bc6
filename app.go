package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reasoner/pkg/config"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/database"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/logging"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/metrics"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/repositories"
	"github.com/ekaya-inc/ekaya-reasoner/pkg/services"
)

// loadConfig reads the config file and builds the logger, applying the
// --log-level override.
func loadConfig(flags *globalFlags) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadFrom(flags.configPath, Version)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	level := cfg.Log.Level
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	logger, err := logging.New(cfg.Env, level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// app holds the dependencies of the store-backed commands.
type app struct {
	cfg          *config.Config
	logger       *zap.Logger
	db           *database.DB
	redis        *redis.Client
	metrics      *metrics.Metrics
	getTenant    services.TenantContextFunc
	store        repositories.EdgeStore
	schemas      services.SchemaService
	materializer services.Materializer
	stopMetrics  context.CancelFunc
}

func newApp(ctx context.Context, flags *globalFlags) (*app, error) {
	cfg, logger, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.String("redis", cfg.Redis.Addr()))

	db, err := database.NewConnection(ctx, cfg.Database.URL(), database.OptionsFrom(&cfg.Database), logger)
	if err != nil {
		return nil, fmt.Errorf("database: %s", logging.SanitizeError(err))
	}

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	if redisClient == nil {
		logger.Info("Redis not configured, schema cache disabled")
	}

	m := metrics.New()
	metricsCtx, stopMetrics := context.WithCancel(ctx)
	if cfg.Metrics.Enabled {
		go func() {
			if err := m.Serve(metricsCtx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	getTenant := services.NewTenantContextFunc(db)
	store := repositories.NewEdgeStore()
	schemas := services.NewSchemaService(
		repositories.NewTBoxRepository(),
		repositories.NewTBoxCache(redisClient, cfg.Redis.TBoxTTL),
		getTenant, m, logger)

	return &app{
		cfg:          cfg,
		logger:       logger,
		db:           db,
		redis:        redisClient,
		metrics:      m,
		getTenant:    getTenant,
		store:        store,
		schemas:      schemas,
		materializer: services.NewMaterializer(schemas, store, nil, getTenant, &cfg.Reasoner, m, logger),
		stopMetrics:  stopMetrics,
	}, nil
}

func (a *app) Close() {
	a.stopMetrics()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	a.db.Close()
	_ = a.logger.Sync()
}
