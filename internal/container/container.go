// Package container wires the service graph with dig.
package container

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/dig"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/leafscan/internal/catalog"
	"github.com/example/leafscan/internal/config"
	"github.com/example/leafscan/internal/logging"
	"github.com/example/leafscan/internal/pipeline"
	"github.com/example/leafscan/internal/repository"
	"github.com/example/leafscan/internal/usecase"
)

const startupTimeout = 30 * time.Second

// BuildContainer registers every constructor the entrypoints need. Nothing is
// built until the first Invoke. Callers must Close the *Resources once done.
func BuildContainer(cfg *config.Config) (*dig.Container, error) {
	container := dig.New()

	if err := container.Provide(func() *config.Config { return cfg }); err != nil {
		return nil, err
	}

	if err := container.Provide(func(cfg *config.Config) (*zap.Logger, error) {
		lc := cfg.Logging()
		return logging.NewLogger(lc.Level, lc.Format)
	}); err != nil {
		return nil, err
	}

	if err := container.Provide(NewResources); err != nil {
		return nil, err
	}

	// Disease catalog
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) (*catalog.Catalog, error) {
		cat, err := catalog.Load()
		if err != nil {
			return nil, err
		}
		pcfg, err := cfg.Pipeline()
		if err != nil {
			return nil, err
		}
		if missing := cat.Missing(pcfg.Labels); len(missing) > 0 {
			logger.Warn("labels without catalog entries", zap.Strings("labels", missing))
		}
		return cat, nil
	}); err != nil {
		return nil, err
	}

	// Models and pipeline
	if err := container.Provide(func(cfg *config.Config, res *Resources, logger *zap.Logger) (*Inference, error) {
		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()
		return LoadInference(ctx, cfg, res, logger)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(inf *Inference, logger *zap.Logger) (*pipeline.Pipeline, error) {
		return pipeline.New(inf.Models, inf.Pipeline, logger)
	}); err != nil {
		return nil, err
	}

	// Storage
	if err := container.Provide(func(cfg *config.Config, res *Resources, logger *zap.Logger) (*gorm.DB, error) {
		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()
		db, err := repository.Open(ctx, cfg.Database(), logger)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		res.Add(sqlDB.Close)
		return db, nil
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(db *gorm.DB, logger *zap.Logger) (*repository.DiagnosisRepository, error) {
		repo := repository.NewDiagnosisRepository(db, logger)
		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()
		if err := repo.AutoMigrate(ctx); err != nil {
			return nil, fmt.Errorf("auto migrate failed: %w", err)
		}
		return repo, nil
	}); err != nil {
		return nil, err
	}

	if err := container.Provide(NewCache); err != nil {
		return nil, err
	}

	if err := container.Provide(func(
		cfg *config.Config,
		repo *repository.DiagnosisRepository,
		cache usecase.Cache,
		p *pipeline.Pipeline,
		cat *catalog.Catalog,
		logger *zap.Logger,
	) *usecase.DiagnosisUseCase {
		return usecase.NewDiagnosisUseCase(repo, cache, p, cat, cfg.Cache().TTL, logger)
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// NewCache builds the cache selected by cache.type.
func NewCache(cfg *config.Config, res *Resources, logger *zap.Logger) (usecase.Cache, error) {
	cc := cfg.Cache()
	switch cc.Type {
	case "redis", "":
		client := redis.NewClient(&redis.Options{
			Addr:     cc.RedisAddr,
			Password: cc.RedisPassword,
			DB:       cc.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		res.Add(client.Close)
		logger.Info("using redis cache", zap.String("addr", cc.RedisAddr))
		return usecase.NewRedisCache(client), nil
	case "memory":
		cache := usecase.NewMemoryCache(logger, cc.CleanupInterval)
		res.Add(func() error {
			cache.Stop()
			return nil
		})
		logger.Info("using in-memory cache")
		return cache, nil
	case "none", "disabled":
		logger.Info("cache disabled")
		return usecase.NoopCache{}, nil
	default:
		return nil, fmt.Errorf("unsupported cache type %q", cc.Type)
	}
}
