package main

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/docspark/api/internal/abuse"
	"github.com/docspark/api/internal/config"
	"github.com/docspark/api/internal/engine"
	"github.com/docspark/api/internal/service"
	"github.com/docspark/api/internal/storage"
	"github.com/docspark/api/internal/store"
	"github.com/docspark/api/internal/store/memory"
	"github.com/docspark/api/internal/store/postgres"
	"github.com/docspark/api/internal/store/redisstore"
	"github.com/docspark/api/internal/store/sqlite"
	"github.com/docspark/api/pkg/logger"
)

// components is everything main wires together.
type components struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     store.Store
	redis     *redis.Client
	files     *storage.Local
	service   *service.ConversionService
	guard     *abuse.Guard
	challenge *abuse.ChallengeVerifier
	validator *validator.Validate
}

func (c *components) Close() {
	if err := c.store.Close(); err != nil {
		c.logger.Warn("failed to close job store", zap.Error(err))
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
	_ = c.logger.Sync()
}

func build(ctx context.Context) (*components, error) {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}

	log, err := logger.New(cfg.Server.LogLevel)
	if err != nil {
		return nil, err
	}

	c := &components{cfg: cfg, logger: log, validator: validator.New()}

	if cfg.Store.Driver == "redis" || cfg.Abuse.Backend == "redis" {
		c.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := c.redis.Ping(ctx).Err(); err != nil {
			return nil, errors.Wrapf(err, "connect to redis at %s", cfg.Redis.Addr)
		}
	}

	c.store, err = openStore(ctx, cfg, c.redis)
	if err != nil {
		return nil, err
	}
	log.Info("job store ready", zap.String("driver", cfg.Store.Driver))

	c.files, err = storage.NewLocal(cfg.Storage.UploadsDir(), cfg.Storage.ConvertedDir())
	if err != nil {
		return nil, err
	}

	var artifacts storage.Artifacts = storage.LocalArtifacts{}
	if cfg.Storage.ArtifactStore == "r2" {
		r2, err := storage.NewR2Artifacts(&cfg.R2)
		if err != nil {
			return nil, err
		}
		artifacts = r2
		log.Info("publishing artifacts to r2", zap.String("bucket", cfg.R2.BucketName))
	}

	c.service = service.NewConversionService(service.Options{
		Store:     c.store,
		Files:     c.files,
		Artifacts: artifacts,
		Converter: engine.DefaultChain(cfg.Engines, log),
		Insights:  service.NewMockInsights(),
		Validator: c.validator,
		TTL:       cfg.Jobs.TTL,
		Logger:    log,
	})

	var backend abuse.Backend = abuse.NewMemoryBackend()
	if cfg.Abuse.Backend == "redis" {
		backend = abuse.NewRedisBackend(c.redis)
	}
	c.guard = abuse.NewGuard(backend, abuse.GuardConfig{
		MaxActiveConversions:  cfg.Abuse.MaxActiveConversions,
		DuplicateUploadWindow: cfg.Abuse.DuplicateUploadWindow,
	}, log)
	c.challenge = abuse.NewChallengeVerifier(cfg.Challenge.Provider, cfg.Challenge.SecretKey)

	return c, nil
}

func openStore(ctx context.Context, cfg *config.Config, rdb *redis.Client) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return sqlite.New(cfg.Store.SQLitePath)
	case "postgres":
		return postgres.New(ctx, cfg.Store.DatabaseURL)
	case "redis":
		return redisstore.New(rdb), nil
	case "memory":
		return memory.New(), nil
	}
	return nil, errors.Newf("unknown store driver %q", cfg.Store.Driver)
}
