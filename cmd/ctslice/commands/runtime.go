package commands

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/strrl/ctslice/internal/api"
	"github.com/strrl/ctslice/internal/auth"
	"github.com/strrl/ctslice/internal/config"
	"github.com/strrl/ctslice/internal/db"
	"github.com/strrl/ctslice/internal/fetch"
	"github.com/strrl/ctslice/internal/logging"
	"github.com/strrl/ctslice/internal/metrics"
	"github.com/strrl/ctslice/internal/session"
	"github.com/strrl/ctslice/internal/slicecache"
	"github.com/strrl/ctslice/internal/upload"
	"github.com/strrl/ctslice/internal/viewer"
)

// sliceIndexer lists durably stored slices of a session
type sliceIndexer interface {
	slicecache.ByteStore
	Indexes(ctx context.Context, sessionID string) ([]int, error)
}

// runtime is everything one command invocation needs.
type runtime struct {
	cfg     *config.Config
	logger  *zap.Logger
	tokens  *auth.TokenService
	metrics *metrics.Metrics
	cache   *slicecache.Cache
	slices  sliceIndexer
	app     *viewer.App

	database *sql.DB
	redis    *redis.Client
}

// loadConfig applies the global flags on top of the loaded configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		cfg.Server.BaseURL = serverURL
		if err := cfg.Server.Validate(); err != nil {
			return nil, err
		}
	}
	if debugMode {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// openRuntime wires config, logging, storage and the viewer. Interactive
// runs log to the log file instead of stderr.
func openRuntime(ctx context.Context, interactive bool) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log, interactive)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:    cfg,
		logger: logger,
		tokens: auth.NewTokenService(cfg.Auth.TokenFile, cfg.Auth.Token),
	}
	if cfg.Metrics.Enabled {
		rt.metrics = metrics.New()
	}

	rt.database, err = db.Open(cfg.Storage.Path)
	if err != nil {
		rt.Close()
		return nil, err
	}

	switch cfg.Storage.Backend {
	case config.BackendRedis:
		rt.redis, err = slicecache.DialRedis(ctx, cfg.Storage.Redis.Addr, cfg.Storage.Redis.Password, cfg.Storage.Redis.DB)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.slices = slicecache.NewRedisStore(rt.redis)
	default:
		rt.slices = db.NewSlices(rt.database)
	}

	client := api.NewHTTPClient(cfg.Server.BaseURL, cfg.Server.Timeout, rt.tokens)
	sessions := session.NewStore(db.NewRecords(rt.database), rt.tokens, logger)
	rt.cache = slicecache.New(rt.slices, logger, rt.metrics)

	rt.app = viewer.New(viewer.Options{
		Sessions: sessions,
		Cache:    rt.cache,
		Endpoint: client,
		Logger:   logger,
		Uploads:  upload.NewCoordinator(client, sessions, rt.cache, logger, rt.metrics),
		Fetches:  fetch.NewCoordinator(client, rt.cache, logger, rt.metrics),
	})

	logger.Debug("Runtime ready",
		zap.String("server", cfg.Server.BaseURL),
		zap.String("backend", cfg.Storage.Backend),
		zap.Bool("authenticated", rt.tokens.Authenticated()))
	return rt, nil
}

// Close shuts down in reverse order of openRuntime
func (r *runtime) Close() {
	if r.app != nil {
		r.app.Close()
	}
	if r.redis != nil {
		if err := r.redis.Close(); err != nil {
			r.logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if r.database != nil {
		if err := r.database.Close(); err != nil {
			r.logger.Warn("Failed to close database", zap.Error(err))
		}
	}
	_ = r.logger.Sync()
}

// restore binds the saved session, failing when there is none
func (r *runtime) restore(ctx context.Context) error {
	if _, ok := r.app.Restore(ctx); ok {
		return nil
	}
	if !r.tokens.Authenticated() {
		return fmt.Errorf("not logged in; run `ctslice login` first")
	}
	return fmt.Errorf("no scan uploaded; run `ctslice upload <scan.nii>` first")
}
