package main

import (
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/drallgood/catalog-summarizer/internal/cache"
	"github.com/drallgood/catalog-summarizer/internal/catalog"
	"github.com/drallgood/catalog-summarizer/internal/catalog/googlebooks"
	"github.com/drallgood/catalog-summarizer/internal/catalog/hardcover"
	"github.com/drallgood/catalog-summarizer/internal/config"
	"github.com/drallgood/catalog-summarizer/internal/database"
	"github.com/drallgood/catalog-summarizer/internal/logger"
	"github.com/drallgood/catalog-summarizer/internal/models"
	"github.com/drallgood/catalog-summarizer/internal/summary"
)

// app holds the components shared by all commands.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	db      *database.Database
	repo    *database.Repository
	rdb     *redis.Client
	service *summary.Service
	queue   *summary.Queue
}

// setup loads configuration and opens the store and cache.
func setup(c *cli.Context) (*app, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if l := c.String("log-level"); l != "" {
		level = l
	}
	logger.ForceSetup(logger.Config{
		Level:      level,
		Format:     logger.ParseLogFormat(cfg.Logging.Format),
		Output:     os.Stderr,
		TimeFormat: time.RFC3339,
	})
	log := logger.Get()

	db, err := database.NewDatabase(database.NewDatabaseConfigFromConfig(&cfg.Database), database.Options{}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a := &app{
		cfg:  cfg,
		log:  log,
		db:   db,
		repo: database.NewRepository(db, log),
	}

	var backend cache.Cache[string, *models.Summary]
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		rdb, err := cache.ConnectRedis(c.Context, cfg.Cache.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.rdb = rdb
		backend = cache.NewRedisCache[*models.Summary](rdb, cfg.Cache.KeyPrefix, log)
	default:
		backend = cache.NewMemoryCache[string, *models.Summary](log)
	}

	ttl := cache.ClampTTL(cfg.Cache.TTL)
	a.service = summary.NewService(a.repo, cache.NewSummaryCache(cache.WithTTL(backend, ttl), ttl, log), log)
	a.queue = summary.NewQueue(a.repo, cfg.Summarizer.Style, log)

	log.Debug("Application initialized", map[string]interface{}{
		"database": string(db.Config().Type),
		"cache":    cfg.Cache.Backend,
	})
	return a, nil
}

// Close releases the store and cache connections.
func (a *app) Close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Warn("Failed to close redis client", map[string]interface{}{"error": err.Error()})
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", map[string]interface{}{"error": err.Error()})
		}
	}
}

// sources builds the enabled catalog sources.
func (a *app) sources() []catalog.Source {
	var out []catalog.Source
	if gb := a.cfg.Sources.GoogleBooks; gb.Enabled {
		out = append(out, googlebooks.NewClient(googlebooks.ClientConfig{
			BaseURL: gb.BaseURL,
			APIKey:  gb.APIKey,
			Timeout: gb.Timeout,
		}, a.log))
	}
	if hc := a.cfg.Sources.Hardcover; hc.Enabled {
		out = append(out, hardcover.NewClient(hardcover.ClientConfig{
			BaseURL: hc.BaseURL,
			Token:   hc.Token,
			Timeout: hc.Timeout,
		}, a.log))
	}
	return out
}
