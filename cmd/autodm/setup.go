package main

import (
	"fmt"
	"log/slog"

	"github.com/creatorkit/creatorkit/autodm/cachestore"
	"github.com/creatorkit/creatorkit/autodm/countstore"
	"github.com/creatorkit/creatorkit/autodm/engine"
	"github.com/creatorkit/creatorkit/autodm/notify"
	"github.com/creatorkit/creatorkit/autodm/platform"
	"github.com/creatorkit/creatorkit/autodm/store"
	"github.com/creatorkit/creatorkit/util/cliutil"

	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v2"
)

// Everything a daemon command needs, built from global flags.
type deps struct {
	Engine *engine.Engine
	Store  *store.GormStore
	Hub    *notify.Hub
	// set only when redis is configured; fans events out to every daemon's hub
	RedisNotifier *notify.RedisNotifier

	rdb *redis.Client
}

func (d *deps) Close() {
	if d.rdb != nil {
		d.rdb.Close()
	}
	if sqldb, err := d.Store.DB().DB(); err == nil {
		sqldb.Close()
	}
}

func openStore(cctx *cli.Context) (*store.GormStore, error) {
	db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return store.NewGormStore(db)
}

func setupPlatforms(cctx *cli.Context, logger *slog.Logger) *platform.Registry {
	reg := platform.NewRegistry()
	if cctx.Bool("platform-mock") {
		logger.Warn("using mock messaging platform; no messages will actually be sent")
		reg.Register("instagram", platform.NewMockPlatform())
		return reg
	}
	reg.Register("instagram", platform.NewGraphClient(platform.GraphConfig{
		Host:    cctx.String("graph-host"),
		Name:    "instagram",
		RPS:     cctx.Float64("graph-rate-limit"),
		Timeout: cctx.Duration("call-timeout"),
		Logger:  logger,
	}))
	return reg
}

func setupDeps(cctx *cli.Context, logger *slog.Logger) (*deps, error) {
	st, err := openStore(cctx)
	if err != nil {
		return nil, err
	}

	d := &deps{
		Store: st,
		Hub:   notify.NewHub(logger),
	}

	var counters countstore.CountStore
	var cache cachestore.CacheStore
	notifiers := notify.MultiNotifier{}
	followTTL := cctx.Duration("follow-cache-ttl")

	if cctx.String("redis-url") != "" {
		opt, err := redis.ParseURL(cctx.String("redis-url"))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("parsing redis URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		d.rdb = rdb
		if err := rdb.Ping(cctx.Context).Err(); err != nil {
			d.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		d.RedisNotifier = notify.NewRedisNotifier(rdb)
		counters = countstore.NewRedisCountStore(rdb)
		cache = cachestore.NewRedisCacheStore(rdb, followTTL)
		notifiers = append(notifiers, d.RedisNotifier)
		logger.Info("using redis for counters, cache and dashboard events")
	} else {
		counters = countstore.NewMemCountStore()
		cache = cachestore.NewMemCacheStore(50_000, followTTL)
		notifiers = append(notifiers, d.Hub)
	}

	if url := cctx.String("slack-webhook-url"); url != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(url))
	}

	d.Engine = &engine.Engine{
		Logger:    logger,
		Store:     st,
		Platforms: setupPlatforms(cctx, logger),
		Counters:  counters,
		Cache:     cache,
		Notifier:  notifiers,
		Config: engine.EngineConfig{
			CallTimeout:        cctx.Duration("call-timeout"),
			AccountDMQuotaHour: cctx.Int("account-dm-quota-hour"),
			SweepBatchSize:     cctx.Int("sweep-batch-size"),
			SweepConcurrency:   cctx.Int("sweep-concurrency"),
		},
	}
	return d, nil
}
