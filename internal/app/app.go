// Package app assembles a running docache process from a config: the
// connection manager, the document store, the cache-aside wrapper over the
// configured provider, a process-wide ad hoc cache and the cache manager.
package app

import (
	"context"
	"errors"
	"fmt"
	stdslog "log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/docache"
	"github.com/unkn0wn-root/docache/codec"
	"github.com/unkn0wn-root/docache/config"
	asynchook "github.com/unkn0wn-root/docache/hooks/async"
	dlog "github.com/unkn0wn-root/docache/log"
	"github.com/unkn0wn-root/docache/manager"
	pr "github.com/unkn0wn-root/docache/provider"
	"github.com/unkn0wn-root/docache/provider/bigcache"
	"github.com/unkn0wn-root/docache/provider/memory"
	"github.com/unkn0wn-root/docache/provider/redis"
	"github.com/unkn0wn-root/docache/provider/ristretto"
	"github.com/unkn0wn-root/docache/sloghooks"
	"github.com/unkn0wn-root/docache/store"
	"github.com/unkn0wn-root/docache/ttlcache"
)

// Cache names used by the manager for logs and metric labels.
const (
	RecordsCache = "records"
	DefaultCache = "default"
)

type App struct {
	Conn    *store.Manager
	Store   *store.Store
	Records docache.CachedStore
	// Default is the process-wide cache for ad hoc values outside the
	// collection abstraction.
	Default *ttlcache.Cache[any]
	Monitor *manager.Manager
	Log     dlog.Logger

	hooks *asynchook.Hooks
}

// Open builds every component. An unreachable database is logged and left
// for callers to observe through Conn.IsConnected; it does not fail Open.
func Open(ctx context.Context, cfg config.Config, logger dlog.Logger, hookLog *stdslog.Logger) (*App, error) {
	logger = dlog.OrNop(logger)

	conn, err := store.NewManager(store.Config{
		Dialect:         cfg.Database.Dialect,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	}, store.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if !conn.Connect(ctx) {
		logger.Warn("starting without storage", dlog.Fields{"err": conn.Err()})
	}
	st := store.New(conn, store.WithStoreLogger(logger))

	p, err := NewProvider(ctx, cfg.Cache, logger)
	if err != nil {
		_ = conn.Disconnect(ctx)
		return nil, fmt.Errorf("cache provider: %w", err)
	}
	cdc, err := codec.ForRecords(cfg.Cache.Codec, cfg.Cache.MaxDecodeBytes)
	if err != nil {
		_ = p.Close(ctx)
		_ = conn.Disconnect(ctx)
		return nil, err
	}

	a := &App{Conn: conn, Store: st, Log: logger}
	opts := docache.Options{
		Backend:             st,
		Provider:            p,
		Codec:               cdc,
		Logger:              logger,
		DefaultTTL:          cfg.Cache.DefaultTTL,
		GenRetention:        cfg.Cache.GenRetention,
		PrefetchConcurrency: cfg.Cache.PrefetchConcurrency,
		Disabled:            !cfg.Cache.Enabled,
	}
	if hookLog != nil {
		a.hooks = asynchook.New(sloghooks.New(hookLog, sloghooks.Options{SelfHealEvery: 10}), 1, 1024)
		opts.Hooks = a.hooks
	}
	a.Records, err = docache.New(opts)
	if err != nil {
		a.closeHooks()
		_ = p.Close(ctx)
		_ = conn.Disconnect(ctx)
		return nil, err
	}

	a.Default = ttlcache.New[any](ttlcache.Options{DefaultTTL: cfg.Cache.DefaultTTL})

	warmers := make([]manager.Warmer, 0, len(cfg.Cache.WarmCollections))
	for _, name := range cfg.Cache.WarmCollections {
		warmers = append(warmers, manager.CollectionWarmer(a.Records, store.Collection(name), 0))
	}
	a.Monitor = manager.New(manager.Options{
		Caches: []manager.Named{
			{Name: RecordsCache, Source: manager.FromCachedStore(a.Records)},
			{Name: DefaultCache, Source: manager.FromTTL(a.Default)},
		},
		Warmers:      warmers,
		Pinger:       conn,
		Logger:       logger,
		MinHitRate:   cfg.Manager.MinHitRate,
		MinLookups:   cfg.Manager.MinLookups,
		MaxEvictions: cfg.Manager.MaxEvictions,
	})
	return a, nil
}

// NewProvider builds the byte store named by cfg.Provider.
func NewProvider(ctx context.Context, cfg config.Cache, logger dlog.Logger) (pr.Provider, error) {
	logger = dlog.OrNop(logger)
	switch cfg.Provider {
	case "", "memory":
		return memory.New(memory.Config{}), nil
	case "ristretto":
		rp, err := ristretto.New(ristretto.Config{NumCounters: cfg.Ristretto.NumCounters, MaxCost: cfg.Ristretto.MaxCost})
		if err != nil {
			return nil, err
		}
		return rp, nil
	case "bigcache":
		bp, err := bigcache.New(ctx, bigcache.Config{
			LifeWindow:         cfg.BigCache.LifeWindow,
			HardMaxCacheSizeMB: cfg.BigCache.HardMaxCacheSizeMB,
		})
		if err != nil {
			return nil, err
		}
		return bp, nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rp, err := redis.New(redis.Config{Client: client, KeyPrefix: cfg.Redis.KeyPrefix, CloseClient: true})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rp.Ping(pctx); err != nil {
			// reads fall through to storage until redis is reachable
			logger.Warn("redis unreachable", dlog.Fields{"addr": cfg.Redis.Addr, "err": err})
		}
		return rp, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func (a *App) closeHooks() {
	if a.hooks != nil {
		a.hooks.Close()
	}
}

// Close stops the manager loops, then releases the cache and the pool.
func (a *App) Close(ctx context.Context) error {
	a.Monitor.Stop()
	err := a.Records.Close(ctx)
	a.closeHooks()
	a.Default.Clear()
	return errors.Join(err, a.Conn.Disconnect(ctx))
}
