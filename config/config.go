// Package config loads process configuration from an optional YAML file
// overlaid by DOCACHE_* environment variables, then validates it.
//
// Precedence, lowest first: Default(), the YAML file, the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database Database `yaml:"database"`
	Cache    Cache    `yaml:"cache"`
	Manager  Manager  `yaml:"manager"`
	Log      Log      `yaml:"log"`
	Metrics  Metrics  `yaml:"metrics"`
}

type Database struct {
	Dialect         string        `yaml:"dialect" validate:"required,oneof=postgres postgresql pgx sqlite sqlite3"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" validate:"gte=0"`
}

type Cache struct {
	Enabled             bool          `yaml:"enabled"`
	Provider            string        `yaml:"provider" validate:"oneof=memory ristretto bigcache redis"`
	Codec               string        `yaml:"codec" validate:"oneof=json msgpack cbor protobuf"`
	DefaultTTL          time.Duration `yaml:"default_ttl" validate:"gte=0"`
	MaxDecodeBytes      int           `yaml:"max_decode_bytes" validate:"gte=0"`
	PrefetchConcurrency int           `yaml:"prefetch_concurrency" validate:"gte=0,lte=256"`
	GenRetention        time.Duration `yaml:"gen_retention" validate:"gte=0"`
	WarmCollections     []string      `yaml:"warm_collections" validate:"dive,required"`

	Ristretto Ristretto `yaml:"ristretto"`
	BigCache  BigCache  `yaml:"bigcache"`
	Redis     Redis     `yaml:"redis"`
}

type Ristretto struct {
	NumCounters int64 `yaml:"num_counters" validate:"gte=0"`
	MaxCost     int64 `yaml:"max_cost" validate:"gte=0"`
}

type BigCache struct {
	LifeWindow         time.Duration `yaml:"life_window" validate:"gte=0"`
	HardMaxCacheSizeMB int           `yaml:"hard_max_cache_size_mb" validate:"gte=0"`
}

type Redis struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db" validate:"gte=0"`
	KeyPrefix string `yaml:"key_prefix"`
}

type Manager struct {
	StatsInterval   time.Duration `yaml:"stats_interval" validate:"gte=0"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" validate:"gte=0"`
	MinHitRate      float64       `yaml:"min_hit_rate" validate:"gte=0,lte=1"`
	MinLookups      uint64        `yaml:"min_lookups"`
	MaxEvictions    uint64        `yaml:"max_evictions"`
}

type Log struct {
	Backend     string `yaml:"backend" validate:"oneof=zap logrus slog"`
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

type Metrics struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace" validate:"required"`
}

// Default returns a config for a local SQLite file with an in-process cache.
func Default() Config {
	return Config{
		Database: Database{
			Dialect:        "sqlite",
			DSN:            "docache.db",
			ConnectTimeout: 5 * time.Second,
		},
		Cache: Cache{
			Enabled:    true,
			Provider:   "memory",
			Codec:      "json",
			DefaultTTL: 5 * time.Minute,
			WarmCollections: []string{
				"guild_settings",
			},
			Redis: Redis{KeyPrefix: "docache:"},
		},
		Manager: Manager{
			StatsInterval:   5 * time.Minute,
			CleanupInterval: 10 * time.Minute,
			MinHitRate:      0.5,
			MinLookups:      100,
			MaxEvictions:    10_000,
		},
		Log:     Log{Backend: "zap", Level: "info"},
		Metrics: Metrics{Addr: ":9090", Namespace: "docache"},
	}
}

// Load builds the config. An empty path skips the file; a path that does not
// exist is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints plus the rules spanning fields.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: invalid: %w", err)
	}
	if c.Cache.Provider == "redis" && c.Cache.Redis.Addr == "" {
		return errors.New("config: invalid: cache.redis.addr is required with the redis provider")
	}
	if c.Database.MaxIdleConns > 0 && c.Database.MaxOpenConns > 0 && c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return errors.New("config: invalid: database.max_idle_conns exceeds max_open_conns")
	}
	return nil
}

type envVar struct {
	name string
	set  func(*Config, string) error
}

var envVars = []envVar{
	{"DOCACHE_DB_DIALECT", func(c *Config, v string) error { c.Database.Dialect = v; return nil }},
	{"DOCACHE_DB_DSN", func(c *Config, v string) error { c.Database.DSN = v; return nil }},
	{"DOCACHE_DB_MAX_OPEN_CONNS", func(c *Config, v string) error { return setInt(&c.Database.MaxOpenConns, v) }},
	{"DOCACHE_DB_CONNECT_TIMEOUT", func(c *Config, v string) error { return setDuration(&c.Database.ConnectTimeout, v) }},
	{"DOCACHE_CACHE_ENABLED", func(c *Config, v string) error { return setBool(&c.Cache.Enabled, v) }},
	{"DOCACHE_CACHE_PROVIDER", func(c *Config, v string) error { c.Cache.Provider = v; return nil }},
	{"DOCACHE_CACHE_CODEC", func(c *Config, v string) error { c.Cache.Codec = v; return nil }},
	{"DOCACHE_CACHE_TTL", func(c *Config, v string) error { return setDuration(&c.Cache.DefaultTTL, v) }},
	{"DOCACHE_CACHE_WARM", func(c *Config, v string) error { c.Cache.WarmCollections = splitList(v); return nil }},
	{"DOCACHE_REDIS_ADDR", func(c *Config, v string) error { c.Cache.Redis.Addr = v; return nil }},
	{"DOCACHE_REDIS_PASSWORD", func(c *Config, v string) error { c.Cache.Redis.Password = v; return nil }},
	{"DOCACHE_LOG_BACKEND", func(c *Config, v string) error { c.Log.Backend = strings.ToLower(v); return nil }},
	{"DOCACHE_LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = strings.ToLower(v); return nil }},
	{"DOCACHE_METRICS_ADDR", func(c *Config, v string) error { c.Metrics.Addr = v; return nil }},
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, ev := range envVars {
		v, ok := lookup(ev.name)
		if !ok {
			continue
		}
		if err := ev.set(cfg, v); err != nil {
			return fmt.Errorf("config: %s: %w", ev.name, err)
		}
	}
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
