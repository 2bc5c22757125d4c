package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "docache.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate(): %v", err)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	p := writeFile(t, `
database:
  dialect: postgres
  dsn: postgres://bot@localhost/bot
  max_open_conns: 10
cache:
  provider: ristretto
  codec: msgpack
  default_ttl: 90s
  warm_collections: [reputation, guild_settings]
manager:
  min_hit_rate: 0.7
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Dialect != "postgres" || cfg.Database.MaxOpenConns != 10 {
		t.Fatalf("database=%+v", cfg.Database)
	}
	if cfg.Cache.Provider != "ristretto" || cfg.Cache.Codec != "msgpack" || cfg.Cache.DefaultTTL != 90*time.Second {
		t.Fatalf("cache=%+v", cfg.Cache)
	}
	if diff := cmp.Diff([]string{"reputation", "guild_settings"}, cfg.Cache.WarmCollections); diff != "" {
		t.Fatalf("warm collections (-want +got):\n%s", diff)
	}
	if cfg.Manager.MinHitRate != 0.7 || cfg.Manager.MinLookups != 100 {
		t.Fatalf("manager=%+v", cfg.Manager)
	}
	// untouched sections keep their defaults
	if cfg.Metrics != Default().Metrics {
		t.Fatalf("metrics=%+v", cfg.Metrics)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	p := writeFile(t, "cache:\n  provider: ristretto\n")
	t.Setenv("DOCACHE_CACHE_PROVIDER", "redis")
	t.Setenv("DOCACHE_REDIS_ADDR", "localhost:6379")
	t.Setenv("DOCACHE_CACHE_ENABLED", "false")
	t.Setenv("DOCACHE_CACHE_TTL", "2m")
	t.Setenv("DOCACHE_CACHE_WARM", "tickets, warnings,,")
	t.Setenv("DOCACHE_LOG_LEVEL", "DEBUG")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.Provider != "redis" || cfg.Cache.Redis.Addr != "localhost:6379" {
		t.Fatalf("cache=%+v", cfg.Cache)
	}
	if cfg.Cache.Enabled || cfg.Cache.DefaultTTL != 2*time.Minute {
		t.Fatalf("cache=%+v", cfg.Cache)
	}
	if diff := cmp.Diff([]string{"tickets", "warnings"}, cfg.Cache.WarmCollections); diff != "" {
		t.Fatalf("warm collections (-want +got):\n%s", diff)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level=%q", cfg.Log.Level)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
		want string
	}{
		{name: "bad_dialect", body: "database:\n  dialect: mysql\n", want: "Dialect"},
		{name: "bad_provider", body: "cache:\n  provider: memcached\n", want: "Provider"},
		{name: "hit_rate_range", body: "manager:\n  min_hit_rate: 1.5\n", want: "MinHitRate"},
		{name: "redis_without_addr", body: "cache:\n  provider: redis\n", want: "cache.redis.addr"},
		{name: "idle_over_open", body: "database:\n  max_open_conns: 2\n  max_idle_conns: 5\n", want: "max_idle_conns"},
		{name: "bad_yaml", body: "database: [", want: "parse"},
		{name: "bad_env_duration", env: map[string]string{"DOCACHE_CACHE_TTL": "soon"}, want: "DOCACHE_CACHE_TTL"},
		{name: "bad_env_bool", env: map[string]string{"DOCACHE_CACHE_ENABLED": "maybe"}, want: "DOCACHE_CACHE_ENABLED"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeFile(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v want mention of %q", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Dialect != "sqlite" {
		t.Fatalf("dialect=%q", cfg.Database.Dialect)
	}
}
