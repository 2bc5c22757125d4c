// Package memory is an in-process provider on top of ttlcache.
package memory

import (
	"context"
	"strings"
	"time"

	pr "github.com/unkn0wn-root/docache/provider"
	"github.com/unkn0wn-root/docache/ttlcache"
)

type Provider struct {
	c *ttlcache.Cache[[]byte]
}

var (
	_ pr.Provider = (*Provider)(nil)
	_ pr.Scanner  = (*Provider)(nil)
	_ pr.Cleaner  = (*Provider)(nil)
	_ pr.Clearer  = (*Provider)(nil)
	_ pr.Statser  = (*Provider)(nil)
)

type Config struct {
	Clock ttlcache.Clock // nil => wall clock
}

func New(cfg Config) *Provider {
	return &Provider{c: ttlcache.New[[]byte](ttlcache.Options{Clock: cfg.Clock})}
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, ok := p.c.Get(key)
	return b, ok, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = ttlcache.NoExpiration
	}
	p.c.Set(key, value, ttl)
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Delete(key)
	return nil
}

func (p *Provider) Close(context.Context) error {
	p.c.Clear()
	return nil
}

func (p *Provider) Keys(_ context.Context, prefix string) ([]string, error) {
	all := p.c.Keys()
	out := all[:0]
	for _, k := range all {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (p *Provider) Cleanup() int { return p.c.Cleanup() }

func (p *Provider) Clear(context.Context) error {
	p.c.Clear()
	return nil
}

func (p *Provider) Stats() pr.Stats {
	s := p.c.Stats()
	return pr.Stats{Entries: s.Size, Evictions: s.Evictions}
}

// TTL exposes the remaining lifetime of key, for tests and diagnostics.
func (p *Provider) TTL(key string) (time.Duration, bool) { return p.c.TTL(key) }
