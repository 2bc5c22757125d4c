// Package ristretto is a cost-bounded in-process provider. Entries may be
// dropped by admission or eviction at any time, which reads as a miss.
package ristretto

import (
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/docache/provider"
)

type Provider struct {
	c *rc.Cache
}

var (
	_ pr.Provider = (*Provider)(nil)
	_ pr.Clearer  = (*Provider)(nil)
	_ pr.Statser  = (*Provider)(nil)
)

type Config struct {
	NumCounters int64 // 0 => 1e5
	MaxCost     int64 // bytes; 0 => 64 MiB
	BufferItems int64 // 0 => 64
}

func New(cfg Config) (*Provider, error) {
	if cfg.NumCounters < 0 || cfg.MaxCost < 0 || cfg.BufferItems < 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: orDefault(cfg.NumCounters, 1e5),
		MaxCost:     orDefault(cfg.MaxCost, 64<<20),
		BufferItems: orDefault(cfg.BufferItems, 64),
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{c: c}, nil
}

func orDefault(v, def int64) int64 {
	if v == 0 {
		return def
	}
	return v
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		p.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

// Set waits for the write buffer so that a read right after a fill sees it.
func (p *Provider) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	ok := p.c.SetWithTTL(key, value, cost, ttl)
	p.c.Wait()
	return ok, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	return nil
}

func (p *Provider) Clear(context.Context) error {
	p.c.Clear()
	return nil
}

func (p *Provider) Stats() pr.Stats {
	m := p.c.Metrics
	if m == nil {
		return pr.Stats{}
	}
	added, evicted := m.KeysAdded(), m.KeysEvicted()
	entries := 0
	if added > evicted {
		entries = int(added - evicted)
	}
	return pr.Stats{Entries: entries, Evictions: evicted}
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}
