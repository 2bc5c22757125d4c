package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/docache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery  uint64
	StaleSkipEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	// Keys embed filter values such as user ids.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr  atomic.Uint64
	staleSkipCtr atomic.Uint64
}

var _ docache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(key, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("docache.self_heal",
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) FactoryError(collection string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("docache.backend_read_error",
		"collection", collection,
		"err", err)
}

func (h *Hooks) StaleWriteSkipped(key string) {
	if h.l == nil || !sample(h.opts.StaleSkipEvery, &h.staleSkipCtr) {
		return
	}
	h.l.Debug("docache.stale_write_skipped",
		"key", h.redact(key))
}

func (h *Hooks) ProviderSetRejected(key string) {
	if h.l == nil {
		return
	}
	h.l.Warn("docache.provider_set_rejected",
		"key", h.redact(key))
}

func (h *Hooks) GenSnapshotError(collection string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("docache.gen_snapshot_error",
		"collection", collection,
		"err", err)
}

func (h *Hooks) GenBumpError(collection string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("docache.gen_bump_error",
		"collection", collection,
		"err", err)
}

func (h *Hooks) InvalidateFallbackScan(collection string, found int) {
	if h.l == nil {
		return
	}
	h.l.Info("docache.invalidate_fallback_scan",
		"collection", collection,
		"found", found)
}

func (h *Hooks) InvalidateOutage(collection string, bumpErr, delErr error) {
	if h.l == nil {
		return
	}
	h.l.Error("docache.invalidate_outage",
		"collection", collection,
		"bump_err", bumpErr,
		"del_err", delErr)
}
