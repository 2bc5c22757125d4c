// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/docache"
//	"github.com/unkn0wn-root/docache/hooks/async"
//	"github.com/unkn0wn-root/docache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery:   10, // sample logs: ~every 10th self-heal
//	    StaleSkipEvery:  1,  // log every skipped fill
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cs, _ := docache.New(docache.Options{
//	    Backend:  st,
//	    Provider: provider,
//	    Hooks:    hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/docache"
)

type Hooks struct {
	inner   docache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

var _ docache.Hooks = (*Hooks)(nil)

func New(inner docache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events sent after Close
// are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded because the queue was full.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	defer func() {
		// send on closed channel after Close
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) SelfHeal(k, r string)             { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) FactoryError(c string, err error) { h.try(func() { h.inner.FactoryError(c, err) }) }
func (h *Hooks) ProviderSetRejected(k string)     { h.try(func() { h.inner.ProviderSetRejected(k) }) }
func (h *Hooks) StaleWriteSkipped(k string)       { h.try(func() { h.inner.StaleWriteSkipped(k) }) }
func (h *Hooks) GenBumpError(c string, err error) { h.try(func() { h.inner.GenBumpError(c, err) }) }
func (h *Hooks) GenSnapshotError(c string, err error) {
	h.try(func() { h.inner.GenSnapshotError(c, err) })
}
func (h *Hooks) InvalidateFallbackScan(c string, n int) {
	h.try(func() { h.inner.InvalidateFallbackScan(c, n) })
}
func (h *Hooks) InvalidateOutage(c string, be, de error) {
	h.try(func() { h.inner.InvalidateOutage(c, be, de) })
}
