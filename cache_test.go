package docache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	c "github.com/unkn0wn-root/docache/codec"
	"github.com/unkn0wn-root/docache/filter"
	"github.com/unkn0wn-root/docache/internal/wire"
	pr "github.com/unkn0wn-root/docache/provider"
	"github.com/unkn0wn-root/docache/provider/memory"
	"github.com/unkn0wn-root/docache/store"
)

type memProvider struct {
	mu sync.Mutex
	m  map[string][]byte
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string][]byte)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.m[key]
	return v, ok, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	p.mu.Lock()
	p.m[key] = value
	p.mu.Unlock()
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(context.Context) error { return nil }

func (p *memProvider) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// stubBackend serves reputation-like records keyed by user_id and counts calls.
type stubBackend struct {
	mu       sync.Mutex
	recs     map[string]store.Record
	calls    map[string]int
	findErr  map[string]error
	onFind   func()
	updateOK bool
}

var _ Backend = (*stubBackend)(nil)

func newStubBackend() *stubBackend {
	return &stubBackend{
		recs:     make(map[string]store.Record),
		calls:    make(map[string]int),
		findErr:  make(map[string]error),
		updateOK: true,
	}
}

func (b *stubBackend) put(userID string, pts int64) {
	b.mu.Lock()
	b.recs[userID] = store.Record{"id": "id-" + userID, "user_id": userID, "points": pts}
	b.mu.Unlock()
}

func (b *stubBackend) count(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

func (b *stubBackend) all() []store.Record {
	ids := make([]string, 0, len(b.recs))
	for id := range b.recs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]store.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.recs[id].Clone())
	}
	return out
}

func (b *stubBackend) FindOne(_ context.Context, _ store.Collection, f filter.Filter) (store.Record, error) {
	b.mu.Lock()
	b.calls["FindOne"]++
	hook := b.onFind
	uid := fmt.Sprint(f["user_id"])
	err := b.findErr[uid]
	rec := b.recs[uid].Clone()
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (b *stubBackend) FindMany(_ context.Context, _ store.Collection, _ filter.Filter) ([]store.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["FindMany"]++
	return b.all(), nil
}

func (b *stubBackend) FindManySorted(_ context.Context, _ store.Collection, _ filter.Filter, _ string, dir store.SortOrder) ([]store.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["FindManySorted"]++
	out := b.all()
	if dir == store.Desc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (b *stubBackend) InsertOne(context.Context, store.Collection, map[string]any) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["InsertOne"]++
	return "new-id", nil
}

func (b *stubBackend) UpdateOne(context.Context, store.Collection, filter.Filter, map[string]any, bool) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["UpdateOne"]++
	return b.updateOK, nil
}

func (b *stubBackend) DeleteOne(context.Context, store.Collection, filter.Filter) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["DeleteOne"]++
	return true, nil
}

func (b *stubBackend) DeleteMany(context.Context, store.Collection, filter.Filter) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["DeleteMany"]++
	return 0, nil
}

func (b *stubBackend) Increment(context.Context, store.Collection, filter.Filter, string, int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["Increment"]++
	return nil
}

func (b *stubBackend) UpdateJSONField(context.Context, store.Collection, filter.Filter, string, string, int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["UpdateJSONField"]++
	return nil
}

type hookEvent struct {
	name string
	arg  string
}

type recordingHooks struct {
	NopHooks
	mu     sync.Mutex
	events []hookEvent
}

func (h *recordingHooks) add(name, arg string) {
	h.mu.Lock()
	h.events = append(h.events, hookEvent{name, arg})
	h.mu.Unlock()
}

func (h *recordingHooks) SelfHeal(_, reason string)        { h.add("self_heal", reason) }
func (h *recordingHooks) FactoryError(coll string, _ error) { h.add("factory_error", coll) }
func (h *recordingHooks) StaleWriteSkipped(string)          { h.add("stale_skip", "") }
func (h *recordingHooks) InvalidateFallbackScan(coll string, n int) {
	h.add("fallback_scan", fmt.Sprintf("%s:%d", coll, n))
}

func (h *recordingHooks) seen(name string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, e := range h.events {
		if e.name == name {
			out = append(out, e.arg)
		}
	}
	return out
}

func newTestCache(t *testing.T, b Backend, p pr.Provider, optsOpt func(*Options)) CachedStore {
	t.Helper()
	opts := Options{Backend: b, Provider: p}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	cs, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close(context.Background()) })
	return cs
}

func mustImpl(t *testing.T, cs CachedStore) *cachedStore {
	t.Helper()
	impl, ok := cs.(*cachedStore)
	if !ok {
		t.Fatalf("unexpected concrete type for CachedStore")
	}
	return impl
}

func byUser(id string) filter.Filter { return filter.Filter{"user_id": id} }

func TestNewRequiresBackendAndProvider(t *testing.T) {
	if _, err := New(Options{Provider: newMemProvider()}); err == nil {
		t.Fatalf("expected error without backend")
	}
	if _, err := New(Options{Backend: newStubBackend()}); err == nil {
		t.Fatalf("expected error without provider")
	}
}

func TestFindOneCachesAndInvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	b := newStubBackend()
	b.put("42", 1)
	cs := newTestCache(t, b, newMemProvider(), nil)

	for i := 0; i < 2; i++ {
		rec, err := cs.FindOne(ctx, store.Reputation, byUser("42"), 0)
		if err != nil {
			t.Fatalf("FindOne #%d: %v", i, err)
		}
		if rec["points"] != int64(1) {
			t.Fatalf("FindOne #%d points=%v (%T)", i, rec["points"], rec["points"])
		}
	}
	if n := b.count("FindOne"); n != 1 {
		t.Fatalf("backend FindOne calls=%d want 1", n)
	}

	b.put("42", 2)
	ok, err := cs.UpdateOne(ctx, store.Reputation, byUser("42"), map[string]any{"points": 2}, false)
	if err != nil || !ok {
		t.Fatalf("UpdateOne: ok=%v err=%v", ok, err)
	}

	rec, err := cs.FindOne(ctx, store.Reputation, byUser("42"), 0)
	if err != nil {
		t.Fatalf("FindOne after update: %v", err)
	}
	if rec["points"] != int64(2) {
		t.Fatalf("points after update=%v want 2", rec["points"])
	}
	if n := b.count("FindOne"); n != 2 {
		t.Fatalf("backend FindOne calls=%d want 2", n)
	}

	st := cs.Stats()
	if st.Hits != 1 || st.Misses != 2 {
		t.Fatalf("stats hits=%d misses=%d", st.Hits, st.Misses)
	}
}

func TestFilterKeyOrderSharesEntry(t *testing.T) {
	ctx := context.Background()
	b := newStubBackend()
	b.put("7", 3)
	cs := newTestCache(t, b, newMemProvider(), nil)

	f1 := filter.Filter{"user_id": "7", "guild_id": "g"}
	f2 := filter.Filter{"guild_id": "g", "user_id": "7"}
	if _, err := cs.FindOne(ctx, store.Reputation, f1, 0); err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if _, err := cs.FindOne(ctx, store.Reputation, f2, 0); err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if n := b.count("FindOne"); n != 1 {
		t.Fatalf("backend FindOne calls=%d want 1", n)
	}
}

func TestFindOneNotFoundIsCached(t *testing.T) {
	ctx := context.Background()
	b := newStubBackend()
	cs := newTestCache(t, b, newMemProvider(), nil)

	for i := 0; i < 2; i++ {
		rec, err := cs.FindOne(ctx, store.Reputation, byUser("missing"), 0)
		if err != nil || rec != nil {
			t.Fatalf("FindOne #%d: rec=%v err=%v", i, rec, err)
		}
	}
	if n := b.count("FindOne"); n != 1 {
		t.Fatalf("backend FindOne calls=%d want 1", n)
	}
}

func TestBackendErrorNotCached(t *testing.T) {
	ctx := context.Background()
	b := newStubBackend()
	boom := errors.New("db down")
	b.findErr["42"] = boom
	h := &recordingHooks{}
	cs := newTestCache(t, b, newMemProvider(), func(o *Options) { o.Hooks = h })

	for i := 0; i < 2; i++ {
		if _, err := cs.FindOne(ctx, store.Reputation, byUser("42"), 0); !errors.Is(err, boom) {
			t.Fatalf("FindOne #%d err=%v want %v", i, err, boom)
		}
	}
	if n := b.count("FindOne"); n != 2 {
		t.Fatalf("backend FindOne calls=%d want 2", n)
	}
	if got := h.seen("factory_error"); len(got) != 2 || got[0] != "reputation" {
		t.Fatalf("factory_error hooks=%v", got)
	}
}

func TestFindManyAndSortedUseDistinctKeys(t *testing.T) {
	ctx := context.Background()
	b := newStubBackend()
	b.put("1", 10)
	b.put("2", 20)
	cs := newTestCache(t, b, newMemProvider(), nil)

	for i := 0; i < 2; i++ {
		recs, err := cs.FindMany(ctx, store.Reputation, nil, 0)
		if err != nil || len(recs) != 2 {
			t.Fatalf("FindMany: n=%d err=%v", len(recs), err)
		}
		asc, err := cs.FindManySorted(ctx, store.Reputation, nil, "points", store.Asc, 0)
		if err != nil {
			t.Fatalf("FindManySorted asc: %v", err)
		}
		desc, err := cs.FindManySorted(ctx, store.Reputation, nil, "points", store.Desc, 0)
		if err != nil {
			t.Fatalf("FindManySorted desc: %v", err)
		}
		if asc[0]["user_id"] != "1" || desc[0]["user_id"] != "2" {
			t.Fatalf("order mixed up: asc=%v desc=%v", asc, desc)
		}
	}
	if n := b.count("FindMany"); n != 1 {
		t.Fatalf("FindMany calls=%d want 1", n)
	}
	if n := b.count("FindManySorted"); n != 2 {
		t.Fatalf("FindManySorted calls=%d want 2", n)
	}
}

func TestFindManyEmptyResult(t *testing.T) {
	ctx := context.Background()
	b := newStubBackend()
	cs := newTestCache(t, b, newMemProvider(), nil)

	for i := 0; i < 2; i++ {
		recs, err := cs.FindMany(ctx, store.Tickets, byUser("nobody"), 0)
		if err != nil || len(recs) != 0 {
			t.Fatalf("FindMany: %v %v", recs, err)
		}
	}
	if n := b.count("FindMany"); n != 1 {
		t.Fatalf("FindMany calls=%d want 1", n)
	}
}

func TestStaleFillSkipped(t *testing.T) {
	ctx := context.Background()
	b := newStubBackend()
	b.put("42", 1)
	mp := newMemProvider()
	h := &recordingHooks{}
	cs := newTestCache(t, b, mp, func(o *Options) { o.Hooks = h })

	// a write lands while the backend read is in flight
	b.onFind = func() { _ = cs.InvalidateCollection(ctx, store.Reputation) }

	if _, err := cs.FindOne(ctx, store.Reputation, byUser("42"), 0); err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if mp.len() != 0 {
		t.Fatalf("stale result was cached")
	}
	if len(h.seen("stale_skip")) != 1 {
		t.Fatalf("expected one stale_skip hook, got %v", h.events)
	}
	if st := cs.Stats(); st.StaleSkips != 1 || st.Fills != 0 {
		t.Fatalf("stats=%+v", st)
	}

	b.onFind = nil
	if _, err := cs.FindOne(ctx, store.Reputation, byUser("42"), 0); err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if mp.len() != 1 {
		t.Fatalf("fresh result not cached")
	}
}

func TestSelfHeal(t *testing.T) {
	ctx := context.Background()
	b := newStubBackend()
	b.put("42", 1)
	mp := newMemProvider()
	h := &recordingHooks{}
	cs := newTestCache(t, b, mp, func(o *Options) { o.Hooks = h })
	impl := mustImpl(t, cs)

	key, err := readKey(store.Reputation, byUser("42"), shapeOne)
	if err != nil {
		t.Fatalf("readKey: %v", err)
	}

	t.Run("corrupt", func(t *testing.T) {
		_, _ = mp.Set(ctx, key, []byte("not-a-frame"), 1, time.Minute)
		rec, err := cs.FindOne(ctx, store.Reputation, byUser("42"), 0)
		if err != nil || rec["points"] != int64(1) {
			t.Fatalf("FindOne: rec=%v err=%v", rec, err)
		}
		if got := h.seen("self_heal"); len(got) != 1 || got[0] != "corrupt" {
			t.Fatalf("self_heal hooks=%v", got)
		}
	})

	t.Run("gen_mismatch", func(t *testing.T) {
		payload, err := c.JSONCodec[[]store.Record]{}.Encode([]store.Record{{"points": 99}})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		g, _ := impl.gen.Snapshot(ctx, string(store.Reputation))
		_, _ = mp.Set(ctx, key, wire.Encode(wire.KindOne, g, payload), 1, time.Minute)
		if _, err := impl.gen.Bump(ctx, string(store.Reputation)); err != nil {
			t.Fatalf("Bump: %v", err)
		}

		rec, err := cs.FindOne(ctx, store.Reputation, byUser("42"), 0)
		if err != nil || rec["points"] != int64(1) {
			t.Fatalf("stale entry served: rec=%v err=%v", rec, err)
		}
		got := h.seen("self_heal")
		if len(got) != 2 || got[1] != "gen_mismatch" {
			t.Fatalf("self_heal hooks=%v", got)
		}
	})
}

func TestWritesInvalidateOnlyOnChange(t *testing.T) {
	ctx := context.Background()
	b := newStubBackend()
	b.updateOK = false
	cs := newTestCache(t, b, newMemProvider(), nil)
	impl := mustImpl(t, cs)

	gen := func() uint64 {
		g, err := impl.gen.Snapshot(ctx, string(store.Reputation))
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		return g
	}

	if ok, err := cs.UpdateOne(ctx, store.Reputation, byUser("1"), map[string]any{"points": 1}, false); ok || err != nil {
		t.Fatalf("UpdateOne: ok=%v err=%v", ok, err)
	}
	if n, err := cs.DeleteMany(ctx, store.Reputation, byUser("1")); n != 0 || err != nil {
		t.Fatalf("DeleteMany: n=%d err=%v", n, err)
	}
	if g := gen(); g != 0 {
		t.Fatalf("no-op writes bumped generation to %d", g)
	}

	if _, err := cs.InsertOne(ctx, store.Reputation, map[string]any{"user_id": "1"}); err != nil {
		t.Fatalf("InsertOne: %v", err)
	}
	if ok, err := cs.DeleteOne(ctx, store.Reputation, byUser("1")); !ok || err != nil {
		t.Fatalf("DeleteOne: ok=%v err=%v", ok, err)
	}
	if err := cs.Increment(ctx, store.Reputation, byUser("1"), "points", 1); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if err := cs.UpdateJSONField(ctx, store.MiddlemanStats, byUser("1"), "trade_stats", "btc", 1); err != nil {
		t.Fatalf("UpdateJSONField: %v", err)
	}
	if g := gen(); g != 3 {
		t.Fatalf("generation=%d want 3", g)
	}
}

func TestInvalidateFallbackScan(t *testing.T) {
	ctx := context.Background()
	b := newStubBackend()
	b.put("42", 1)
	p := memory.New(memory.Config{})

	first := newTestCache(t, b, p, nil)
	if _, err := first.FindOne(ctx, store.Reputation, byUser("42"), 0); err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if _, err := first.FindOne(ctx, store.Tickets, byUser("42"), 0); err != nil {
		t.Fatalf("FindOne: %v", err)
	}

	// a second cache over the same provider has never read anything
	h := &recordingHooks{}
	second := newTestCache(t, b, p, func(o *Options) { o.Hooks = h })
	if err := second.InvalidateCollection(ctx, store.Reputation); err != nil {
		t.Fatalf("InvalidateCollection: %v", err)
	}
	if diff := cmp.Diff([]string{"reputation:1"}, h.seen("fallback_scan")); diff != "" {
		t.Fatalf("fallback_scan hooks (-want +got):\n%s", diff)
	}
	keys, _ := p.Keys(ctx, "")
	if len(keys) != 1 {
		t.Fatalf("expected only the tickets entry to survive, got %v", keys)
	}
}

func TestFallbackScanStaysInsideCollection(t *testing.T) {
	ctx := context.Background()
	b := newStubBackend()
	b.put("42", 1)
	p := memory.New(memory.Config{})

	first := newTestCache(t, b, p, nil)
	for _, coll := range []store.Collection{"a", "a:b"} {
		if _, err := first.FindOne(ctx, coll, byUser("42"), 0); err != nil {
			t.Fatalf("FindOne %s: %v", coll, err)
		}
	}

	second := newTestCache(t, b, p, nil)
	if err := second.InvalidateCollection(ctx, "a"); err != nil {
		t.Fatalf("InvalidateCollection: %v", err)
	}
	keys, _ := p.Keys(ctx, "")
	want, _ := readKey("a:b", byUser("42"), shapeOne)
	if len(keys) != 1 || keys[0] != want {
		t.Fatalf("keys=%v want only %q", keys, want)
	}
}

type failingGenStore struct {
	bumpErr error
}

func (s *failingGenStore) Snapshot(context.Context, string) (uint64, error) { return 0, nil }
func (s *failingGenStore) Bump(context.Context, string) (uint64, error)     { return 0, s.bumpErr }
func (s *failingGenStore) Cleanup(time.Duration)                            {}
func (s *failingGenStore) Close(context.Context) error                      { return nil }

type delErrProvider struct {
	*memProvider
	err error
}

var _ pr.Provider = (*delErrProvider)(nil)

func (p *delErrProvider) Del(context.Context, string) error { return p.err }

func TestInvalidateBothFailReturnsError(t *testing.T) {
	ctx := context.Background()
	b := newStubBackend()
	b.put("42", 1)
	delErr := errors.New("del failed")
	bumpErr := errors.New("bump failed")

	cs := newTestCache(t, b, &delErrProvider{memProvider: newMemProvider(), err: delErr}, func(o *Options) {
		o.GenStore = &failingGenStore{bumpErr: bumpErr}
	})
	if _, err := cs.FindOne(ctx, store.Reputation, byUser("42"), 0); err != nil {
		t.Fatalf("FindOne: %v", err)
	}

	ok, err := cs.UpdateOne(ctx, store.Reputation, byUser("42"), map[string]any{"points": 2}, false)
	if !ok {
		t.Fatalf("write result must survive invalidation failure")
	}
	var ie *InvalidateError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InvalidateError, got %T: %v", err, err)
	}
	if ie.Collection != "reputation" {
		t.Fatalf("collection=%q", ie.Collection)
	}
	if !errors.Is(err, delErr) || !errors.Is(err, bumpErr) {
		t.Fatalf("InvalidateError should unwrap to both causes")
	}
}

func TestInvalidateBumpFailDeleteOKNoError(t *testing.T) {
	ctx := context.Background()
	b := newStubBackend()
	b.put("42", 1)
	cs := newTestCache(t, b, newMemProvider(), func(o *Options) {
		o.GenStore = &failingGenStore{bumpErr: errors.New("bump failed")}
	})
	if _, err := cs.FindOne(ctx, store.Reputation, byUser("42"), 0); err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if err := cs.InvalidateCollection(ctx, store.Reputation); err != nil {
		t.Fatalf("expected no error when bump fails but delete succeeds; got %v", err)
	}
}

func TestInvalidateBumpOKDeleteFailNoError(t *testing.T) {
	ctx := context.Background()
	b := newStubBackend()
	b.put("42", 1)
	mp := &delErrProvider{memProvider: newMemProvider(), err: errors.New("del failed")}
	cs := newTestCache(t, b, mp, nil)
	if _, err := cs.FindOne(ctx, store.Reputation, byUser("42"), 0); err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if err := cs.InvalidateCollection(ctx, store.Reputation); err != nil {
		t.Fatalf("expected no error when delete fails but bump succeeds; got %v", err)
	}
	// entry is still in the provider but carries the old generation
	if _, err := cs.FindOne(ctx, store.Reputation, byUser("42"), 0); err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if n := b.count("FindOne"); n != 2 {
		t.Fatalf("backend FindOne calls=%d want 2", n)
	}
}

func TestPrefetchIsBestEffort(t *testing.T) {
	ctx := context.Background()
	b := newStubBackend()
	b.put("1", 1)
	b.put("2", 2)
	b.findErr["bad"] = errors.New("boom")
	cs := newTestCache(t, b, newMemProvider(), func(o *Options) { o.PrefetchConcurrency = 2 })

	n := cs.Prefetch(ctx, store.Reputation, []filter.Filter{byUser("1"), byUser("2"), byUser("bad")}, time.Minute)
	if n != 2 {
		t.Fatalf("Prefetch=%d want 2", n)
	}
	if _, err := cs.FindOne(ctx, store.Reputation, byUser("2"), 0); err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if calls := b.count("FindOne"); calls != 3 {
		t.Fatalf("backend FindOne calls=%d want 3", calls)
	}
}

func TestWarmCollection(t *testing.T) {
	ctx := context.Background()
	b := newStubBackend()
	b.put("1", 1)
	b.put("2", 2)
	cs := newTestCache(t, b, newMemProvider(), nil)

	n, err := cs.WarmCollection(ctx, store.Reputation, time.Minute)
	if err != nil || n != 2 {
		t.Fatalf("WarmCollection: n=%d err=%v", n, err)
	}
	full := filter.Filter{"id": "id-1", "user_id": "1", "points": int64(1)}
	key, err := readKey(store.Reputation, full, shapeOne)
	if err != nil {
		t.Fatalf("readKey: %v", err)
	}
	if !mustImpl(t, cs).idx.has(store.Reputation, key) {
		t.Fatalf("warmed key not indexed")
	}
	rec, err := cs.FindOne(ctx, store.Reputation, full, 0)
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if diff := cmp.Diff(store.Record(full), rec); diff != "" {
		t.Fatalf("warmed record (-want +got):\n%s", diff)
	}
	if calls := b.count("FindOne"); calls != 0 {
		t.Fatalf("backend FindOne calls=%d want 0", calls)
	}
}

func TestDisabledPassesThrough(t *testing.T) {
	ctx := context.Background()
	b := newStubBackend()
	b.put("42", 1)
	mp := newMemProvider()
	cs := newTestCache(t, b, mp, func(o *Options) { o.Disabled = true })

	if cs.Enabled() {
		t.Fatalf("Enabled() = true")
	}
	for i := 0; i < 2; i++ {
		if _, err := cs.FindOne(ctx, store.Reputation, byUser("42"), 0); err != nil {
			t.Fatalf("FindOne: %v", err)
		}
	}
	if n := b.count("FindOne"); n != 2 {
		t.Fatalf("backend FindOne calls=%d want 2", n)
	}
	if mp.len() != 0 {
		t.Fatalf("disabled cache stored entries")
	}
	if n, err := cs.WarmCollection(ctx, store.Reputation, 0); n != 0 || err != nil {
		t.Fatalf("WarmCollection: n=%d err=%v", n, err)
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	b := newStubBackend()
	b.put("42", 1)
	p := memory.New(memory.Config{})
	cs := newTestCache(t, b, p, nil)

	for _, coll := range []store.Collection{store.Reputation, store.Tickets} {
		if _, err := cs.FindOne(ctx, coll, byUser("42"), 0); err != nil {
			t.Fatalf("FindOne: %v", err)
		}
	}
	if st := cs.Stats(); st.Entries != 2 || st.IndexedKeys != 2 {
		t.Fatalf("before Clear: %+v", st)
	}
	if err := cs.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if st := cs.Stats(); st.Entries != 0 || st.IndexedKeys != 0 {
		t.Fatalf("after Clear: %+v", st)
	}
	if _, err := cs.FindOne(ctx, store.Reputation, byUser("42"), 0); err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if n := b.count("FindOne"); n != 3 {
		t.Fatalf("backend FindOne calls=%d want 3", n)
	}
}

func TestStatsHitRate(t *testing.T) {
	if r := (Stats{}).HitRate(); r != 0 {
		t.Fatalf("empty HitRate=%v", r)
	}
	if r := (Stats{Hits: 3, Misses: 1}).HitRate(); r != 0.75 {
		t.Fatalf("HitRate=%v want 0.75", r)
	}
}

type countingBackend struct {
	Backend
	mu    sync.Mutex
	reads int
}

func (b *countingBackend) FindOne(ctx context.Context, coll store.Collection, f filter.Filter) (store.Record, error) {
	b.mu.Lock()
	b.reads++
	b.mu.Unlock()
	return b.Backend.FindOne(ctx, coll, f)
}

func TestCacheOverSQLiteStore(t *testing.T) {
	ctx := context.Background()
	m, err := store.NewManager(store.Config{Dialect: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if !m.Connect(ctx) {
		t.Fatalf("Connect: %v", m.Err())
	}
	t.Cleanup(func() { _ = m.Disconnect(ctx) })
	st := store.New(m)

	for _, name := range []string{"json", "msgpack", "cbor", "protobuf"} {
		t.Run(name, func(t *testing.T) {
			codec, err := c.ForRecords(name, 0)
			if err != nil {
				t.Fatalf("ForRecords: %v", err)
			}
			b := &countingBackend{Backend: st}
			cs := newTestCache(t, b, memory.New(memory.Config{}), func(o *Options) { o.Codec = codec })

			user := "u-" + name
			if _, err := cs.InsertOne(ctx, store.Reputation, map[string]any{"user_id": user, "points": 1}); err != nil {
				t.Fatalf("InsertOne: %v", err)
			}
			direct, err := st.FindOne(ctx, store.Reputation, byUser(user))
			if err != nil {
				t.Fatalf("direct FindOne: %v", err)
			}
			for i := 0; i < 2; i++ {
				rec, err := cs.FindOne(ctx, store.Reputation, byUser(user), 0)
				if err != nil {
					t.Fatalf("FindOne: %v", err)
				}
				if diff := cmp.Diff(direct, rec); diff != "" {
					t.Fatalf("cached record differs (-direct +cached):\n%s", diff)
				}
			}
			if b.reads != 1 {
				t.Fatalf("backend reads=%d want 1", b.reads)
			}

			if err := cs.Increment(ctx, store.Reputation, byUser(user), "points", 4); err != nil {
				t.Fatalf("Increment: %v", err)
			}
			rec, err := cs.FindOne(ctx, store.Reputation, byUser(user), 0)
			if err != nil {
				t.Fatalf("FindOne: %v", err)
			}
			if rec["points"] != int64(5) {
				t.Fatalf("points=%v want 5", rec["points"])
			}
			if b.reads != 2 {
				t.Fatalf("backend reads=%d want 2", b.reads)
			}
		})
	}
}

func TestFindOneAndFindManyKeepSeparateEntries(t *testing.T) {
	ctx := context.Background()
	m, err := store.NewManager(store.Config{Dialect: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if !m.Connect(ctx) {
		t.Fatalf("Connect: %v", m.Err())
	}
	t.Cleanup(func() { _ = m.Disconnect(ctx) })
	cs := newTestCache(t, store.New(m), memory.New(memory.Config{}), nil)

	for _, uid := range []string{"1", "2"} {
		if _, err := cs.InsertOne(ctx, store.Reputation, map[string]any{"user_id": uid, "guild_id": "g", "points": 1}); err != nil {
			t.Fatalf("InsertOne: %v", err)
		}
	}
	byGuild := filter.Filter{"guild_id": "g"}

	check := func(t *testing.T, many bool) {
		t.Helper()
		if many {
			recs, err := cs.FindMany(ctx, store.Reputation, byGuild, 0)
			if err != nil || len(recs) != 2 {
				t.Fatalf("FindMany: n=%d err=%v", len(recs), err)
			}
			return
		}
		rec, err := cs.FindOne(ctx, store.Reputation, byGuild, 0)
		if err != nil || rec == nil || rec["guild_id"] != "g" {
			t.Fatalf("FindOne: rec=%v err=%v", rec, err)
		}
	}

	for _, tc := range []struct {
		name  string
		order []bool
	}{
		{"many_then_one", []bool{true, false}},
		{"one_then_many", []bool{false, true}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := cs.InvalidateCollection(ctx, store.Reputation); err != nil {
				t.Fatalf("InvalidateCollection: %v", err)
			}
			for i := 0; i < 2; i++ {
				for _, many := range tc.order {
					check(t, many)
				}
			}
		})
	}
	if st := cs.Stats(); st.Misses != 4 || st.Hits != 4 {
		t.Fatalf("stats=%+v want 4 misses and 4 hits", st)
	}
}
