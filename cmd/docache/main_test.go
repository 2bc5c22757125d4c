package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func TestInsertThenFindThroughCache(t *testing.T) {
	t.Setenv("DOCACHE_CONFIG", "")
	t.Setenv("DOCACHE_DB_DIALECT", "sqlite")
	t.Setenv("DOCACHE_DB_DSN", filepath.Join(t.TempDir(), "bot.db"))
	t.Setenv("DOCACHE_LOG_BACKEND", "slog")
	t.Setenv("DOCACHE_LOG_LEVEL", "error")

	id, _, err := run(t, "insert", "reputation", `{"user_id":"42","points":1}`)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if strings.TrimSpace(id) == "" {
		t.Fatalf("insert printed no id")
	}

	out, stderr, err := run(t, "find", "reputation", `{"user_id":"42"}`, "--twice")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !strings.Contains(out, `"points": 1`) || !strings.Contains(out, strings.TrimSpace(id)) {
		t.Fatalf("find output=%s", out)
	}
	if !strings.Contains(stderr, "hits=1 misses=1") {
		t.Fatalf("stderr=%q", stderr)
	}

	out, _, err = run(t, "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.HasPrefix(out, "migrations: ") {
		t.Fatalf("migrate output=%q", out)
	}
}

func TestDecodeObject(t *testing.T) {
	got, err := decodeObject(`{"n": 3, "x": 1.5, "in": {"$in": [1, 2]}}`)
	if err != nil {
		t.Fatalf("decodeObject: %v", err)
	}
	want := map[string]any{
		"n":  int64(3),
		"x":  1.5,
		"in": map[string]any{"$in": []any{int64(1), int64(2)}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("decodeObject (-want +got):\n%s", diff)
	}

	for _, bad := range []string{`null`, `[1]`, `{`} {
		if _, err := decodeObject(bad); err == nil {
			t.Fatalf("decodeObject(%s) should fail", bad)
		}
	}
}
