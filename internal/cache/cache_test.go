package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c, err := New(Options{Dir: filepath.Join(t.TempDir(), "cache"), TTL: ttl, Clock: clk.Now})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return c, clk
}

func TestCache_PutGet(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	key := Key("analyze", "gpt-4o-mini", "prompt", "content")

	if _, ok := c.Get(key); ok {
		t.Error("expected miss before put")
	}
	if err := c.Put(key, "analyze", `[{"message":"x"}]`); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	got, ok := c.Get(key)
	if !ok {
		t.Fatal("expected hit after put")
	}
	if got != `[{"message":"x"}]` {
		t.Errorf("Get = %q", got)
	}
}

func TestCache_TTL(t *testing.T) {
	c, clk := newTestCache(t, time.Minute)
	if err := c.Put("k", "s", "v"); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	clk.now = clk.now.Add(30 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Error("expected hit before expiry")
	}
	clk.now = clk.now.Add(time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after expiry")
	}
	if _, err := os.Stat(c.path("k")); !os.IsNotExist(err) {
		t.Errorf("expired entry should be removed, stat err = %v", err)
	}
}

func TestCache_ZeroTTLNeverExpires(t *testing.T) {
	c, clk := newTestCache(t, 0)
	if err := c.Put("k", "s", "v"); err != nil {
		t.Fatal(err)
	}
	clk.now = clk.now.Add(24 * 365 * time.Hour)
	if _, ok := c.Get("k"); !ok {
		t.Error("zero TTL entries should not expire")
	}
}

func TestCache_StatsPruneClear(t *testing.T) {
	c, clk := newTestCache(t, time.Minute)
	for _, k := range []string{"a", "b"} {
		if err := c.Put(k, "s", "v"); err != nil {
			t.Fatal(err)
		}
	}
	clk.now = clk.now.Add(2 * time.Minute)
	if err := c.Put("fresh", "s", "v"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(c.Dir(), "junk.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(c.Dir(), "notes.txt"), []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := c.Stats()
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if st.Entries != 4 || st.Expired != 2 {
		t.Errorf("Stats = %+v, want 4 entries, 2 expired", st)
	}
	if st.TotalBytes == 0 {
		t.Error("TotalBytes should be non-zero")
	}

	n, err := c.Prune()
	if err != nil {
		t.Fatalf("Prune error: %v", err)
	}
	if n != 3 {
		t.Errorf("Prune removed %d, want 3 (2 expired + 1 unreadable)", n)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("fresh entry should survive prune")
	}

	n, err = c.Clear()
	if err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	if n != 1 {
		t.Errorf("Clear removed %d, want 1", n)
	}
	if _, err := os.Stat(filepath.Join(c.Dir(), "notes.txt")); err != nil {
		t.Errorf("non-entry files must be left alone: %v", err)
	}
}

func TestCache_Nil(t *testing.T) {
	var c *Cache
	if _, ok := c.Get("k"); ok {
		t.Error("nil cache should miss")
	}
	if err := c.Put("k", "s", "v"); err != nil {
		t.Errorf("nil Put error: %v", err)
	}
	if n, err := c.Clear(); n != 0 || err != nil {
		t.Errorf("nil Clear = %d, %v", n, err)
	}
	if st, err := c.Stats(); err != nil || st.Entries != 0 {
		t.Errorf("nil Stats = %+v, %v", st, err)
	}
}

func TestNew_RequiresDir(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error for empty dir")
	}
}

func TestKey(t *testing.T) {
	if Key("a", "bc") == Key("ab", "c") {
		t.Error("part boundaries must affect the key")
	}
	if Key("x") != Key("x") {
		t.Error("Key must be deterministic")
	}
	if len(Key("x")) != 64 {
		t.Errorf("Key length = %d, want 64", len(Key("x")))
	}
}
