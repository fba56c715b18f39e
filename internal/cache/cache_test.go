package cache

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wearnotify/pkg/logx"
)

func TestRequestCacheRoundTripAndCleanup(t *testing.T) {
	data := t.TempDir()
	st, err := Open(data, 0, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.Requests.Put("000 hi", "hello"); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := st.Requests.Get("000 hi")
	if err != nil || got != "hello" {
		t.Fatalf("get = %q, %v", got, err)
	}
	if _, err := st.Cleanup(false); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, ok := st.Requests.Find("000 hi"); ok {
		t.Fatalf("entry survived cleanup")
	}
	if _, err := st.Requests.Get("000 hi"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRequestCacheRollsShards(t *testing.T) {
	dir := t.TempDir()
	c, err := NewRequestCache(dir, 64, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	big := strings.Repeat("v", 100)
	for _, k := range []string{"a", "b", "c"} {
		if err := c.Put(k, big); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	ids := c.shardIDs()
	if len(ids) != 3 || ids[0] != 2 {
		t.Fatalf("expected shards 2,1,0 got %v", ids)
	}
	if id, ok := c.Find("a"); !ok || id != 0 {
		t.Fatalf("a in shard %d ok=%v", id, ok)
	}

	// Updating an old key stays in its shard.
	if err := c.Put("a", "new"); err != nil {
		t.Fatal(err)
	}
	if id, _ := c.Find("a"); id != 0 {
		t.Fatalf("updated key moved to shard %d", id)
	}
	if v, _ := c.Get("a"); v != "new" {
		t.Fatalf("a = %q", v)
	}

	if err := c.Remove("b"); err != nil {
		t.Fatal(err)
	}
	if c.Has("b") {
		t.Fatalf("b still cached")
	}
}

func TestRequestCacheCorruptShardIsMiss(t *testing.T) {
	dir := t.TempDir()
	c, err := NewRequestCache(dir, 0, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "0"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if c.Has("k") {
		t.Fatalf("corrupt shard must read as miss")
	}
	if err := c.Put("k", "v"); err != nil {
		t.Fatalf("put over corrupt shard: %v", err)
	}
	if v, err := c.Get("k"); err != nil || v != "v" {
		t.Fatalf("get = %q, %v", v, err)
	}
}

func TestModuleCache(t *testing.T) {
	c := NewModuleCache(t.TempDir(), logx.Nop())
	if c.Exists("fdel", "notes") {
		t.Fatalf("unexpected file")
	}
	if _, err := c.Get("fdel", "notes"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := c.Put("fdel", "notes", []byte("a\nb")); err != nil {
		t.Fatal(err)
	}
	b, err := c.Get("fdel", "notes")
	if err != nil || string(b) != "a\nb" {
		t.Fatalf("get = %q, %v", b, err)
	}
	if err := c.Put("fdel", "../escape", []byte("x")); err == nil {
		t.Fatalf("path traversal accepted")
	}
	if err := c.Remove("fdel", "notes"); err != nil {
		t.Fatal(err)
	}
	if c.Exists("fdel", "notes") {
		t.Fatalf("file not removed")
	}
}

func TestRuntimeCache(t *testing.T) {
	c := NewRuntimeCache()
	c.Set("echo", []byte("abc"))
	c.Set("SHARED", []byte("de"))
	if c.Size() != 5 {
		t.Fatalf("size = %d", c.Size())
	}
	if b, ok := c.Get("echo"); !ok || string(b) != "abc" {
		t.Fatalf("get = %q %v", b, ok)
	}
	if !c.Remove("echo") || c.Remove("echo") {
		t.Fatalf("remove reported wrong presence")
	}
	c.Set("kb", []byte("x"))
	c.Set("kb/page", []byte("y"))
	c.Set("kbd", []byte("z"))
	if n := c.Evict("kb"); n != 2 || !c.Has("kbd") {
		t.Fatalf("evict removed %d", n)
	}
	c.Clear()
	if c.Size() != 0 || c.Has("SHARED") {
		t.Fatalf("clear left data")
	}
}

func TestCleanupRespectsAllowList(t *testing.T) {
	data := t.TempDir()
	st, err := Open(data, 0, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Modules.Put("fdel", "keep", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := st.Modules.Put("weather", "drop", []byte("2")); err != nil {
		t.Fatal(err)
	}
	if err := st.Allow.Add("notes"); err != nil {
		t.Fatal(err)
	}
	if err := st.Modules.Put("notes", "keep", []byte("3")); err != nil {
		t.Fatal(err)
	}

	n, err := st.Cleanup(false)
	if err != nil || n != 1 {
		t.Fatalf("cleanup removed %d, %v", n, err)
	}
	if !st.Modules.Exists("fdel", "keep") || !st.Modules.Exists("notes", "keep") {
		t.Fatalf("allowed files removed")
	}

	// The persisted list is reloaded with defaults merged in.
	reloaded := LoadAllowList(filepath.Join(data, "allowed_cache.json"))
	if !reloaded.Contains("notes") || !reloaded.Contains("fdel") {
		t.Fatalf("allow list not persisted: %v", reloaded.Names())
	}

	if _, err := st.Cleanup(true); err != nil {
		t.Fatal(err)
	}
	if st.Modules.Exists("fdel", "keep") {
		t.Fatalf("forced cleanup kept allowed file")
	}
}
