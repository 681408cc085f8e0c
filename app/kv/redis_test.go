package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)

	store, err := NewRedis(context.Background(), server.Addr(), "")
	if err != nil {
		t.Fatalf("Failed to connect to test Redis: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store, server
}

func TestRedis_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedis(t)

	if _, ok, err := store.Get(ctx, "last_processed_timestamp"); err != nil || ok {
		t.Fatalf("Expected missing key, ok=%v err=%v", ok, err)
	}

	if err := store.Put(ctx, "last_processed_timestamp", []byte("2024-01-01T00:00:00Z"), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	value, ok, err := store.Get(ctx, "last_processed_timestamp")
	if err != nil || !ok {
		t.Fatalf("Expected key to exist, ok=%v err=%v", ok, err)
	}
	if string(value) != "2024-01-01T00:00:00Z" {
		t.Errorf("Expected stored value, got %s", value)
	}

	if err := store.Delete(ctx, "last_processed_timestamp"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "last_processed_timestamp"); ok {
		t.Error("Expected key to be deleted")
	}
}

func TestRedis_TTL(t *testing.T) {
	ctx := context.Background()
	store, server := newTestRedis(t)

	store.Put(ctx, "gnews_usage_2024-01-01", []byte(`{"calls_used":1}`), 25*time.Hour)

	if ttl := server.TTL("gnews_usage_2024-01-01"); ttl != 25*time.Hour {
		t.Errorf("Expected TTL 25h, got %v", ttl)
	}

	server.FastForward(26 * time.Hour)
	if _, ok, _ := store.Get(ctx, "gnews_usage_2024-01-01"); ok {
		t.Error("Expected key to expire")
	}
}

func TestRedis_List(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedis(t)

	store.Put(ctx, "processing_run_b", []byte("{}"), 0)
	store.Put(ctx, "processing_run_a", []byte("{}"), 0)
	store.Put(ctx, "recent_processing_runs", []byte("[]"), 0)

	keys, err := store.List(ctx, "processing_run_")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "processing_run_a" || keys[1] != "processing_run_b" {
		t.Errorf("Expected two sorted run keys, got %v", keys)
	}
}

func TestRedis_TryLock(t *testing.T) {
	ctx := context.Background()
	store, server := newTestRedis(t)

	release, ok, err := store.TryLock(ctx, "pipeline_run_lock", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Expected lock, ok=%v err=%v", ok, err)
	}

	if _, ok, _ := store.TryLock(ctx, "pipeline_run_lock", time.Minute); ok {
		t.Error("Expected second lock attempt to fail")
	}

	release()
	if server.Exists("pipeline_run_lock") {
		t.Error("Expected release to delete the lock key")
	}
}

func TestRedis_ReleaseKeepsForeignLock(t *testing.T) {
	ctx := context.Background()
	store, server := newTestRedis(t)

	release, ok, _ := store.TryLock(ctx, "pipeline_run_lock", time.Minute)
	if !ok {
		t.Fatal("Expected lock")
	}

	// Lock expired and was taken by another process.
	server.Set("pipeline_run_lock", "someone-else")
	release()

	if got, _ := server.Get("pipeline_run_lock"); got != "someone-else" {
		t.Errorf("Expected foreign lock to survive release, got %q", got)
	}
}

func TestRedis_Ping(t *testing.T) {
	store, server := newTestRedis(t)

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Expected ping to succeed, got %v", err)
	}

	server.Close()
	if err := store.Ping(context.Background()); err == nil {
		t.Error("Expected ping to fail after server shutdown")
	}
}
