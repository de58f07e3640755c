package ledger

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"driftwatch/internal/core"
)

func TestLedgerRecordAndLookup(t *testing.T) {
	ctx := context.Background()
	l := New(nil)

	key := Key(TaskEmbedding, "text-embedding-3-small", "abc")
	if _, ok, _ := l.Lookup(ctx, key); ok {
		t.Fatal("expected miss on empty ledger")
	}

	err := l.Record(ctx, TaskEmbedding, core.CacheEntry{Key: key, Kind: core.CacheEmbedding, Vector: []float64{1, 2}, Cost: 0.002})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	entry, ok, err := l.Lookup(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if len(entry.Vector) != 2 || entry.Vector[1] != 2 {
		t.Errorf("unexpected vector %v", entry.Vector)
	}
	if l.RunCost() != 0.002 {
		t.Errorf("expected run cost 0.002, got %v", l.RunCost())
	}
	if l.Calls(TaskEmbedding) != 1 {
		t.Errorf("expected 1 embedding call, got %d", l.Calls(TaskEmbedding))
	}
}

func TestLedgerEntriesAreNeverOverwritten(t *testing.T) {
	ctx := context.Background()
	l := New(nil)

	_ = l.Record(ctx, TaskReport, core.CacheEntry{Key: "k", Kind: core.CacheResponse, Text: "first"})
	_ = l.Record(ctx, TaskReport, core.CacheEntry{Key: "k", Kind: core.CacheResponse, Text: "second"})

	entry, _, _ := l.Lookup(ctx, "k")
	if entry.Text != "first" {
		t.Errorf("expected first write to win, got %q", entry.Text)
	}
	if l.Calls(TaskReport) != 2 {
		t.Errorf("both calls should be charged, got %d", l.Calls(TaskReport))
	}
}

func TestLedgerHorizon(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	l := New(NewMemoryBackend(), WithHorizon(24*time.Hour), WithClock(func() time.Time { return now }))

	_ = l.Record(ctx, TaskNaming, core.CacheEntry{Key: "old", Kind: core.CacheResponse, CreatedAt: now.Add(-48 * time.Hour)})
	_ = l.Record(ctx, TaskNaming, core.CacheEntry{Key: "fresh", Kind: core.CacheResponse})

	if _, ok, _ := l.Lookup(ctx, "old"); ok {
		t.Error("expired entry should read as a miss")
	}
	if _, ok, _ := l.Lookup(ctx, "fresh"); !ok {
		t.Error("fresh entry should hit")
	}

	n, err := l.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged entry, got %d", n)
	}
	stats, _ := l.Stats(ctx)
	if stats.Entries != 1 || stats.ByKind[core.CacheResponse] != 1 {
		t.Errorf("unexpected stats after purge: %+v", stats)
	}
}

func TestLedgerConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	l := New(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Record(ctx, TaskEmbedding, core.CacheEntry{Key: "same", Kind: core.CacheEmbedding, Cost: 0.01})
		}()
	}
	wg.Wait()

	stats, _ := l.Stats(ctx)
	if stats.Entries != 1 {
		t.Errorf("expected a single entry, got %d", stats.Entries)
	}
	if l.Calls(TaskEmbedding) != 50 {
		t.Errorf("expected 50 charged calls, got %d", l.Calls(TaskEmbedding))
	}
}

func TestFormatTally(t *testing.T) {
	out := FormatTally(map[string]TaskTally{
		TaskReport:    {Calls: 2, Cost: 0.002},
		TaskEmbedding: {Calls: 10, Cost: 0.0001},
	})
	if strings.Index(out, TaskEmbedding) > strings.Index(out, TaskReport) {
		t.Errorf("expected tasks sorted alphabetically, got:\n%s", out)
	}
}

func TestRedisBackend(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set, skipping redis integration test")
	}
	ctx := context.Background()
	backend, err := NewRedisBackend(ctx, redisURL, time.Hour)
	if err != nil {
		t.Fatalf("NewRedisBackend failed: %v", err)
	}
	defer func() { _ = backend.Close() }()

	key := "test:" + time.Now().Format(time.RFC3339Nano)
	inserted, err := backend.Put(ctx, core.CacheEntry{Key: key, Kind: core.CacheResponse, Text: "hello", CreatedAt: time.Now()})
	if err != nil || !inserted {
		t.Fatalf("Put failed: inserted=%v err=%v", inserted, err)
	}
	inserted, _ = backend.Put(ctx, core.CacheEntry{Key: key, Kind: core.CacheResponse, Text: "again"})
	if inserted {
		t.Error("second Put must not overwrite")
	}
	entry, ok, err := backend.Get(ctx, key)
	if err != nil || !ok || entry.Text != "hello" {
		t.Errorf("unexpected Get result: %+v ok=%v err=%v", entry, ok, err)
	}
}
