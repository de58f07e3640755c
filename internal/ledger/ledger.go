// Package ledger is the process-wide cache and cost accumulator. Entries are
// keyed by content fingerprint and are only ever inserted or read; the cost
// of every external call that produced an entry is charged exactly once.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"driftwatch/internal/core"
	"driftwatch/internal/logger"
)

// DefaultHorizon is how long entries stay valid before they may be purged.
const DefaultHorizon = 7 * 24 * time.Hour

// Task names used as key prefixes and cost buckets.
const (
	TaskEmbedding = "embedding"
	TaskCompress  = "compress"
	TaskNaming    = "naming"
	TaskReport    = "report"
	TaskExtract   = "extract"
)

// Backend is the durable half of the ledger. Put must not overwrite an
// existing key; it reports whether the entry was inserted.
type Backend interface {
	Get(ctx context.Context, key string) (core.CacheEntry, bool, error)
	Put(ctx context.Context, entry core.CacheEntry) (bool, error)
	Purge(ctx context.Context, olderThan time.Time) (int, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Stats summarizes the contents of a backend.
type Stats struct {
	Entries   int                    `json:"entries" yaml:"entries"`
	ByKind    map[core.CacheKind]int `json:"by_kind" yaml:"by_kind"`
	TotalCost float64                `json:"total_cost" yaml:"total_cost"`
	Oldest    time.Time              `json:"oldest,omitempty" yaml:"oldest,omitempty"`
	Newest    time.Time              `json:"newest,omitempty" yaml:"newest,omitempty"`
}

// Ledger fronts a Backend with horizon checks and a per-run cost tally.
type Ledger struct {
	backend Backend
	horizon time.Duration
	now     func() time.Time
	log     *slog.Logger

	mu      sync.Mutex
	runCost float64
	byTask  map[string]TaskTally
}

// TaskTally counts external calls and their cost for one task.
type TaskTally struct {
	Calls int     `json:"calls" yaml:"calls"`
	Cost  float64 `json:"cost" yaml:"cost"`
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithHorizon overrides DefaultHorizon.
func WithHorizon(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.horizon = d
		}
	}
}

// WithClock injects the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New builds a ledger over backend. A nil backend gets an in-memory one.
func New(backend Backend, opts ...Option) *Ledger {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	l := &Ledger{
		backend: backend,
		horizon: DefaultHorizon,
		now:     time.Now,
		log:     logger.Get(),
		byTask:  make(map[string]TaskTally),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key builds the cache key for a task, model and content fingerprint.
func Key(task, model, fingerprint string) string {
	return task + ":" + model + ":" + fingerprint
}

// Lookup returns the entry for key. Entries older than the horizon count as
// misses so that a purge never changes observable results.
func (l *Ledger) Lookup(ctx context.Context, key string) (core.CacheEntry, bool, error) {
	entry, ok, err := l.backend.Get(ctx, key)
	if err != nil {
		return core.CacheEntry{}, false, fmt.Errorf("ledger lookup %s: %w", key, err)
	}
	if !ok {
		return core.CacheEntry{}, false, nil
	}
	if l.now().Sub(entry.CreatedAt) > l.horizon {
		return core.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

// Record inserts a freshly computed entry and charges its cost to task.
// A concurrent writer may have inserted the same key first; the duplicate is
// dropped but the cost is still charged because the call was made.
func (l *Ledger) Record(ctx context.Context, task string, entry core.CacheEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}
	l.Charge(task, entry.Cost)
	inserted, err := l.backend.Put(ctx, entry)
	if err != nil {
		return fmt.Errorf("ledger record %s: %w", entry.Key, err)
	}
	if !inserted {
		l.log.Debug("ledger entry already present", "key", entry.Key)
	}
	return nil
}

// Put inserts an entry that cost nothing to produce, such as a locally
// computed compression.
func (l *Ledger) Put(ctx context.Context, entry core.CacheEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}
	if _, err := l.backend.Put(ctx, entry); err != nil {
		return fmt.Errorf("ledger put %s: %w", entry.Key, err)
	}
	return nil
}

// Charge adds one external call of the given cost to task.
func (l *Ledger) Charge(task string, cost float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.byTask[task]
	t.Calls++
	t.Cost += cost
	l.byTask[task] = t
	l.runCost += cost
}

// RunCost is the total cost charged since the ledger was constructed.
func (l *Ledger) RunCost() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runCost
}

// Tally returns a copy of the per-task counters.
func (l *Ledger) Tally() map[string]TaskTally {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]TaskTally, len(l.byTask))
	for k, v := range l.byTask {
		out[k] = v
	}
	return out
}

// Calls returns the number of external calls charged to task.
func (l *Ledger) Calls(task string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byTask[task].Calls
}

// Purge removes entries older than the horizon.
func (l *Ledger) Purge(ctx context.Context) (int, error) {
	cutoff := l.now().Add(-l.horizon)
	n, err := l.backend.Purge(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ledger purge: %w", err)
	}
	l.log.Info("ledger purged", "removed", n, "cutoff", cutoff.Format(time.RFC3339))
	return n, nil
}

// Stats reports backend contents.
func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	return l.backend.Stats(ctx)
}

// Close releases the backend.
func (l *Ledger) Close() error {
	return l.backend.Close()
}

// FormatTally renders per-task counters in a stable order.
func FormatTally(tally map[string]TaskTally) string {
	tasks := make([]string, 0, len(tally))
	for k := range tally {
		tasks = append(tasks, k)
	}
	sort.Strings(tasks)
	var b strings.Builder
	for _, task := range tasks {
		t := tally[task]
		fmt.Fprintf(&b, "%-10s %5d calls  $%.4f\n", task, t.Calls, t.Cost)
	}
	return b.String()
}
