package observability

import (
	"context"
	"sync"
	"time"
)

// Recorder keeps events in memory. Tests use it to assert on analytics.
type Recorder struct {
	mu       sync.Mutex
	Windows  []WindowEvent
	LLMCalls []string
	Errors   []string
}

func (r *Recorder) TrackWindow(_ context.Context, w WindowEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Windows = append(r.Windows, w)
	return nil
}

func (r *Recorder) TrackLLMCall(_ context.Context, task, model string, _ time.Duration, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LLMCalls = append(r.LLMCalls, task+":"+model)
	return nil
}

func (r *Recorder) TrackError(_ context.Context, kind, _, component string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, component+":"+kind)
	return nil
}

func (r *Recorder) Close() error { return nil }
