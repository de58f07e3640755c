package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/posthog/posthog-go"

	"driftwatch/internal/logger"
)

// Tracker receives run analytics. Implementations must be safe for
// concurrent use; a nil-safe no-op is provided by Disabled.
type Tracker interface {
	TrackWindow(ctx context.Context, w WindowEvent) error
	TrackLLMCall(ctx context.Context, task, model string, latency time.Duration, err error) error
	TrackError(ctx context.Context, errorKind, message, component string) error
	Close() error
}

// WindowEvent summarizes one processed window.
type WindowEvent struct {
	Window            string
	Namespace         string
	DryRun            bool
	Items             int
	ClustersCreated   int
	NarrativesCreated int
	NarrativesUpdated int
	EventsEmitted     int
	Skipped           int
	Insufficient      bool
	Cost              float64
	Duration          time.Duration
}

// PostHogConfig configures the PostHog client.
type PostHogConfig struct {
	Enabled    bool
	APIKey     string
	Host       string
	DistinctID string
}

// PostHogClient wraps the PostHog SDK for run analytics
type PostHogClient struct {
	client     posthog.Client
	distinctID string
	log        *slog.Logger
}

// EventProperties contains properties for an event
type EventProperties map[string]interface{}

// NewTracker returns a PostHog tracker when enabled and a no-op otherwise.
func NewTracker(cfg PostHogConfig) (Tracker, error) {
	if !cfg.Enabled {
		return Disabled{}, nil
	}
	return NewPostHogClient(cfg)
}

// NewPostHogClient creates a new PostHog analytics client
func NewPostHogClient(cfg PostHogConfig) (*PostHogClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("PostHog enabled but missing API key")
	}

	client, err := posthog.NewWithConfig(cfg.APIKey, posthog.Config{
		Endpoint: cfg.Host,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create PostHog client: %w", err)
	}

	distinctID := cfg.DistinctID
	if distinctID == "" {
		distinctID = "driftwatch"
	}
	return &PostHogClient{
		client:     client,
		distinctID: distinctID,
		log:        logger.Get(),
	}, nil
}

// Capture sends an event to PostHog
func (p *PostHogClient) Capture(_ context.Context, event string, properties EventProperties) error {
	props := posthog.NewProperties()
	for k, v := range properties {
		props.Set(k, v)
	}
	return p.client.Enqueue(posthog.Capture{
		DistinctId: p.distinctID,
		Event:      event,
		Properties: props,
	})
}

// TrackWindow records a processed window.
func (p *PostHogClient) TrackWindow(ctx context.Context, w WindowEvent) error {
	return p.Capture(ctx, "window_processed", EventProperties{
		"window":             w.Window,
		"namespace":          w.Namespace,
		"dry_run":            w.DryRun,
		"items":              w.Items,
		"clusters_created":   w.ClustersCreated,
		"narratives_created": w.NarrativesCreated,
		"narratives_updated": w.NarrativesUpdated,
		"events_emitted":     w.EventsEmitted,
		"skipped":            w.Skipped,
		"insufficient_data":  w.Insufficient,
		"cost":               w.Cost,
		"duration_ms":        w.Duration.Milliseconds(),
	})
}

// TrackLLMCall tracks LLM API calls for cost and performance monitoring
func (p *PostHogClient) TrackLLMCall(ctx context.Context, task, model string, latency time.Duration, callErr error) error {
	props := EventProperties{
		"task":       task,
		"model":      model,
		"latency_ms": latency.Milliseconds(),
		"successful": callErr == nil,
	}
	if callErr != nil {
		props["error"] = callErr.Error()
	}
	return p.Capture(ctx, "llm_call", props)
}

// TrackError tracks when an error occurs
func (p *PostHogClient) TrackError(ctx context.Context, errorKind, message, component string) error {
	return p.Capture(ctx, "error_occurred", EventProperties{
		"error_kind":    errorKind,
		"error_message": message,
		"component":     component,
	})
}

// Close flushes pending events.
func (p *PostHogClient) Close() error {
	return p.client.Close()
}

// Disabled drops every event.
type Disabled struct{}

func (Disabled) TrackWindow(context.Context, WindowEvent) error { return nil }
func (Disabled) TrackLLMCall(context.Context, string, string, time.Duration, error) error {
	return nil
}
func (Disabled) TrackError(context.Context, string, string, string) error { return nil }
func (Disabled) Close() error                                             { return nil }
