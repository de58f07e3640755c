package llm

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"driftwatch/internal/observability"
)

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, w := range want {
		if got := p.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %s, want %s", i+1, got, w)
		}
	}
}

func TestRetryPolicyEventuallySucceeds(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryPolicyGivesUp(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 2}
	cause := errors.New("503")
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return cause
	})
	if !errors.Is(err, cause) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestRetryPolicyStopsOnPermanentError(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5}
	calls := 0
	_ = p.Do(context.Background(), func(context.Context) error {
		calls++
		return ErrMissingAPIKey
	})
	if calls != 1 {
		t.Errorf("permanent errors must not be retried, got %d calls", calls)
	}
}

func TestRetryingEmbedder(t *testing.T) {
	attempts := 0
	inner := EmbedderFunc(func(ctx context.Context, texts []string, model string) ([][]float64, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("rate limited")
		}
		return [][]float64{{1}}, nil
	})
	r := RetryingEmbedder{Embedder: inner, Policy: RetryPolicy{MaxAttempts: 2}}
	out, err := r.Embed(context.Background(), []string{"x"}, "m")
	if err != nil || len(out) != 1 {
		t.Fatalf("unexpected result %v, %v", out, err)
	}
}

func TestFakeEmbedderDeterministic(t *testing.T) {
	f := NewFakeEmbedder(32)
	out, err := f.Embed(context.Background(), []string{"Rates rise again", "rates RISE again", "Football final tonight"}, "fake")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	for i := range out[0] {
		if out[0][i] != out[1][i] {
			t.Fatal("case differences should not change the vector")
		}
	}
	if f.Requests() != 1 || f.Texts() != 3 {
		t.Errorf("unexpected counters: requests=%d texts=%d", f.Requests(), f.Texts())
	}
}

func TestFakeEmbedderFailure(t *testing.T) {
	f := &FakeEmbedder{Fail: "poison"}
	if _, err := f.Embed(context.Background(), []string{"fine", "poison pill"}, ""); err == nil {
		t.Error("expected failure for poisoned text")
	}
}

func TestScriptedGenerator(t *testing.T) {
	g := &ScriptedGenerator{Rules: []ScriptRule{
		{Contains: "NAME", Response: `{"name":"Rate Hikes"}`},
		{Contains: "FAIL", Err: errors.New("boom")},
	}}
	out, err := g.Generate(context.Background(), "NAME this cluster", "cheap")
	if err != nil || !strings.Contains(out, "Rate Hikes") {
		t.Errorf("unexpected response %q, %v", out, err)
	}
	if _, err := g.Generate(context.Background(), "FAIL please", "cheap"); err == nil {
		t.Error("expected scripted error")
	}
	if g.CallCount() != 2 || g.Calls()[0].Model != "cheap" {
		t.Errorf("unexpected recorded calls %+v", g.Calls())
	}
}

func TestTracedGenerator(t *testing.T) {
	rec := &observability.Recorder{}
	tg := TracedGenerator{Generator: &ScriptedGenerator{}, Tracker: rec, Task: "report"}
	if _, err := tg.Generate(context.Background(), "hello", "gemini-2.5-flash"); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(rec.LLMCalls) != 1 || rec.LLMCalls[0] != "report:gemini-2.5-flash" {
		t.Errorf("unexpected tracked calls %v", rec.LLMCalls)
	}
}

func TestCleanJSON(t *testing.T) {
	in := "```json\n{\"a\":1}\n```"
	if got := CleanJSON(in); got != `{"a":1}` {
		t.Errorf("CleanJSON() = %q", got)
	}
}

func TestNewGeneratorUnknownProvider(t *testing.T) {
	if _, err := NewGenerator(context.Background(), ProviderConfig{Provider: "carrier-pigeon"}); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestNewOpenAIClientMissingKey(t *testing.T) {
	original := os.Getenv("OPENAI_API_KEY")
	_ = os.Unsetenv("OPENAI_API_KEY")
	defer func() {
		if original != "" {
			_ = os.Setenv("OPENAI_API_KEY", original)
		}
	}()
	if _, err := NewOpenAIClient(ProviderConfig{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestGeminiEmbedIntegration(t *testing.T) {
	if os.Getenv("GEMINI_API_KEY") == "" {
		t.Skip("GEMINI_API_KEY not set, skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c, err := NewGeminiClient(ctx, ProviderConfig{})
	if err != nil {
		t.Fatalf("NewGeminiClient failed: %v", err)
	}
	out, err := c.Embed(ctx, []string{"central bank raises rates"}, DefaultGeminiEmbeddingModel)
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(out[0]) != DefaultEmbeddingDimensions {
		t.Errorf("expected %d dimensions, got %d", DefaultEmbeddingDimensions, len(out[0]))
	}
}
