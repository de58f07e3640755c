package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"driftwatch/internal/core"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "driftwatch.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func load(t *testing.T, body string) (*Config, error) {
	t.Helper()
	Reset()
	t.Cleanup(Reset)
	return Load(writeConfig(t, body))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(t, "app:\n  debug: false\n")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pipeline.ClustersPerWindow != 10 || cfg.Pipeline.MinCoherence != 0.7 || cfg.Pipeline.MinSources != 3 {
		t.Errorf("pipeline defaults = %+v", cfg.Pipeline)
	}
	if cfg.Statements.ClustersPerWindow != 5 || cfg.Statements.MinClusterSize != 5 || cfg.Statements.MinCoherence != 0.6 {
		t.Errorf("statement defaults = %+v", cfg.Statements)
	}
	if cfg.Cache.Backend != "sqlite" || cfg.Horizon() != 7*24*time.Hour {
		t.Errorf("cache defaults = %+v", cfg.Cache)
	}
	if Get() != cfg {
		t.Error("Get() should return the loaded configuration")
	}
}

func TestLoadFileOverrides(t *testing.T) {
	cfg, err := load(t, `
logging:
  level: debug
llm:
  embedding_provider: openai
  generation_provider: anthropic
pipeline:
  window_size: 24h
  clusters_per_window: 4
  min_coherence: 0.8
  pacing: token_bucket
  batch_delay: 250ms
statements:
  enabled: false
`)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.LLM.EmbeddingProvider != "openai" {
		t.Errorf("config = %+v", cfg)
	}

	s := cfg.PipelineSettings()
	if s.Pipeline.WindowSize != 24*time.Hour {
		t.Errorf("window size = %s", s.Pipeline.WindowSize)
	}
	if s.Pipeline.MinWindowItems != 4 {
		t.Errorf("min window items = %d, want the cluster target", s.Pipeline.MinWindowItems)
	}
	if s.Articles.Clustering.TargetClusters != 4 || s.Articles.Clustering.Thresholds.MinCoherence != 0.8 {
		t.Errorf("clustering = %+v", s.Articles.Clustering)
	}
	if s.Pipeline.StatementsEnabled {
		t.Error("statements should be disabled")
	}
	pacer, err := cfg.Pacer()
	if err != nil {
		t.Fatal(err)
	}
	if pacer.Interval() != 250*time.Millisecond {
		t.Errorf("pacer interval = %s", pacer.Interval())
	}
}

func TestLoadEnvironmentKeys(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "gm-test")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	cfg, err := load(t, "cache:\n  backend: redis\n")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Gemini.APIKey != "gm-test" {
		t.Errorf("gemini key = %q", cfg.LLM.Gemini.APIKey)
	}
	if cfg.Provider("gemini").APIKey != "gm-test" {
		t.Error("provider config missing key")
	}
	if err := cfg.RequireCredentials(); err != nil {
		t.Errorf("RequireCredentials() error = %v", err)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	_, err := load(t, `
llm:
  embedding_provider: anthropic
pipeline:
  window_size: weekly
  min_coherence: 1.5
  strategy: hdbscan
cache:
  backend: etcd
`)
	if !errors.Is(err, core.ErrConfigurationInvalid) {
		t.Fatalf("error = %v, want ConfigurationInvalid", err)
	}
	for _, want := range []string{"window_size", "min_coherence", "hdbscan", "etcd", "anthropic"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %q:\n%v", want, err)
		}
	}
}

func TestRequireCredentials(t *testing.T) {
	cfg := &Config{LLM: LLM{EmbeddingProvider: "gemini", GenerationProvider: "openai"}}
	err := cfg.RequireCredentials()
	if !errors.Is(err, core.ErrConfigurationInvalid) {
		t.Fatalf("error = %v, want ConfigurationInvalid", err)
	}
	if !strings.Contains(err.Error(), "GEMINI_API_KEY") || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Errorf("error = %v", err)
	}

	cfg.LLM = LLM{EmbeddingProvider: "fake", GenerationProvider: "fake"}
	if err := cfg.RequireCredentials(); err != nil {
		t.Errorf("fake providers need no keys, got %v", err)
	}
}
