package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"driftwatch/internal/clustering"
	"driftwatch/internal/core"
	"driftwatch/internal/llm"
	"driftwatch/internal/observability"
	"driftwatch/internal/pacing"
	"driftwatch/internal/pipeline"
	"driftwatch/internal/quality"
)

// Config holds all application configuration
type Config struct {
	App        App        `mapstructure:"app"`
	Logging    Logging    `mapstructure:"logging"`
	LLM        LLM        `mapstructure:"llm"`
	Pipeline   Pipeline   `mapstructure:"pipeline"`
	Statements Statements `mapstructure:"statements"`
	Cache      Cache      `mapstructure:"cache"`
	Database   Database   `mapstructure:"database"`
	PostHog    PostHog    `mapstructure:"posthog"`
}

// App holds general application configuration
type App struct {
	Debug   bool   `mapstructure:"debug"`
	DataDir string `mapstructure:"data_dir"`
}

// Logging holds logging configuration
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LLM selects providers and models
type LLM struct {
	EmbeddingProvider   string         `mapstructure:"embedding_provider"`
	GenerationProvider  string         `mapstructure:"generation_provider"`
	EmbeddingModel      string         `mapstructure:"embedding_model"`
	EmbeddingDimensions int            `mapstructure:"embedding_dimensions"`
	NamingModel         string         `mapstructure:"naming_model"`
	CheapModel          string         `mapstructure:"cheap_model"`
	CapableModel        string         `mapstructure:"capable_model"`
	MaxTokens           int            `mapstructure:"max_tokens"`
	Temperature         float32        `mapstructure:"temperature"`
	Gemini              ProviderConfig `mapstructure:"gemini"`
	OpenAI              ProviderConfig `mapstructure:"openai"`
	Anthropic           ProviderConfig `mapstructure:"anthropic"`
	Retry               Retry          `mapstructure:"retry"`
}

// ProviderConfig holds credentials for one provider
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// Retry bounds retries of external calls
type Retry struct {
	MaxAttempts    int    `mapstructure:"max_attempts"`
	InitialBackoff string `mapstructure:"initial_backoff"`
	MaxBackoff     string `mapstructure:"max_backoff"`
}

// Pipeline holds the article-level pipeline settings
type Pipeline struct {
	WindowSize          string  `mapstructure:"window_size"`
	Months              int     `mapstructure:"months"`
	MinWindowItems      int     `mapstructure:"min_window_items"` // 0 uses clusters_per_window
	FlushAtEnd          bool    `mapstructure:"flush_at_end"`
	BatchSize           int     `mapstructure:"batch_size"`
	Concurrency         int     `mapstructure:"concurrency"`
	Pacing              string  `mapstructure:"pacing"`
	BatchDelay          string  `mapstructure:"batch_delay"`
	Burst               int     `mapstructure:"burst"`
	Strategy            string  `mapstructure:"strategy"`
	ClustersPerWindow   int     `mapstructure:"clusters_per_window"`
	MinCoherence        float64 `mapstructure:"min_coherence"`
	MinSources          int     `mapstructure:"min_sources"`
	MinClusterSize      int     `mapstructure:"min_cluster_size"`
	MergeThreshold      float64 `mapstructure:"merge_threshold"`
	ContinuityThreshold float64 `mapstructure:"continuity_threshold"`
	DormancyWindows     int     `mapstructure:"dormancy_windows"`
	TokenBudget         int     `mapstructure:"token_budget"`
	ShiftThreshold      float64 `mapstructure:"shift_threshold"`
	Routing             Routing `mapstructure:"routing"`
}

// Routing holds the report model routing thresholds
type Routing struct {
	MaxCheapPayloadTokens int `mapstructure:"max_cheap_payload_tokens"`
	MaxCheapWindows       int `mapstructure:"max_cheap_windows"`
	MaxCheapSupport       int `mapstructure:"max_cheap_support"`
}

// Statements holds the statement sub-pipeline settings
type Statements struct {
	Enabled           bool    `mapstructure:"enabled"`
	Model             string  `mapstructure:"model"`
	MaxPerArticle     int     `mapstructure:"max_per_article"`
	MinConfidence     float64 `mapstructure:"min_confidence"`
	Concurrency       int     `mapstructure:"concurrency"`
	ClustersPerWindow int     `mapstructure:"clusters_per_window"`
	MinCoherence      float64 `mapstructure:"min_coherence"`
	MinSources        int     `mapstructure:"min_sources"`
	MinClusterSize    int     `mapstructure:"min_cluster_size"`
}

// Cache holds ledger configuration
type Cache struct {
	Backend   string `mapstructure:"backend"` // memory, sqlite or redis
	Directory string `mapstructure:"directory"`
	RedisURL  string `mapstructure:"redis_url"`
	Horizon   string `mapstructure:"horizon"`
}

// Database holds the narrative store connection
type Database struct {
	URL string `mapstructure:"url"`
}

// PostHog holds analytics configuration
type PostHog struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	Host    string `mapstructure:"host"`
}

var globalConfig *Config

// Load loads the configuration from .env, the config file and the
// environment, in increasing precedence.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".driftwatch")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.SetEnvPrefix("DRIFTWATCH")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	postProcessConfig(config)
	if err := config.Validate(); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}

func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.data_dir", ".driftwatch")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("llm.embedding_provider", "gemini")
	viper.SetDefault("llm.generation_provider", "gemini")
	viper.SetDefault("llm.embedding_model", llm.DefaultGeminiEmbeddingModel)
	viper.SetDefault("llm.embedding_dimensions", llm.DefaultEmbeddingDimensions)
	viper.SetDefault("llm.naming_model", "gemini-2.5-flash-lite")
	viper.SetDefault("llm.cheap_model", "gemini-2.5-flash-lite")
	viper.SetDefault("llm.capable_model", "gemini-2.5-flash")
	viper.SetDefault("llm.max_tokens", 1024)
	viper.SetDefault("llm.temperature", 0.3)
	viper.SetDefault("llm.retry.max_attempts", 3)
	viper.SetDefault("llm.retry.initial_backoff", "500ms")
	viper.SetDefault("llm.retry.max_backoff", "8s")

	viper.SetDefault("pipeline.window_size", "168h")
	viper.SetDefault("pipeline.months", 2)
	viper.SetDefault("pipeline.min_window_items", 0)
	viper.SetDefault("pipeline.flush_at_end", false)
	viper.SetDefault("pipeline.batch_size", 10)
	viper.SetDefault("pipeline.concurrency", 2)
	viper.SetDefault("pipeline.pacing", "fixed")
	viper.SetDefault("pipeline.batch_delay", "1s")
	viper.SetDefault("pipeline.burst", 1)
	viper.SetDefault("pipeline.strategy", string(clustering.StrategyKMeans))
	viper.SetDefault("pipeline.clusters_per_window", 10)
	viper.SetDefault("pipeline.min_coherence", 0.7)
	viper.SetDefault("pipeline.min_sources", 3)
	viper.SetDefault("pipeline.min_cluster_size", 3)
	viper.SetDefault("pipeline.merge_threshold", 0.9)
	viper.SetDefault("pipeline.continuity_threshold", 0.75)
	viper.SetDefault("pipeline.dormancy_windows", 3)
	viper.SetDefault("pipeline.token_budget", 600)
	viper.SetDefault("pipeline.shift_threshold", 0.35)
	viper.SetDefault("pipeline.routing.max_cheap_payload_tokens", 400)
	viper.SetDefault("pipeline.routing.max_cheap_windows", 4)
	viper.SetDefault("pipeline.routing.max_cheap_support", 50)

	viper.SetDefault("statements.enabled", true)
	viper.SetDefault("statements.model", "gemini-2.5-flash-lite")
	viper.SetDefault("statements.max_per_article", 3)
	viper.SetDefault("statements.min_confidence", 0.5)
	viper.SetDefault("statements.concurrency", 2)
	viper.SetDefault("statements.clusters_per_window", 5)
	viper.SetDefault("statements.min_coherence", 0.6)
	viper.SetDefault("statements.min_sources", 3)
	viper.SetDefault("statements.min_cluster_size", 5)

	viper.SetDefault("cache.backend", "sqlite")
	viper.SetDefault("cache.directory", ".driftwatch")
	viper.SetDefault("cache.horizon", "168h")

	viper.SetDefault("posthog.enabled", false)
	viper.SetDefault("posthog.host", "https://us.i.posthog.com")
}

// bindEnvironmentVariables maps the conventional provider variables onto
// config keys.
func bindEnvironmentVariables() {
	bindEnvKeys("llm.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})
	bindEnvKeys("llm.openai.api_key", []string{"OPENAI_API_KEY"})
	bindEnvKeys("llm.anthropic.api_key", []string{"ANTHROPIC_API_KEY"})
	bindEnvKeys("database.url", []string{"DATABASE_URL", "DRIFTWATCH_DATABASE_URL"})
	bindEnvKeys("cache.redis_url", []string{"REDIS_URL"})
	bindEnvKeys("posthog.api_key", []string{"POSTHOG_API_KEY"})
	bindEnvKeys("app.debug", []string{"DEBUG", "DRIFTWATCH_DEBUG"})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

func postProcessConfig(config *Config) {
	if config.App.DataDir != "" {
		config.App.DataDir = expandPath(config.App.DataDir)
	}
	if config.Cache.Directory != "" {
		config.Cache.Directory = expandPath(config.Cache.Directory)
	}
	config.Cache.Backend = strings.ToLower(config.Cache.Backend)
	config.LLM.EmbeddingProvider = strings.ToLower(config.LLM.EmbeddingProvider)
	config.LLM.GenerationProvider = strings.ToLower(config.LLM.GenerationProvider)
	if config.App.Debug {
		config.Logging.Level = "debug"
	}
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// Validate checks every setting and reports all problems at once as a
// ConfigurationInvalid error. Provider credentials are checked separately
// by RequireCredentials since not every command calls out.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	durations := map[string]string{
		"pipeline.window_size":      c.Pipeline.WindowSize,
		"pipeline.batch_delay":      c.Pipeline.BatchDelay,
		"cache.horizon":             c.Cache.Horizon,
		"llm.retry.initial_backoff": c.LLM.Retry.InitialBackoff,
		"llm.retry.max_backoff":     c.LLM.Retry.MaxBackoff,
	}
	for key, d := range durations {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			add("invalid duration for %s: %s", key, d)
		}
	}
	if d, err := time.ParseDuration(c.Pipeline.WindowSize); err == nil && d <= 0 {
		add("pipeline.window_size must be positive")
	}

	for _, p := range []struct{ key, value string }{
		{"llm.embedding_provider", c.LLM.EmbeddingProvider},
		{"llm.generation_provider", c.LLM.GenerationProvider},
	} {
		switch p.value {
		case "gemini", "openai", "anthropic", "fake":
		default:
			add("unknown provider for %s: %q. Supported: gemini, openai, anthropic, fake", p.key, p.value)
		}
	}
	if c.LLM.EmbeddingProvider == "anthropic" {
		add("anthropic does not provide embeddings; use gemini or openai for llm.embedding_provider")
	}
	if c.LLM.EmbeddingDimensions < 0 {
		add("llm.embedding_dimensions must not be negative")
	}

	p := c.Pipeline
	if p.ClustersPerWindow <= 0 {
		add("pipeline.clusters_per_window must be positive")
	}
	if p.MinCoherence < 0 || p.MinCoherence > 1 {
		add("pipeline.min_coherence must be in [0, 1], got %v", p.MinCoherence)
	}
	if p.ContinuityThreshold < 0 || p.ContinuityThreshold > 1 {
		add("pipeline.continuity_threshold must be in [0, 1], got %v", p.ContinuityThreshold)
	}
	if p.MinSources < 1 {
		add("pipeline.min_sources must be at least 1")
	}
	if p.DormancyWindows < 1 {
		add("pipeline.dormancy_windows must be at least 1")
	}
	if p.TokenBudget <= 0 {
		add("pipeline.token_budget must be positive")
	}
	if p.BatchSize <= 0 {
		add("pipeline.batch_size must be positive")
	}
	switch clustering.Strategy(p.Strategy) {
	case clustering.StrategyKMeans, clustering.StrategyLouvain:
	default:
		add("unknown clustering strategy %q. Supported: kmeans, louvain", p.Strategy)
	}
	switch p.Pacing {
	case "none", "fixed", "token_bucket":
	default:
		add("unknown pacing policy %q. Supported: none, fixed, token_bucket", p.Pacing)
	}

	s := c.Statements
	if s.Enabled {
		if s.ClustersPerWindow <= 0 {
			add("statements.clusters_per_window must be positive")
		}
		if s.MinCoherence < 0 || s.MinCoherence > 1 {
			add("statements.min_coherence must be in [0, 1], got %v", s.MinCoherence)
		}
		if s.MinConfidence < 0 || s.MinConfidence > 1 {
			add("statements.min_confidence must be in [0, 1], got %v", s.MinConfidence)
		}
	}

	switch c.Cache.Backend {
	case "memory", "sqlite":
	case "redis":
		if c.Cache.RedisURL == "" {
			add("cache.backend redis requires REDIS_URL or cache.redis_url")
		}
	default:
		add("unknown cache backend %q. Supported: memory, sqlite, redis", c.Cache.Backend)
	}

	if c.PostHog.Enabled && c.PostHog.APIKey == "" {
		add("posthog.enabled requires POSTHOG_API_KEY or posthog.api_key")
	}

	if len(problems) > 0 {
		return core.NewError(core.KindConfigurationInvalid, "config", "",
			fmt.Errorf("configuration errors:\n- %s", strings.Join(problems, "\n- ")))
	}
	return nil
}

// RequireCredentials checks that the configured providers have API keys.
func (c *Config) RequireCredentials() error {
	var problems []string
	seen := make(map[string]bool)
	for _, provider := range []string{c.LLM.EmbeddingProvider, c.LLM.GenerationProvider} {
		if seen[provider] || provider == "fake" {
			continue
		}
		seen[provider] = true
		if c.Provider(provider).APIKey == "" {
			problems = append(problems, fmt.Sprintf("%s API key is required. Set %s_API_KEY or llm.%s.api_key",
				provider, strings.ToUpper(provider), provider))
		}
	}
	if len(problems) > 0 {
		return core.NewError(core.KindConfigurationInvalid, "config", "",
			fmt.Errorf("configuration errors:\n- %s", strings.Join(problems, "\n- ")))
	}
	return nil
}

// Provider returns the client configuration for a provider.
func (c *Config) Provider(name string) llm.ProviderConfig {
	pc := llm.ProviderConfig{
		Provider:    name,
		Dimensions:  c.LLM.EmbeddingDimensions,
		MaxTokens:   c.LLM.MaxTokens,
		Temperature: c.LLM.Temperature,
	}
	var creds ProviderConfig
	switch name {
	case "gemini":
		creds = c.LLM.Gemini
	case "openai":
		creds = c.LLM.OpenAI
	case "anthropic":
		creds = c.LLM.Anthropic
	}
	pc.APIKey, pc.BaseURL = creds.APIKey, creds.BaseURL
	return pc
}

// Pacer builds the pacing policy shared by embedding batches and generation calls.
func (c *Config) Pacer() (pacing.Policy, error) {
	return pacing.New(c.Pipeline.Pacing, duration(c.Pipeline.BatchDelay), c.Pipeline.Burst)
}

// Horizon is how long ledger entries stay valid.
func (c *Config) Horizon() time.Duration {
	return duration(c.Cache.Horizon)
}

// Analytics returns the PostHog settings.
func (c *Config) Analytics() observability.PostHogConfig {
	return observability.PostHogConfig{
		Enabled:    c.PostHog.Enabled,
		APIKey:     c.PostHog.APIKey,
		Host:       c.PostHog.Host,
		DistinctID: "driftwatch",
	}
}

// PipelineSettings translates the configuration into component settings.
func (c *Config) PipelineSettings() pipeline.Settings {
	s := pipeline.DefaultSettings()
	p := c.Pipeline

	s.Pipeline.WindowSize = duration(p.WindowSize)
	s.Pipeline.MinWindowItems = p.MinWindowItems
	if s.Pipeline.MinWindowItems == 0 {
		s.Pipeline.MinWindowItems = p.ClustersPerWindow
	}
	s.Pipeline.FlushAtEnd = p.FlushAtEnd
	s.Pipeline.StatementsEnabled = c.Statements.Enabled
	s.Pipeline.ExtractConcurrency = c.Statements.Concurrency

	s.Embedding.Model = c.LLM.EmbeddingModel
	s.Embedding.Dimensions = c.LLM.EmbeddingDimensions
	s.Embedding.BatchSize = p.BatchSize
	s.Embedding.Concurrency = p.Concurrency

	s.Compress.TokenBudget = p.TokenBudget

	s.Articles.Clustering.Strategy = clustering.Strategy(p.Strategy)
	s.Articles.Clustering.TargetClusters = p.ClustersPerWindow
	s.Articles.Clustering.MergeThreshold = p.MergeThreshold
	s.Articles.Clustering.Thresholds = quality.Thresholds{
		MinCoherence: p.MinCoherence,
		MinSources:   p.MinSources,
		MinSize:      p.MinClusterSize,
	}
	s.Articles.Tracking.ContinuityThreshold = p.ContinuityThreshold
	s.Articles.Tracking.DormancyWindows = p.DormancyWindows
	s.Articles.Drift.ShiftThreshold = p.ShiftThreshold

	st := c.Statements
	s.Statements.Clustering.Strategy = clustering.Strategy(p.Strategy)
	s.Statements.Clustering.TargetClusters = st.ClustersPerWindow
	s.Statements.Clustering.Thresholds = quality.Thresholds{
		MinCoherence: st.MinCoherence,
		MinSources:   st.MinSources,
		MinSize:      st.MinClusterSize,
	}
	s.Statements.Tracking = s.Articles.Tracking
	s.Statements.Drift.ShiftThreshold = p.ShiftThreshold

	s.Routing.CheapModel = c.LLM.CheapModel
	s.Routing.CapableModel = c.LLM.CapableModel
	s.Routing.MaxCheapPayloadTokens = p.Routing.MaxCheapPayloadTokens
	s.Routing.MaxCheapWindows = p.Routing.MaxCheapWindows
	s.Routing.MaxCheapSupport = p.Routing.MaxCheapSupport
	s.NamingModel = c.LLM.NamingModel

	s.Extraction.Model = st.Model
	s.Extraction.MaxPerArticle = st.MaxPerArticle
	s.Extraction.MinConfidence = st.MinConfidence
	s.Extraction.Concurrency = st.Concurrency

	s.Retry = llm.RetryPolicy{
		MaxAttempts:    c.LLM.Retry.MaxAttempts,
		InitialBackoff: duration(c.LLM.Retry.InitialBackoff),
		MaxBackoff:     duration(c.LLM.Retry.MaxBackoff),
	}
	return s
}

// duration parses a value Validate has already checked.
func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
