package pipeline

import (
	"errors"
	"fmt"
	"time"

	"driftwatch/internal/clustering"
	"driftwatch/internal/compress"
	"driftwatch/internal/core"
	"driftwatch/internal/drift"
	"driftwatch/internal/embedding"
	"driftwatch/internal/ledger"
	"driftwatch/internal/llm"
	"driftwatch/internal/logger"
	"driftwatch/internal/narrative"
	"driftwatch/internal/observability"
	"driftwatch/internal/pacing"
	"driftwatch/internal/persistence"
	"driftwatch/internal/quality"
	"driftwatch/internal/report"
	"driftwatch/internal/statements"
)

// StageSettings configures one namespace.
type StageSettings struct {
	Clustering clustering.Config
	Tracking   narrative.Config
	Drift      drift.Config
	Reports    bool
}

// Settings is everything needed to build an Orchestrator besides its
// collaborators.
type Settings struct {
	Pipeline    Config
	Embedding   embedding.Config
	Compress    compress.Config
	Articles    StageSettings
	Statements  StageSettings
	Routing     report.RoutingConfig
	NamingModel string
	Extraction  statements.Config
	Retry       llm.RetryPolicy
}

// DefaultSettings returns the weekly batch defaults. The statement stage
// uses looser gates because statements are shorter and noisier.
func DefaultSettings() Settings {
	stmtClustering := clustering.DefaultConfig()
	stmtClustering.TargetClusters = 5
	stmtClustering.Thresholds = quality.Thresholds{MinCoherence: 0.6, MinSources: 3, MinSize: 5}

	return Settings{
		Pipeline:  DefaultConfig(),
		Embedding: embedding.DefaultConfig(),
		Compress:  compress.DefaultConfig(),
		Articles: StageSettings{
			Clustering: clustering.DefaultConfig(),
			Tracking:   narrative.DefaultConfig(),
			Drift:      drift.DefaultConfig(),
			Reports:    true,
		},
		Statements: StageSettings{
			Clustering: stmtClustering,
			Tracking:   narrative.DefaultConfig(),
			Drift:      drift.DefaultConfig(),
		},
		Routing:     report.DefaultRoutingConfig(),
		NamingModel: report.DefaultRoutingConfig().CheapModel,
		Extraction:  statements.DefaultConfig(),
		Retry:       llm.DefaultRetryPolicy(),
	}
}

// Builder assembles an Orchestrator.
type Builder struct {
	settings  Settings
	source    persistence.ArticleSource
	store     persistence.NarrativeStore
	ledger    *ledger.Ledger
	embedder  llm.Embedder
	generator llm.Generator
	extractor StatementExtractor
	pacer     pacing.Policy
	analytics observability.Tracker
	now       func() time.Time
}

// NewBuilder creates a builder with default settings
func NewBuilder() *Builder {
	return &Builder{settings: DefaultSettings()}
}

// WithSettings replaces all settings
func (b *Builder) WithSettings(s Settings) *Builder {
	b.settings = s
	return b
}

// WithSource sets where articles are read from
func (b *Builder) WithSource(src persistence.ArticleSource) *Builder {
	b.source = src
	return b
}

// WithStore sets where narratives are kept
func (b *Builder) WithStore(s persistence.NarrativeStore) *Builder {
	b.store = s
	return b
}

// WithLedger sets the cache and cost ledger
func (b *Builder) WithLedger(l *ledger.Ledger) *Builder {
	b.ledger = l
	return b
}

// WithEmbedder sets the embedding provider
func (b *Builder) WithEmbedder(e llm.Embedder) *Builder {
	b.embedder = e
	return b
}

// WithGenerator sets the text generation provider
func (b *Builder) WithGenerator(g llm.Generator) *Builder {
	b.generator = g
	return b
}

// WithExtractor overrides the statement extractor
func (b *Builder) WithExtractor(e StatementExtractor) *Builder {
	b.extractor = e
	return b
}

// WithPacer sets the pacing policy for embedding and generation requests
func (b *Builder) WithPacer(p pacing.Policy) *Builder {
	b.pacer = p
	return b
}

// WithAnalytics sets the analytics tracker
func (b *Builder) WithAnalytics(t observability.Tracker) *Builder {
	b.analytics = t
	return b
}

// WithClock overrides the clock used for timestamps and durations
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the collaborators and wires the Orchestrator.
func (b *Builder) Build() (*Orchestrator, error) {
	if b.source == nil {
		return nil, invalid("article source is required")
	}
	if b.store == nil {
		return nil, invalid("narrative store is required")
	}
	if b.embedder == nil {
		return nil, invalid("embedder is required")
	}
	if b.generator == nil {
		return nil, invalid("generator is required")
	}

	s := b.settings
	if s.Pipeline.WindowSize <= 0 {
		s.Pipeline.WindowSize = core.DefaultWindowSize
	}
	if s.Pipeline.ExtractConcurrency <= 0 {
		s.Pipeline.ExtractConcurrency = s.Extraction.Concurrency
	}
	if s.Retry.MaxAttempts <= 0 {
		s.Retry = llm.DefaultRetryPolicy()
	}

	l := b.ledger
	if l == nil {
		l = ledger.New(nil)
	}
	analytics := b.analytics
	if analytics == nil {
		analytics = observability.Disabled{}
	}
	pacer := b.pacer
	if pacer == nil {
		pacer = pacing.None{}
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	embedder := llm.TracedEmbedder{
		Embedder: llm.RetryingEmbedder{Embedder: b.embedder, Policy: s.Retry},
		Tracker:  analytics,
	}
	generator := func(task string) llm.Generator {
		return llm.TracedGenerator{
			Generator: llm.RetryingGenerator{
				Generator: llm.PacedGenerator{Generator: b.generator, Pacer: pacer},
				Policy:    s.Retry,
			},
			Tracker:   analytics,
			Task:      task,
		}
	}

	articles, err := newStage(core.NamespaceArticle, s.Articles, nil)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:        s.Pipeline,
		source:     b.source,
		store:      b.store,
		ledger:     l,
		embedder:   embedding.NewGenerator(embedder, l, pacer, s.Embedding),
		compressor: compress.New(l, s.Compress),
		namer:      narrative.NewNamer(generator(ledger.TaskNaming), l, s.NamingModel),
		reporter:   report.NewGenerator(generator(ledger.TaskReport), l, s.Routing),
		pacer:      pacer,
		articles:   articles,
		analytics:  analytics,
		now:        now,
		log:        logger.Get(),
	}

	if s.Pipeline.StatementsEnabled {
		o.extractor = b.extractor
		if o.extractor == nil {
			o.extractor = statements.NewLLMExtractor(generator(ledger.TaskExtract), l, s.Extraction)
		}
		o.statements, err = newStage(core.NamespaceStatement, s.Statements, statements.Significance)
		if err != nil {
			return nil, err
		}
	}
	return o, nil
}

// newStage builds a namespace stage. A nil significance uses the drift
// classifier's weighted score.
func newStage(ns core.Namespace, s StageSettings, significance SignificanceFunc) (*Stage, error) {
	clusterer, err := clustering.New(s.Clustering)
	if err != nil {
		return nil, fmt.Errorf("%s stage: %w", ns, err)
	}
	classifier := drift.New(s.Drift)
	if significance == nil {
		significance = classifier.Significance
	}
	return &Stage{
		Namespace:    ns,
		Clusterer:    clusterer,
		Tracker:      narrative.NewTracker(s.Tracking),
		Drift:        classifier,
		Significance: significance,
		Reports:      s.Reports,
	}, nil
}

func invalid(msg string) error {
	return core.NewError(core.KindConfigurationInvalid, "pipeline", "", errors.New(msg))
}
