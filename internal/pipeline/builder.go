package pipeline

import (
	"fmt"
	"time"

	"newsintel/internal/aggregation"
	"newsintel/internal/calendar"
	"newsintel/internal/config"
	"newsintel/internal/dedup"
	"newsintel/internal/entities"
	"newsintel/internal/extraction"
	"newsintel/internal/llm"
	"newsintel/internal/logger"
	"newsintel/internal/persistence"
	"newsintel/internal/tags"
	"newsintel/internal/triage"
)

// Builder helps construct a fully configured Pipeline
type Builder struct {
	db       persistence.Database
	provider llm.Provider
	cache    persistence.CacheRepository
	tracker  Tracker
	location *time.Location
	config   *Config
}

// NewBuilder creates a new pipeline builder over db with default settings
func NewBuilder(db persistence.Database) *Builder {
	return &Builder{
		db:     db,
		config: DefaultConfig(),
	}
}

// WithProvider sets the LLM provider used for deep extraction
func (b *Builder) WithProvider(provider llm.Provider) *Builder {
	b.provider = provider
	return b
}

// WithCache sets the extraction cache backend. The database cache is used
// when none is set.
func (b *Builder) WithCache(cache persistence.CacheRepository) *Builder {
	b.cache = cache
	return b
}

// WithTracker sets the analytics sink
func (b *Builder) WithTracker(tracker Tracker) *Builder {
	b.tracker = tracker
	return b
}

// WithLocation sets the timezone round dates are defined in
func (b *Builder) WithLocation(loc *time.Location) *Builder {
	b.location = loc
	return b
}

// WithConfig sets the pipeline configuration
func (b *Builder) WithConfig(cfg *Config) *Builder {
	b.config = cfg
	return b
}

// Build constructs a fully configured Pipeline
func (b *Builder) Build() (*Pipeline, error) {
	if b.db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if b.provider == nil {
		return nil, fmt.Errorf("LLM provider is required")
	}
	cfg := b.config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	cache := b.cache
	if cache == nil {
		cache = b.db.Cache()
	}
	tracker := b.tracker
	if tracker == nil {
		tracker = noopTracker{}
	}

	resolver := entities.NewResolver(b.db, entities.Options{FuzzyThreshold: cfg.FuzzyThreshold, Now: cfg.Now})
	tagger := tags.NewEngine(b.db.Tags())

	extractionOpts := cfg.Extraction
	extractionOpts.Tracker = tracker
	extractionOpts.Now = cfg.Now

	engine := aggregation.NewEngine(b.db, aggregation.Options{
		Domain:  cfg.Domain,
		Workers: cfg.Workers,
		Profile: cfg.Profile,
		Tracker: tracker,
		Now:     cfg.Now,
	})

	return &Pipeline{
		db:          b.db,
		resolver:    resolver,
		dedup:       dedup.NewStore(b.db.Articles(), cache, dedup.Options{Retention: cfg.Retention, Now: cfg.Now}),
		calendar:    calendar.New(b.db, b.location),
		triage:      triage.NewStage(b.db, resolver, triage.Options{Domain: cfg.Domain, MentionThreshold: cfg.MentionThreshold}),
		tagger:      tagger,
		extraction:  extraction.NewStage(b.db, b.provider, resolver, tagger, cache, extractionOpts),
		aggregation: engine,
		provider:    b.provider,
		tracker:     tracker,
		config:      cfg,
		log:         logger.Get(),
	}, nil
}

// ConfigFromSettings maps loaded application settings onto a pipeline Config.
func ConfigFromSettings(cfg *config.Config) *Config {
	out := DefaultConfig()
	out.Domain = cfg.App.Domain
	if cfg.Pipeline.Workers > 0 {
		out.Workers = cfg.Pipeline.Workers
	}
	if cfg.Pipeline.BatchSize > 0 {
		out.BatchSize = cfg.Pipeline.BatchSize
	}
	out.Retention = config.Duration(cfg.Cache.TTL.Articles, dedup.DefaultRetention)
	if cfg.Pipeline.MentionThreshold > 0 {
		out.MentionThreshold = cfg.Pipeline.MentionThreshold
	}
	if cfg.Pipeline.FuzzyThreshold > 0 {
		out.FuzzyThreshold = cfg.Pipeline.FuzzyThreshold
	}

	out.Extraction.RetryAttempts = cfg.Pipeline.RetryAttempts
	out.Extraction.RetryBackoff = config.Duration(cfg.Pipeline.RetryBackoff, extraction.DefaultRetryBackoff)
	out.Extraction.MaxBackoff = config.Duration(cfg.Pipeline.MaxBackoff, extraction.DefaultMaxBackoff)
	out.Extraction.RequestTimeout = config.Duration(cfg.Pipeline.RequestTimeout, extraction.DefaultRequestTimeout)
	out.Extraction.ExcerptChars = cfg.Pipeline.BodyExcerptChars
	out.Extraction.CacheTTL = config.Duration(cfg.Cache.TTL.Extractions, extraction.DefaultCacheTTL)

	out.Profile = aggregation.ProfileOptions{
		WindowRounds:        cfg.Aggregation.WindowRounds,
		VolatilityThreshold: cfg.Aggregation.VolatilityThreshold,
		TrendThreshold:      cfg.Aggregation.TrendThreshold,
	}
	return out
}
