// Package persistence provides the storage abstraction for entities, articles,
// the extraction event log and the derived intelligence tables.
package persistence

import (
	"context"
	"time"

	"newsintel/internal/core"
)

// Stage names an article lifecycle stage.
type Stage string

const (
	StageTriage   Stage = "triage"
	StageAnalysis Stage = "analysis"
)

// EntityFilter narrows entity listings.
type EntityFilter struct {
	Domain string
	Type   core.EntityType
	Query  string // Case-insensitive substring of the canonical name
	Limit  int
}

// VerdictFilter narrows verdict listings.
type VerdictFilter struct {
	RoundID  string
	EntityID string
	Limit    int
}

// EntityRepository handles canonical entities
type EntityRepository interface {
	// GetOrCreate returns the entity sharing e's natural key, inserting e when
	// none exists. The bool reports whether e was inserted.
	GetOrCreate(ctx context.Context, e *core.Entity) (*core.Entity, bool, error)

	// Get retrieves an entity by ID
	Get(ctx context.Context, id string) (*core.Entity, error)

	// GetByNaturalKey retrieves an entity by (domain, type, canonical name)
	GetByNaturalKey(ctx context.Context, domain string, entityType core.EntityType, canonicalName string) (*core.Entity, error)

	// List retrieves entities matching the filter, ordered by canonical name
	List(ctx context.Context, filter EntityFilter) ([]core.Entity, error)

	// MergeAttributes merges attrs into the entity's attribute map
	MergeAttributes(ctx context.Context, id string, attrs map[string]any) error
}

// AliasRepository handles alias text variants
type AliasRepository interface {
	// InsertIfAbsent inserts the alias unless (normalized text, entity) exists.
	// The bool reports whether a row was written.
	InsertIfAbsent(ctx context.Context, alias *core.Alias) (bool, error)

	// ListByDomain retrieves every alias in a domain
	ListByDomain(ctx context.Context, domain string) ([]core.Alias, error)

	// ListByEntity retrieves the aliases of one entity
	ListByEntity(ctx context.Context, entityID string) ([]core.Alias, error)

	// Touch records that an alias was used for a resolution
	Touch(ctx context.Context, id string, usedAt time.Time) error
}

// ArticleRepository handles admitted articles
type ArticleRepository interface {
	// Insert stores a new article. Returns core.ErrConflict if the URL fingerprint exists.
	Insert(ctx context.Context, article *core.Article) error

	// Get retrieves an article by ID
	Get(ctx context.Context, id string) (*core.Article, error)

	// GetByURLFingerprint retrieves the article with a URL fingerprint
	GetByURLFingerprint(ctx context.Context, fingerprint string) (*core.Article, error)

	// GetByBodyFingerprint retrieves the original (non-duplicate) article with a body fingerprint
	GetByBodyFingerprint(ctx context.Context, fingerprint string) (*core.Article, error)

	// ListPending retrieves non-duplicate, unexpired articles pending a stage, oldest first.
	// Articles are only pending analysis once triage is done.
	ListPending(ctx context.Context, stage Stage, now time.Time, limit int) ([]core.Article, error)

	// SetStatus updates one stage's state
	SetStatus(ctx context.Context, id string, stage Stage, state core.ProcessingState) error

	// AssignRound links an article to the round containing its publication date
	AssignRound(ctx context.Context, id, roundID string) error

	// DeleteExpired evicts articles whose retention window has passed, with their mentions and tags
	DeleteExpired(ctx context.Context, now time.Time) (int, error)

	// Count returns the number of stored articles
	Count(ctx context.Context) (int, error)
}

// MentionRepository handles article-entity mentions
type MentionRepository interface {
	// Upsert writes a mention keyed by (article, mention text). An existing
	// entity reference or completed analysis is never cleared. m.ID is set to the stored ID.
	Upsert(ctx context.Context, m *core.Mention) error

	// Get retrieves a mention by ID
	Get(ctx context.Context, id string) (*core.Mention, error)

	// ListByArticle retrieves an article's mentions ordered by mention text
	ListByArticle(ctx context.Context, articleID string) ([]core.Mention, error)

	// ListPendingAnalysis retrieves resolved mentions flagged for deep analysis and not yet analysed
	ListPendingAnalysis(ctx context.Context, limit int) ([]core.Mention, error)

	// ListUnresolved retrieves mentions with no entity reference
	ListUnresolved(ctx context.Context, limit int) ([]core.Mention, error)

	// Resolve attaches an entity to a previously unresolved mention
	Resolve(ctx context.Context, id, entityID string, needsDeepAnalysis bool, resolvedBy string) error

	// MarkAnalyzed records that deep extraction finished for a mention
	MarkAnalyzed(ctx context.Context, id string) error
}

// TagRepository handles denormalized article tags
type TagRepository interface {
	// Upsert writes a tag keyed by (article, tag type, tag value), replacing its counts
	Upsert(ctx context.Context, tag *core.ArticleTag) error

	// ListByArticle retrieves an article's tags ordered by type then value
	ListByArticle(ctx context.Context, articleID string) ([]core.ArticleTag, error)

	// ListByValue retrieves tags of one type and value across articles
	ListByValue(ctx context.Context, tagType core.TagType, value string, limit int) ([]core.ArticleTag, error)
}

// EventRepository is the append-only extraction log
type EventRepository interface {
	// Append inserts an event unless its fingerprint exists. The bool reports
	// whether the event was written; events are never updated or deleted.
	Append(ctx context.Context, event *core.ExtractionEvent) (bool, error)

	// GetByFingerprint retrieves an event by fingerprint
	GetByFingerprint(ctx context.Context, fingerprint string) (*core.ExtractionEvent, error)

	// ListByArticle retrieves the events extracted from one article
	ListByArticle(ctx context.Context, articleID string) ([]core.ExtractionEvent, error)

	// ListByEntity retrieves events about an entity published in [from, to),
	// ordered by publication time then fingerprint
	ListByEntity(ctx context.Context, entityID string, from, to time.Time) ([]core.ExtractionEvent, error)

	// Count returns the number of events in the log
	Count(ctx context.Context) (int, error)
}

// CacheRepository stores LLM responses by prompt fingerprint
type CacheRepository interface {
	// Get returns the cached value. Misses return core.ErrNotFound and expired
	// entries core.ErrCacheExpired.
	Get(ctx context.Context, key string, now time.Time) ([]byte, error)

	// Set stores a value until expiresAt
	Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error

	// DeleteExpired removes entries past their expiry
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// DimensionRepository handles the dimension reference data
type DimensionRepository interface {
	// Upsert writes a dimension by code
	Upsert(ctx context.Context, d core.Dimension) error

	// Get retrieves a dimension by code
	Get(ctx context.Context, code core.DimensionCode) (*core.Dimension, error)

	// List retrieves all dimensions ordered by tier then code
	List(ctx context.Context) ([]core.Dimension, error)
}

// CalendarRepository handles seasons and rounds
type CalendarRepository interface {
	// UpsertSeason writes a season keyed by year; s.ID is set to the stored ID.
	// The current flag is only changed by SetCurrentSeason.
	UpsertSeason(ctx context.Context, s *core.Season) error

	// SetCurrentSeason marks one season current and clears the flag on all others
	SetCurrentSeason(ctx context.Context, seasonID string) error

	// CurrentSeason retrieves the season marked current
	CurrentSeason(ctx context.Context) (*core.Season, error)

	// GetSeason retrieves a season by ID
	GetSeason(ctx context.Context, id string) (*core.Season, error)

	// ListSeasons retrieves seasons ordered by year
	ListSeasons(ctx context.Context) ([]core.Season, error)

	// UpsertRound writes a round keyed by (season, number); r.ID is set to the stored ID
	UpsertRound(ctx context.Context, r *core.Round) error

	// GetRound retrieves a round by ID
	GetRound(ctx context.Context, id string) (*core.Round, error)

	// ListRounds retrieves a season's rounds ordered by start date
	ListRounds(ctx context.Context, seasonID string) ([]core.Round, error)
}

// SnapshotRepository handles weekly snapshots
type SnapshotRepository interface {
	// Replace atomically swaps every snapshot of (entity, round) for snaps
	Replace(ctx context.Context, entityID, roundID string, snaps []core.WeeklySnapshot) error

	// List retrieves the snapshots of (entity, round) ordered by dimension
	List(ctx context.Context, entityID, roundID string) ([]core.WeeklySnapshot, error)

	// ListByRound retrieves all snapshots of a round
	ListByRound(ctx context.Context, roundID string) ([]core.WeeklySnapshot, error)

	// ListByEntityDimension retrieves the snapshot history of (entity, dimension)
	ListByEntityDimension(ctx context.Context, entityID string, dimension core.DimensionCode) ([]core.WeeklySnapshot, error)
}

// ProfileRepository handles rolling profiles
type ProfileRepository interface {
	// Upsert writes a profile keyed by (entity, dimension)
	Upsert(ctx context.Context, p *core.RollingProfile) error

	// Get retrieves the profile of (entity, dimension)
	Get(ctx context.Context, entityID string, dimension core.DimensionCode) (*core.RollingProfile, error)

	// ListByEntity retrieves an entity's profiles ordered by dimension
	ListByEntity(ctx context.Context, entityID string) ([]core.RollingProfile, error)
}

// VerdictRepository handles weekly verdicts
type VerdictRepository interface {
	// Upsert writes a verdict keyed by (entity, round)
	Upsert(ctx context.Context, v *core.WeeklyVerdict) error

	// Get retrieves the verdict of (entity, round)
	Get(ctx context.Context, entityID, roundID string) (*core.WeeklyVerdict, error)

	// List retrieves verdicts matching the filter ordered by round then entity
	List(ctx context.Context, filter VerdictFilter) ([]core.WeeklyVerdict, error)
}

// Database is the aggregate of all repositories
type Database interface {
	Entities() EntityRepository
	Aliases() AliasRepository
	Articles() ArticleRepository
	Mentions() MentionRepository
	Tags() TagRepository
	Events() EventRepository
	Cache() CacheRepository
	Dimensions() DimensionRepository
	Calendar() CalendarRepository
	Snapshots() SnapshotRepository
	Profiles() ProfileRepository
	Verdicts() VerdictRepository

	// Close closes the database connection
	Close() error

	// Ping verifies the database connection
	Ping(ctx context.Context) error
}
