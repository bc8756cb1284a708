package persistence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"newsintel/internal/core"
)

// MemoryDB implements Database in process memory. It backs tests and
// single-process runs that do not need the log to outlive the process.
type MemoryDB struct {
	mu sync.RWMutex

	entities    map[string]*core.Entity
	entityKeys  map[string]string
	aliases     map[string]*core.Alias
	aliasKeys   map[string]string
	articles    map[string]*core.Article
	articleURLs map[string]string
	mentions    map[string]*core.Mention
	mentionKeys map[string]string
	tags        map[string]*core.ArticleTag
	tagKeys     map[string]string
	events      map[string]*core.ExtractionEvent
	cache       map[string]memCacheEntry
	dimensions  map[core.DimensionCode]core.Dimension
	seasons     map[string]*core.Season
	rounds      map[string]*core.Round
	snapshots   map[string][]core.WeeklySnapshot
	profiles    map[string]*core.RollingProfile
	verdicts    map[string]*core.WeeklyVerdict

	now func() time.Time
}

type memCacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryDB creates an empty in-memory database seeded with the built-in dimensions.
func NewMemoryDB() *MemoryDB {
	db := &MemoryDB{
		entities:    make(map[string]*core.Entity),
		entityKeys:  make(map[string]string),
		aliases:     make(map[string]*core.Alias),
		aliasKeys:   make(map[string]string),
		articles:    make(map[string]*core.Article),
		articleURLs: make(map[string]string),
		mentions:    make(map[string]*core.Mention),
		mentionKeys: make(map[string]string),
		tags:        make(map[string]*core.ArticleTag),
		tagKeys:     make(map[string]string),
		events:      make(map[string]*core.ExtractionEvent),
		cache:       make(map[string]memCacheEntry),
		dimensions:  make(map[core.DimensionCode]core.Dimension),
		seasons:     make(map[string]*core.Season),
		rounds:      make(map[string]*core.Round),
		snapshots:   make(map[string][]core.WeeklySnapshot),
		profiles:    make(map[string]*core.RollingProfile),
		verdicts:    make(map[string]*core.WeeklyVerdict),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, d := range core.DefaultDimensions() {
		db.dimensions[d.Code] = d
	}
	return db
}

func (m *MemoryDB) Entities() EntityRepository       { return memEntityRepo{m} }
func (m *MemoryDB) Aliases() AliasRepository         { return memAliasRepo{m} }
func (m *MemoryDB) Articles() ArticleRepository      { return memArticleRepo{m} }
func (m *MemoryDB) Mentions() MentionRepository      { return memMentionRepo{m} }
func (m *MemoryDB) Tags() TagRepository              { return memTagRepo{m} }
func (m *MemoryDB) Events() EventRepository          { return memEventRepo{m} }
func (m *MemoryDB) Cache() CacheRepository           { return memCacheRepo{m} }
func (m *MemoryDB) Dimensions() DimensionRepository  { return memDimensionRepo{m} }
func (m *MemoryDB) Calendar() CalendarRepository     { return memCalendarRepo{m} }
func (m *MemoryDB) Snapshots() SnapshotRepository    { return memSnapshotRepo{m} }
func (m *MemoryDB) Profiles() ProfileRepository      { return memProfileRepo{m} }
func (m *MemoryDB) Verdicts() VerdictRepository      { return memVerdictRepo{m} }
func (m *MemoryDB) Close() error                     { return nil }
func (m *MemoryDB) Ping(ctx context.Context) error   { return ctx.Err() }

func pairKey(a, b string) string { return a + "|" + b }

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// entities

type memEntityRepo struct{ db *MemoryDB }

func (r memEntityRepo) GetOrCreate(ctx context.Context, e *core.Entity) (*core.Entity, bool, error) {
	if e.CanonicalName == "" {
		return nil, false, fmt.Errorf("entity canonical name is required")
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	key := e.NaturalKey()
	if id, ok := r.db.entityKeys[key]; ok {
		return cloneEntity(r.db.entities[id]), false, nil
	}

	stored := cloneEntity(e)
	stored.ID = newID(stored.ID)
	now := r.db.now()
	stored.CreatedAt, stored.UpdatedAt = now, now
	r.db.entities[stored.ID] = stored
	r.db.entityKeys[key] = stored.ID
	return cloneEntity(stored), true, nil
}

func (r memEntityRepo) Get(ctx context.Context, id string) (*core.Entity, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	e, ok := r.db.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", id, core.ErrNotFound)
	}
	return cloneEntity(e), nil
}

func (r memEntityRepo) GetByNaturalKey(ctx context.Context, domain string, entityType core.EntityType, canonicalName string) (*core.Entity, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	id, ok := r.db.entityKeys[core.EntityKey(domain, entityType, canonicalName)]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", canonicalName, core.ErrNotFound)
	}
	return cloneEntity(r.db.entities[id]), nil
}

func (r memEntityRepo) List(ctx context.Context, filter EntityFilter) ([]core.Entity, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	query := strings.ToLower(filter.Query)
	var out []core.Entity
	for _, e := range r.db.entities {
		if filter.Domain != "" && !strings.EqualFold(e.Domain, filter.Domain) {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(e.CanonicalName), query) {
			continue
		}
		out = append(out, *cloneEntity(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CanonicalName != out[j].CanonicalName {
			return out[i].CanonicalName < out[j].CanonicalName
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r memEntityRepo) MergeAttributes(ctx context.Context, id string, attrs map[string]any) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e, ok := r.db.entities[id]
	if !ok {
		return fmt.Errorf("entity %s: %w", id, core.ErrNotFound)
	}
	if e.Attributes == nil {
		e.Attributes = make(map[string]any, len(attrs))
	}
	for k, v := range attrs {
		e.Attributes[k] = v
	}
	e.UpdatedAt = r.db.now()
	return nil
}

// aliases

type memAliasRepo struct{ db *MemoryDB }

func (r memAliasRepo) InsertIfAbsent(ctx context.Context, alias *core.Alias) (bool, error) {
	if alias.Normalized == "" {
		alias.Normalized = core.NormalizeName(alias.Text)
	}
	if alias.Normalized == "" || alias.EntityID == "" {
		return false, fmt.Errorf("alias text and entity are required")
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	key := pairKey(alias.Normalized, alias.EntityID)
	if _, ok := r.db.aliasKeys[key]; ok {
		return false, nil
	}
	stored := *alias
	stored.ID = newID(stored.ID)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.db.now()
	}
	r.db.aliases[stored.ID] = &stored
	r.db.aliasKeys[key] = stored.ID
	alias.ID = stored.ID
	return true, nil
}

func (r memAliasRepo) ListByDomain(ctx context.Context, domain string) ([]core.Alias, error) {
	return r.list(func(a *core.Alias) bool { return strings.EqualFold(a.Domain, domain) }), nil
}

func (r memAliasRepo) ListByEntity(ctx context.Context, entityID string) ([]core.Alias, error) {
	return r.list(func(a *core.Alias) bool { return a.EntityID == entityID }), nil
}

func (r memAliasRepo) list(keep func(*core.Alias) bool) []core.Alias {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []core.Alias
	for _, a := range r.db.aliases {
		if keep(a) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Normalized != out[j].Normalized {
			return out[i].Normalized < out[j].Normalized
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out
}

func (r memAliasRepo) Touch(ctx context.Context, id string, usedAt time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.aliases[id]
	if !ok {
		return fmt.Errorf("alias %s: %w", id, core.ErrNotFound)
	}
	if usedAt.After(a.LastUsedAt) {
		a.LastUsedAt = usedAt
	}
	return nil
}

// articles

type memArticleRepo struct{ db *MemoryDB }

func (r memArticleRepo) Insert(ctx context.Context, article *core.Article) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.articleURLs[article.URLFingerprint]; ok {
		return fmt.Errorf("article %s: %w", article.URL, core.ErrConflict)
	}
	stored := cloneArticle(article)
	stored.ID = newID(stored.ID)
	r.db.articles[stored.ID] = stored
	r.db.articleURLs[stored.URLFingerprint] = stored.ID
	article.ID = stored.ID
	return nil
}

func (r memArticleRepo) Get(ctx context.Context, id string) (*core.Article, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	a, ok := r.db.articles[id]
	if !ok {
		return nil, fmt.Errorf("article %s: %w", id, core.ErrNotFound)
	}
	return cloneArticle(a), nil
}

func (r memArticleRepo) GetByURLFingerprint(ctx context.Context, fingerprint string) (*core.Article, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	id, ok := r.db.articleURLs[fingerprint]
	if !ok {
		return nil, fmt.Errorf("article url %s: %w", fingerprint, core.ErrNotFound)
	}
	return cloneArticle(r.db.articles[id]), nil
}

func (r memArticleRepo) GetByBodyFingerprint(ctx context.Context, fingerprint string) (*core.Article, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var found *core.Article
	for _, a := range r.db.articles {
		if a.BodyFingerprint != fingerprint || a.DuplicateOf != "" {
			continue
		}
		if found == nil || a.FetchedAt.Before(found.FetchedAt) {
			found = a
		}
	}
	if found == nil {
		return nil, fmt.Errorf("article body %s: %w", fingerprint, core.ErrNotFound)
	}
	return cloneArticle(found), nil
}

func (r memArticleRepo) ListPending(ctx context.Context, stage Stage, now time.Time, limit int) ([]core.Article, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []core.Article
	for _, a := range r.db.articles {
		if a.DuplicateOf != "" || a.Expired(now) {
			continue
		}
		switch stage {
		case StageTriage:
			if a.TriageStatus != core.StatePending {
				continue
			}
		case StageAnalysis:
			if a.TriageStatus != core.StateDone || a.AnalysisStatus != core.StatePending {
				continue
			}
		default:
			return nil, fmt.Errorf("unknown stage %q", stage)
		}
		out = append(out, *cloneArticle(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FetchedAt.Equal(out[j].FetchedAt) {
			return out[i].FetchedAt.Before(out[j].FetchedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memArticleRepo) SetStatus(ctx context.Context, id string, stage Stage, state core.ProcessingState) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.articles[id]
	if !ok {
		return fmt.Errorf("article %s: %w", id, core.ErrNotFound)
	}
	switch stage {
	case StageTriage:
		a.TriageStatus = state
	case StageAnalysis:
		a.AnalysisStatus = state
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
	return nil
}

func (r memArticleRepo) AssignRound(ctx context.Context, id, roundID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.articles[id]
	if !ok {
		return fmt.Errorf("article %s: %w", id, core.ErrNotFound)
	}
	a.RoundID = roundID
	return nil
}

func (r memArticleRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	evicted := 0
	for id, a := range r.db.articles {
		if !a.Expired(now) {
			continue
		}
		delete(r.db.articles, id)
		delete(r.db.articleURLs, a.URLFingerprint)
		for mid, m := range r.db.mentions {
			if m.ArticleID == id {
				delete(r.db.mentions, mid)
				delete(r.db.mentionKeys, pairKey(id, core.NormalizeName(m.MentionText)))
			}
		}
		for tid, t := range r.db.tags {
			if t.ArticleID == id {
				delete(r.db.tags, tid)
				delete(r.db.tagKeys, tagKey(t))
			}
		}
		evicted++
	}
	return evicted, nil
}

func (r memArticleRepo) Count(ctx context.Context) (int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	return len(r.db.articles), nil
}

// mentions

type memMentionRepo struct{ db *MemoryDB }

func (r memMentionRepo) Upsert(ctx context.Context, m *core.Mention) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	key := pairKey(m.ArticleID, core.NormalizeName(m.MentionText))
	now := r.db.now()
	if id, ok := r.db.mentionKeys[key]; ok {
		existing := r.db.mentions[id]
		updated := *m
		updated.ID = existing.ID
		updated.CreatedAt = existing.CreatedAt
		updated.UpdatedAt = now
		if updated.EntityID == "" {
			updated.EntityID = existing.EntityID
			updated.ResolvedBy = existing.ResolvedBy
		}
		updated.AnalysisCompleted = updated.AnalysisCompleted || existing.AnalysisCompleted
		r.db.mentions[id] = &updated
		*m = updated
		return nil
	}

	stored := *m
	stored.ID = newID(stored.ID)
	stored.CreatedAt, stored.UpdatedAt = now, now
	r.db.mentions[stored.ID] = &stored
	r.db.mentionKeys[key] = stored.ID
	*m = stored
	return nil
}

func (r memMentionRepo) Get(ctx context.Context, id string) (*core.Mention, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	m, ok := r.db.mentions[id]
	if !ok {
		return nil, fmt.Errorf("mention %s: %w", id, core.ErrNotFound)
	}
	out := *m
	return &out, nil
}

func (r memMentionRepo) ListByArticle(ctx context.Context, articleID string) ([]core.Mention, error) {
	return r.list(func(m *core.Mention) bool { return m.ArticleID == articleID }, 0), nil
}

func (r memMentionRepo) ListPendingAnalysis(ctx context.Context, limit int) ([]core.Mention, error) {
	return r.list(func(m *core.Mention) bool {
		return m.EntityID != "" && m.NeedsDeepAnalysis && !m.AnalysisCompleted
	}, limit), nil
}

func (r memMentionRepo) ListUnresolved(ctx context.Context, limit int) ([]core.Mention, error) {
	return r.list(func(m *core.Mention) bool { return m.EntityID == "" }, limit), nil
}

func (r memMentionRepo) list(keep func(*core.Mention) bool, limit int) []core.Mention {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []core.Mention
	for _, m := range r.db.mentions {
		if keep(m) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ArticleID != out[j].ArticleID {
			return out[i].ArticleID < out[j].ArticleID
		}
		return out[i].MentionText < out[j].MentionText
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r memMentionRepo) Resolve(ctx context.Context, id, entityID string, needsDeepAnalysis bool, resolvedBy string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m, ok := r.db.mentions[id]
	if !ok {
		return fmt.Errorf("mention %s: %w", id, core.ErrNotFound)
	}
	m.EntityID = entityID
	m.NeedsDeepAnalysis = needsDeepAnalysis
	m.ResolvedBy = resolvedBy
	m.UpdatedAt = r.db.now()
	return nil
}

func (r memMentionRepo) MarkAnalyzed(ctx context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m, ok := r.db.mentions[id]
	if !ok {
		return fmt.Errorf("mention %s: %w", id, core.ErrNotFound)
	}
	m.AnalysisCompleted = true
	m.UpdatedAt = r.db.now()
	return nil
}

// tags

type memTagRepo struct{ db *MemoryDB }

func tagKey(t *core.ArticleTag) string {
	return t.ArticleID + "|" + string(t.TagType) + "|" + t.TagValue
}

func (r memTagRepo) Upsert(ctx context.Context, tag *core.ArticleTag) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	key := tagKey(tag)
	now := r.db.now()
	if id, ok := r.db.tagKeys[key]; ok {
		existing := r.db.tags[id]
		updated := *tag
		updated.ID = existing.ID
		updated.CreatedAt = existing.CreatedAt
		updated.UpdatedAt = now
		r.db.tags[id] = &updated
		*tag = updated
		return nil
	}
	stored := *tag
	stored.ID = newID(stored.ID)
	stored.CreatedAt, stored.UpdatedAt = now, now
	r.db.tags[stored.ID] = &stored
	r.db.tagKeys[key] = stored.ID
	*tag = stored
	return nil
}

func (r memTagRepo) ListByArticle(ctx context.Context, articleID string) ([]core.ArticleTag, error) {
	return r.list(func(t *core.ArticleTag) bool { return t.ArticleID == articleID }, 0), nil
}

func (r memTagRepo) ListByValue(ctx context.Context, tagType core.TagType, value string, limit int) ([]core.ArticleTag, error) {
	return r.list(func(t *core.ArticleTag) bool { return t.TagType == tagType && t.TagValue == value }, limit), nil
}

func (r memTagRepo) list(keep func(*core.ArticleTag) bool, limit int) []core.ArticleTag {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []core.ArticleTag
	for _, t := range r.db.tags {
		if keep(t) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return tagKey(&out[i]) < tagKey(&out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// events

type memEventRepo struct{ db *MemoryDB }

func (r memEventRepo) Append(ctx context.Context, event *core.ExtractionEvent) (bool, error) {
	if event.Fingerprint == "" {
		return false, fmt.Errorf("event fingerprint is required")
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.events[event.Fingerprint]; ok {
		return false, nil
	}
	stored := cloneEvent(event)
	stored.ID = newID(stored.ID)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.db.now()
	}
	r.db.events[stored.Fingerprint] = stored
	event.ID, event.CreatedAt = stored.ID, stored.CreatedAt
	return true, nil
}

func (r memEventRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*core.ExtractionEvent, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	e, ok := r.db.events[fingerprint]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", fingerprint, core.ErrNotFound)
	}
	return cloneEvent(e), nil
}

func (r memEventRepo) ListByArticle(ctx context.Context, articleID string) ([]core.ExtractionEvent, error) {
	return r.list(func(e *core.ExtractionEvent) bool { return e.ArticleID == articleID }), nil
}

func (r memEventRepo) ListByEntity(ctx context.Context, entityID string, from, to time.Time) ([]core.ExtractionEvent, error) {
	return r.list(func(e *core.ExtractionEvent) bool {
		return e.EntityID == entityID && !e.PublishedAt.Before(from) && e.PublishedAt.Before(to)
	}), nil
}

func (r memEventRepo) list(keep func(*core.ExtractionEvent) bool) []core.ExtractionEvent {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []core.ExtractionEvent
	for _, e := range r.db.events {
		if keep(e) {
			out = append(out, *cloneEvent(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].PublishedAt.Before(out[j].PublishedAt)
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out
}

func (r memEventRepo) Count(ctx context.Context) (int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	return len(r.db.events), nil
}

// cache

type memCacheRepo struct{ db *MemoryDB }

func (r memCacheRepo) Get(ctx context.Context, key string, now time.Time) ([]byte, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	entry, ok := r.db.cache[key]
	if !ok {
		return nil, core.ErrNotFound
	}
	if !now.Before(entry.expiresAt) {
		return nil, core.ErrCacheExpired
	}
	return append([]byte(nil), entry.value...), nil
}

func (r memCacheRepo) Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.cache[key] = memCacheEntry{value: append([]byte(nil), value...), expiresAt: expiresAt}
	return nil
}

func (r memCacheRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for k, e := range r.db.cache {
		if !now.Before(e.expiresAt) {
			delete(r.db.cache, k)
			n++
		}
	}
	return n, nil
}

// dimensions

type memDimensionRepo struct{ db *MemoryDB }

func (r memDimensionRepo) Upsert(ctx context.Context, d core.Dimension) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	d.Keywords = append([]string(nil), d.Keywords...)
	r.db.dimensions[d.Code] = d
	return nil
}

func (r memDimensionRepo) Get(ctx context.Context, code core.DimensionCode) (*core.Dimension, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	d, ok := r.db.dimensions[code]
	if !ok {
		return nil, fmt.Errorf("dimension %q: %w", code, core.ErrNotFound)
	}
	return &d, nil
}

func (r memDimensionRepo) List(ctx context.Context) ([]core.Dimension, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	out := make([]core.Dimension, 0, len(r.db.dimensions))
	for _, d := range r.db.dimensions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

// calendar

type memCalendarRepo struct{ db *MemoryDB }

func (r memCalendarRepo) UpsertSeason(ctx context.Context, s *core.Season) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.seasons {
		if existing.Year == s.Year {
			existing.Name = s.Name
			s.ID, s.IsCurrent = existing.ID, existing.IsCurrent
			return nil
		}
	}
	stored := *s
	stored.ID = newID(stored.ID)
	stored.IsCurrent = false
	r.db.seasons[stored.ID] = &stored
	s.ID, s.IsCurrent = stored.ID, false
	return nil
}

func (r memCalendarRepo) SetCurrentSeason(ctx context.Context, seasonID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.seasons[seasonID]; !ok {
		return fmt.Errorf("season %s: %w", seasonID, core.ErrNotFound)
	}
	for id, s := range r.db.seasons {
		s.IsCurrent = id == seasonID
	}
	return nil
}

func (r memCalendarRepo) CurrentSeason(ctx context.Context) (*core.Season, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	for _, s := range r.db.seasons {
		if s.IsCurrent {
			out := *s
			return &out, nil
		}
	}
	return nil, fmt.Errorf("current season: %w", core.ErrNotFound)
}

func (r memCalendarRepo) GetSeason(ctx context.Context, id string) (*core.Season, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	s, ok := r.db.seasons[id]
	if !ok {
		return nil, fmt.Errorf("season %s: %w", id, core.ErrNotFound)
	}
	out := *s
	return &out, nil
}

func (r memCalendarRepo) ListSeasons(ctx context.Context) ([]core.Season, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	out := make([]core.Season, 0, len(r.db.seasons))
	for _, s := range r.db.seasons {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out, nil
}

func (r memCalendarRepo) UpsertRound(ctx context.Context, round *core.Round) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.seasons[round.SeasonID]; !ok {
		return fmt.Errorf("season %s: %w", round.SeasonID, core.ErrNotFound)
	}
	for _, existing := range r.db.rounds {
		if existing.SeasonID == round.SeasonID && existing.Number == round.Number {
			id := existing.ID
			*existing = *cloneRound(round)
			existing.ID = id
			round.ID = id
			return nil
		}
	}
	stored := cloneRound(round)
	stored.ID = newID(stored.ID)
	r.db.rounds[stored.ID] = stored
	round.ID = stored.ID
	return nil
}

func (r memCalendarRepo) GetRound(ctx context.Context, id string) (*core.Round, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	round, ok := r.db.rounds[id]
	if !ok {
		return nil, fmt.Errorf("round %s: %w", id, core.ErrNotFound)
	}
	return cloneRound(round), nil
}

func (r memCalendarRepo) ListRounds(ctx context.Context, seasonID string) ([]core.Round, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []core.Round
	for _, round := range r.db.rounds {
		if round.SeasonID == seasonID {
			out = append(out, *cloneRound(round))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].Number < out[j].Number
	})
	return out, nil
}

// snapshots

type memSnapshotRepo struct{ db *MemoryDB }

func (r memSnapshotRepo) Replace(ctx context.Context, entityID, roundID string, snaps []core.WeeklySnapshot) error {
	copies := make([]core.WeeklySnapshot, 0, len(snaps))
	for _, s := range snaps {
		if s.EntityID != entityID || s.RoundID != roundID {
			return fmt.Errorf("snapshot for %s/%s does not belong to %s/%s", s.EntityID, s.RoundID, entityID, roundID)
		}
		copies = append(copies, cloneSnapshot(s))
	}
	sort.Slice(copies, func(i, j int) bool { return copies[i].Dimension < copies[j].Dimension })

	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if len(copies) == 0 {
		delete(r.db.snapshots, pairKey(entityID, roundID))
		return nil
	}
	r.db.snapshots[pairKey(entityID, roundID)] = copies
	return nil
}

func (r memSnapshotRepo) List(ctx context.Context, entityID, roundID string) ([]core.WeeklySnapshot, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	stored := r.db.snapshots[pairKey(entityID, roundID)]
	out := make([]core.WeeklySnapshot, 0, len(stored))
	for _, s := range stored {
		out = append(out, cloneSnapshot(s))
	}
	return out, nil
}

func (r memSnapshotRepo) ListByRound(ctx context.Context, roundID string) ([]core.WeeklySnapshot, error) {
	return r.list(func(s core.WeeklySnapshot) bool { return s.RoundID == roundID }), nil
}

func (r memSnapshotRepo) ListByEntityDimension(ctx context.Context, entityID string, dimension core.DimensionCode) ([]core.WeeklySnapshot, error) {
	return r.list(func(s core.WeeklySnapshot) bool { return s.EntityID == entityID && s.Dimension == dimension }), nil
}

func (r memSnapshotRepo) list(keep func(core.WeeklySnapshot) bool) []core.WeeklySnapshot {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []core.WeeklySnapshot
	for _, snaps := range r.db.snapshots {
		for _, s := range snaps {
			if keep(s) {
				out = append(out, cloneSnapshot(s))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		if out[i].RoundID != out[j].RoundID {
			return out[i].RoundID < out[j].RoundID
		}
		return out[i].Dimension < out[j].Dimension
	})
	return out
}

// profiles

type memProfileRepo struct{ db *MemoryDB }

func (r memProfileRepo) Upsert(ctx context.Context, p *core.RollingProfile) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	stored := cloneProfile(p)
	r.db.profiles[pairKey(p.EntityID, string(p.Dimension))] = stored
	return nil
}

func (r memProfileRepo) Get(ctx context.Context, entityID string, dimension core.DimensionCode) (*core.RollingProfile, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	p, ok := r.db.profiles[pairKey(entityID, string(dimension))]
	if !ok {
		return nil, fmt.Errorf("profile %s/%s: %w", entityID, dimension, core.ErrNotFound)
	}
	return cloneProfile(p), nil
}

func (r memProfileRepo) ListByEntity(ctx context.Context, entityID string) ([]core.RollingProfile, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []core.RollingProfile
	for _, p := range r.db.profiles {
		if p.EntityID == entityID {
			out = append(out, *cloneProfile(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dimension < out[j].Dimension })
	return out, nil
}

// verdicts

type memVerdictRepo struct{ db *MemoryDB }

func (r memVerdictRepo) Upsert(ctx context.Context, v *core.WeeklyVerdict) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.verdicts[pairKey(v.EntityID, v.RoundID)] = cloneVerdict(v)
	return nil
}

func (r memVerdictRepo) Get(ctx context.Context, entityID, roundID string) (*core.WeeklyVerdict, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	v, ok := r.db.verdicts[pairKey(entityID, roundID)]
	if !ok {
		return nil, fmt.Errorf("verdict %s/%s: %w", entityID, roundID, core.ErrNotFound)
	}
	return cloneVerdict(v), nil
}

func (r memVerdictRepo) List(ctx context.Context, filter VerdictFilter) ([]core.WeeklyVerdict, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []core.WeeklyVerdict
	for _, v := range r.db.verdicts {
		if filter.RoundID != "" && v.RoundID != filter.RoundID {
			continue
		}
		if filter.EntityID != "" && v.EntityID != filter.EntityID {
			continue
		}
		out = append(out, *cloneVerdict(v))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoundID != out[j].RoundID {
			return out[i].RoundID < out[j].RoundID
		}
		return out[i].EntityID < out[j].EntityID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// copies keep callers from mutating stored state

func cloneEntity(e *core.Entity) *core.Entity {
	out := *e
	if e.Attributes != nil {
		out.Attributes = make(map[string]any, len(e.Attributes))
		for k, v := range e.Attributes {
			out.Attributes[k] = v
		}
	}
	return &out
}

func cloneArticle(a *core.Article) *core.Article {
	out := *a
	if a.PublishedAt != nil {
		t := *a.PublishedAt
		out.PublishedAt = &t
	}
	return &out
}

func cloneEvent(e *core.ExtractionEvent) *core.ExtractionEvent {
	out := *e
	out.RelatedEntityIDs = append([]string(nil), e.RelatedEntityIDs...)
	out.Payload = append([]byte(nil), e.Payload...)
	return &out
}

func cloneRound(r *core.Round) *core.Round {
	out := *r
	if r.Lockout != nil {
		t := *r.Lockout
		out.Lockout = &t
	}
	return &out
}

func cloneSnapshot(s core.WeeklySnapshot) core.WeeklySnapshot {
	s.SourceArticleIDs = append([]string(nil), s.SourceArticleIDs...)
	return s
}

func cloneProfile(p *core.RollingProfile) *core.RollingProfile {
	out := *p
	out.RoundIDs = append([]string(nil), p.RoundIDs...)
	return &out
}

func cloneVerdict(v *core.WeeklyVerdict) *core.WeeklyVerdict {
	out := *v
	out.RiskFactors = append([]string(nil), v.RiskFactors...)
	out.DimensionsCovered = append([]core.DimensionCode(nil), v.DimensionsCovered...)
	return &out
}
