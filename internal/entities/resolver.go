// Package entities is the canonical entity registry and alias resolver.
//
// Resolution runs in three steps: an exact case-insensitive match against
// aliases and canonical names, a fuzzy match above a configurable threshold
// (which persists a learned alias), and finally ErrUnresolvedEntity. Entity
// creation is a per-key atomic get-or-create on (domain, type, canonical name).
package entities

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"newsintel/internal/core"
	"newsintel/internal/keylock"
	"newsintel/internal/logger"
	"newsintel/internal/persistence"
)

// DefaultFuzzyThreshold is the minimum similarity for a fuzzy match.
const DefaultFuzzyThreshold = 0.8

// minFuzzyLength keeps very short strings ("GWS", "Ox") out of fuzzy matching;
// those must be curated aliases.
const minFuzzyLength = 4

// Method records how a mention was resolved.
type Method string

const (
	MethodExact Method = "exact"
	MethodFuzzy Method = "fuzzy"
)

// Hint narrows resolution to one domain and, optionally, one entity type.
type Hint struct {
	Domain string
	Type   core.EntityType
}

// Resolution is a successful lookup.
type Resolution struct {
	Entity  *core.Entity
	AliasID string  // Empty when the canonical name matched
	Matched string  // The alias or canonical name text that matched
	Score   float64 // 1 for exact matches
	Method  Method
	Learned bool // A new learned alias was written
}

// Options configures a Resolver.
type Options struct {
	FuzzyThreshold float64
	Now            func() time.Time
}

// Resolver resolves free-text mentions to entities.
type Resolver struct {
	db        persistence.Database
	threshold float64
	locks     *keylock.Striped
	now       func() time.Time
	log       *slog.Logger

	mu       sync.RWMutex
	patterns map[string][]NamePattern // by domain
}

// NewResolver creates a resolver over the entity and alias repositories.
func NewResolver(db persistence.Database, opts Options) *Resolver {
	if opts.FuzzyThreshold <= 0 || opts.FuzzyThreshold > 1 {
		opts.FuzzyThreshold = DefaultFuzzyThreshold
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Resolver{
		db:        db,
		threshold: opts.FuzzyThreshold,
		locks:     keylock.New(keylock.DefaultStripes),
		now:       opts.Now,
		log:       logger.Get(),
		patterns:  make(map[string][]NamePattern),
	}
}

// candidate is one matchable name: either an alias row or a canonical name.
type candidate struct {
	entityID   string
	entityType core.EntityType
	aliasID    string
	text       string
	normalized string
	folded     string
	confidence float64
	lastUsed   time.Time
}

// better reports whether a outranks b: higher confidence, then most recently
// used, then lowest entity ID so the order is total.
func better(a, b candidate) bool {
	if a.confidence != b.confidence {
		return a.confidence > b.confidence
	}
	if !a.lastUsed.Equal(b.lastUsed) {
		return a.lastUsed.After(b.lastUsed)
	}
	if a.entityID != b.entityID {
		return a.entityID < b.entityID
	}
	return a.aliasID < b.aliasID
}

func (r *Resolver) candidates(ctx context.Context, hint Hint) ([]candidate, map[string]*core.Entity, error) {
	domain := strings.ToLower(hint.Domain)
	ents, err := r.db.Entities().List(ctx, persistence.EntityFilter{Domain: domain, Type: hint.Type})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list entities: %w", err)
	}
	byID := make(map[string]*core.Entity, len(ents))
	cands := make([]candidate, 0, len(ents))
	for i := range ents {
		e := &ents[i]
		byID[e.ID] = e
		cands = append(cands, candidate{
			entityID:   e.ID,
			entityType: e.Type,
			text:       e.CanonicalName,
			normalized: core.NormalizeName(e.CanonicalName),
			folded:     Fold(e.CanonicalName),
			confidence: 1,
		})
	}

	aliases, err := r.db.Aliases().ListByDomain(ctx, domain)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list aliases: %w", err)
	}
	for _, a := range aliases {
		if _, ok := byID[a.EntityID]; !ok {
			continue // different type than the hint
		}
		cands = append(cands, candidate{
			entityID:   a.EntityID,
			entityType: byID[a.EntityID].Type,
			aliasID:    a.ID,
			text:       a.Text,
			normalized: a.Normalized,
			folded:     Fold(a.Text),
			confidence: a.Confidence,
			lastUsed:   a.LastUsedAt,
		})
	}
	return cands, byID, nil
}

// Resolve maps a mention to an entity or returns core.ErrUnresolvedEntity.
// Given the same mention and alias table it always returns the same entity.
func (r *Resolver) Resolve(ctx context.Context, mention string, hint Hint) (*Resolution, error) {
	normalized := core.NormalizeName(mention)
	if normalized == "" {
		return nil, core.ErrUnresolvedEntity
	}

	cands, byID, err := r.candidates(ctx, hint)
	if err != nil {
		return nil, err
	}

	// (a) exact
	var exact *candidate
	for i := range cands {
		c := cands[i]
		if c.normalized != normalized {
			continue
		}
		if exact == nil || better(c, *exact) {
			exact = &cands[i]
		}
	}
	if exact != nil {
		if exact.aliasID != "" {
			if err := r.db.Aliases().Touch(ctx, exact.aliasID, r.now()); err != nil {
				r.log.Warn("Failed to touch alias", "alias_id", exact.aliasID, "error", err)
			}
		}
		return &Resolution{
			Entity:  byID[exact.entityID],
			AliasID: exact.aliasID,
			Matched: exact.text,
			Score:   1,
			Method:  MethodExact,
		}, nil
	}

	// (b) fuzzy
	folded := Fold(mention)
	if len([]rune(folded)) < minFuzzyLength {
		return nil, core.ErrUnresolvedEntity
	}
	var best *candidate
	bestScore := 0.0
	for i := range cands {
		c := cands[i]
		score := Similarity(folded, c.folded)
		if score < r.threshold {
			continue
		}
		if best == nil || score > bestScore || (score == bestScore && better(c, *best)) {
			best, bestScore = &cands[i], score
		}
	}
	if best == nil {
		return nil, core.ErrUnresolvedEntity
	}

	entity := byID[best.entityID]
	alias := &core.Alias{
		EntityID:   entity.ID,
		Domain:     strings.ToLower(entity.Domain),
		EntityType: entity.Type,
		Text:       strings.TrimSpace(mention),
		Normalized: normalized,
		Confidence: learnedConfidence(bestScore, best.confidence),
		Provenance: core.AliasLearned,
		LastUsedAt: r.now(),
	}
	learned, err := r.db.Aliases().InsertIfAbsent(ctx, alias)
	if err != nil {
		return nil, fmt.Errorf("failed to persist learned alias: %w", err)
	}
	if learned {
		r.invalidate(entity.Domain)
		r.log.Info("Learned alias", "alias", alias.Text, "entity", entity.CanonicalName, "confidence", alias.Confidence)
	}

	return &Resolution{
		Entity:  entity,
		AliasID: alias.ID,
		Matched: best.text,
		Score:   bestScore,
		Method:  MethodFuzzy,
		Learned: learned,
	}, nil
}

// learnedConfidence scales match strength by the confidence of the name it
// matched, rounded so repeated runs write identical values.
func learnedConfidence(score, matched float64) float64 {
	return math.Round(score*matched*1000) / 1000
}

// GetOrCreate returns the entity with e's natural key, creating it if absent.
// Concurrent calls for the same key are serialized; other keys proceed.
func (r *Resolver) GetOrCreate(ctx context.Context, e core.Entity) (*core.Entity, bool, error) {
	e.Domain = strings.ToLower(e.Domain)
	e.CanonicalName = strings.Join(strings.Fields(e.CanonicalName), " ")
	if e.CanonicalName == "" || e.Domain == "" || e.Type == "" {
		return nil, false, fmt.Errorf("entity requires domain, type and canonical name")
	}

	unlock := r.locks.Lock(e.NaturalKey())
	defer unlock()

	stored, created, err := r.db.Entities().GetOrCreate(ctx, &e)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get or create entity: %w", err)
	}
	if created {
		r.invalidate(e.Domain)
		r.log.Info("Created entity", "entity_id", stored.ID, "name", stored.CanonicalName, "type", stored.Type)
	}
	return stored, created, nil
}

// ResolveOrCreate resolves the mention, creating an entity named after it when
// resolution fails.
func (r *Resolver) ResolveOrCreate(ctx context.Context, mention string, hint Hint) (*Resolution, error) {
	res, err := r.Resolve(ctx, mention, hint)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, core.ErrUnresolvedEntity) {
		return nil, err
	}
	if hint.Type == "" {
		return nil, fmt.Errorf("cannot create entity for %q without a type: %w", mention, err)
	}
	e, _, err := r.GetOrCreate(ctx, core.Entity{Domain: hint.Domain, Type: hint.Type, CanonicalName: mention})
	if err != nil {
		return nil, err
	}
	return &Resolution{Entity: e, Matched: e.CanonicalName, Score: 1, Method: MethodExact}, nil
}

// AddAlias writes a curated alias. It is a no-op if the alias already exists
// for the entity.
func (r *Resolver) AddAlias(ctx context.Context, entityID, text string, confidence float64, provenance core.AliasProvenance) (bool, error) {
	if confidence < 0 || confidence > 1 {
		return false, fmt.Errorf("alias confidence %.2f outside [0,1]", confidence)
	}
	e, err := r.db.Entities().Get(ctx, entityID)
	if err != nil {
		return false, err
	}
	if provenance == "" {
		provenance = core.AliasManual
	}
	inserted, err := r.db.Aliases().InsertIfAbsent(ctx, &core.Alias{
		EntityID:   e.ID,
		Domain:     strings.ToLower(e.Domain),
		EntityType: e.Type,
		Text:       strings.TrimSpace(text),
		Confidence: confidence,
		Provenance: provenance,
	})
	if err != nil {
		return false, fmt.Errorf("failed to insert alias: %w", err)
	}
	if inserted {
		r.invalidate(e.Domain)
	}
	return inserted, nil
}

// Lookup resolves related-entity names without learning aliases or creating
// entities. Names that do not resolve exactly are skipped.
func (r *Resolver) Lookup(ctx context.Context, names []string, hint Hint) ([]string, error) {
	cands, _, err := r.candidates(ctx, hint)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var ids []string
	for _, name := range names {
		normalized := core.NormalizeName(name)
		var best *candidate
		for i := range cands {
			if cands[i].normalized == normalized && (best == nil || better(cands[i], *best)) {
				best = &cands[i]
			}
		}
		if best != nil && !seen[best.entityID] {
			seen[best.entityID] = true
			ids = append(ids, best.entityID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
