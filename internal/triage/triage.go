// Package triage is the cheap first pass over an admitted article. It finds
// entity mentions by scanning for known names and aliases, falls back to
// capitalised-name candidates for anything unknown, and decides which mentions
// are worth an LLM call.
package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"newsintel/internal/core"
	"newsintel/internal/entities"
	"newsintel/internal/logger"
	"newsintel/internal/persistence"
)

// DefaultMentionThreshold is the mention count that qualifies a non-primary,
// non-headline mention for deep analysis.
const DefaultMentionThreshold = 3

// Result summarises one triage run.
type Result struct {
	ArticleID  string         `json:"article_id"`
	Mentions   []core.Mention `json:"mentions"`
	Resolved   int            `json:"resolved"`
	Unresolved int            `json:"unresolved"`
	Flagged    int            `json:"flagged"` // Mentions needing deep analysis
}

// RetriageResult summarises a pass over unresolved mentions.
type RetriageResult struct {
	Checked  int     `json:"checked"`
	Resolved int     `json:"resolved"`
	Flagged  int     `json:"flagged"`
	Errors   []error `json:"-"`
}

// Options configures a Stage.
type Options struct {
	Domain           string
	MentionThreshold int
}

// Stage runs triage against the store.
type Stage struct {
	db        persistence.Database
	resolver  *entities.Resolver
	domain    string
	threshold int
	log       *slog.Logger
}

// NewStage creates a triage stage.
func NewStage(db persistence.Database, resolver *entities.Resolver, opts Options) *Stage {
	if opts.MentionThreshold <= 0 {
		opts.MentionThreshold = DefaultMentionThreshold
	}
	return &Stage{
		db:        db,
		resolver:  resolver,
		domain:    opts.Domain,
		threshold: opts.MentionThreshold,
		log:       logger.Get(),
	}
}

// Run triages one article: mentions are upserted by (article, mention text)
// and the article's triage state moves to done. Re-running on unchanged content
// yields the same mentions and flags.
func (s *Stage) Run(ctx context.Context, article *core.Article) (*Result, error) {
	mentions, err := s.Scan(ctx, article)
	if err != nil {
		return nil, core.NewStageError("triage", article.ID, err)
	}

	res := &Result{ArticleID: article.ID}
	for i := range mentions {
		m := mentions[i]
		if err := s.db.Mentions().Upsert(ctx, &m); err != nil {
			return nil, core.NewStageError("triage", article.ID, fmt.Errorf("failed to upsert mention %q: %w", m.MentionText, err))
		}
		res.Mentions = append(res.Mentions, m)
		if m.Resolved() {
			res.Resolved++
		} else {
			res.Unresolved++
		}
		if m.NeedsDeepAnalysis {
			res.Flagged++
		}
	}

	if err := s.db.Articles().SetStatus(ctx, article.ID, persistence.StageTriage, core.StateDone); err != nil {
		return nil, core.NewStageError("triage", article.ID, fmt.Errorf("failed to mark triaged: %w", err))
	}

	s.log.Info("Article triaged",
		"article_id", article.ID,
		"resolved", res.Resolved,
		"unresolved", res.Unresolved,
		"flagged", res.Flagged)
	return res, nil
}

// Scan computes the mention set of an article without writing mentions. The
// resolver may still learn aliases for fuzzy-matched candidates.
func (s *Stage) Scan(ctx context.Context, article *core.Article) ([]core.Mention, error) {
	patterns, err := s.resolver.Patterns(ctx, s.domain)
	if err != nil {
		return nil, fmt.Errorf("failed to load name patterns: %w", err)
	}

	doc := newDocument(article)
	byEntity := scanPatterns(doc, patterns)

	var unresolved []*found
	for _, c := range scanCandidates(doc) {
		res, err := s.resolver.Resolve(ctx, c.text, entities.Hint{Domain: s.domain})
		switch {
		case err == nil:
			f, ok := byEntity[res.Entity.ID]
			if !ok {
				f = &found{entityID: res.Entity.ID, entityType: res.Entity.Type, name: c.text, resolvedBy: string(res.Method)}
				byEntity[res.Entity.ID] = f
			}
			f.occ = append(f.occ, c.occ...)
			sort.Slice(f.occ, func(i, j int) bool { return f.occ[i].start < f.occ[j].start })
		case errors.Is(err, core.ErrUnresolvedEntity):
			unresolved = append(unresolved, &found{name: c.text, occ: c.occ})
		default:
			return nil, fmt.Errorf("failed to resolve %q: %w", c.text, err)
		}
	}

	resolved := make([]*found, 0, len(byEntity))
	for _, f := range byEntity {
		resolved = append(resolved, f)
	}
	sort.Slice(resolved, func(i, j int) bool { return resolved[i].first().start < resolved[j].first().start })

	// The primary subject is chosen among resolved mentions when there are any.
	primary := pickPrimary(resolved, doc.titleLen)
	if primary == nil {
		primary = pickPrimary(unresolved, doc.titleLen)
	}

	mentions := make([]core.Mention, 0, len(resolved)+len(unresolved))
	for _, f := range append(resolved, unresolved...) {
		first := f.first()
		m := core.Mention{
			ArticleID:    article.ID,
			EntityID:     f.entityID,
			EntityType:   f.entityType,
			MentionText:  f.name,
			MentionCount: len(f.occ),
			FirstOffset:  first.start,
			IsPrimary:    f == primary,
			InHeadline:   first.start < doc.titleLen,
			Context:      contextLabel(doc.text, first.start, first.end),
			MatchText:    matchText(doc.text, first.start, first.end),
			ResolvedBy:   f.resolvedBy,
		}
		m.NeedsDeepAnalysis = s.needsDeepAnalysis(m)
		mentions = append(mentions, m)
	}
	return mentions, nil
}

// needsDeepAnalysis applies the escalation policy: a resolved mention that is
// the primary subject, in the headline, or mentioned often enough.
func (s *Stage) needsDeepAnalysis(m core.Mention) bool {
	if !m.Resolved() {
		return false
	}
	return m.IsPrimary || m.InHeadline || m.MentionCount >= s.threshold
}

// pickPrimary scores count plus two for a headline appearance. Ties go to the
// earliest first occurrence.
func pickPrimary(list []*found, titleLen int) *found {
	var best *found
	bestScore := -1
	for _, f := range list {
		score := len(f.occ)
		if f.first().start < titleLen {
			score += 2
		}
		if score > bestScore || (score == bestScore && f.first().start < best.first().start) {
			best, bestScore = f, score
		}
	}
	return best
}

// Retriage retries resolution of stored unresolved mentions. Article text is
// not rescanned; a newly resolved mention is flagged for deep analysis using
// the counts and headline flag recorded at triage time.
func (s *Stage) Retriage(ctx context.Context, limit int) (*RetriageResult, error) {
	pending, err := s.db.Mentions().ListUnresolved(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved mentions: %w", err)
	}

	res := &RetriageResult{}
	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++
		r, err := s.resolver.Resolve(ctx, m.MentionText, entities.Hint{Domain: s.domain})
		if errors.Is(err, core.ErrUnresolvedEntity) {
			continue
		}
		if err != nil {
			res.Errors = append(res.Errors, core.NewStageError("retriage", m.ID, err))
			continue
		}

		m.EntityID = r.Entity.ID
		needs := s.needsDeepAnalysis(m)
		if err := s.db.Mentions().Resolve(ctx, m.ID, r.Entity.ID, needs, string(r.Method)); err != nil {
			res.Errors = append(res.Errors, core.NewStageError("retriage", m.ID, err))
			continue
		}
		res.Resolved++
		if needs {
			res.Flagged++
		}
		s.log.Info("Resolved deferred mention", "mention_id", m.ID, "text", m.MentionText, "entity_id", r.Entity.ID, "method", r.Method)
	}
	return res, nil
}
