// Package tags maintains the denormalized article tags: keyword-group tags
// from a cheap scan of every article, dimension tags from deep extraction, and
// entity tags from triage. Extracted dimensions are authoritative; keyword tags
// whose dimension the extraction did not confirm are kept but marked superseded.
package tags

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"newsintel/internal/core"
	"newsintel/internal/logger"
	"newsintel/internal/persistence"
)

const maxMatchedText = 200

// Engine writes article tags.
type Engine struct {
	tags persistence.TagRepository
	log  *slog.Logger
}

// NewEngine creates a tagging engine.
func NewEngine(tags persistence.TagRepository) *Engine {
	return &Engine{tags: tags, log: logger.Get()}
}

// TagKeywords upserts one keyword tag per matching group. Re-running it on the
// same article only refreshes counts.
func (e *Engine) TagKeywords(ctx context.Context, article *core.Article) ([]core.ArticleTag, error) {
	hits := ScanKeywords(article.Title, article.Body)
	out := make([]core.ArticleTag, 0, len(hits))
	for _, hit := range hits {
		tag := core.ArticleTag{
			ArticleID:   article.ID,
			TagType:     core.TagKeyword,
			TagValue:    hit.Group,
			Dimension:   hit.Dimension,
			MatchedText: truncate(strings.Join(hit.Matched, ", "), maxMatchedText),
			MatchCount:  hit.Count,
			InHeadline:  hit.InHeadline,
		}
		if err := e.tags.Upsert(ctx, &tag); err != nil {
			return nil, fmt.Errorf("failed to upsert keyword tag %s: %w", hit.Group, err)
		}
		out = append(out, tag)
	}
	if err := e.reconcile(ctx, article.ID); err != nil {
		return nil, err
	}
	return out, nil
}

// TagEntities upserts one entity tag per resolved mention.
func (e *Engine) TagEntities(ctx context.Context, articleID string, mentions []core.Mention) error {
	for _, m := range mentions {
		if !m.Resolved() {
			continue
		}
		tag := core.ArticleTag{
			ArticleID:   articleID,
			TagType:     core.TagEntity,
			TagValue:    m.EntityID,
			MatchedText: truncate(m.MentionText, maxMatchedText),
			MatchCount:  m.MentionCount,
			InHeadline:  m.InHeadline,
		}
		if err := e.tags.Upsert(ctx, &tag); err != nil {
			return fmt.Errorf("failed to upsert entity tag %s: %w", m.EntityID, err)
		}
	}
	return nil
}

// ApplyExtraction records the dimensions deep extraction assigned to an
// article and supersedes keyword tags for dimensions it did not confirm.
// Degraded events carry no dimension and are ignored.
func (e *Engine) ApplyExtraction(ctx context.Context, articleID string, events []core.ExtractionEvent) error {
	type agg struct {
		count int
		types []string
	}
	byDim := make(map[core.DimensionCode]*agg)
	var order []core.DimensionCode
	for _, ev := range events {
		if ev.Degraded() || !core.ValidDimension(ev.Dimension) {
			continue
		}
		a, ok := byDim[ev.Dimension]
		if !ok {
			a = &agg{}
			byDim[ev.Dimension] = a
			order = append(order, ev.Dimension)
		}
		a.count++
		if ev.EventType != "" && !contains(a.types, ev.EventType) {
			a.types = append(a.types, ev.EventType)
		}
	}

	for _, dim := range order {
		a := byDim[dim]
		tag := core.ArticleTag{
			ArticleID:   articleID,
			TagType:     core.TagDimension,
			TagValue:    string(dim),
			Dimension:   dim,
			MatchedText: truncate(strings.Join(a.types, ", "), maxMatchedText),
			MatchCount:  a.count,
		}
		if err := e.tags.Upsert(ctx, &tag); err != nil {
			return fmt.Errorf("failed to upsert dimension tag %s: %w", dim, err)
		}
	}
	return e.reconcile(ctx, articleID)
}

// reconcile recomputes the superseded flag of every keyword tag from the
// article's dimension tags.
func (e *Engine) reconcile(ctx context.Context, articleID string) error {
	existing, err := e.tags.ListByArticle(ctx, articleID)
	if err != nil {
		return fmt.Errorf("failed to list tags: %w", err)
	}

	confirmed := make(map[core.DimensionCode]bool)
	for _, t := range existing {
		if t.TagType == core.TagDimension {
			confirmed[t.Dimension] = true
		}
	}
	if len(confirmed) == 0 {
		return nil
	}

	for _, t := range existing {
		if t.TagType != core.TagKeyword {
			continue
		}
		superseded := !confirmed[t.Dimension]
		if t.Superseded == superseded {
			continue
		}
		t.Superseded = superseded
		if err := e.tags.Upsert(ctx, &t); err != nil {
			return fmt.Errorf("failed to update keyword tag %s: %w", t.TagValue, err)
		}
		if superseded {
			e.log.Debug("Keyword tag superseded by extraction", "article_id", articleID, "tag", t.TagValue, "dimension", t.Dimension)
		}
	}
	return nil
}

// Dimensions returns the effective dimensions of an article: extracted ones
// when deep analysis ran, otherwise the keyword guesses.
func Dimensions(tags []core.ArticleTag) []core.DimensionCode {
	var extracted, guessed []core.DimensionCode
	for _, t := range tags {
		switch t.TagType {
		case core.TagDimension:
			extracted = appendUnique(extracted, t.Dimension)
		case core.TagKeyword:
			if !t.Superseded {
				guessed = appendUnique(guessed, t.Dimension)
			}
		}
	}
	if len(extracted) > 0 {
		return extracted
	}
	return guessed
}

func appendUnique(list []core.DimensionCode, d core.DimensionCode) []core.DimensionCode {
	for _, x := range list {
		if x == d {
			return list
		}
	}
	return append(list, d)
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
