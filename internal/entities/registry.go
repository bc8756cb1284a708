package entities

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// NamePattern is a compiled whole-word matcher for one name that resolves to
// exactly one entity.
type NamePattern struct {
	EntityID   string
	EntityType string
	Name       string
	Confidence float64
	Regexp     *regexp.Regexp
}

// Patterns returns the name matchers of a domain, longest name first. When the
// same text is an alias of several entities only the exact-resolution winner is
// kept, so scanning agrees with Resolve.
func (r *Resolver) Patterns(ctx context.Context, domain string) ([]NamePattern, error) {
	domain = strings.ToLower(domain)

	r.mu.RLock()
	cached, ok := r.patterns[domain]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	cands, _, err := r.candidates(ctx, Hint{Domain: domain})
	if err != nil {
		return nil, err
	}

	winners := make(map[string]candidate)
	for _, c := range cands {
		if c.normalized == "" {
			continue
		}
		if cur, ok := winners[c.normalized]; !ok || better(c, cur) {
			winners[c.normalized] = c
		}
	}

	patterns := make([]NamePattern, 0, len(winners))
	for _, c := range winners {
		re, err := compileName(c.text)
		if err != nil {
			r.log.Warn("Skipping uncompilable name", "name", c.text, "error", err)
			continue
		}
		patterns = append(patterns, NamePattern{
			EntityID:   c.entityID,
			EntityType: string(c.entityType),
			Name:       c.text,
			Confidence: c.confidence,
			Regexp:     re,
		})
	}
	sort.Slice(patterns, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(patterns[i].Name), utf8.RuneCountInString(patterns[j].Name)
		if li != lj {
			return li > lj
		}
		return strings.ToLower(patterns[i].Name) < strings.ToLower(patterns[j].Name)
	})

	r.mu.Lock()
	r.patterns[domain] = patterns
	r.mu.Unlock()
	return patterns, nil
}

func (r *Resolver) invalidate(domain string) {
	r.mu.Lock()
	delete(r.patterns, strings.ToLower(domain))
	r.mu.Unlock()
}

// compileName builds a case-insensitive whole-word pattern, tolerating any run
// of whitespace between words.
func compileName(name string) (*regexp.Regexp, error) {
	words := strings.Fields(name)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return regexp.Compile(`(?i)\b` + strings.Join(words, `\s+`) + `\b`)
}
