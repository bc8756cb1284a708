package tags

import (
	"regexp"
	"sort"
	"strings"

	"newsintel/internal/core"
)

// GroupMatcher is a compiled keyword group. Keywords match as word prefixes,
// so "injur" covers "injury" and "injured".
type GroupMatcher struct {
	core.KeywordGroup
	re *regexp.Regexp
}

// Match is one keyword hit.
type Match struct {
	Start, End int
	Text       string
}

var matchers = compileGroups(core.KeywordGroups)

func compileGroups(groups []core.KeywordGroup) []GroupMatcher {
	out := make([]GroupMatcher, 0, len(groups))
	for _, g := range groups {
		alts := make([]string, len(g.Keywords))
		for i, kw := range g.Keywords {
			alts[i] = strings.ReplaceAll(regexp.QuoteMeta(kw), " ", `\s+`)
		}
		out = append(out, GroupMatcher{
			KeywordGroup: g,
			re:           regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)`),
		})
	}
	return out
}

// Groups returns the compiled keyword groups in priority order.
func Groups() []GroupMatcher {
	return matchers
}

// FindAll returns every keyword hit in text, in order of appearance.
func (g GroupMatcher) FindAll(text string) []Match {
	locs := g.re.FindAllStringIndex(text, -1)
	out := make([]Match, 0, len(locs))
	for _, loc := range locs {
		out = append(out, Match{Start: loc[0], End: loc[1], Text: text[loc[0]:loc[1]]})
	}
	return out
}

// Matches reports whether any keyword of the group occurs in text.
func (g GroupMatcher) Matches(text string) bool {
	return g.re.MatchString(text)
}

// KeywordHit summarises one group's hits in an article.
type KeywordHit struct {
	Group      string
	Dimension  core.DimensionCode
	Count      int
	InHeadline bool
	Matched    []string // Distinct matched keywords, lowercased and sorted
}

// ScanKeywords runs every keyword group over an article's headline and body.
// A hit is in the headline when its offset falls inside the title.
func ScanKeywords(title, body string) []KeywordHit {
	text := title + "\n" + body
	var hits []KeywordHit
	for _, g := range matchers {
		found := g.FindAll(text)
		if len(found) == 0 {
			continue
		}
		hit := KeywordHit{Group: g.Name, Dimension: g.Dimension, Count: len(found)}
		seen := make(map[string]bool)
		for _, m := range found {
			if m.Start < len(title) {
				hit.InHeadline = true
			}
			kw := strings.ToLower(strings.Join(strings.Fields(m.Text), " "))
			if !seen[kw] {
				seen[kw] = true
				hit.Matched = append(hit.Matched, kw)
			}
		}
		sort.Strings(hit.Matched)
		hits = append(hits, hit)
	}
	return hits
}

// ContextLabel classifies the text surrounding a mention. Only the groups that
// describe what happened to a player are used as labels.
func ContextLabel(window string) string {
	for _, g := range matchers {
		if !contextGroups[g.Name] {
			continue
		}
		if g.Matches(window) {
			return g.Name
		}
	}
	return "general"
}

var contextGroups = map[string]bool{
	"injury":    true,
	"return":    true,
	"trade":     true,
	"selection": true,
	"form":      true,
}
