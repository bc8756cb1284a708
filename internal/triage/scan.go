package triage

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"newsintel/internal/core"
	"newsintel/internal/entities"
	"newsintel/internal/tags"
)

const (
	contextRadius = 100
	maxMatchText  = 200
	maxNameWords  = 3
)

var (
	// properNoun matches runs of capitalised words; leading stopwords are
	// trimmed and at most maxNameWords kept.
	properNoun = regexp.MustCompile(`\b[A-Z][a-zA-Z'’-]+(?:[ \t]+[A-Z][a-zA-Z'’-]+){0,4}\b`)
	word       = regexp.MustCompile(`\S+`)
)

// stopwords are capitalised words that start sentences or name calendar terms
// rather than people or clubs.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "he": true, "she": true, "it": true, "they": true, "we": true,
	"i": true, "his": true, "her": true, "their": true, "this": true, "that": true, "there": true,
	"after": true, "before": true, "but": true, "and": true, "in": true, "on": true, "at": true,
	"for": true, "with": true, "from": true, "if": true, "when": true, "while": true, "as": true,
	"round": true, "afl": true, "aflw": true, "coach": true, "captain": true, "news": true,
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true, "friday": true,
	"saturday": true, "sunday": true, "january": true, "february": true, "march": true, "april": true,
	"may": true, "june": true, "july": true, "august": true, "september": true, "october": true,
	"november": true, "december": true,
}

type span struct{ start, end int }

type occurrence struct {
	start, end int
	text       string
}

// found is a mention being assembled from one or more occurrences.
type found struct {
	entityID   string
	entityType core.EntityType
	name       string
	resolvedBy string
	occ        []occurrence
}

func (f *found) first() occurrence {
	return f.occ[0]
}

// document is the scanned text: title, newline, body. Offsets below len(title)
// are in the headline.
type document struct {
	text     string
	titleLen int
	consumed []span
}

func newDocument(article *core.Article) *document {
	return &document{text: article.Title + "\n" + article.Body, titleLen: len(article.Title)}
}

func (d *document) overlaps(start, end int) bool {
	for _, s := range d.consumed {
		if start < s.end && s.start < end {
			return true
		}
	}
	return false
}

func (d *document) consume(start, end int) {
	d.consumed = append(d.consumed, span{start, end})
}

// scanPatterns finds entity-name matches, longest name first. A span of text
// is claimed by at most one name, so "Tom Green" is not found inside
// "Tom Greenwood".
func scanPatterns(doc *document, patterns []entities.NamePattern) map[string]*found {
	byEntity := make(map[string]*found)
	for _, p := range patterns {
		for _, loc := range p.Regexp.FindAllStringIndex(doc.text, -1) {
			if doc.overlaps(loc[0], loc[1]) {
				continue
			}
			doc.consume(loc[0], loc[1])
			f, ok := byEntity[p.EntityID]
			if !ok {
				f = &found{entityID: p.EntityID, entityType: core.EntityType(p.EntityType), resolvedBy: "pattern"}
				byEntity[p.EntityID] = f
			}
			f.occ = append(f.occ, occurrence{start: loc[0], end: loc[1], text: p.Name})
		}
	}
	for _, f := range byEntity {
		sort.Slice(f.occ, func(i, j int) bool { return f.occ[i].start < f.occ[j].start })
		f.name = f.first().text
	}
	return byEntity
}

// candidate is a capitalised name not claimed by any known entity.
type candidate struct {
	text string
	occ  []occurrence
}

// scanCandidates collects proper-noun candidates outside consumed spans.
// Headline candidates always qualify; body-only candidates need two or more
// words and at least two occurrences.
func scanCandidates(doc *document) []candidate {
	byName := make(map[string]*candidate)
	var order []string
	for _, loc := range properNoun.FindAllStringIndex(doc.text, -1) {
		match := doc.text[loc[0]:loc[1]]
		wordLocs := word.FindAllStringIndex(match, -1)
		// Drop leading stopwords ("The Crows" -> "Crows").
		i := 0
		for i < len(wordLocs) && stopwords[strings.ToLower(match[wordLocs[i][0]:wordLocs[i][1]])] {
			i++
		}
		if i == len(wordLocs) {
			continue
		}
		last := i + maxNameWords
		if last > len(wordLocs) {
			last = len(wordLocs)
		}
		start, end := loc[0]+wordLocs[i][0], loc[0]+wordLocs[last-1][1]
		if doc.overlaps(start, end) {
			continue
		}
		words := strings.Fields(doc.text[start:end])
		text := strings.Join(words, " ")
		key := core.NormalizeName(text)
		c, ok := byName[key]
		if !ok {
			c = &candidate{text: text}
			byName[key] = c
			order = append(order, key)
		}
		c.occ = append(c.occ, occurrence{start: start, end: end, text: text})
	}

	var out []candidate
	for _, key := range order {
		c := byName[key]
		inHeadline := c.occ[0].start < doc.titleLen
		multiword := strings.Contains(c.text, " ")
		if inHeadline || (multiword && len(c.occ) >= 2) {
			out = append(out, *c)
		}
	}
	return out
}

// window returns the text within contextRadius bytes of [start, end), widened
// to rune boundaries.
func window(text string, start, end int) string {
	lo := start - contextRadius
	if lo < 0 {
		lo = 0
	}
	for lo > 0 && !utf8.RuneStart(text[lo]) {
		lo--
	}
	hi := end + contextRadius
	if hi > len(text) {
		hi = len(text)
	}
	for hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi++
	}
	return text[lo:hi]
}

// matchText is the whitespace-collapsed window, capped at maxMatchText runes.
func matchText(text string, start, end int) string {
	s := strings.Join(strings.Fields(window(text, start, end)), " ")
	if utf8.RuneCountInString(s) > maxMatchText {
		s = string([]rune(s)[:maxMatchText])
	}
	return s
}

func contextLabel(text string, start, end int) string {
	return tags.ContextLabel(window(text, start, end))
}
