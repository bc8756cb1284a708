package entities

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold strips diacritics and punctuation and normalizes case and spacing, so
// "Dusty Martin", "dusty martin." and "Dústy Martin" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case r == '\'' || r == '’':
			return -1
		default:
			return ' '
		}
	}, folded)
	return strings.Join(strings.Fields(folded), " ")
}

// Similarity scores two folded strings in [0, 1] as the better of the
// normalized edit-distance ratio and the token Jaccard overlap.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	return max(editRatio(a, b), tokenJaccard(a, b))
}

func editRatio(a, b string) float64 {
	longest := max(len([]rune(a)), len([]rune(b)))
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

func tokenJaccard(a, b string) float64 {
	setA := make(map[string]bool)
	for _, tok := range strings.Fields(a) {
		setA[tok] = true
	}
	setB := make(map[string]bool)
	for _, tok := range strings.Fields(b) {
		setB[tok] = true
	}
	inter := 0
	for tok := range setA {
		if setB[tok] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
