package extraction

import (
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"newsintel/internal/core"
)

// DefaultExcerptChars caps the article body quoted in a prompt.
const DefaultExcerptChars = 4000

// BuildPrompt renders the canonical extraction prompt for one entity in one
// article. The output depends only on its arguments so identical inputs always
// share a prompt fingerprint.
func BuildPrompt(article *core.Article, entityName string, dims []core.Dimension, excerptChars int) string {
	if excerptChars <= 0 {
		excerptChars = DefaultExcerptChars
	}

	published := "unknown"
	if t := article.EffectiveTime(); !t.IsZero() {
		published = t.UTC().Format(time.RFC3339)
	}

	var guidance strings.Builder
	for _, d := range dims {
		fmt.Fprintf(&guidance, "- %s (%s): %s\n", d.Code, d.Name, d.Guidance)
	}

	return fmt.Sprintf(`Analyze this AFL news article about %[1]s.

ARTICLE:
Title: %[2]s
Source: %[3]s
Published: %[4]s

Content:
%[5]s

Extract the single most important piece of news about %[1]s and classify it into exactly one dimension:
%[6]s
Respond with ONLY a JSON object with these fields:
- event_type: injury | return | trade | selection | form | contract | captaincy | load | coaching | other
- dimension: one of the dimension codes above
- sentiment: positive | negative | neutral | mixed (for %[1]s's fantasy prospects)
- severity: minor | moderate | severe | season_ending (injuries only, otherwise empty)
- confidence: 0.0-1.0, how clearly the article supports the extraction
- summary: 2-3 sentences about %[1]s
- quotes: up to 3 direct quotes about %[1]s as {"text": "...", "speaker": "..."}
- related_entities: names of other players directly involved (replacements, trade partners)
- details: dimension-specific facts, e.g. {"injury_type": "hamstring", "return_weeks": 3, "ruled_out": true}
`, entityName, article.Title, article.Source, published, excerpt(article.Body, excerptChars), guidance.String())
}

// excerpt truncates body to n runes.
func excerpt(body string, n int) string {
	r := []rune(strings.TrimSpace(body))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n])
}

// ResponseSchema is the structured-output schema for providers that support it.
func ResponseSchema() *genai.Schema {
	codes := make([]string, 0, 8)
	for _, c := range core.DimensionCodes() {
		codes = append(codes, string(c))
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"event_type": {Type: genai.TypeString, Description: "Kind of news event"},
			"dimension":  {Type: genai.TypeString, Enum: codes, Description: "Analytical dimension of the event"},
			"sentiment": {
				Type: genai.TypeString,
				Enum: []string{"positive", "negative", "neutral", "mixed"},
			},
			"severity":   {Type: genai.TypeString, Description: "Injury severity, empty when not an injury"},
			"confidence": {Type: genai.TypeNumber, Description: "0.0 to 1.0"},
			"summary":    {Type: genai.TypeString},
			"quotes": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"text":    {Type: genai.TypeString},
						"speaker": {Type: genai.TypeString},
					},
				},
			},
			"related_entities": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"details": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"injury_type":        {Type: genai.TypeString},
					"return_weeks":       {Type: genai.TypeInteger},
					"return_round":       {Type: genai.TypeInteger},
					"ruled_out":          {Type: genai.TypeBoolean},
					"status":             {Type: genai.TypeString},
					"position":           {Type: genai.TypeString},
					"from":               {Type: genai.TypeString},
					"to":                 {Type: genai.TypeString},
					"recent_scores":      {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeNumber}},
					"average":            {Type: genai.TypeNumber},
					"trend":              {Type: genai.TypeString},
					"ceiling":            {Type: genai.TypeString},
					"matchup":            {Type: genai.TypeString},
					"plan":               {Type: genai.TypeString},
					"minutes_restricted": {Type: genai.TypeBoolean},
					"speaker":            {Type: genai.TypeString},
					"tone":               {Type: genai.TypeString},
				},
			},
		},
		Required: []string{"event_type", "dimension", "sentiment", "confidence", "summary"},
	}
}
