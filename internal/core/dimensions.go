package core

// DimensionCode identifies one of the eight analytical dimensions.
type DimensionCode string

const (
	DimensionInjury    DimensionCode = "injury_status"
	DimensionFitness   DimensionCode = "fitness_health"
	DimensionSelection DimensionCode = "selection_security"
	DimensionRole      DimensionCode = "role_change"
	DimensionForm      DimensionCode = "form_trajectory"
	DimensionCaptaincy DimensionCode = "captaincy_potential"
	DimensionLoad      DimensionCode = "load_management"
	DimensionCoaching  DimensionCode = "coaching_sentiment"
	DimensionUnknown   DimensionCode = ""
)

const dimensionCodeLength = 8

// Dimension is static reference data for one analytical category.
type Dimension struct {
	Code     DimensionCode `json:"code"`
	Name     string        `json:"name"`
	Prefix   string        `json:"prefix"` // Column prefix in the feature export
	Tier     int           `json:"tier"`   // 1 is highest priority
	Keywords []string      `json:"keywords"`
	Guidance string        `json:"guidance"`
}

// KeywordGroup is a family of trigger keywords that maps to a single dimension.
type KeywordGroup struct {
	Name      string
	Dimension DimensionCode
	Keywords  []string
}

// KeywordGroups are matched as word prefixes, case-insensitively. The trade
// group could plausibly map to role_change as well; it defaults to
// selection_security.
var KeywordGroups = []KeywordGroup{
	{Name: "injury", Dimension: DimensionInjury, Keywords: []string{
		"injur", "hamstring", "calf", "shoulder", "knee", "ankle", "concuss", "ruled out", "sidelined", "miss", "setback",
	}},
	{Name: "return", Dimension: DimensionFitness, Keywords: []string{
		"return", "back from", "recovered", "cleared to play", "set to return", "available", "fitness test",
	}},
	{Name: "selection", Dimension: DimensionSelection, Keywords: []string{
		"select", "named", "omit", "drop", "debut", "axed", "in for", "out for", "recalled",
	}},
	{Name: "trade", Dimension: DimensionSelection, Keywords: []string{
		"trade", "request", "move to", "join", "sign", "departure", "free agent",
	}},
	{Name: "contract", Dimension: DimensionRole, Keywords: []string{
		"contract", "re-sign", "deal", "extension", "years",
	}},
	{Name: "role", Dimension: DimensionRole, Keywords: []string{
		"role", "positional", "move forward", "midfield minutes", "tagging", "tagged", "ruck duties",
	}},
	{Name: "form", Dimension: DimensionForm, Keywords: []string{
		"form", "scores", "points", "averaging", "performance", "disposal", "best on ground", "bog",
	}},
	{Name: "captaincy", Dimension: DimensionCaptaincy, Keywords: []string{
		"captain", "ceiling", "huge score", "big score", "matchup",
	}},
	{Name: "load", Dimension: DimensionLoad, Keywords: []string{
		"managed", "rested", "load management", "soreness", "minutes restriction", "freshen",
	}},
	{Name: "coaching", Dimension: DimensionCoaching, Keywords: []string{
		"coach", "praised", "spray", "press conference", "backed",
	}},
}

var dimensionTable = []Dimension{
	{Code: DimensionInjury, Name: "Injury Status", Prefix: "injury", Tier: 1,
		Guidance: "Injury type, severity (minor|moderate|severe|season_ending), expected weeks out, whether ruled out for the round."},
	{Code: DimensionFitness, Name: "Fitness & Health", Prefix: "fitness", Tier: 2,
		Guidance: "Return from injury, fitness tests, illness, conditioning and availability."},
	{Code: DimensionSelection, Name: "Selection Security", Prefix: "selection", Tier: 1,
		Guidance: "Named, omitted, dropped, recalled, debut, trade or list movement affecting selection."},
	{Code: DimensionRole, Name: "Role Change", Prefix: "role", Tier: 2,
		Guidance: "Positional moves, changed midfield time, tagging assignments, contract status affecting role."},
	{Code: DimensionForm, Name: "Form Trajectory", Prefix: "form", Tier: 2,
		Guidance: "Recent scores, disposals, averages, best-on-ground votes and performance trend."},
	{Code: DimensionCaptaincy, Name: "Captaincy Potential", Prefix: "captaincy", Tier: 2,
		Guidance: "Ceiling for a big score this round, matchup quality, captaincy discussion."},
	{Code: DimensionLoad, Name: "Load Management", Prefix: "load", Tier: 3,
		Guidance: "Planned rest, managed minutes, soreness, short breaks between games."},
	{Code: DimensionCoaching, Name: "Coaching Sentiment", Prefix: "coaching", Tier: 3,
		Guidance: "What coaches say publicly: praise, criticism, backing or warnings."},
}

func init() {
	for i := range dimensionTable {
		for _, g := range KeywordGroups {
			if g.Dimension == dimensionTable[i].Code {
				dimensionTable[i].Keywords = append(dimensionTable[i].Keywords, g.Keywords...)
			}
		}
	}
}

// DefaultDimensions returns a copy of the eight built-in dimensions in export order.
func DefaultDimensions() []Dimension {
	out := make([]Dimension, len(dimensionTable))
	for i, d := range dimensionTable {
		d.Keywords = append([]string(nil), d.Keywords...)
		out[i] = d
	}
	return out
}

// DimensionCodes returns the eight codes in export column order.
func DimensionCodes() []DimensionCode {
	codes := make([]DimensionCode, 0, dimensionCodeLength)
	for _, d := range dimensionTable {
		codes = append(codes, d.Code)
	}
	return codes
}

// LookupDimension finds a built-in dimension by code.
func LookupDimension(code DimensionCode) (Dimension, bool) {
	for _, d := range dimensionTable {
		if d.Code == code {
			return d, true
		}
	}
	return Dimension{}, false
}

// ValidDimension reports whether code names one of the eight dimensions.
func ValidDimension(code DimensionCode) bool {
	_, ok := LookupDimension(code)
	return ok
}
