package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"newsintel/internal/core"
)

// Payload is the dimension-specific part of an extraction. Each dimension has
// exactly one variant; anything that cannot be decoded becomes Unparsed.
type Payload interface {
	Dimension() core.DimensionCode
}

type InjuryPayload struct {
	InjuryType  string `json:"injury_type,omitempty"`
	Severity    string `json:"severity,omitempty"`
	ReturnWeeks *int   `json:"return_weeks,omitempty"`
	ReturnRound *int   `json:"return_round,omitempty"`
	RuledOut    bool   `json:"ruled_out,omitempty"`
}

type FitnessPayload struct {
	Status      string `json:"status,omitempty"` // e.g. available, test, illness
	FitnessTest bool   `json:"fitness_test,omitempty"`
	ReturnRound *int   `json:"return_round,omitempty"`
}

type SelectionPayload struct {
	Status   string `json:"status,omitempty"` // named, omitted, dropped, recalled, debut, traded
	Position string `json:"position,omitempty"`
}

type RolePayload struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

type FormPayload struct {
	RecentScores []float64 `json:"recent_scores,omitempty"`
	Average      *float64  `json:"average,omitempty"`
	Trend        string    `json:"trend,omitempty"`
}

type CaptaincyPayload struct {
	Ceiling string `json:"ceiling,omitempty"`
	Matchup string `json:"matchup,omitempty"`
}

type LoadPayload struct {
	Plan              string `json:"plan,omitempty"`
	MinutesRestricted bool   `json:"minutes_restricted,omitempty"`
}

type CoachingPayload struct {
	Speaker string `json:"speaker,omitempty"`
	Tone    string `json:"tone,omitempty"`
}

// UnparsedPayload keeps details that matched no dimension or failed to decode.
type UnparsedPayload struct {
	Raw    json.RawMessage `json:"raw,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

func (InjuryPayload) Dimension() core.DimensionCode    { return core.DimensionInjury }
func (FitnessPayload) Dimension() core.DimensionCode   { return core.DimensionFitness }
func (SelectionPayload) Dimension() core.DimensionCode { return core.DimensionSelection }
func (RolePayload) Dimension() core.DimensionCode      { return core.DimensionRole }
func (FormPayload) Dimension() core.DimensionCode      { return core.DimensionForm }
func (CaptaincyPayload) Dimension() core.DimensionCode { return core.DimensionCaptaincy }
func (LoadPayload) Dimension() core.DimensionCode      { return core.DimensionLoad }
func (CoachingPayload) Dimension() core.DimensionCode  { return core.DimensionCoaching }
func (UnparsedPayload) Dimension() core.DimensionCode  { return core.DimensionUnknown }

// DecodePayload decodes details into the variant for dim.
func DecodePayload(dim core.DimensionCode, raw json.RawMessage) Payload {
	var p Payload
	switch dim {
	case core.DimensionInjury:
		p = &InjuryPayload{}
	case core.DimensionFitness:
		p = &FitnessPayload{}
	case core.DimensionSelection:
		p = &SelectionPayload{}
	case core.DimensionRole:
		p = &RolePayload{}
	case core.DimensionForm:
		p = &FormPayload{}
	case core.DimensionCaptaincy:
		p = &CaptaincyPayload{}
	case core.DimensionLoad:
		p = &LoadPayload{}
	case core.DimensionCoaching:
		p = &CoachingPayload{}
	default:
		return UnparsedPayload{Raw: raw, Reason: "unknown dimension"}
	}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return deref(p)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return UnparsedPayload{Raw: raw, Reason: err.Error()}
	}
	return deref(p)
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *InjuryPayload:
		return *v
	case *FitnessPayload:
		return *v
	case *SelectionPayload:
		return *v
	case *RolePayload:
		return *v
	case *FormPayload:
		return *v
	case *CaptaincyPayload:
		return *v
	case *LoadPayload:
		return *v
	case *CoachingPayload:
		return *v
	}
	return p
}

// storedPayload is the JSON written to ExtractionEvent.Payload.
type storedPayload struct {
	Kind    string          `json:"kind"`
	Details json.RawMessage `json:"details,omitempty"`
	Quotes  []Quote         `json:"quotes,omitempty"`
}

// Quote is a direct quote attributed in the article.
type Quote struct {
	Text    string `json:"text"`
	Speaker string `json:"speaker,omitempty"`
}

func kindOf(p Payload) string {
	if _, ok := p.(UnparsedPayload); ok {
		return "unparsed"
	}
	return string(p.Dimension())
}

// EncodePayload serialises a payload and its quotes for storage.
func EncodePayload(p Payload, quotes []Quote) (json.RawMessage, error) {
	details, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return json.Marshal(storedPayload{Kind: kindOf(p), Details: details, Quotes: quotes})
}

// PayloadOf decodes the payload stored on an event.
func PayloadOf(e core.ExtractionEvent) Payload {
	if len(e.Payload) == 0 {
		return UnparsedPayload{Reason: "empty payload"}
	}
	var sp storedPayload
	if err := json.Unmarshal(e.Payload, &sp); err != nil {
		return UnparsedPayload{Raw: e.Payload, Reason: err.Error()}
	}
	if sp.Kind == "unparsed" {
		var u UnparsedPayload
		_ = json.Unmarshal(sp.Details, &u)
		return u
	}
	return DecodePayload(core.DimensionCode(sp.Kind), sp.Details)
}

// SeverityScore maps a payload to [0,1]: how bad the news is for availability.
func SeverityScore(p Payload) float64 {
	switch v := p.(type) {
	case InjuryPayload:
		s := severityScores[v.Severity]
		if v.RuledOut && s < 0.5 {
			s = 0.5
		}
		if v.ReturnWeeks != nil {
			s = math.Max(s, math.Min(1, float64(*v.ReturnWeeks)/8))
		}
		return s
	case FitnessPayload:
		if v.FitnessTest {
			return 0.25
		}
		return 0
	case SelectionPayload:
		switch v.Status {
		case "omitted", "dropped", "axed":
			return 0.75
		}
		return 0
	case LoadPayload:
		if v.MinutesRestricted {
			return 0.25
		}
		return 0.1
	case RolePayload, FormPayload, CaptaincyPayload, CoachingPayload, UnparsedPayload:
		return 0
	}
	return 0
}

var severityScores = map[string]float64{
	"minor":         0.25,
	"moderate":      0.5,
	"severe":        0.75,
	"season_ending": 1,
}

// ValidSeverity reports whether s is one of the four injury severities.
func ValidSeverity(s string) bool {
	_, ok := severityScores[s]
	return ok
}

var eventTypeDimensions = map[string]core.DimensionCode{
	"injury":    core.DimensionInjury,
	"return":    core.DimensionFitness,
	"fitness":   core.DimensionFitness,
	"trade":     core.DimensionSelection,
	"selection": core.DimensionSelection,
	"contract":  core.DimensionRole,
	"role":      core.DimensionRole,
	"form":      core.DimensionForm,
	"captaincy": core.DimensionCaptaincy,
	"load":      core.DimensionLoad,
	"coaching":  core.DimensionCoaching,
}

// NormalizeDimension accepts a dimension code or its short prefix and falls
// back to the event type. Unknown values map to DimensionUnknown.
func NormalizeDimension(dimension, eventType string) core.DimensionCode {
	d := strings.ToLower(strings.TrimSpace(dimension))
	if d != "" {
		for _, dim := range core.DefaultDimensions() {
			if d == string(dim.Code) || d == dim.Prefix {
				return dim.Code
			}
		}
	}
	return eventTypeDimensions[strings.ToLower(strings.TrimSpace(eventType))]
}
