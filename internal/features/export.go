package features

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"newsintel/internal/core"
)

// Format is an export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "csv" or "json"; empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

type column struct {
	name  string
	value any
}

// columns lays a row out flat, with per-dimension columns named by prefix.
func (r Row) columns() []column {
	cols := []column{
		{"entity_id", r.EntityID},
		{"entity_name", r.EntityName},
		{"entity_type", r.EntityType},
		{"season_year", r.SeasonYear},
		{"round_id", r.RoundID},
		{"round_number", r.RoundNumber},
		{"round_name", r.RoundName},
	}
	for _, d := range r.Dimensions {
		cols = append(cols,
			column{d.Prefix + "_mentioned", d.Mentioned},
			column{d.Prefix + "_sentiment", d.Sentiment},
			column{d.Prefix + "_signal", d.Signal},
		)
	}
	return append(cols,
		column{"captain_rating", r.CaptainRating},
		column{"risk_level", r.RiskLevel},
		column{"trade_signal", r.TradeSignal},
		column{"injury_risk_score", r.InjuryRisk},
		column{"form_score", r.FormScore},
		column{"selection_certainty", r.SelectionCertainty},
		column{"upside_potential", r.UpsidePotential},
		column{"floor_safety", r.FloorSafety},
		column{"total_article_count", r.TotalArticleCount},
		column{"overall_sentiment", r.OverallSentiment},
		column{"overall_signal_strength", r.OverallSignal},
		column{"confidence", r.Confidence},
		column{"low_confidence", r.LowConfidence},
	)
}

// Flat returns the row as a column-name map.
func (r Row) Flat() map[string]any {
	cols := r.columns()
	out := make(map[string]any, len(cols))
	for _, c := range cols {
		out[c.name] = c.value
	}
	return out
}

// Header is the CSV header for rows with the default dimensions.
func Header() []string {
	var names []string
	for _, c := range BuildRow(core.Entity{}, core.Round{}, core.Season{}, nil, core.WeeklyVerdict{}).columns() {
		names = append(names, c.name)
	}
	return names
}

// Write encodes rows in the given format.
func Write(w io.Writer, format Format, rows []Row) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, rows)
	default:
		return WriteJSON(w, rows)
	}
}

// WriteCSV writes a header line and one line per row.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range rows {
		cols := r.columns()
		record := make([]string, len(cols))
		for i, c := range cols {
			record[i] = formatValue(c.value)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes rows as a JSON array of flat objects.
func WriteJSON(w io.Writer, rows []Row) error {
	flat := make([]map[string]any, len(rows))
	for i, r := range rows {
		flat[i] = r.Flat()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(flat)
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', 4, 64)
	}
	return fmt.Sprint(v)
}
