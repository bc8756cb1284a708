package extraction

import (
	"context"
	"time"

	"newsintel/internal/core"
)

// Facts maps an event's structured payload to entity attributes. Every key is
// prefixed by its dimension, and "<dimension>_as_of" records the publication
// time the facts come from. Dimensions without lasting facts return nil.
func Facts(e core.ExtractionEvent) map[string]any {
	if e.Degraded() {
		return nil
	}
	facts := map[string]any{}
	switch p := PayloadOf(e).(type) {
	case InjuryPayload:
		facts["injury_type"] = p.InjuryType
		facts["injury_severity"] = firstNonEmpty(p.Severity, e.Severity)
		facts["injury_ruled_out"] = p.RuledOut
		facts["injury_return_weeks"] = intOrNil(p.ReturnWeeks)
		facts["injury_return_round"] = intOrNil(p.ReturnRound)
	case FitnessPayload:
		facts["fitness_status"] = p.Status
		facts["fitness_test"] = p.FitnessTest
		facts["fitness_return_round"] = intOrNil(p.ReturnRound)
	case SelectionPayload:
		facts["selection_status"] = p.Status
		if p.Position != "" {
			facts["selection_position"] = p.Position
		}
	case RolePayload:
		if p.To == "" {
			return nil
		}
		facts["role_current"] = p.To
		facts["role_previous"] = p.From
	case LoadPayload:
		facts["load_plan"] = p.Plan
		facts["load_minutes_restricted"] = p.MinutesRestricted
	default:
		return nil
	}
	facts[asOfKey(e.Dimension)] = e.PublishedAt.UTC().Format(time.RFC3339)
	return facts
}

// applyFacts merges the event's facts into the entity unless newer facts for
// the same dimension are already recorded.
func (s *Stage) applyFacts(ctx context.Context, entity *core.Entity, e *core.ExtractionEvent) {
	facts := Facts(*e)
	if len(facts) == 0 {
		return
	}
	if prev, ok := entity.Attributes[asOfKey(e.Dimension)].(string); ok {
		if at, err := time.Parse(time.RFC3339, prev); err == nil && at.After(e.PublishedAt) {
			return
		}
	}
	if err := s.db.Entities().MergeAttributes(ctx, entity.ID, facts); err != nil {
		s.log.Warn("Failed to update entity facts", "entity_id", entity.ID, "dimension", e.Dimension, "error", err)
	}
}

func asOfKey(dim core.DimensionCode) string {
	return string(dim) + "_as_of"
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
