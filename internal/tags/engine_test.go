package tags

import (
	"context"
	"testing"

	"newsintel/internal/core"
	"newsintel/internal/persistence"
)

func TestScanKeywords(t *testing.T) {
	hits := ScanKeywords("Smith ruled out, hamstring, 3 weeks", "The Crows midfielder injured his HAMSTRING at training. Coach praised his attitude.")

	byGroup := make(map[string]KeywordHit)
	for _, h := range hits {
		byGroup[h.Group] = h
	}

	injury, ok := byGroup["injury"]
	if !ok {
		t.Fatalf("expected injury group hit, got %+v", hits)
	}
	if !injury.InHeadline {
		t.Errorf("injury keywords appear in the headline")
	}
	if injury.Count != 4 {
		t.Errorf("injury count = %d, want 4 (ruled out, hamstring x2, injur)", injury.Count)
	}
	if injury.Dimension != core.DimensionInjury {
		t.Errorf("injury dimension = %s", injury.Dimension)
	}

	coaching, ok := byGroup["coaching"]
	if !ok || coaching.InHeadline {
		t.Errorf("expected body-only coaching hit, got %+v", coaching)
	}
	if _, ok := byGroup["trade"]; ok {
		t.Errorf("no trade keywords present")
	}
}

func TestTradeDefaultsToSelection(t *testing.T) {
	hits := ScanKeywords("Star requests trade home", "")
	for _, h := range hits {
		if h.Group == "trade" && h.Dimension != core.DimensionSelection {
			t.Errorf("trade should map to %s, got %s", core.DimensionSelection, h.Dimension)
		}
	}
}

func TestContextLabel(t *testing.T) {
	tests := []struct {
		window string
		want   string
	}{
		{"was sidelined with a knee problem", "injury"},
		{"is set to return from a long layoff", "return"},
		{"has been named in the side", "selection"},
		{"kicked four goals and had a great day", "general"},
		{"coach praised his work rate", "general"},
	}
	for _, tt := range tests {
		if got := ContextLabel(tt.window); got != tt.want {
			t.Errorf("ContextLabel(%q) = %q, want %q", tt.window, got, tt.want)
		}
	}
}

func TestTagKeywordsIdempotent(t *testing.T) {
	db := persistence.NewMemoryDB()
	e := NewEngine(db.Tags())
	ctx := context.Background()
	article := &core.Article{ID: "a1", Title: "Smith ruled out", Body: "He injured his calf."}

	for i := 0; i < 3; i++ {
		if _, err := e.TagKeywords(ctx, article); err != nil {
			t.Fatalf("TagKeywords: %v", err)
		}
	}
	tags, _ := db.Tags().ListByArticle(ctx, "a1")
	if len(tags) != 1 {
		t.Fatalf("expected 1 tag after repeated tagging, got %d: %+v", len(tags), tags)
	}
	if tags[0].MatchCount != 3 || tags[0].MatchedText != "calf, injur, ruled out" {
		t.Errorf("unexpected tag %+v", tags[0])
	}
}

func TestApplyExtractionSupersedesKeywordGuess(t *testing.T) {
	db := persistence.NewMemoryDB()
	e := NewEngine(db.Tags())
	ctx := context.Background()
	article := &core.Article{ID: "a1", Title: "Smith dropped after poor form", Body: "Smith was omitted."}

	if _, err := e.TagKeywords(ctx, article); err != nil {
		t.Fatalf("TagKeywords: %v", err)
	}
	before, _ := db.Tags().ListByArticle(ctx, "a1")
	if got := Dimensions(before); len(got) != 2 {
		t.Fatalf("expected selection and form guesses, got %v", got)
	}

	events := []core.ExtractionEvent{
		{ArticleID: "a1", Dimension: core.DimensionSelection, EventType: "omitted", Status: core.EventOK},
		{ArticleID: "a1", Status: core.EventDegraded},
	}
	if err := e.ApplyExtraction(ctx, "a1", events); err != nil {
		t.Fatalf("ApplyExtraction: %v", err)
	}

	after, _ := db.Tags().ListByArticle(ctx, "a1")
	for _, tag := range after {
		switch {
		case tag.TagType == core.TagKeyword && tag.TagValue == "form" && !tag.Superseded:
			t.Errorf("form guess should be superseded")
		case tag.TagType == core.TagKeyword && tag.TagValue == "selection" && tag.Superseded:
			t.Errorf("confirmed selection guess should not be superseded")
		}
	}
	dims := Dimensions(after)
	if len(dims) != 1 || dims[0] != core.DimensionSelection {
		t.Errorf("extracted dimension should win, got %v", dims)
	}

	// Re-running the keyword scan keeps the keyword tag for audit but does not
	// resurrect it.
	if _, err := e.TagKeywords(ctx, article); err != nil {
		t.Fatalf("TagKeywords: %v", err)
	}
	again, _ := db.Tags().ListByArticle(ctx, "a1")
	if len(again) != len(after) {
		t.Errorf("re-tagging changed tag count from %d to %d", len(after), len(again))
	}
	for _, tag := range again {
		if tag.TagValue == "form" && !tag.Superseded {
			t.Errorf("form guess resurrected by re-tagging")
		}
	}
}

func TestTagEntities(t *testing.T) {
	db := persistence.NewMemoryDB()
	e := NewEngine(db.Tags())
	ctx := context.Background()
	mentions := []core.Mention{
		{ArticleID: "a1", EntityID: "e1", MentionText: "Smith", MentionCount: 2, InHeadline: true},
		{ArticleID: "a1", MentionText: "Unknown Person", MentionCount: 1},
	}
	if err := e.TagEntities(ctx, "a1", mentions); err != nil {
		t.Fatalf("TagEntities: %v", err)
	}
	tags, _ := db.Tags().ListByValue(ctx, core.TagEntity, "e1", 0)
	if len(tags) != 1 || !tags[0].InHeadline || tags[0].MatchCount != 2 {
		t.Errorf("unexpected entity tags %+v", tags)
	}
	all, _ := db.Tags().ListByArticle(ctx, "a1")
	if len(all) != 1 {
		t.Errorf("unresolved mentions should not be tagged, got %d tags", len(all))
	}
}
