package persistence

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"newsintel/internal/core"
)

// runContract exercises the behaviour every Database implementation must share.
// Keys are randomised so the suite can run against a long-lived Postgres.
func runContract(t *testing.T, db Database) {
	ctx := context.Background()
	suffix := uuid.NewString()[:8]
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("entity get-or-create is idempotent", func(t *testing.T) {
		e := &core.Entity{Domain: "afl", Type: core.EntityPlayer, CanonicalName: "Marcus Bontempelli " + suffix}
		first, created, err := db.Entities().GetOrCreate(ctx, e)
		if err != nil || !created {
			t.Fatalf("first GetOrCreate: created=%v err=%v", created, err)
		}
		again, created, err := db.Entities().GetOrCreate(ctx, &core.Entity{
			Domain: "AFL", Type: core.EntityPlayer, CanonicalName: "marcus  bontempelli " + suffix,
		})
		if err != nil {
			t.Fatalf("second GetOrCreate: %v", err)
		}
		if created || again.ID != first.ID {
			t.Errorf("expected existing entity %s, got %s (created=%v)", first.ID, again.ID, created)
		}

		if err := db.Entities().MergeAttributes(ctx, first.ID, map[string]any{"club": "Western Bulldogs"}); err != nil {
			t.Fatalf("MergeAttributes: %v", err)
		}
		got, err := db.Entities().Get(ctx, first.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Attributes["club"] != "Western Bulldogs" {
			t.Errorf("attributes not merged: %v", got.Attributes)
		}

		if _, err := db.Entities().Get(ctx, uuid.NewString()); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("alias insert-if-absent", func(t *testing.T) {
		e, _, err := db.Entities().GetOrCreate(ctx, &core.Entity{Domain: "afl", Type: core.EntityPlayer, CanonicalName: "Nick Daicos " + suffix})
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		alias := &core.Alias{EntityID: e.ID, Domain: "afl", EntityType: core.EntityPlayer, Text: "Daicos " + suffix, Confidence: 0.9, Provenance: core.AliasManual}
		inserted, err := db.Aliases().InsertIfAbsent(ctx, alias)
		if err != nil || !inserted {
			t.Fatalf("first insert: inserted=%v err=%v", inserted, err)
		}
		inserted, err = db.Aliases().InsertIfAbsent(ctx, &core.Alias{EntityID: e.ID, Domain: "afl", Text: "DAICOS " + suffix, Confidence: 0.5})
		if err != nil || inserted {
			t.Fatalf("duplicate insert: inserted=%v err=%v", inserted, err)
		}
		if err := db.Aliases().Touch(ctx, alias.ID, now); err != nil {
			t.Fatalf("Touch: %v", err)
		}
		aliases, err := db.Aliases().ListByEntity(ctx, e.ID)
		if err != nil {
			t.Fatalf("ListByEntity: %v", err)
		}
		if len(aliases) != 1 || aliases[0].Confidence != 0.9 {
			t.Fatalf("unexpected aliases: %+v", aliases)
		}
		if !aliases[0].LastUsedAt.Equal(now) {
			t.Errorf("LastUsedAt = %v, want %v", aliases[0].LastUsedAt, now)
		}
	})

	t.Run("article lifecycle", func(t *testing.T) {
		article := &core.Article{
			URL: "https://example.com/" + suffix, URLFingerprint: "url-" + suffix, BodyFingerprint: "body-" + suffix,
			Title: "Headline", Body: "Body", Source: "example", FetchedAt: now, ExpiresAt: now.Add(24 * time.Hour),
			TriageStatus: core.StatePending, AnalysisStatus: core.StatePending,
		}
		if err := db.Articles().Insert(ctx, article); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		dup := *article
		dup.ID = ""
		if err := db.Articles().Insert(ctx, &dup); !errors.Is(err, core.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}

		byBody, err := db.Articles().GetByBodyFingerprint(ctx, "body-"+suffix)
		if err != nil || byBody.ID != article.ID {
			t.Fatalf("GetByBodyFingerprint: %v %v", byBody, err)
		}

		pending, err := db.Articles().ListPending(ctx, StageTriage, now, 0)
		if err != nil {
			t.Fatalf("ListPending: %v", err)
		}
		if !containsArticle(pending, article.ID) {
			t.Errorf("article should be pending triage")
		}
		if err := db.Articles().SetStatus(ctx, article.ID, StageTriage, core.StateDone); err != nil {
			t.Fatalf("SetStatus: %v", err)
		}
		pending, _ = db.Articles().ListPending(ctx, StageAnalysis, now, 0)
		if !containsArticle(pending, article.ID) {
			t.Errorf("article should be pending analysis after triage")
		}
		pending, _ = db.Articles().ListPending(ctx, StageAnalysis, now.Add(48*time.Hour), 0)
		if containsArticle(pending, article.ID) {
			t.Errorf("expired article should not be pending")
		}

		m := &core.Mention{ArticleID: article.ID, MentionText: "Unknown Player " + suffix, MentionCount: 1, Context: "general"}
		if err := db.Mentions().Upsert(ctx, m); err != nil {
			t.Fatalf("Upsert mention: %v", err)
		}
		e, _, _ := db.Entities().GetOrCreate(ctx, &core.Entity{Domain: "afl", Type: core.EntityPlayer, CanonicalName: "Unknown Player " + suffix})
		if err := db.Mentions().Resolve(ctx, m.ID, e.ID, true, "retriage"); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		// A later unresolved upsert must not clear the entity.
		if err := db.Mentions().Upsert(ctx, &core.Mention{ArticleID: article.ID, MentionText: "unknown player " + suffix, MentionCount: 2}); err != nil {
			t.Fatalf("re-upsert: %v", err)
		}
		got, err := db.Mentions().Get(ctx, m.ID)
		if err != nil {
			t.Fatalf("Get mention: %v", err)
		}
		if got.EntityID != e.ID || got.MentionCount != 2 {
			t.Errorf("mention after re-upsert = %+v", got)
		}

		tag := &core.ArticleTag{ArticleID: article.ID, TagType: core.TagKeyword, TagValue: "injury", Dimension: core.DimensionInjury, MatchCount: 1}
		if err := db.Tags().Upsert(ctx, tag); err != nil {
			t.Fatalf("Upsert tag: %v", err)
		}
		tag.MatchCount = 3
		if err := db.Tags().Upsert(ctx, tag); err != nil {
			t.Fatalf("Upsert tag again: %v", err)
		}
		tags, _ := db.Tags().ListByArticle(ctx, article.ID)
		if len(tags) != 1 || tags[0].MatchCount != 3 {
			t.Errorf("tags = %+v", tags)
		}

		evicted, err := db.Articles().DeleteExpired(ctx, now.Add(25*time.Hour))
		if err != nil || evicted < 1 {
			t.Fatalf("DeleteExpired: n=%d err=%v", evicted, err)
		}
		if _, err := db.Articles().Get(ctx, article.ID); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("expected article evicted, got %v", err)
		}
		if mentions, _ := db.Mentions().ListByArticle(ctx, article.ID); len(mentions) != 0 {
			t.Errorf("mentions should be evicted with the article")
		}
	})

	t.Run("event log is append-only", func(t *testing.T) {
		event := &core.ExtractionEvent{
			Fingerprint: "fp-" + suffix, ArticleID: "a-" + suffix, EntityID: "e-" + suffix,
			Headline: "h", PublishedAt: now, Dimension: core.DimensionInjury, Sentiment: core.SentimentNegative,
			Confidence: 0.8, Status: core.EventOK, Payload: []byte(`{"injury_type":"hamstring"}`),
			RelatedEntityIDs: []string{"other"},
		}
		written, err := db.Events().Append(ctx, event)
		if err != nil || !written {
			t.Fatalf("Append: written=%v err=%v", written, err)
		}
		again := *event
		again.ID = ""
		again.Confidence = 0.1
		written, err = db.Events().Append(ctx, &again)
		if err != nil || written {
			t.Fatalf("duplicate Append: written=%v err=%v", written, err)
		}
		stored, err := db.Events().GetByFingerprint(ctx, event.Fingerprint)
		if err != nil {
			t.Fatalf("GetByFingerprint: %v", err)
		}
		if stored.Confidence != 0.8 || len(stored.RelatedEntityIDs) != 1 {
			t.Errorf("stored event was modified: %+v", stored)
		}
		list, _ := db.Events().ListByEntity(ctx, "e-"+suffix, now.Add(-time.Hour), now.Add(time.Hour))
		if len(list) != 1 {
			t.Errorf("ListByEntity returned %d events", len(list))
		}
		list, _ = db.Events().ListByEntity(ctx, "e-"+suffix, now.Add(time.Minute), now.Add(time.Hour))
		if len(list) != 0 {
			t.Errorf("window should exclude earlier events")
		}
	})

	t.Run("cache expiry", func(t *testing.T) {
		key := "cache-" + suffix
		if _, err := db.Cache().Get(ctx, key, now); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("expected miss, got %v", err)
		}
		if err := db.Cache().Set(ctx, key, []byte("v"), now.Add(time.Hour)); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if v, err := db.Cache().Get(ctx, key, now); err != nil || string(v) != "v" {
			t.Fatalf("Get: %q %v", v, err)
		}
		if _, err := db.Cache().Get(ctx, key, now.Add(time.Hour)); !errors.Is(err, core.ErrCacheExpired) {
			t.Fatalf("expected ErrCacheExpired, got %v", err)
		}
	})

	t.Run("single current season", func(t *testing.T) {
		a := &core.Season{Year: 3000 + int(now.UnixNano()%500), Name: "A " + suffix}
		b := &core.Season{Year: a.Year + 500, Name: "B " + suffix}
		for _, s := range []*core.Season{a, b} {
			if err := db.Calendar().UpsertSeason(ctx, s); err != nil {
				t.Fatalf("UpsertSeason: %v", err)
			}
		}
		if err := db.Calendar().SetCurrentSeason(ctx, a.ID); err != nil {
			t.Fatalf("SetCurrentSeason: %v", err)
		}
		if err := db.Calendar().SetCurrentSeason(ctx, b.ID); err != nil {
			t.Fatalf("SetCurrentSeason: %v", err)
		}
		cur, err := db.Calendar().CurrentSeason(ctx)
		if err != nil || cur.ID != b.ID {
			t.Fatalf("CurrentSeason = %v, %v", cur, err)
		}
		seasons, _ := db.Calendar().ListSeasons(ctx)
		current := 0
		for _, s := range seasons {
			if s.IsCurrent {
				current++
			}
		}
		if current != 1 {
			t.Errorf("expected exactly one current season, got %d", current)
		}

		start := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
		round := &core.Round{SeasonID: b.ID, Number: 1, Name: "Round 1", StartDate: start, EndDate: start.AddDate(0, 0, 3)}
		if err := db.Calendar().UpsertRound(ctx, round); err != nil {
			t.Fatalf("UpsertRound: %v", err)
		}
		again := &core.Round{SeasonID: b.ID, Number: 1, Name: "Round One", StartDate: start, EndDate: start.AddDate(0, 0, 3)}
		if err := db.Calendar().UpsertRound(ctx, again); err != nil {
			t.Fatalf("UpsertRound again: %v", err)
		}
		if again.ID != round.ID {
			t.Errorf("round upsert should keep id %s, got %s", round.ID, again.ID)
		}
	})

	t.Run("snapshot replace", func(t *testing.T) {
		entityID, roundID := "e-"+suffix, "r-"+suffix
		first := []core.WeeklySnapshot{
			{EntityID: entityID, RoundID: roundID, Dimension: core.DimensionInjury, Sentiment: core.SentimentNegative, SignalStrength: core.SignalStrong, ComputedAt: now},
			{EntityID: entityID, RoundID: roundID, Dimension: core.DimensionForm, Sentiment: core.SentimentPositive, SignalStrength: core.SignalWeak, ComputedAt: now},
		}
		if err := db.Snapshots().Replace(ctx, entityID, roundID, first); err != nil {
			t.Fatalf("Replace: %v", err)
		}
		second := []core.WeeklySnapshot{
			{EntityID: entityID, RoundID: roundID, Dimension: core.DimensionForm, Sentiment: core.SentimentNeutral, SignalStrength: core.SignalNone, ComputedAt: now},
		}
		if err := db.Snapshots().Replace(ctx, entityID, roundID, second); err != nil {
			t.Fatalf("Replace: %v", err)
		}
		snaps, _ := db.Snapshots().List(ctx, entityID, roundID)
		if len(snaps) != 1 || snaps[0].Sentiment != core.SentimentNeutral {
			t.Errorf("snapshots after replace = %+v", snaps)
		}
		wrong := []core.WeeklySnapshot{{EntityID: "other", RoundID: roundID, Dimension: core.DimensionForm}}
		if err := db.Snapshots().Replace(ctx, entityID, roundID, wrong); err == nil {
			t.Errorf("expected error for foreign snapshot")
		}
	})

	t.Run("verdict upsert", func(t *testing.T) {
		v := &core.WeeklyVerdict{EntityID: "e-" + suffix, RoundID: "r-" + suffix, CaptainRating: 70,
			RiskLevel: core.RiskLow, TradeSignal: core.TradeBuy, SignalStrength: core.SignalModerate,
			DimensionsCovered: []core.DimensionCode{core.DimensionForm}, ComputedAt: now}
		if err := db.Verdicts().Upsert(ctx, v); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		v.CaptainRating = 40
		if err := db.Verdicts().Upsert(ctx, v); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		got, err := db.Verdicts().Get(ctx, v.EntityID, v.RoundID)
		if err != nil || got.CaptainRating != 40 || len(got.DimensionsCovered) != 1 {
			t.Fatalf("Get = %+v, %v", got, err)
		}
	})
}

func containsArticle(articles []core.Article, id string) bool {
	for _, a := range articles {
		if a.ID == id {
			return true
		}
	}
	return false
}

func TestMemoryDB(t *testing.T) {
	runContract(t, NewMemoryDB())
}

func TestMemoryDBSeedsDimensions(t *testing.T) {
	dims, err := NewMemoryDB().Dimensions().List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(dims) != len(core.DimensionCodes()) {
		t.Fatalf("expected %d dimensions, got %d", len(core.DimensionCodes()), len(dims))
	}
	if dims[0].Tier != 1 {
		t.Errorf("dimensions should be ordered by tier, first is %+v", dims[0])
	}
}

func TestMemoryDBReturnsCopies(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryDB()
	e, _, err := db.Entities().GetOrCreate(ctx, &core.Entity{Domain: "afl", Type: core.EntityTeam, CanonicalName: "Geelong Cats",
		Attributes: map[string]any{"state": "VIC"}})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	e.Attributes["state"] = "changed"
	got, _ := db.Entities().Get(ctx, e.ID)
	if got.Attributes["state"] != "VIC" {
		t.Errorf("stored entity was mutated through returned copy")
	}
}

// TestPostgresDB runs the shared contract against a real database.
// Run with: DATABASE_URL=postgres://... go test ./internal/persistence -run TestPostgresDB
func TestPostgresDB(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := NewPostgresDB(dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := NewMigrationManager(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	runContract(t, db)
}
