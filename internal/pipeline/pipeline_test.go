package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"newsintel/internal/aggregation"
	"newsintel/internal/calendar"
	"newsintel/internal/config"
	"newsintel/internal/core"
	"newsintel/internal/dedup"
	"newsintel/internal/llm"
	"newsintel/internal/persistence"
)

const smithResponse = `{"event_type":"injury","dimension":"injury_status","sentiment":"negative",` +
	`"severity":"moderate","confidence":0.92,"summary":"Smith will miss three weeks with a hamstring strain.",` +
	`"related_entities":[],"details":{"injury_type":"hamstring","return_weeks":3,"ruled_out":true}}`

var published = time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

var testFixture = calendar.Fixture{
	Year: 2026,
	Name: "2026 Test Season",
	Rounds: []calendar.FixtureRound{
		{Number: 3, Name: "Round 3", Start: "2026-03-26", End: "2026-03-29"},
		{Number: 4, Name: "Round 4", Start: "2026-04-02", End: "2026-04-05"},
	},
}

type fixture struct {
	db       persistence.Database
	provider *llm.MockProvider
	pipeline *Pipeline
	smith    *core.Entity
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := persistence.NewMemoryDB()
	for _, d := range core.DefaultDimensions() {
		if err := db.Dimensions().Upsert(ctx, d); err != nil {
			t.Fatalf("Upsert dimension: %v", err)
		}
	}
	if _, _, err := calendar.New(db, time.UTC).Seed(ctx, testFixture, true); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	f := &fixture{db: db, provider: llm.NewMockProvider(smithResponse), now: published.Add(2 * time.Hour)}
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.Extraction.RetryBackoff = time.Millisecond
	cfg.Extraction.MaxBackoff = 5 * time.Millisecond
	cfg.Now = func() time.Time { return f.now }

	p, err := NewBuilder(db).
		WithProvider(f.provider).
		WithLocation(time.UTC).
		WithConfig(cfg).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	f.pipeline = p

	f.smith, _, err = p.Resolver().GetOrCreate(ctx, core.Entity{Domain: "afl", Type: core.EntityPlayer, CanonicalName: "Jack Smith"})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	return f
}

func (f *fixture) submit(t *testing.T, url string) *SubmitResult {
	t.Helper()
	p := published
	res, err := f.pipeline.Submit(context.Background(), core.Submission{
		URL:         url,
		Title:       "Jack Smith hamstring blow",
		Body:        "Adelaide midfielder Jack Smith injured his hamstring at training on Thursday. The Crows expect Smith to miss three weeks.",
		Source:      "afl.com.au",
		PublishedAt: &p,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return res
}

func TestBuilderRequiresProvider(t *testing.T) {
	if _, err := NewBuilder(persistence.NewMemoryDB()).Build(); err == nil {
		t.Fatal("expected an error without a provider")
	}
	if _, err := NewBuilder(nil).WithProvider(llm.NewMockProvider("{}")).Build(); err == nil {
		t.Fatal("expected an error without a database")
	}
}

func TestSubmitAssignsRound(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t, "https://www.afl.com.au/news/smith-hamstring")
	if res.Status != dedup.StatusAccepted || res.ArticleID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.RoundID == "" {
		t.Fatal("expected the article to be assigned to round 4")
	}

	round, err := f.db.Calendar().GetRound(context.Background(), res.RoundID)
	if err != nil {
		t.Fatalf("GetRound: %v", err)
	}
	if round.Number != 4 {
		t.Errorf("assigned round %d, want 4", round.Number)
	}

	dup := f.submit(t, "https://www.afl.com.au/news/smith-hamstring?utm_source=x")
	if dup.Status != dedup.StatusDuplicate || dup.DuplicateOf != res.ArticleID {
		t.Errorf("expected a duplicate of %s, got %+v", res.ArticleID, dup)
	}
}

func TestProcessArticleEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.submit(t, "https://www.afl.com.au/news/smith-hamstring")

	report, err := f.pipeline.ProcessArticle(ctx, sub.ArticleID)
	if err != nil {
		t.Fatalf("ProcessArticle: %v", err)
	}
	if report.Triage == nil || report.Triage.Flagged != 1 {
		t.Fatalf("expected Smith to be flagged, got %+v", report.Triage)
	}
	if report.Extraction == nil {
		t.Fatal("expected an extraction result")
	}

	events, err := f.db.Events().ListByArticle(ctx, sub.ArticleID)
	if err != nil {
		t.Fatalf("ListByArticle: %v", err)
	}
	if len(events) != 1 || events[0].EntityID != f.smith.ID || events[0].Dimension != core.DimensionInjury {
		t.Fatalf("unexpected events %+v", events)
	}

	article, err := f.db.Articles().Get(ctx, sub.ArticleID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if article.TriageStatus != core.StateDone {
		t.Errorf("triage status = %s, want done", article.TriageStatus)
	}

	// A second run must not call the provider again.
	calls := f.provider.Calls()
	if _, err := f.pipeline.ProcessArticle(ctx, sub.ArticleID); err != nil {
		t.Fatalf("second ProcessArticle: %v", err)
	}
	if f.provider.Calls() != calls {
		t.Errorf("provider called %d more times on rerun", f.provider.Calls()-calls)
	}

	res, err := f.pipeline.Aggregate(ctx, "", aggregation.RunOptions{Force: true})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.RoundID != sub.RoundID {
		t.Errorf("aggregated round %s, want the current round %s", res.RoundID, sub.RoundID)
	}
	v, err := f.db.Verdicts().Get(ctx, f.smith.ID, sub.RoundID)
	if err != nil {
		t.Fatalf("Get verdict: %v", err)
	}
	if v.TradeSignal != core.TradeSell || v.RiskLevel != core.RiskHigh {
		t.Errorf("unexpected verdict %+v", v)
	}
}

func TestProcessExpiredArticle(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(t, "https://www.afl.com.au/news/smith-hamstring")

	f.now = f.now.Add(dedup.DefaultRetention + time.Minute)
	_, err := f.pipeline.ProcessArticle(context.Background(), sub.ArticleID)
	if !errors.Is(err, core.ErrArticleExpired) {
		t.Fatalf("expected ErrArticleExpired, got %v", err)
	}
	if f.provider.Calls() != 0 {
		t.Errorf("provider should not be called for an expired article")
	}

	_, err = f.pipeline.ProcessArticle(context.Background(), "missing")
	if !errors.Is(err, core.ErrArticleExpired) {
		t.Fatalf("expected a missing article to count as expired, got %v", err)
	}
}

func TestBatchPasses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	titles := []string{
		"Jack Smith trains freely",
		"Jack Smith named in squad",
	}
	for i, title := range titles {
		p := published.Add(time.Duration(i) * time.Minute)
		_, err := f.pipeline.Submit(ctx, core.Submission{
			URL:         fmt.Sprintf("https://www.afl.com.au/news/smith-%d", i),
			Title:       title,
			Body:        title + ". Smith is on track, said the coach of Smith.",
			Source:      "afl.com.au",
			PublishedAt: &p,
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	tr, err := f.pipeline.RunTriage(ctx)
	if err != nil {
		t.Fatalf("RunTriage: %v", err)
	}
	if tr.Articles != 2 || tr.Succeeded != 2 || tr.Failed != 0 {
		t.Fatalf("unexpected triage batch %+v", tr)
	}

	ar, err := f.pipeline.RunAnalysis(ctx)
	if err != nil {
		t.Fatalf("RunAnalysis: %v", err)
	}
	if ar.Articles != 2 || ar.Succeeded != 2 {
		t.Fatalf("unexpected analysis batch %+v", ar)
	}

	again, err := f.pipeline.RunAnalysis(ctx)
	if err != nil {
		t.Fatalf("RunAnalysis: %v", err)
	}
	if again.Articles != 0 {
		t.Errorf("expected nothing left to analyse, got %d", again.Articles)
	}

	f.now = f.now.Add(dedup.DefaultRetention + time.Minute)
	ev, err := f.pipeline.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if ev.Articles != 2 {
		t.Errorf("evicted %d articles, want 2", ev.Articles)
	}
}

func TestRetriageResolvesNewEntity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := published
	sub, err := f.pipeline.Submit(ctx, core.Submission{
		URL:         "https://www.afl.com.au/news/debut",
		Title:       "Harry Mcdonald set for debut",
		Body:        "Harry Mcdonald will debut this week. Mcdonald impressed at training.",
		Source:      "afl.com.au",
		PublishedAt: &p,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := f.pipeline.RunTriage(ctx); err != nil {
		t.Fatalf("RunTriage: %v", err)
	}

	if _, _, err := f.pipeline.Resolver().GetOrCreate(ctx, core.Entity{Domain: "afl", Type: core.EntityPlayer, CanonicalName: "Harry Mcdonald"}); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	res, err := f.pipeline.Retriage(ctx)
	if err != nil {
		t.Fatalf("Retriage: %v", err)
	}
	if res.Resolved == 0 {
		t.Fatalf("expected retriage to resolve the new player, got %+v", res)
	}

	mentions, err := f.db.Mentions().ListByArticle(ctx, sub.ArticleID)
	if err != nil {
		t.Fatalf("ListByArticle: %v", err)
	}
	var resolved bool
	for _, m := range mentions {
		if m.Resolved() {
			resolved = true
		}
	}
	if !resolved {
		t.Errorf("expected a resolved mention after retriage: %+v", mentions)
	}
}

func TestScheduleFromSettings(t *testing.T) {
	def := DefaultSchedule()
	tests := []struct {
		name string
		in   string
		want time.Duration
	}{
		{"empty uses default", "", def.Triage},
		{"explicit", "90s", 90 * time.Second},
		{"invalid uses default", "soon", def.Triage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ScheduleFromSettings(config.Daemon{TriageInterval: tt.in})
			if s.Triage != tt.want {
				t.Errorf("Triage = %v, want %v", s.Triage, tt.want)
			}
			if s.Cleanup != def.Cleanup {
				t.Errorf("Cleanup = %v, want default %v", s.Cleanup, def.Cleanup)
			}
		})
	}
}

func TestDaemonProcessesUntilCancelled(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(t, "https://www.afl.com.au/news/smith-hamstring")

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDaemon(f.pipeline, Schedule{Triage: 10 * time.Millisecond, Analysis: 10 * time.Millisecond})
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		a, err := f.db.Articles().Get(context.Background(), sub.ArticleID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if a.AnalysisStatus == core.StateDone {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatal("daemon did not analyse the article")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop after cancellation")
	}
}
