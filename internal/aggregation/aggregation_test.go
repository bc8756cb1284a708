package aggregation

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"newsintel/internal/core"
	"newsintel/internal/extraction"
	"newsintel/internal/persistence"
)

var roundStart = time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)

type fixture struct {
	db     persistence.Database
	engine *Engine
	round  *core.Round
	now    time.Time
}

func newFixture(t *testing.T, now time.Time, dims []core.Dimension) *fixture {
	t.Helper()
	ctx := context.Background()
	db := persistence.NewMemoryDB()
	for _, d := range dims {
		if err := db.Dimensions().Upsert(ctx, d); err != nil {
			t.Fatalf("Upsert dimension: %v", err)
		}
	}
	season := &core.Season{Year: 2026, Name: "2026 AFL Premiership"}
	if err := db.Calendar().UpsertSeason(ctx, season); err != nil {
		t.Fatalf("UpsertSeason: %v", err)
	}
	f := &fixture{db: db, now: now}
	f.round = f.addRound(t, season.ID, 4, roundStart)
	f.engine = NewEngine(db, Options{Domain: "afl", Now: func() time.Time { return f.now }})
	return f
}

func (f *fixture) addRound(t *testing.T, seasonID string, number int, start time.Time) *core.Round {
	t.Helper()
	r := &core.Round{SeasonID: seasonID, Number: number, Name: fmt.Sprintf("Round %d", number), StartDate: start, EndDate: start.AddDate(0, 0, 3)}
	if err := f.db.Calendar().UpsertRound(context.Background(), r); err != nil {
		t.Fatalf("UpsertRound: %v", err)
	}
	return r
}

func (f *fixture) player(t *testing.T, name string) *core.Entity {
	t.Helper()
	e, _, err := f.db.Entities().GetOrCreate(context.Background(), &core.Entity{Domain: "afl", Type: core.EntityPlayer, CanonicalName: name})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	return e
}

func event(entityID, fp string, dim core.DimensionCode, s core.Sentiment, confidence float64, published time.Time) core.ExtractionEvent {
	return core.ExtractionEvent{
		Fingerprint:  fp,
		ArticleID:    "article-" + fp,
		EntityID:     entityID,
		Domain:       "afl",
		Headline:     "headline " + fp,
		PublishedAt:  published,
		EventType:    "news",
		Dimension:    dim,
		Sentiment:    s,
		Confidence:   confidence,
		Summary:      "summary " + fp,
		Status:       core.EventOK,
		ModelVersion: "mock-model",
	}
}

func (f *fixture) append(t *testing.T, evs ...core.ExtractionEvent) {
	t.Helper()
	for i := range evs {
		if _, err := f.db.Events().Append(context.Background(), &evs[i]); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
}

func smithInjury(t *testing.T, entityID string) core.ExtractionEvent {
	t.Helper()
	weeks := 3
	payload, err := extraction.EncodePayload(extraction.InjuryPayload{InjuryType: "hamstring", Severity: "moderate", ReturnWeeks: &weeks, RuledOut: true}, nil)
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	ev := event(entityID, "smith-injury", core.DimensionInjury, core.SentimentNegative, 0.92, roundStart.Add(32*time.Hour))
	ev.EventType = "injury"
	ev.Severity = "moderate"
	ev.Payload = payload
	return ev
}

func TestBuildSnapshotConfidentReportDominates(t *testing.T) {
	at := roundStart.Add(time.Hour)
	events := []core.ExtractionEvent{
		event("e1", "a", core.DimensionInjury, core.SentimentNegative, 0.9, at),
		event("e1", "b", core.DimensionInjury, core.SentimentPositive, 0.2, at.Add(time.Hour)),
		event("e1", "c", core.DimensionInjury, core.SentimentPositive, 0.2, at.Add(2*time.Hour)),
		event("e1", "d", core.DimensionInjury, core.SentimentPositive, 0.2, at.Add(3*time.Hour)),
	}
	snap := BuildSnapshot("e1", "r4", core.DimensionInjury, events)
	if snap.Sentiment != core.SentimentNegative {
		t.Errorf("sentiment = %s, want negative", snap.Sentiment)
	}
	if snap.SignalStrength != core.SignalModerate {
		t.Errorf("signal = %s, want moderate", snap.SignalStrength)
	}
	if snap.ArticleCount != 4 || snap.Features.EventCount != 4 || !snap.Features.Mentioned {
		t.Errorf("unexpected provenance %+v", snap)
	}
	if !snap.ComputedAt.Equal(at.Add(3 * time.Hour)) {
		t.Errorf("ComputedAt should be the latest event time, got %v", snap.ComputedAt)
	}

	reversed := []core.ExtractionEvent{events[3], events[2], events[1], events[0]}
	if again := BuildSnapshot("e1", "r4", core.DimensionInjury, reversed); !reflect.DeepEqual(snap, again) {
		t.Errorf("snapshot depends on event order:\n%+v\n%+v", snap, again)
	}
}

func TestSmithInjuryScenario(t *testing.T) {
	f := newFixture(t, roundStart.AddDate(0, 0, 8), core.DefaultDimensions())
	smith := f.player(t, "Jack Smith")
	f.append(t, smithInjury(t, smith.ID))
	ctx := context.Background()

	res, err := f.engine.RunRound(ctx, f.round.ID, RunOptions{})
	if err != nil {
		t.Fatalf("RunRound: %v", err)
	}
	if res.Snapshots != 1 || res.Verdicts != 1 || len(res.Errors) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	snaps, _ := f.db.Snapshots().List(ctx, smith.ID, f.round.ID)
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snaps))
	}
	if snaps[0].Dimension != core.DimensionInjury || snaps[0].SignalStrength != core.SignalStrong || snaps[0].Sentiment != core.SentimentNegative {
		t.Errorf("unexpected snapshot %+v", snaps[0])
	}
	if snaps[0].Features.SeverityScore != 0.5 {
		t.Errorf("severity score = %v, want 0.5", snaps[0].Features.SeverityScore)
	}

	v, err := f.db.Verdicts().Get(ctx, smith.ID, f.round.ID)
	if err != nil {
		t.Fatalf("Get verdict: %v", err)
	}
	if v.CaptainRating != injuryCaptainCap || v.RiskLevel != core.RiskHigh || v.TradeSignal != core.TradeSell {
		t.Errorf("unexpected verdict %+v", v)
	}
	if v.SignalStrength != core.SignalStrong || v.LowConfidence {
		t.Errorf("verdict should be a confident strong signal, got %+v", v)
	}
	if len(v.RiskFactors) == 0 || v.CaptainReasoning == "" || v.TradeReasoning == "" {
		t.Errorf("verdict should explain itself: %+v", v)
	}

	profile, err := f.db.Profiles().Get(ctx, smith.ID, core.DimensionInjury)
	if err != nil {
		t.Fatalf("Get profile: %v", err)
	}
	if profile.WeeksCovered != 1 || profile.Trend != core.TrendStable || profile.LastRoundID != f.round.ID {
		t.Errorf("unexpected profile %+v", profile)
	}
}

func TestZeroEventVerdict(t *testing.T) {
	f := newFixture(t, roundStart.AddDate(0, 0, 8), core.DefaultDimensions())
	quiet := f.player(t, "Quiet Player")
	ctx := context.Background()

	if _, err := f.engine.RunRound(ctx, f.round.ID, RunOptions{}); err != nil {
		t.Fatalf("RunRound: %v", err)
	}
	v, err := f.db.Verdicts().Get(ctx, quiet.ID, f.round.ID)
	if err != nil {
		t.Fatalf("expected a verdict for an entity with no events: %v", err)
	}
	if v.RiskLevel != core.RiskMedium || v.TradeSignal != core.TradeHold || v.SignalStrength != core.SignalNone {
		t.Errorf("unexpected default verdict %+v", v)
	}
	if v.CaptainRating != neutralCaptainRating || !v.LowConfidence || v.EventCount != 0 {
		t.Errorf("default verdict should be neutral and low confidence, got %+v", v)
	}
}

func TestOpenRoundWaitsForEvidence(t *testing.T) {
	f := newFixture(t, roundStart.Add(36*time.Hour), core.DefaultDimensions())
	quiet := f.player(t, "Quiet Player")
	ctx := context.Background()

	res, err := f.engine.RunRound(ctx, f.round.ID, RunOptions{})
	if err != nil {
		t.Fatalf("RunRound: %v", err)
	}
	if res.Skipped != 1 || res.Verdicts != 0 {
		t.Errorf("open round without events should be skipped, got %+v", res)
	}
	if state, _ := f.engine.State(ctx, quiet.ID, f.round.ID); state != StateNotStarted {
		t.Errorf("state = %s, want %s", state, StateNotStarted)
	}

	res, err = f.engine.RunRound(ctx, f.round.ID, RunOptions{Force: true})
	if err != nil {
		t.Fatalf("RunRound force: %v", err)
	}
	if res.Verdicts != 1 {
		t.Errorf("forced run should emit the default verdict, got %+v", res)
	}
}

func TestRunRoundIsIdempotent(t *testing.T) {
	f := newFixture(t, roundStart.AddDate(0, 0, 8), core.DefaultDimensions())
	smith := f.player(t, "Jack Smith")
	at := roundStart.Add(10 * time.Hour)
	f.append(t,
		smithInjury(t, smith.ID),
		event(smith.ID, "form-1", core.DimensionForm, core.SentimentPositive, 0.7, at),
		event(smith.ID, "form-2", core.DimensionForm, core.SentimentNeutral, 0.4, at.Add(time.Hour)),
	)
	ctx := context.Background()

	snapshotsAndVerdict := func() ([]core.WeeklySnapshot, *core.WeeklyVerdict) {
		if _, err := f.engine.RunRound(ctx, f.round.ID, RunOptions{}); err != nil {
			t.Fatalf("RunRound: %v", err)
		}
		snaps, _ := f.db.Snapshots().List(ctx, smith.ID, f.round.ID)
		v, err := f.db.Verdicts().Get(ctx, smith.ID, f.round.ID)
		if err != nil {
			t.Fatalf("Get verdict: %v", err)
		}
		return snaps, v
	}

	s1, v1 := snapshotsAndVerdict()
	s2, v2 := snapshotsAndVerdict()
	if len(s1) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(s1))
	}
	if !reflect.DeepEqual(s1, s2) {
		t.Errorf("snapshots changed between runs")
	}
	if !reflect.DeepEqual(v1, v2) {
		t.Errorf("verdict changed between runs:\n%+v\n%+v", v1, v2)
	}
	all, _ := f.db.Snapshots().ListByRound(ctx, f.round.ID)
	if len(all) != 2 {
		t.Errorf("re-run accumulated snapshots: %d", len(all))
	}
}

func TestRerunEarlierRoundIgnoresLaterRounds(t *testing.T) {
	f := newFixture(t, roundStart.AddDate(0, 0, 8), core.DefaultDimensions())
	next := f.addRound(t, f.round.SeasonID, 5, roundStart.AddDate(0, 0, 7))
	smith := f.player(t, "Jack Smith")
	f.append(t,
		event(smith.ID, "cleared", core.DimensionInjury, core.SentimentPositive, 0.95, roundStart.Add(10*time.Hour)),
		event(smith.ID, "setback", core.DimensionInjury, core.SentimentNegative, 0.95, next.StartDate.Add(10*time.Hour)),
	)
	ctx := context.Background()

	run := func(roundID string) {
		t.Helper()
		res, err := f.engine.RunRound(ctx, roundID, RunOptions{EntityIDs: []string{smith.ID}})
		if err != nil {
			t.Fatalf("RunRound %s: %v", roundID, err)
		}
		if len(res.Errors) != 0 {
			t.Fatalf("RunRound %s errors: %v", roundID, res.Errors)
		}
	}
	verdict := func(roundID string) *core.WeeklyVerdict {
		t.Helper()
		v, err := f.db.Verdicts().Get(ctx, smith.ID, roundID)
		if err != nil {
			t.Fatalf("Get verdict: %v", err)
		}
		return v
	}

	run(f.round.ID)
	first := verdict(f.round.ID)
	run(next.ID)
	later := verdict(next.ID)
	run(f.round.ID)
	rerun := verdict(f.round.ID)

	if !reflect.DeepEqual(first, rerun) {
		t.Errorf("round 4 verdict changed after round 5 was aggregated:\n%+v\n%+v", first, rerun)
	}
	for _, factor := range rerun.RiskFactors {
		if factor == "injury status trend declining" {
			t.Errorf("round 4 verdict carries a round 5 trend: %v", rerun.RiskFactors)
		}
	}
	if len(later.RiskFactors) == 0 {
		t.Errorf("round 5 verdict should flag the setback, got %+v", later)
	}

	profile, err := f.db.Profiles().Get(ctx, smith.ID, core.DimensionInjury)
	if err != nil {
		t.Fatalf("Get profile: %v", err)
	}
	if profile.LastRoundID != next.ID || profile.WeeksCovered != 2 {
		t.Errorf("stored profile should still end at round 5, got %+v", profile)
	}
}

func TestMissingDimensionHaltsOnlyThatEntity(t *testing.T) {
	var dims []core.Dimension
	for _, d := range core.DefaultDimensions() {
		if d.Code != core.DimensionInjury {
			dims = append(dims, d)
		}
	}
	f := newFixture(t, roundStart.AddDate(0, 0, 8), dims)
	smith := f.player(t, "Jack Smith")
	other := f.player(t, "Other Player")
	f.append(t,
		smithInjury(t, smith.ID),
		event(other.ID, "other-form", core.DimensionForm, core.SentimentPositive, 0.8, roundStart.Add(time.Hour)),
	)
	ctx := context.Background()

	res, err := f.engine.RunRound(ctx, f.round.ID, RunOptions{})
	if err != nil {
		t.Fatalf("RunRound: %v", err)
	}
	if len(res.Errors) != 1 || !errors.Is(res.Errors[0], core.ErrAggregationInconsistency) {
		t.Fatalf("expected one inconsistency error, got %v", res.Errors)
	}
	if _, err := f.db.Verdicts().Get(ctx, smith.ID, f.round.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("failed entity should have no verdict")
	}
	if _, err := f.db.Verdicts().Get(ctx, other.ID, f.round.ID); err != nil {
		t.Errorf("other entity should still be verdicted: %v", err)
	}
}

func TestStateMachine(t *testing.T) {
	f := newFixture(t, roundStart.Add(36*time.Hour), core.DefaultDimensions())
	smith := f.player(t, "Jack Smith")
	ctx := context.Background()

	check := func(want State) {
		t.Helper()
		got, err := f.engine.State(ctx, smith.ID, f.round.ID)
		if err != nil {
			t.Fatalf("State: %v", err)
		}
		if got != want {
			t.Errorf("state = %s, want %s", got, want)
		}
	}

	check(StateNotStarted)
	f.append(t, smithInjury(t, smith.ID))
	check(StatePartialEvidence)

	// Snapshots written without a verdict, as when a run stops midway.
	snap := BuildSnapshot(smith.ID, f.round.ID, core.DimensionInjury, []core.ExtractionEvent{smithInjury(t, smith.ID)})
	if err := f.db.Snapshots().Replace(ctx, smith.ID, f.round.ID, []core.WeeklySnapshot{snap}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	check(StateSnapshotted)

	if _, err := f.engine.RunRound(ctx, f.round.ID, RunOptions{EntityIDs: []string{smith.ID}}); err != nil {
		t.Fatalf("RunRound: %v", err)
	}
	check(StateVerdicted)
}

func TestBuildProfileTrends(t *testing.T) {
	type point struct {
		s   core.Sentiment
		sig core.SignalStrength
	}
	build := func(points ...point) []RoundSnapshot {
		var out []RoundSnapshot
		for i, p := range points {
			r := core.Round{ID: string(rune('a' + i)), Number: i + 1, StartDate: roundStart.AddDate(0, 0, 7*i)}
			out = append(out, RoundSnapshot{Round: r, Snapshot: core.WeeklySnapshot{
				Sentiment: p.s, SignalStrength: p.sig, Confidence: 0.8,
				Features: core.SnapshotFeatures{SentimentScore: 0.5},
			}})
		}
		return out
	}
	neg, pos, neu := core.SentimentNegative, core.SentimentPositive, core.SentimentNeutral

	tests := []struct {
		name    string
		history []RoundSnapshot
		want    core.Trend
	}{
		{"improving", build(point{neg, core.SignalStrong}, point{neu, core.SignalWeak}, point{pos, core.SignalModerate}, point{pos, core.SignalStrong}), core.TrendImproving},
		{"declining", build(point{pos, core.SignalStrong}, point{pos, core.SignalWeak}, point{neg, core.SignalModerate}), core.TrendDeclining},
		{"volatile", build(point{pos, core.SignalStrong}, point{neg, core.SignalStrong}, point{pos, core.SignalStrong}, point{neg, core.SignalStrong}), core.TrendVolatile},
		{"single round", build(point{neg, core.SignalStrong}), core.TrendStable},
		{"flat", build(point{neu, core.SignalWeak}, point{neu, core.SignalWeak}, point{neu, core.SignalWeak}), core.TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := BuildProfile("e1", core.DimensionForm, tt.history, ProfileOptions{})
			if !ok {
				t.Fatal("expected a profile")
			}
			if p.Trend != tt.want {
				t.Errorf("trend = %s, want %s (slope %.3f)", p.Trend, tt.want, p.Features.TrendDirection)
			}
			if p.Narrative == "" || p.WeeksCovered != len(tt.history) {
				t.Errorf("unexpected profile %+v", p)
			}
		})
	}

	long := build(point{pos, core.SignalStrong}, point{pos, core.SignalStrong}, point{pos, core.SignalStrong}, point{pos, core.SignalStrong}, point{pos, core.SignalStrong}, point{pos, core.SignalStrong})
	p, _ := BuildProfile("e1", core.DimensionForm, long, ProfileOptions{})
	if p.WeeksCovered != DefaultWindowRounds || p.LastRoundID != "f" {
		t.Errorf("window should keep the latest %d rounds, got %+v", DefaultWindowRounds, p)
	}
	if _, ok := BuildProfile("e1", core.DimensionForm, nil, ProfileOptions{}); ok {
		t.Error("empty history should not produce a profile")
	}
}

func TestVerdictThresholds(t *testing.T) {
	trades := []struct {
		composite float64
		want      core.TradeSignal
	}{
		{0.6, core.TradeStrongBuy},
		{0.25, core.TradeBuy},
		{0, core.TradeHold},
		{-0.3, core.TradeSell},
		{-0.5, core.TradeStrongSell},
	}
	for _, tt := range trades {
		if got := tradeSignal(tt.composite); got != tt.want {
			t.Errorf("tradeSignal(%v) = %s, want %s", tt.composite, got, tt.want)
		}
	}

	risks := []struct {
		score float64
		want  core.RiskLevel
	}{
		{0.9, core.RiskExtreme},
		{0.6, core.RiskHigh},
		{0.3, core.RiskMedium},
		{0.1, core.RiskLow},
	}
	for _, tt := range risks {
		if got := riskLevel(tt.score); got != tt.want {
			t.Errorf("riskLevel(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}

	sum := 0.0
	for _, w := range Weights {
		sum += w
	}
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("weights sum to %v, want 1", sum)
	}
}

func TestPositiveFormVerdict(t *testing.T) {
	round := core.Round{ID: "r4", StartDate: roundStart, EndDate: roundStart.AddDate(0, 0, 3)}
	snaps := []core.WeeklySnapshot{
		{Dimension: core.DimensionForm, Sentiment: core.SentimentPositive, SignalStrength: core.SignalStrong, Confidence: 0.9},
		{Dimension: core.DimensionCaptaincy, Sentiment: core.SentimentPositive, SignalStrength: core.SignalStrong, Confidence: 0.8},
		{Dimension: core.DimensionSelection, Sentiment: core.SentimentPositive, SignalStrength: core.SignalModerate, Confidence: 0.7},
	}
	v := BuildVerdict(VerdictInput{EntityID: "e1", Round: round, Snapshots: snaps, EventCount: 5})
	if v.CaptainRating <= 70 {
		t.Errorf("captain rating = %d, want > 70", v.CaptainRating)
	}
	if v.TradeSignal != core.TradeBuy && v.TradeSignal != core.TradeStrongBuy {
		t.Errorf("trade signal = %s, want a buy", v.TradeSignal)
	}
	if v.RiskLevel != core.RiskLow {
		t.Errorf("risk = %s, want low", v.RiskLevel)
	}
	if v.Features.FormScore != 1 || v.Features.InjuryRisk != 0 {
		t.Errorf("unexpected features %+v", v.Features)
	}
	if len(v.DimensionsCovered) != 3 {
		t.Errorf("dimensions covered = %v", v.DimensionsCovered)
	}
}
