package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"newsintel/internal/core"
	"newsintel/internal/entities"
	"newsintel/internal/llm"
	"newsintel/internal/persistence"
	"newsintel/internal/store"
	"newsintel/internal/tags"
)

const smithResponse = `{"event_type":"injury","dimension":"injury_status","sentiment":"negative",` +
	`"severity":"moderate","confidence":0.92,"summary":"Smith will miss three weeks with a hamstring strain.",` +
	`"related_entities":["Tom Jones"],"details":{"injury_type":"hamstring","return_weeks":3,"ruled_out":true}}`

const smithBody = "Adelaide midfielder Jack Smith injured his hamstring at training on Thursday. " +
	"The Crows expect Smith to miss three weeks, with Tom Jones set to come in."

type fixture struct {
	db       persistence.Database
	resolver *entities.Resolver
	provider *llm.MockProvider
	stage    *Stage
	smith    *core.Entity
}

func newFixture(t *testing.T, provider *llm.MockProvider, cacheRepo persistence.CacheRepository) *fixture {
	t.Helper()
	db := persistence.NewMemoryDB()
	if cacheRepo == nil {
		cacheRepo = db.Cache()
	}
	r := entities.NewResolver(db, entities.Options{})
	f := &fixture{db: db, resolver: r, provider: provider}
	f.stage = NewStage(db, provider, r, tags.NewEngine(db.Tags()), cacheRepo, Options{
		RetryBackoff: time.Millisecond,
		MaxBackoff:   5 * time.Millisecond,
	})
	f.smith = f.entity(t, "Jack Smith")
	return f
}

func (f *fixture) entity(t *testing.T, name string) *core.Entity {
	t.Helper()
	e, _, err := f.resolver.GetOrCreate(context.Background(), core.Entity{Domain: "afl", Type: core.EntityPlayer, CanonicalName: name})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	return e
}

// article stores an article already through triage with one flagged mention of Smith.
func (f *fixture) article(t *testing.T, title string) (*core.Article, core.Mention) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	published := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	a := &core.Article{
		URL:            "https://example.com/" + title,
		URLFingerprint: title,
		Title:          title,
		Body:           smithBody,
		Source:         "afl.com.au",
		PublishedAt:    &published,
		FetchedAt:      now,
		ExpiresAt:      now.Add(24 * time.Hour),
		TriageStatus:   core.StateDone,
		AnalysisStatus: core.StatePending,
	}
	if err := f.db.Articles().Insert(ctx, a); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	m := core.Mention{
		ArticleID:         a.ID,
		EntityID:          f.smith.ID,
		EntityType:        core.EntityPlayer,
		MentionText:       "Jack Smith",
		MentionCount:      2,
		IsPrimary:         true,
		InHeadline:        true,
		NeedsDeepAnalysis: true,
	}
	if err := f.db.Mentions().Upsert(ctx, &m); err != nil {
		t.Fatalf("Upsert mention: %v", err)
	}
	return a, m
}

func TestBuildPromptIsDeterministic(t *testing.T) {
	published := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	a := &core.Article{Title: "Smith ruled out", Source: "afl.com.au", Body: strings.Repeat("é", 5000), PublishedAt: &published}
	dims := core.DefaultDimensions()

	p1 := BuildPrompt(a, "Jack Smith", dims, 0)
	p2 := BuildPrompt(a, "Jack Smith", dims, 0)
	if p1 != p2 {
		t.Fatal("prompt changed between identical calls")
	}
	if strings.Count(p1, "é") != DefaultExcerptChars {
		t.Errorf("body should be cut to %d runes, got %d", DefaultExcerptChars, strings.Count(p1, "é"))
	}
	for _, code := range core.DimensionCodes() {
		if !strings.Contains(p1, string(code)) {
			t.Errorf("prompt is missing guidance for %s", code)
		}
	}
	if !strings.Contains(p1, "2026-04-02T08:00:00Z") {
		t.Error("prompt should carry the publication time")
	}
	if BuildPrompt(a, "Tom Jones", dims, 0) == p1 {
		t.Error("different entities must produce different prompts")
	}
}

func TestNormalizeDimension(t *testing.T) {
	tests := []struct {
		dimension, eventType string
		want                 core.DimensionCode
	}{
		{"injury_status", "", core.DimensionInjury},
		{"Form", "", core.DimensionForm},
		{"", "trade", core.DimensionSelection},
		{"", "return", core.DimensionFitness},
		{"", "contract", core.DimensionRole},
		{"vibes", "other", core.DimensionUnknown},
	}
	for _, tt := range tests {
		if got := NormalizeDimension(tt.dimension, tt.eventType); got != tt.want {
			t.Errorf("NormalizeDimension(%q, %q) = %q, want %q", tt.dimension, tt.eventType, got, tt.want)
		}
	}
}

func TestDecodePayload(t *testing.T) {
	p := DecodePayload(core.DimensionInjury, json.RawMessage(`{"injury_type":"hamstring","severity":"moderate","return_weeks":3}`))
	inj, ok := p.(InjuryPayload)
	if !ok {
		t.Fatalf("expected InjuryPayload, got %T", p)
	}
	if inj.InjuryType != "hamstring" || inj.ReturnWeeks == nil || *inj.ReturnWeeks != 3 {
		t.Errorf("unexpected payload %+v", inj)
	}
	if got := SeverityScore(inj); got != 0.5 {
		t.Errorf("SeverityScore = %v, want 0.5", got)
	}

	if _, ok := DecodePayload(core.DimensionInjury, json.RawMessage(`"hamstring"`)).(UnparsedPayload); !ok {
		t.Error("details of the wrong shape should fall back to UnparsedPayload")
	}
	if _, ok := DecodePayload(core.DimensionUnknown, json.RawMessage(`{}`)).(UnparsedPayload); !ok {
		t.Error("unknown dimension should fall back to UnparsedPayload")
	}
	if _, ok := DecodePayload(core.DimensionForm, nil).(FormPayload); !ok {
		t.Error("missing details should still produce the dimension's variant")
	}
}

func TestPayloadOfStoredEvent(t *testing.T) {
	raw, err := EncodePayload(SelectionPayload{Status: "omitted"}, []Quote{{Text: "He'll play VFL", Speaker: "Coach"}})
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	p := PayloadOf(core.ExtractionEvent{Payload: raw})
	sel, ok := p.(SelectionPayload)
	if !ok || sel.Status != "omitted" {
		t.Fatalf("unexpected payload %#v", p)
	}
	if SeverityScore(sel) != 0.75 {
		t.Errorf("omission should score 0.75")
	}
	if _, ok := PayloadOf(core.ExtractionEvent{}).(UnparsedPayload); !ok {
		t.Error("empty payload should decode as unparsed")
	}
}

func TestRunArticleExtractsInjury(t *testing.T) {
	f := newFixture(t, llm.NewMockProvider(smithResponse), nil)
	jones := f.entity(t, "Tom Jones")
	a, m := f.article(t, "Smith ruled out, hamstring, 3 weeks")
	ctx := context.Background()

	res, err := f.stage.RunArticle(ctx, a.ID)
	if err != nil {
		t.Fatalf("RunArticle: %v", err)
	}
	if len(res.Outcomes) != 1 || !res.Completed || len(res.Errors) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	ev := res.Outcomes[0].Event
	if ev.Dimension != core.DimensionInjury || ev.Severity != "moderate" || ev.Sentiment != core.SentimentNegative {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.Confidence != 0.92 || ev.Degraded() || ev.ModelVersion != "mock-model" {
		t.Errorf("unexpected event metadata %+v", ev)
	}
	if len(ev.RelatedEntityIDs) != 1 || ev.RelatedEntityIDs[0] != jones.ID {
		t.Errorf("related entities = %v, want [%s]", ev.RelatedEntityIDs, jones.ID)
	}
	if !ev.PublishedAt.Equal(*a.PublishedAt) {
		t.Errorf("event should carry the article's publication time")
	}

	stored, _ := f.db.Mentions().Get(ctx, m.ID)
	if !stored.AnalysisCompleted {
		t.Error("mention should be marked analysed")
	}
	article, _ := f.db.Articles().Get(ctx, a.ID)
	if article.AnalysisStatus != core.StateDone {
		t.Error("article analysis should be done")
	}

	articleTags, _ := f.db.Tags().ListByArticle(ctx, a.ID)
	found := false
	for _, tag := range articleTags {
		if tag.TagType == core.TagDimension && tag.Dimension == core.DimensionInjury {
			found = true
		}
	}
	if !found {
		t.Error("expected an injury_status dimension tag")
	}
}

func TestExtractionRecordsEntityFacts(t *testing.T) {
	provider := llm.NewMockProvider(smithResponse)
	f := newFixture(t, provider, nil)
	a, m := f.article(t, "Smith ruled out, hamstring, 3 weeks")
	ctx := context.Background()

	if _, err := f.stage.ExtractMention(ctx, a, m); err != nil {
		t.Fatalf("ExtractMention: %v", err)
	}
	smith, err := f.db.Entities().Get(ctx, f.smith.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := map[string]any{
		"injury_type":         "hamstring",
		"injury_severity":     "moderate",
		"injury_ruled_out":    true,
		"injury_return_weeks": 3,
		"injury_status_as_of": "2026-04-02T08:00:00Z",
	}
	for k, v := range want {
		if got := smith.Attributes[k]; got != v {
			t.Errorf("attribute %s = %v, want %v", k, got, v)
		}
	}

	// An older report arriving late must not replace the newer facts.
	provider.Text = strings.NewReplacer("hamstring", "calf", `"return_weeks":3`, `"return_weeks":1`).Replace(smithResponse)
	older, om := f.article(t, "Smith calf scare")
	earlier := time.Date(2026, 3, 30, 8, 0, 0, 0, time.UTC)
	older.PublishedAt = &earlier
	out, err := f.stage.ExtractMention(ctx, older, om)
	if err != nil {
		t.Fatalf("ExtractMention older: %v", err)
	}
	if !out.Appended {
		t.Fatal("older report should still be appended to the event log")
	}
	smith, _ = f.db.Entities().Get(ctx, f.smith.ID)
	if smith.Attributes["injury_type"] != "hamstring" || smith.Attributes["injury_return_weeks"] != 3 {
		t.Errorf("older report overwrote newer facts: %v", smith.Attributes)
	}
}

func TestFacts(t *testing.T) {
	published := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	encode := func(p Payload) json.RawMessage {
		raw, err := EncodePayload(p, nil)
		if err != nil {
			t.Fatalf("EncodePayload: %v", err)
		}
		return raw
	}

	tests := []struct {
		name  string
		event core.ExtractionEvent
		want  map[string]any
	}{
		{
			name:  "selection",
			event: core.ExtractionEvent{Dimension: core.DimensionSelection, Status: core.EventOK, PublishedAt: published, Payload: encode(SelectionPayload{Status: "named", Position: "wing"})},
			want:  map[string]any{"selection_status": "named", "selection_position": "wing", "selection_security_as_of": "2026-04-02T08:00:00Z"},
		},
		{
			name:  "role change",
			event: core.ExtractionEvent{Dimension: core.DimensionRole, Status: core.EventOK, PublishedAt: published, Payload: encode(RolePayload{From: "forward", To: "midfield"})},
			want:  map[string]any{"role_current": "midfield", "role_previous": "forward", "role_change_as_of": "2026-04-02T08:00:00Z"},
		},
		{
			name:  "form has no lasting facts",
			event: core.ExtractionEvent{Dimension: core.DimensionForm, Status: core.EventOK, PublishedAt: published, Payload: encode(FormPayload{Trend: "up"})},
		},
		{
			name:  "degraded",
			event: core.ExtractionEvent{Status: core.EventDegraded, PublishedAt: published},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Facts(tt.event)
			if len(got) != len(tt.want) {
				t.Fatalf("Facts = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestExtractMentionIsIdempotent(t *testing.T) {
	f := newFixture(t, llm.NewMockProvider(smithResponse), nil)
	a, m := f.article(t, "Smith ruled out, hamstring, 3 weeks")
	ctx := context.Background()

	first, err := f.stage.ExtractMention(ctx, a, m)
	if err != nil {
		t.Fatalf("ExtractMention: %v", err)
	}
	second, err := f.stage.ExtractMention(ctx, a, m)
	if err != nil {
		t.Fatalf("ExtractMention again: %v", err)
	}
	if !first.Appended || second.Appended {
		t.Errorf("only the first extraction should append")
	}
	if first.Event.Fingerprint != second.Event.Fingerprint {
		t.Error("fingerprints differ")
	}
	if f.provider.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1", f.provider.Calls())
	}
	if n, _ := f.db.Events().Count(ctx); n != 1 {
		t.Errorf("event log has %d entries, want 1", n)
	}
}

func TestRetriesTransientFailures(t *testing.T) {
	provider := &llm.MockProvider{Text: smithResponse, FailFirst: 2}
	f := newFixture(t, provider, nil)
	a, m := f.article(t, "Smith ruled out, hamstring, 3 weeks")

	out, err := f.stage.ExtractMention(context.Background(), a, m)
	if err != nil {
		t.Fatalf("ExtractMention: %v", err)
	}
	if out.Event.Degraded() {
		t.Errorf("third attempt succeeded, event should not be degraded")
	}
	if provider.Calls() != 3 {
		t.Errorf("provider calls = %d, want 3", provider.Calls())
	}
}

func TestMalformedResponseIsRetried(t *testing.T) {
	var n atomic.Int32
	provider := &llm.MockProvider{Respond: func(req llm.Request) (string, error) {
		if n.Add(1) == 1 {
			return `{"event_type": "injury", "summary": "cut off`, nil
		}
		return smithResponse, nil
	}}
	f := newFixture(t, provider, nil)
	a, m := f.article(t, "Smith ruled out, hamstring, 3 weeks")

	out, err := f.stage.ExtractMention(context.Background(), a, m)
	if err != nil {
		t.Fatalf("ExtractMention: %v", err)
	}
	if out.Event.Degraded() || provider.Calls() != 2 {
		t.Errorf("expected success on second call, got degraded=%v calls=%d", out.Event.Degraded(), provider.Calls())
	}
}

func TestExhaustedRetriesRecordDegradedEvent(t *testing.T) {
	provider := &llm.MockProvider{Text: smithResponse, FailFirst: 100, Err: errors.New("503 from provider")}
	f := newFixture(t, provider, nil)
	a, m := f.article(t, "Smith ruled out, hamstring, 3 weeks")
	ctx := context.Background()

	res, err := f.stage.RunArticle(ctx, a.ID)
	if err != nil {
		t.Fatalf("RunArticle: %v", err)
	}
	if res.Degraded != 1 || !res.Completed {
		t.Fatalf("unexpected result %+v", res)
	}
	ev := res.Outcomes[0].Event
	if ev.Status != core.EventDegraded || ev.Confidence != 0 || ev.Dimension != core.DimensionUnknown {
		t.Errorf("unexpected degraded event %+v", ev)
	}
	if !strings.Contains(ev.FailureReason, "503 from provider") {
		t.Errorf("failure reason should carry the cause, got %q", ev.FailureReason)
	}
	if provider.Calls() != DefaultRetryAttempts {
		t.Errorf("provider calls = %d, want %d", provider.Calls(), DefaultRetryAttempts)
	}
	stored, _ := f.db.Mentions().Get(ctx, m.ID)
	if !stored.AnalysisCompleted {
		t.Error("a degraded extraction still completes the mention")
	}
	articleTags, _ := f.db.Tags().ListByArticle(ctx, a.ID)
	for _, tag := range articleTags {
		if tag.TagType == core.TagDimension {
			t.Errorf("degraded events must not produce dimension tags, got %+v", tag)
		}
	}
}

func TestDegradedReasonIsValidUTF8(t *testing.T) {
	provider := &llm.MockProvider{FailFirst: 100, Err: errors.New(strings.Repeat("é", 400))}
	f := newFixture(t, provider, nil)
	a, m := f.article(t, "Smith ruled out, hamstring, 3 weeks")
	ctx := context.Background()

	out, err := f.stage.ExtractMention(ctx, a, m)
	if err != nil {
		t.Fatalf("ExtractMention: %v", err)
	}
	reason := out.Event.FailureReason
	if !out.Event.Degraded() || !strings.Contains(reason, "é") {
		t.Fatalf("expected a degraded event carrying the cause, got %+v", out.Event)
	}
	if !utf8.ValidString(reason) {
		t.Errorf("failure reason is not valid UTF-8: tail %q", reason[len(reason)-4:])
	}
	if n := utf8.RuneCountInString(reason); n > maxFailureReason {
		t.Errorf("failure reason has %d runes, want at most %d", n, maxFailureReason)
	}
	if stored, _ := f.db.Mentions().Get(ctx, m.ID); !stored.AnalysisCompleted {
		t.Error("mention should be completed by the degraded event")
	}
}

func TestCacheSharedAcrossStages(t *testing.T) {
	cacheStore, err := store.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer func() { _ = cacheStore.Close() }()

	provider := llm.NewMockProvider(smithResponse)
	first := newFixture(t, provider, cacheStore)
	second := newFixture(t, provider, cacheStore)
	ctx := context.Background()

	a1, m1 := first.article(t, "Smith ruled out, hamstring, 3 weeks")
	a2, m2 := second.article(t, "Smith ruled out, hamstring, 3 weeks")

	out1, err := first.stage.ExtractMention(ctx, a1, m1)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	out2, err := second.stage.ExtractMention(ctx, a2, m2)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if out1.Cached || !out2.Cached {
		t.Errorf("cached flags = %v, %v; want false, true", out1.Cached, out2.Cached)
	}
	if provider.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1", provider.Calls())
	}
	if out1.Event.PromptFingerprint != out2.Event.PromptFingerprint {
		t.Error("identical prompts should share a fingerprint")
	}
}

func TestGetOrComputeCoalescesConcurrentCalls(t *testing.T) {
	db := persistence.NewMemoryDB()
	cache := NewCache(db.Cache(), time.Hour, nil)
	provider := &llm.MockProvider{Text: "answer", Latency: 50 * time.Millisecond}

	const n = 16
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := cache.GetOrCompute(context.Background(), "same-prompt", func(ctx context.Context) ([]byte, error) {
				resp, err := provider.Complete(ctx, llm.Request{Prompt: "p"})
				if err != nil {
					return nil, err
				}
				return []byte(resp.Text), nil
			})
			results[i], errs[i] = string(v), err
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil || results[i] != "answer" {
			t.Fatalf("caller %d got %q, %v", i, results[i], errs[i])
		}
	}
	if provider.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1", provider.Calls())
	}

	// Later callers hit the stored entry.
	_, hit, err := cache.GetOrCompute(context.Background(), "same-prompt", func(ctx context.Context) ([]byte, error) {
		t.Error("compute should not run on a cache hit")
		return nil, nil
	})
	if err != nil || !hit {
		t.Errorf("expected hit, got hit=%v err=%v", hit, err)
	}
}

func TestGetOrComputeCallerCancellation(t *testing.T) {
	db := persistence.NewMemoryDB()
	cache := NewCache(db.Cache(), time.Hour, nil)
	release := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := cache.GetOrCompute(ctx, "k", func(ctx context.Context) ([]byte, error) {
			<-release
			return []byte("v"), nil
		})
		done <- err
	}()
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	close(release)

	// The detached computation still completes and fills the cache.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if v, err := db.Cache().Get(context.Background(), "k", time.Now()); err == nil && string(v) == "v" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("cache entry was not written after the caller gave up")
}

func TestRunArticleExpired(t *testing.T) {
	f := newFixture(t, llm.NewMockProvider(smithResponse), nil)
	if _, err := f.stage.RunArticle(context.Background(), "missing"); !errors.Is(err, core.ErrArticleExpired) {
		t.Errorf("expected ErrArticleExpired, got %v", err)
	}
}
