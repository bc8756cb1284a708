package dedup

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"newsintel/internal/core"
	"newsintel/internal/persistence"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, persistence.Database, *clock) {
	t.Helper()
	db := persistence.NewMemoryDB()
	c := &clock{now: time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)}
	return NewStore(db.Articles(), db.Cache(), Options{Now: c.Now}), db, c
}

func submission(url, body string) core.Submission {
	return core.Submission{
		URL:    url,
		Title:  "Smith ruled out, hamstring, 3 weeks",
		Body:   body,
		Source: "AFL.com.au",
	}
}

func TestAdmitSameURLTwice(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	first, err := s.Admit(ctx, submission("https://www.afl.com.au/news/1?utm_source=x", "Smith injured his hamstring."))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if first.Status != StatusAccepted || first.Err() != nil {
		t.Fatalf("first admit = %+v, want accepted", first)
	}
	if first.Article.TriageStatus != core.StatePending || first.Article.AnalysisStatus != core.StatePending {
		t.Errorf("new article should be pending both stages, got %+v", first.Article)
	}

	// Same page with different tracking params and changed content.
	second, err := s.Admit(ctx, submission("http://afl.com.au/news/1/", "Updated: Smith will miss a month."))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !second.Duplicate() || second.Reason != ReasonURL {
		t.Fatalf("second admit = %+v, want url duplicate", second)
	}
	if second.Existing.ID != first.Article.ID {
		t.Errorf("duplicate should point at %s, got %s", first.Article.ID, second.Existing.ID)
	}
	if !errors.Is(second.Err(), core.ErrDuplicateInput) {
		t.Errorf("duplicate Err() = %v", second.Err())
	}
}

func TestAdmitSyndicatedBody(t *testing.T) {
	s, db, _ := newTestStore(t)
	ctx := context.Background()

	first, err := s.Admit(ctx, submission("https://heraldsun.com.au/a", "Smith ruled out  with a hamstring strain."))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	second, err := s.Admit(ctx, submission("https://foxsports.com.au/b", "smith ruled out with a HAMSTRING strain."))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !second.Duplicate() || second.Reason != ReasonBody {
		t.Fatalf("second admit = %+v, want body duplicate", second)
	}
	if second.Article == nil || second.Article.DuplicateOf != first.Article.ID {
		t.Fatalf("body duplicate should be stored pointing at the original, got %+v", second.Article)
	}

	pending, err := db.Articles().ListPending(ctx, persistence.StageTriage, time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC), 10)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != first.Article.ID {
		t.Errorf("only the original should await triage, got %d articles", len(pending))
	}

	// The syndicated URL is remembered too.
	third, err := s.Admit(ctx, submission("https://foxsports.com.au/b", "anything"))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if third.Reason != ReasonURL {
		t.Errorf("resubmitted syndicated url should be a url duplicate, got %+v", third)
	}
}

func TestAdmitValidation(t *testing.T) {
	s, _, _ := newTestStore(t)
	tests := []struct {
		name string
		sub  core.Submission
	}{
		{"missing url", core.Submission{Title: "t", Body: "b"}},
		{"missing body", core.Submission{URL: "https://x.com/1", Title: "t", Body: "   "}},
		{"missing title", core.Submission{URL: "https://x.com/1", Body: "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Admit(context.Background(), tt.sub); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestAdmitConcurrentSameURL(t *testing.T) {
	s, db, _ := newTestStore(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	results := make([]*AdmitResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.Admit(ctx, submission("https://afl.com.au/news/race", "Body text"))
			if err != nil {
				t.Errorf("Admit: %v", err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, r := range results {
		if r != nil && r.Status == StatusAccepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("expected exactly one accepted submission, got %d", accepted)
	}
	if n, _ := db.Articles().Count(ctx); n != 1 {
		t.Errorf("expected 1 stored article, got %d", n)
	}
}

func TestExtractText(t *testing.T) {
	html := `<html><head><script>var x = 1;</script></head><body>
<nav>Home | News</nav>
<article><h1>Smith ruled out</h1><p>Smith hurt his hamstring.</p><p>He will miss three weeks.</p></article>
<footer>Copyright</footer></body></html>`

	got := ExtractText(html)
	want := "Smith ruled out\n\nSmith hurt his hamstring.\n\nHe will miss three weeks."
	if got != want {
		t.Errorf("ExtractText() = %q, want %q", got, want)
	}
	for _, junk := range []string{"var x", "Home", "Copyright"} {
		if strings.Contains(got, junk) {
			t.Errorf("ExtractText kept page furniture %q", junk)
		}
	}

	plain := "  Plain text with a < b comparison.  "
	if got := ExtractText(plain); got != "Plain text with a < b comparison." {
		t.Errorf("plain text should pass through trimmed, got %q", got)
	}
}

func TestAdmitStripsHTML(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	res, err := s.Admit(ctx, submission("https://a.com/1", "<p>Smith is fit.</p>"))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if res.Article.Body != "Smith is fit." {
		t.Errorf("stored body = %q", res.Article.Body)
	}

	// The same text submitted as plain text is a syndicated copy.
	dup, err := s.Admit(ctx, submission("https://b.com/2", "Smith is fit."))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if dup.Reason != ReasonBody {
		t.Errorf("expected body duplicate across html and plain text, got %+v", dup)
	}
}

func TestEvict(t *testing.T) {
	s, db, c := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Admit(ctx, submission("https://a.com/1", "first body")); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := db.Cache().Set(ctx, "k", []byte("v"), c.Now().Add(time.Hour)); err != nil {
		t.Fatalf("cache Set: %v", err)
	}

	res, err := s.Evict(ctx)
	if err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if res.Articles != 0 || res.CacheEntries != 0 {
		t.Errorf("nothing should expire yet, got %+v", res)
	}

	c.Advance(DefaultRetention)
	res, err = s.Evict(ctx)
	if err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if res.Articles != 1 || res.CacheEntries != 1 {
		t.Errorf("expected one article and one cache entry evicted, got %+v", res)
	}

	// An evicted URL is admissible again.
	again, err := s.Admit(ctx, submission("https://a.com/1", "first body"))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if again.Status != StatusAccepted {
		t.Errorf("expected re-admission after eviction, got %+v", again)
	}
}
