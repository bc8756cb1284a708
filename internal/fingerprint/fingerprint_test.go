package fingerprint

import "testing"

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases host", "https://WWW.AFL.com.au/news/123", "https://afl.com.au/news/123"},
		{"drops fragment and tracking", "https://afl.com.au/news/123?utm_source=x&id=5#top", "https://afl.com.au/news/123?id=5"},
		{"sorts query", "https://afl.com.au/a?b=2&a=1", "https://afl.com.au/a?a=1&b=2"},
		{"trailing slash", "http://afl.com.au/news/", "https://afl.com.au/news"},
		{"root", "https://afl.com.au/", "https://afl.com.au"},
		{"not a url", "  Some Thing ", "some thing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeURL(tt.in); got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestURLFingerprintStable(t *testing.T) {
	a := URL("https://www.afl.com.au/news/123?utm_campaign=z")
	b := URL("https://afl.com.au/news/123/")
	if a != b {
		t.Errorf("expected equivalent URLs to share a fingerprint")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestBodyFingerprint(t *testing.T) {
	a := Body("Smith ruled out.\n\n  Hamstring, three weeks.")
	b := Body("smith ruled out. hamstring, three weeks.")
	if a != b {
		t.Error("whitespace and case differences should not change the body fingerprint")
	}
	if a == Body("Smith cleared to play.") {
		t.Error("different bodies must not collide")
	}
}

func TestHashSeparatesParts(t *testing.T) {
	if Hash("ab", "c") == Hash("a", "bc") {
		t.Error("part boundaries must affect the hash")
	}
	if Event("Smith out", "AFL", "e1") == Event("Smith out", "AFL", "e2") {
		t.Error("event fingerprints must differ per entity")
	}
	if Prompt("m1", "p") == Prompt("m2", "p") {
		t.Error("prompt fingerprints must differ per model")
	}
}
