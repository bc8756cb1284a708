// Package fingerprint computes the fixed-length keys used for deduplication:
// article URLs, article bodies, LLM prompts and extraction events.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// trackingParams are dropped from URLs before hashing.
var trackingParams = map[string]bool{
	"fbclid": true,
	"gclid":  true,
	"ref":    true,
	"cmpid":  true,
}

// Hash returns the hex sha256 of the parts joined with a unit separator.
func Hash(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeURL canonicalises a URL so trivially different links to the same
// page hash identically.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme == "http" {
		u.Scheme = "https"
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		host += ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.User = nil

	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.Path == "/" {
		u.Path = ""
	}

	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		if strings.HasPrefix(strings.ToLower(k), "utm_") || trackingParams[strings.ToLower(k)] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		vals := q[k]
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	u.RawQuery = b.String()
	u.ForceQuery = false

	return u.String()
}

// NormalizeBody collapses whitespace and case so republished copies of the
// same text hash identically.
func NormalizeBody(body string) string {
	return strings.Join(strings.Fields(strings.ToLower(body)), " ")
}

// URL fingerprints a normalised URL.
func URL(raw string) string {
	return Hash(NormalizeURL(raw))
}

// Body fingerprints normalised body text.
func Body(body string) string {
	return Hash(NormalizeBody(body))
}

// Prompt fingerprints the exact prompt sent to a model.
func Prompt(model, prompt string) string {
	return Hash(model, prompt)
}

// Event fingerprints an extracted claim: the headline and source it came from
// and the entity it is about.
func Event(headline, source, entityID string) string {
	return Hash(strings.TrimSpace(headline), strings.ToLower(strings.TrimSpace(source)), entityID)
}
