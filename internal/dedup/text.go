package dedup

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	htmlTag        = regexp.MustCompile(`(?i)<\s*/?\s*(p|div|br|span|article|section|h[1-6]|li|ul|html|body|a|strong|em)\b[^>]*>`)
	blankLineRegex = regexp.MustCompile(`\n\s*\n+`)
)

// LooksLikeHTML reports whether a submitted body still carries markup.
func LooksLikeHTML(body string) bool {
	return htmlTag.MatchString(body)
}

// ExtractText converts an HTML body to plain text, one block element per
// paragraph, dropping scripts, navigation and other page furniture. Plain text
// is returned trimmed but otherwise unchanged.
func ExtractText(body string) string {
	if !LooksLikeHTML(body) {
		return strings.TrimSpace(body)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return strings.TrimSpace(body)
	}

	// Remove common non-content elements
	doc.Find("script, style, nav, footer, header, aside, form, iframe, noscript, .ad, .advertisement, .cookie-banner").Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var b strings.Builder
	blocks := root.Find("p, h1, h2, h3, h4, h5, h6, li, blockquote, pre")
	if blocks.Length() == 0 {
		b.WriteString(strings.TrimSpace(root.Text()))
	}
	blocks.Each(func(_ int, item *goquery.Selection) {
		text := strings.TrimSpace(item.Text())
		if text == "" {
			return
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	})

	return strings.TrimSpace(blankLineRegex.ReplaceAllString(b.String(), "\n\n"))
}
