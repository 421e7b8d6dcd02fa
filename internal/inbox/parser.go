package inbox

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	reBlankLines = regexp.MustCompile(`\n\s*\n\s*\n+`)
	reSpaces     = regexp.MustCompile(`[ \t\r\f\v]+`)
	reMessageIDs = regexp.MustCompile(`<[^<>\s]+>`)
)

// HTMLToText renders an HTML body as plain text. Scripts and styles are
// dropped and block elements become line breaks.
func HTMLToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(html)
	}

	doc.Find("script, style, head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, tr, h1, h2, h3, h4, h5, h6, blockquote").Each(func(i int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	return normalizeWhitespace(doc.Text())
}

func normalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(reSpaces.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = reBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// ParseReferences splits a References or In-Reply-To header into ids
func ParseReferences(header string) []string {
	ids := reMessageIDs.FindAllString(header, -1)
	if len(ids) == 0 {
		if id := strings.TrimSpace(header); id != "" {
			return []string{NormalizeMessageID(id)}
		}
	}
	return ids
}

// NormalizeMessageID wraps a bare Message-ID in angle brackets
func NormalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.HasPrefix(id, "<") {
		return id
	}
	return "<" + id + ">"
}
