package document

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var blankLines = regexp.MustCompile(`\n{3,}`)

// parseHTML keeps headings, paragraphs, list items and table cells from the
// main content, falling back to the body text.
func parseHTML(content []byte) (parsed, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return parsed{}, fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, nav, footer").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	sel := doc.Find("main, article")
	if sel.Length() == 0 {
		sel = doc.Selection
	}

	var parts []string
	sel.Find("h1, h2, h3, h4, p, li, td, th, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		if t := collapse(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		if t := collapse(doc.Find("body").Text()); t != "" {
			parts = append(parts, t)
		}
	}

	text := blankLines.ReplaceAllString(strings.Join(parts, "\n"), "\n\n")
	return parsed{title: title, text: text}, nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
