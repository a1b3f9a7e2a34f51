package ingest

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// extractHTML pulls the readable text out of an HTML document. It tries
// readability's article extraction first and falls back to stripping
// markup when no article can be found. The returned title may be empty.
func extractHTML(html string, pageURL *url.URL) (title, text string, err error) {
	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err == nil {
		title = strings.TrimSpace(article.Title)
		text = strings.TrimSpace(article.TextContent)
	}
	if text != "" {
		return title, text, nil
	}

	strippedTitle, strippedText, err := strippedPage(html)
	if err != nil {
		return "", "", err
	}
	if title == "" {
		title = strippedTitle
	}
	return title, strippedText, nil
}

// strippedPage flattens a document to its title and visible text.
func strippedPage(html string) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("parsing html: %w", err)
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, template").Remove()
	text = strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	return title, text, nil
}
