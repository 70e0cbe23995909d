package dedup

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"PatchDiscovery/internal/domain"
)

// Canonicalize normalizes the text fields of an item. Markup in titles, summaries
// and key points is reduced to its text content.
func Canonicalize(item domain.DiscoveredItem) domain.DiscoveredItem {
	item.Title = plainText(item.Title)
	item.Summary = plainText(item.Summary)
	item.NotableQuote = plainText(item.NotableQuote)
	item.CanonicalURL = strings.TrimSpace(item.CanonicalURL)
	item.URL = strings.TrimSpace(item.URL)
	if item.Meta.Domain == "" {
		item.Meta.Domain = SourceDomain(item)
	}

	if len(item.KeyPoints) > 0 {
		points := make([]string, 0, len(item.KeyPoints))
		for _, p := range item.KeyPoints {
			if p = plainText(p); p != "" {
				points = append(points, p)
			}
		}
		item.KeyPoints = points
	}
	return item
}

func plainText(value string) string {
	if strings.ContainsAny(value, "<&") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(value))
		if err == nil {
			value = doc.Text()
		}
	}
	return strings.Join(strings.Fields(value), " ")
}
