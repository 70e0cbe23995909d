package dedup

import (
	"net/url"
	"strings"

	"PatchDiscovery/internal/domain"
)

// Key computes the stable dedup key of an item.
//
// Preference order: canonicalUrl, url, "domain|title", "id:<id>". The domain|title
// fallback can merge distinct items that share a title on the same domain; that is
// accepted behaviour. Items without any URL or domain dedup only by id, so two
// ids for the same content are never merged.
func Key(item domain.DiscoveredItem) string {
	if v := strings.TrimSpace(item.CanonicalURL); v != "" {
		return v
	}
	if v := strings.TrimSpace(item.URL); v != "" {
		return v
	}
	if d := SourceDomain(item); d != "" {
		return d + "|" + strings.TrimSpace(item.Title)
	}
	return "id:" + item.ID
}

// SourceDomain returns meta.domain, or the host of the item URL.
func SourceDomain(item domain.DiscoveredItem) string {
	if d := strings.TrimSpace(item.Meta.Domain); d != "" {
		return strings.ToLower(d)
	}
	for _, raw := range []string{item.CanonicalURL, item.URL} {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return strings.ToLower(strings.TrimPrefix(u.Host, "www."))
		}
	}
	return ""
}
