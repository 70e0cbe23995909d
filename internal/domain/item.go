package domain

import "time"

// ItemType enumerates the kinds of content the pipeline discovers.
type ItemType string

const (
	ItemArticle ItemType = "article"
	ItemVideo   ItemType = "video"
	ItemPDF     ItemType = "pdf"
	ItemImage   ItemType = "image"
	ItemText    ItemType = "text"
)

// ItemStatus reflects where a single item sits in the server pipeline.
type ItemStatus string

const (
	StatusQueued       ItemStatus = "queued"
	StatusFetching     ItemStatus = "fetching"
	StatusEnriching    ItemStatus = "enriching"
	StatusPendingAudit ItemStatus = "pending_audit"
	StatusReady        ItemStatus = "ready"
	StatusFailed       ItemStatus = "failed"
)

var statusRank = map[ItemStatus]int{
	StatusQueued:       0,
	StatusFetching:     1,
	StatusEnriching:    2,
	StatusPendingAudit: 3,
	StatusReady:        4,
}

// Terminal reports whether no further pipeline progress is expected.
func (s ItemStatus) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// Advances reports whether moving from s to next is pipeline progress.
// Failure is reachable from every non-terminal status; unknown statuses never advance.
func (s ItemStatus) Advances(next ItemStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	cur, ok := statusRank[s]
	if !ok {
		_, known := statusRank[next]
		return known
	}
	nr, ok := statusRank[next]
	return ok && nr > cur
}

// Hero references the representative media asset of an item.
type Hero struct {
	URL    string `json:"url"`
	Kind   string `json:"kind,omitempty"`
	Source string `json:"source,omitempty"`
}

// ItemMeta carries provenance details.
type ItemMeta struct {
	Domain      string     `json:"domain,omitempty"`
	Author      string     `json:"author,omitempty"`
	PublishDate *time.Time `json:"publishDate,omitempty"`
}

// DiscoveredItem is one piece of content found by the discovery pipeline.
type DiscoveredItem struct {
	ID             string     `json:"id"`
	CanonicalURL   string     `json:"canonicalUrl,omitempty"`
	URL            string     `json:"url,omitempty"`
	Type           ItemType   `json:"type,omitempty"`
	Status         ItemStatus `json:"status,omitempty"`
	Title          string     `json:"title,omitempty"`
	Summary        string     `json:"summary,omitempty"`
	KeyPoints      []string   `json:"keyPoints,omitempty"`
	NotableQuote   string     `json:"notableQuote,omitempty"`
	Hero           *Hero      `json:"hero,omitempty"`
	Meta           ItemMeta   `json:"meta"`
	RelevanceScore float64    `json:"relevanceScore,omitempty"`
	QualityScore   float64    `json:"qualityScore,omitempty"`
}
