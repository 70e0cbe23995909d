package dedup

import (
	"sync"

	"PatchDiscovery/internal/domain"
)

// Outcome classifies what Apply did with an incoming item.
type Outcome int

const (
	// Inserted means the key was unseen and the item was appended.
	Inserted Outcome = iota
	// Updated means a known item progressed and was replaced in place.
	Updated
	// Duplicate means a known item arrived without meaningful change and was dropped.
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Duplicate:
		return "duplicate"
	}
	return "unknown"
}

// Stats counts Apply outcomes since the last ResetStats.
type Stats struct {
	Inserted   int
	Updated    int
	Duplicates int
}

// Deduplicator keeps the ordered, key-unique list of visible items.
type Deduplicator struct {
	mu    sync.RWMutex
	index map[string]int
	items []domain.DiscoveredItem
	stats Stats
}

// New builds an empty deduplicator.
func New() *Deduplicator {
	return &Deduplicator{index: map[string]int{}}
}

// Apply merges one item event and reports the outcome.
func (d *Deduplicator) Apply(item domain.DiscoveredItem) Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()

	outcome := d.merge(Canonicalize(item))
	switch outcome {
	case Inserted:
		d.stats.Inserted++
	case Updated:
		d.stats.Updated++
	case Duplicate:
		d.stats.Duplicates++
	}
	return outcome
}

// Sync merges an authoritative item list without touching Stats.
// It returns how many items were appended.
func (d *Deduplicator) Sync(items []domain.DiscoveredItem) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	added := 0
	for _, item := range items {
		if d.merge(Canonicalize(item)) == Inserted {
			added++
		}
	}
	return added
}

func (d *Deduplicator) merge(item domain.DiscoveredItem) Outcome {
	key := Key(item)
	pos, seen := d.index[key]
	if !seen {
		d.index[key] = len(d.items)
		d.items = append(d.items, item)
		return Inserted
	}

	stored := d.items[pos]
	if !stored.Status.Advances(item.Status) {
		return Duplicate
	}
	d.items[pos] = fillFrom(item, stored)
	return Updated
}

// fillFrom keeps stored values for fields the newer event left empty.
func fillFrom(next, prev domain.DiscoveredItem) domain.DiscoveredItem {
	if next.ID == "" {
		next.ID = prev.ID
	}
	if next.CanonicalURL == "" {
		next.CanonicalURL = prev.CanonicalURL
	}
	if next.URL == "" {
		next.URL = prev.URL
	}
	if next.Type == "" {
		next.Type = prev.Type
	}
	if next.Title == "" {
		next.Title = prev.Title
	}
	if next.Summary == "" {
		next.Summary = prev.Summary
	}
	if len(next.KeyPoints) == 0 {
		next.KeyPoints = prev.KeyPoints
	}
	if next.NotableQuote == "" {
		next.NotableQuote = prev.NotableQuote
	}
	if next.Hero == nil {
		next.Hero = prev.Hero
	}
	if next.Meta.Domain == "" {
		next.Meta.Domain = prev.Meta.Domain
	}
	if next.Meta.Author == "" {
		next.Meta.Author = prev.Meta.Author
	}
	if next.Meta.PublishDate == nil {
		next.Meta.PublishDate = prev.Meta.PublishDate
	}
	if next.RelevanceScore == 0 {
		next.RelevanceScore = prev.RelevanceScore
	}
	if next.QualityScore == 0 {
		next.QualityScore = prev.QualityScore
	}
	return next
}

// Items returns a copy of the visible list in first-seen order.
func (d *Deduplicator) Items() []domain.DiscoveredItem {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]domain.DiscoveredItem, len(d.items))
	copy(out, d.items)
	return out
}

// Len returns the number of visible items.
func (d *Deduplicator) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.items)
}

// Lookup returns the stored item for key.
func (d *Deduplicator) Lookup(key string) (domain.DiscoveredItem, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	pos, ok := d.index[key]
	if !ok {
		return domain.DiscoveredItem{}, false
	}
	return d.items[pos], true
}

// Stats returns outcome counters.
func (d *Deduplicator) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats
}

// ResetStats zeroes outcome counters; the item list is kept.
func (d *Deduplicator) ResetStats() {
	d.mu.Lock()
	d.stats = Stats{}
	d.mu.Unlock()
}
