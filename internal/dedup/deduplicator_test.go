package dedup

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"PatchDiscovery/internal/domain"
)

func TestApply_StatusProgressUpdatesInPlace(t *testing.T) {
	d := New()

	first := d.Apply(domain.DiscoveredItem{ID: "1", CanonicalURL: "https://x.com/a", Status: domain.StatusFetching, Title: "A"})
	second := d.Apply(domain.DiscoveredItem{ID: "1", CanonicalURL: "https://x.com/a", Status: domain.StatusReady})

	assert.Equal(t, Inserted, first)
	assert.Equal(t, Updated, second)

	items := d.Items()
	require.Len(t, items, 1)
	assert.Equal(t, domain.StatusReady, items[0].Status)
	assert.Equal(t, "A", items[0].Title, "fields missing from the update are kept")
	assert.Equal(t, Stats{Inserted: 1, Updated: 1}, d.Stats())
}

func TestApply_RepeatWithoutProgressIsDuplicate(t *testing.T) {
	d := New()
	item := domain.DiscoveredItem{ID: "1", URL: "https://x.com/a", Status: domain.StatusReady}

	assert.Equal(t, Inserted, d.Apply(item))
	assert.Equal(t, Duplicate, d.Apply(item))

	item.Status = domain.StatusFetching
	assert.Equal(t, Duplicate, d.Apply(item), "status regression is not progress")
	assert.Equal(t, 2, d.Stats().Duplicates)
	assert.Equal(t, 1, d.Len())
}

func TestApply_FailureIsProgressForNonTerminalItems(t *testing.T) {
	d := New()
	d.Apply(domain.DiscoveredItem{ID: "1", URL: "https://x.com/a", Status: domain.StatusEnriching})

	assert.Equal(t, Updated, d.Apply(domain.DiscoveredItem{ID: "1", URL: "https://x.com/a", Status: domain.StatusFailed}))
	assert.Equal(t, Duplicate, d.Apply(domain.DiscoveredItem{ID: "1", URL: "https://x.com/a", Status: domain.StatusReady}))
}

func TestApply_PreservesFirstSeenOrder(t *testing.T) {
	d := New()
	for _, u := range []string{"c", "a", "b", "a", "c"} {
		d.Apply(domain.DiscoveredItem{ID: u, CanonicalURL: "https://x.com/" + u, Status: domain.StatusQueued})
	}
	d.Apply(domain.DiscoveredItem{ID: "a", CanonicalURL: "https://x.com/a", Status: domain.StatusReady})

	var order []string
	for _, it := range d.Items() {
		order = append(order, it.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, order)
}

func TestKey(t *testing.T) {
	tests := map[string]struct {
		item domain.DiscoveredItem
		want string
	}{
		"canonical url wins": {
			item: domain.DiscoveredItem{ID: "1", CanonicalURL: " https://x.com/a ", URL: "https://x.com/a?utm=1"},
			want: "https://x.com/a",
		},
		"plain url": {
			item: domain.DiscoveredItem{ID: "1", URL: "https://x.com/a?utm=1"},
			want: "https://x.com/a?utm=1",
		},
		"domain and title": {
			item: domain.DiscoveredItem{ID: "1", Title: "Hello", Meta: domain.ItemMeta{Domain: "X.com"}},
			want: "x.com|Hello",
		},
		"id fallback": {
			item: domain.DiscoveredItem{ID: "42", Title: "Hello"},
			want: "id:42",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Key(tc.item))
		})
	}
}

func TestApply_DomainTitleCollisionMergesDistinctIDs(t *testing.T) {
	d := New()
	d.Apply(domain.DiscoveredItem{ID: "1", Title: "Weekly notes", Meta: domain.ItemMeta{Domain: "blog.example"}})
	outcome := d.Apply(domain.DiscoveredItem{ID: "2", Title: "Weekly notes", Meta: domain.ItemMeta{Domain: "blog.example"}})

	assert.Equal(t, Duplicate, outcome)
	assert.Equal(t, 1, d.Len())
}

func TestApply_IDFallbackNeverMergesAcrossIDs(t *testing.T) {
	d := New()
	d.Apply(domain.DiscoveredItem{ID: "1", Title: "Same"})
	d.Apply(domain.DiscoveredItem{ID: "2", Title: "Same"})

	assert.Equal(t, 2, d.Len())
}

func TestSync_DoesNotTouchStats(t *testing.T) {
	d := New()
	d.Apply(domain.DiscoveredItem{ID: "1", URL: "https://x.com/a", Status: domain.StatusFetching})

	added := d.Sync([]domain.DiscoveredItem{
		{ID: "1", URL: "https://x.com/a", Status: domain.StatusReady},
		{ID: "2", URL: "https://x.com/b", Status: domain.StatusReady},
	})

	assert.Equal(t, 1, added)
	assert.Equal(t, Stats{Inserted: 1}, d.Stats())
	got, ok := d.Lookup("https://x.com/a")
	require.True(t, ok)
	assert.Equal(t, domain.StatusReady, got.Status)
}

func TestCanonicalize_StripsMarkup(t *testing.T) {
	item := Canonicalize(domain.DiscoveredItem{
		URL:       "https://www.Example.com/post",
		Title:     "<b>Big</b>   news &amp; more",
		Summary:   "<p>First</p>\n<p>Second</p>",
		KeyPoints: []string{"<i>one</i>", "  ", "two"},
	})

	assert.Equal(t, "Big news & more", item.Title)
	assert.Equal(t, "First Second", item.Summary)
	assert.Equal(t, []string{"one", "two"}, item.KeyPoints)
	assert.Equal(t, "example.com", item.Meta.Domain)
}

var statuses = []domain.ItemStatus{
	domain.StatusQueued,
	domain.StatusFetching,
	domain.StatusEnriching,
	domain.StatusPendingAudit,
	domain.StatusReady,
	domain.StatusFailed,
}

func TestApply_IdempotenceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 60).Draw(t, "events")
		d := New()

		type model struct {
			status domain.ItemStatus
		}
		seen := map[string]*model{}
		var order []string
		seenEvents, progressed := 0, 0

		for i := 0; i < n; i++ {
			k := rapid.IntRange(0, 7).Draw(t, fmt.Sprintf("key%d", i))
			st := rapid.SampledFrom(statuses).Draw(t, fmt.Sprintf("status%d", i))
			key := fmt.Sprintf("https://x.com/%d", k)

			if m, ok := seen[key]; ok {
				seenEvents++
				if m.status.Advances(st) {
					progressed++
					m.status = st
				}
			} else {
				seen[key] = &model{status: st}
				order = append(order, key)
			}
			d.Apply(domain.DiscoveredItem{ID: fmt.Sprint(k), CanonicalURL: key, Status: st})
		}

		items := d.Items()
		if len(items) != len(order) {
			t.Fatalf("expected %d items, got %d", len(order), len(items))
		}
		for i, it := range items {
			if it.CanonicalURL != order[i] {
				t.Fatalf("position %d: expected %s, got %s", i, order[i], it.CanonicalURL)
			}
			if it.Status != seen[order[i]].status {
				t.Fatalf("key %s: expected status %s, got %s", order[i], seen[order[i]].status, it.Status)
			}
		}
		if got := d.Stats().Duplicates; got != seenEvents-progressed {
			t.Fatalf("expected %d duplicates, got %d", seenEvents-progressed, got)
		}
	})
}
