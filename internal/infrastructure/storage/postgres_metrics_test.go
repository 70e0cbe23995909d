package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"

	"PatchDiscovery/internal/ports"
)

func TestMetricsQuery(t *testing.T) {
	t.Parallel()

	query, args, err := NewPostgresMetrics(nil, "").Query("herbs")
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}

	for _, fragment := range []string{
		"FROM discovered_items",
		"status = ANY($1)) AS saved",
		"WHERE patch_handle = $2",
		"COALESCE(SUM(duplicate_count), 0) AS duplicates",
	} {
		if !strings.Contains(query, fragment) {
			t.Fatalf("query %q does not contain %q", query, fragment)
		}
	}
	if strings.Contains(query, "?") {
		t.Fatalf("query still has question-mark placeholders: %s", query)
	}

	if len(args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(args))
	}
	statuses, ok := args[0].(driver.Valuer)
	if !ok {
		t.Fatalf("expected a driver valuer for statuses, got %T", args[0])
	}
	v, err := statuses.Value()
	if err != nil {
		t.Fatalf("statuses value: %v", err)
	}
	if v != `{"pending_audit","ready"}` {
		t.Fatalf("unexpected statuses literal: %v", v)
	}
	if args[1] != "herbs" {
		t.Fatalf("expected patch arg, got %v", args[1])
	}
}

func TestMetricsQueryCustomTable(t *testing.T) {
	t.Parallel()

	query, _, err := NewPostgresMetrics(nil, "discovery.items").Query("herbs")
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if !strings.Contains(query, "FROM discovery.items") {
		t.Fatalf("unexpected query: %s", query)
	}
}

func TestFetchMetricsWithoutDatabase(t *testing.T) {
	t.Parallel()

	_, err := NewPostgresMetrics(nil, "").FetchMetrics(context.Background(), "herbs")
	if !errors.Is(err, ports.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}
