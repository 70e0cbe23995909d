package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"PatchDiscovery/internal/domain"
	"PatchDiscovery/internal/ports"
)

// savedStatuses are the item statuses that count as saved.
var savedStatuses = []string{string(domain.StatusPendingAudit), string(domain.StatusReady)}

// PostgresMetrics reads authoritative totals straight from the discovery
// backend's item table.
type PostgresMetrics struct {
	db    *sql.DB
	table string
}

var _ ports.MetricsSource = (*PostgresMetrics)(nil)

// NewPostgresMetrics wires a sql.DB implementation. table defaults to discovered_items.
func NewPostgresMetrics(db *sql.DB, table string) *PostgresMetrics {
	if table == "" {
		table = "discovered_items"
	}
	return &PostgresMetrics{db: db, table: table}
}

// Query builds the totals query for a patch.
func (r *PostgresMetrics) Query(patch string) (string, []any, error) {
	return sq.Select().
		Column("COUNT(*) AS total").
		Column(sq.Expr("COUNT(*) FILTER (WHERE status = ANY(?)) AS saved", pq.Array(savedStatuses))).
		Column("COALESCE(SUM(duplicate_count), 0) AS duplicates").
		Column("COUNT(*) FILTER (WHERE hero_url IS NOT NULL AND hero_url <> '') AS heroes").
		Column("COUNT(*) FILTER (WHERE paywalled) AS paywall").
		Column("COUNT(*) FILTER (WHERE extract_ok) AS extract_ok").
		Column("COUNT(*) FILTER (WHERE render_ok) AS render_ok").
		Column("COUNT(*) FILTER (WHERE promoted) AS promoted").
		From(r.table).
		Where(sq.Eq{"patch_handle": patch}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
}

// FetchMetrics returns ports.ErrNotReady while the patch has no items.
func (r *PostgresMetrics) FetchMetrics(ctx context.Context, patch string) (domain.AuthoritativeSnapshot, error) {
	if r.db == nil {
		return nil, ports.ErrNotReady
	}

	query, args, err := r.Query(patch)
	if err != nil {
		return nil, fmt.Errorf("build metrics query: %w", err)
	}

	var total, saved, duplicates, heroes, paywall, extractOK, renderOK, promoted int64
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&total, &saved, &duplicates, &heroes, &paywall, &extractOK, &renderOK, &promoted,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query metrics: %v", ports.ErrTransport, err)
	}
	if total == 0 {
		return nil, ports.ErrNotReady
	}

	return domain.AuthoritativeSnapshot{
		domain.MetricSaved:      saved,
		domain.MetricDuplicates: duplicates,
		domain.MetricHeroes:     heroes,
		domain.MetricPaywall:    paywall,
		domain.MetricExtractOK:  extractOK,
		domain.MetricRenderOK:   renderOK,
		domain.MetricPromoted:   promoted,
	}, nil
}

// Open connects to Postgres with the lib/pq driver and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}
