package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/candidate-discovery/internal/quota"
)

const (
	defaultQuotaTable = "quota_usage"
	quotaDayLayout    = "2006-01-02"
)

// QuotaStore persists committed quota totals keyed by (day, kind). The table
// needs day date, kind text, committed integer and updated_at timestamptz
// columns with a unique key on (day, kind).
type QuotaStore struct {
	pool  pgxPool
	table string
}

// NewQuotaStore builds a quota store on an existing pool.
func NewQuotaStore(pool pgxPool, table string) (*QuotaStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultQuotaTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &QuotaStore{pool: pool, table: table}, nil
}

// QuotaStore returns a quota store sharing this store's pool.
func (s *Store) QuotaStore(table string) (*QuotaStore, error) {
	if s == nil {
		return nil, fmt.Errorf("store is not configured")
	}
	return NewQuotaStore(s.pool, table)
}

// LoadQuota returns the committed totals recorded for day.
func (q *QuotaStore) LoadQuota(ctx context.Context, day string) (map[quota.Kind]int, error) {
	d, err := time.Parse(quotaDayLayout, day)
	if err != nil {
		return nil, fmt.Errorf("parse quota day: %w", err)
	}
	rows, err := q.pool.Query(ctx, fmt.Sprintf(`SELECT kind, committed FROM %s WHERE day = $1`, q.table), d)
	if err != nil {
		return nil, fmt.Errorf("query quota for %s: %w", day, err)
	}
	defer rows.Close()

	out := make(map[quota.Kind]int)
	for rows.Next() {
		var (
			kind      string
			committed int32
		)
		if err := rows.Scan(&kind, &committed); err != nil {
			return nil, fmt.Errorf("scan quota row: %w", err)
		}
		out[quota.Kind(kind)] = int(committed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read quota rows: %w", err)
	}
	return out, nil
}

// SaveQuota records the committed total for (day, kind). Totals only grow
// within a day, so an older write arriving late never lowers the stored value.
func (q *QuotaStore) SaveQuota(ctx context.Context, day string, kind quota.Kind, committed int) error {
	d, err := time.Parse(quotaDayLayout, day)
	if err != nil {
		return fmt.Errorf("parse quota day: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (
	day,
	kind,
	committed,
	updated_at
) VALUES (
	$1,$2,$3,now()
)
ON CONFLICT (day, kind) DO UPDATE SET
	committed = GREATEST(%[1]s.committed, EXCLUDED.committed),
	updated_at = EXCLUDED.updated_at`, q.table)
	if _, err := q.pool.Exec(ctx, query, d, string(kind), int32(committed)); err != nil {
		return fmt.Errorf("upsert %s quota for %s: %w", kind, day, err)
	}
	return nil
}
