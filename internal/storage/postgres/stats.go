package postgres

import (
	"context"
	"fmt"
	"time"
)

type StatsTotals struct {
	Count          int64 `json:"count"`
	UniqueVisitors int64 `json:"unique_visitors"`
	UniqueSessions int64 `json:"unique_sessions"`
}

type StatsBucket struct {
	BucketStart    int64 `json:"bucket_start"`
	Count          int64 `json:"count"`
	UniqueVisitors int64 `json:"unique_visitors"`
}

// StatsFilter bounds a stats query. Empty Type or SiteID means no filter.
type StatsFilter struct {
	From   time.Time
	To     time.Time
	Type   string
	SiteID string
}

func (f StatsFilter) where() (string, []any) {
	cond := "WHERE occurred_at >= $1 AND occurred_at <= $2"
	args := []any{f.From.UTC(), f.To.UTC()}
	idx := 3

	if f.Type != "" {
		cond += fmt.Sprintf(" AND type=$%d", idx)
		args = append(args, f.Type)
		idx++
	}
	if f.SiteID != "" {
		cond += fmt.Sprintf(" AND site_id=$%d", idx)
		args = append(args, f.SiteID)
	}
	return cond, args
}

func (db *DB) QueryTotals(ctx context.Context, f StatsFilter) (StatsTotals, error) {
	var res StatsTotals
	cond, args := f.where()

	sql := "SELECT COUNT(*)::bigint, COUNT(DISTINCT visitor_id)::bigint, COUNT(DISTINCT session_id)::bigint FROM events " + cond
	row := db.Pool.QueryRow(ctx, sql, args...)
	if err := row.Scan(&res.Count, &res.UniqueVisitors, &res.UniqueSessions); err != nil {
		return res, fmt.Errorf("scan totals: %w", err)
	}
	return res, nil
}

func (db *DB) QueryBucketsDaily(ctx context.Context, f StatsFilter) ([]StatsBucket, error) {
	cond, args := f.where()

	sql := fmt.Sprintf(`
SELECT
  EXTRACT(EPOCH FROM date_trunc('day', occurred_at AT TIME ZONE 'UTC'))::bigint AS bucket_start,
  COUNT(*)::bigint AS cnt,
  COUNT(DISTINCT visitor_id)::bigint AS uniq
FROM events
%s
GROUP BY 1
ORDER BY 1 ASC`, cond)

	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatsBucket
	for rows.Next() {
		var b StatsBucket
		if err := rows.Scan(&b.BucketStart, &b.Count, &b.UniqueVisitors); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
