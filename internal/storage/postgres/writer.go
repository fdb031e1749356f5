package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"example.com/pagepulse/internal/domain"
	"example.com/pagepulse/internal/idempotency"
)

var eventColumns = []string{
	"event_key", "key_source", "type", "site_id", "visitor_id", "session_id", "occurred_at",
	"url", "path", "title", "referrer", "language", "timezone",
	"viewport", "scroll_offset", "utm", "referrer_trail", "payload",
}

// Columns from this index on are bound as jsonb.
const firstJSONColumn = 13

type Writer struct {
	db *DB
}

func NewWriter(db *DB) *Writer { return &Writer{db: db} }

// InsertBatch inserts records with ON CONFLICT DO NOTHING, so a batch the
// tracker resent after a lost response is stored once.
func (w *Writer) InsertBatch(ctx context.Context, items []domain.EventRecord) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	placeholders := make([]string, 0, len(items))
	args := make([]any, 0, len(items)*len(eventColumns))

	argi := 1
	for i := range items {
		row, err := rowArgs(&items[i])
		if err != nil {
			return 0, err
		}
		ph := make([]string, 0, len(row))
		for c := range row {
			if c >= firstJSONColumn {
				ph = append(ph, fmt.Sprintf("$%d::jsonb", argi))
			} else {
				ph = append(ph, fmt.Sprintf("$%d", argi))
			}
			argi++
		}
		args = append(args, row...)
		placeholders = append(placeholders, "("+strings.Join(ph, ",")+")")
	}

	sql := "INSERT INTO events (" + strings.Join(eventColumns, ",") + ") VALUES " +
		strings.Join(placeholders, ",") +
		" ON CONFLICT (event_key) DO NOTHING"

	ct, err := w.db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func rowArgs(ev *domain.EventRecord) ([]any, error) {
	key, src := idempotency.DeriveKey(ev)
	row := []any{
		key, string(src), ev.Type, ev.SiteID, ev.VisitorID, ev.SessionID, ev.Timestamp.UTC(),
		ev.URL, ev.Path, ev.Title, ev.Referrer, ev.Language, ev.Timezone,
	}
	for _, v := range []any{ev.Viewport, ev.ScrollOffset, ev.UTMParameters, ev.ReferrerTrail, ev.Payload} {
		j, err := jsonArg(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		row = append(row, j)
	}
	return row, nil
}

// jsonArg returns nil for absent values so the column stays NULL.
func jsonArg(v any) (any, error) {
	switch x := v.(type) {
	case *domain.Viewport:
		if x == nil {
			return nil, nil
		}
	case *domain.ScrollOffset:
		if x == nil {
			return nil, nil
		}
	case map[string]string:
		if x == nil {
			return nil, nil
		}
	case []string:
		if x == nil {
			return nil, nil
		}
	case map[string]any:
		if x == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
