package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"example.com/pagepulse/internal/domain"
)

type KeySource string

const (
	KeyFromEventID   KeySource = "event_id"
	KeyFromComposite KeySource = "composite"
)

// DeriveKey returns a stable dedupe key and the source used.
// The client-assigned record id wins. Records without one fall back to a
// hex SHA-256 over (visitor, session, type, timestamp in ms).
func DeriveKey(ev *domain.EventRecord) (key string, src KeySource) {
	if ev.ID != "" {
		return ev.ID, KeyFromEventID
	}
	composite := fmt.Sprintf("%s|%s|%s|%d", ev.VisitorID, ev.SessionID, ev.Type, ev.Timestamp.UnixMilli())
	sum := sha256.Sum256([]byte(composite))
	return hex.EncodeToString(sum[:]), KeyFromComposite
}
