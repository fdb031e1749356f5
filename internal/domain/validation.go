package domain

import (
	"errors"
	"fmt"
	"time"
)

// FieldError represents a single field's validation error.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

// ValidateEvent performs the collector's checks on one record.
// now: reference time (injectable for tests)
// skew: allowable future skew (positive duration)
func ValidateEvent(ev *EventRecord, now time.Time, skew time.Duration) []FieldError {
	var errs []FieldError

	requireID := func(field, v string, max int) {
		switch {
		case v == "":
			errs = append(errs, FieldError{field, "required"})
		case len(v) > max:
			errs = append(errs, FieldError{field, fmt.Sprintf("max length %d", max)})
		}
	}
	requireID("type", ev.Type, MaxTypeLen)
	requireID("visitorId", ev.VisitorID, MaxIDLen)
	requireID("sessionId", ev.SessionID, MaxIDLen)
	requireID("siteId", ev.SiteID, MaxIDLen)
	if len(ev.ID) > MaxIDLen {
		errs = append(errs, FieldError{"id", fmt.Sprintf("max length %d", MaxIDLen)})
	}

	if ev.Timestamp.IsZero() {
		errs = append(errs, FieldError{"timestamp", "required"})
	} else if ev.Timestamp.After(now.Add(skew)) {
		errs = append(errs, FieldError{"timestamp", "must not be in the future (beyond allowed skew)"})
	}

	if ev.URL != nil && len(*ev.URL) > MaxURLLen {
		errs = append(errs, FieldError{"url", fmt.Sprintf("max length %d", MaxURLLen)})
	}
	if ev.Referrer != nil && len(*ev.Referrer) > MaxURLLen {
		errs = append(errs, FieldError{"referrer", fmt.Sprintf("max length %d", MaxURLLen)})
	}
	if ev.Title != nil && len(*ev.Title) > MaxTitleLen {
		errs = append(errs, FieldError{"title", fmt.Sprintf("max length %d", MaxTitleLen)})
	}

	for k := range ev.UTMParameters {
		if !IsUTMKey(k) {
			errs = append(errs, FieldError{"utmParameters." + k, "unknown parameter"})
		}
	}

	if len(ev.ReferrerTrail) > MaxReferrerTrailLen {
		errs = append(errs, FieldError{"referrerTrail", fmt.Sprintf("max %d items", MaxReferrerTrailLen)})
	}

	return errs
}

// ValidateBatch enforces the batch count cap and per-item validation.
// Unlike a strict bulk check it reports per-item errors without failing the
// whole batch, so the caller can accept the valid subset.
func ValidateBatch(events []EventRecord, maxItems int, now time.Time, skew time.Duration) (perItem [][]FieldError, topErr error) {
	if len(events) == 0 {
		return nil, errors.New("events: required and must contain at least one item")
	}
	if len(events) > maxItems {
		return nil, fmt.Errorf("events: max %d items", maxItems)
	}
	perItem = make([][]FieldError, len(events))
	for i := range events {
		perItem[i] = ValidateEvent(&events[i], now, skew)
	}
	return perItem, nil
}

// Chunks splits events into consecutive slices of at most size items,
// preserving order. A non-positive size yields a single chunk.
func Chunks(events []EventRecord, size int) [][]EventRecord {
	if len(events) == 0 {
		return nil
	}
	if size <= 0 || len(events) <= size {
		return [][]EventRecord{events}
	}
	out := make([][]EventRecord, 0, (len(events)+size-1)/size)
	for start := 0; start < len(events); start += size {
		end := min(start+size, len(events))
		out = append(out, events[start:end])
	}
	return out
}
