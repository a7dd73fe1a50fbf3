package client

import (
	"fmt"
	"time"
)

// RecentWhere returns a predicate matching records created in the last N
// days, anchored at midnight so repeated runs on the same day build the
// same query.
func RecentWhere(days int) string {
	since := time.Now().AddDate(0, 0, -days).Format("2006-01-02T00:00:00")
	return fmt.Sprintf("created_date >= '%s'", since)
}

// SinceWhere returns a predicate matching records created strictly after the
// given timestamp. This catches only brand-new requests; updates to existing
// requests are invisible to it. Use ChangesSinceWhere for SCD-style loads.
func SinceWhere(ts string) string {
	return fmt.Sprintf("created_date > '%s'", ts)
}

// ChangesSinceWhere returns a predicate matching records that were created,
// resolution-updated, or closed after the given timestamp. Any lifecycle
// transition on an existing request satisfies one of the OR clauses, so the
// result set can contain the same unique_key more than once and must go
// through the resolver before downstream use.
func ChangesSinceWhere(ts string) string {
	return fmt.Sprintf(
		"created_date > '%s' OR resolution_action_updated_date > '%s' OR closed_date > '%s'",
		ts, ts, ts)
}

// DateRangeWhere returns a predicate for the half-open interval
// [start, end) on created_date.
func DateRangeWhere(start, end string) string {
	return fmt.Sprintf("created_date >= '%s' AND created_date < '%s'", start, end)
}
