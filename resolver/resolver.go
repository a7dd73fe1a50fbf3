// Package resolver collapses duplicate observations of the same service
// request into a single, most-recent version. The changes query matches on
// three OR'd timestamp clauses, so one request can appear several times in a
// single fetch; this is poll-based change capture with client-side
// reconciliation.
package resolver

import "github.com/withobsrvr/nyc311-ingestion/client"

// Collapse reduces a batch to one record per unique_key, keeping the record
// with the lexicographically greatest resolution_action_updated_date (a
// missing value sorts lowest). Keyed records keep their first-seen order.
//
// Records without a unique_key cannot be correlated with anything; they are
// passed through untouched and appended after the collapsed set rather than
// dropped, and show up in the quality report's null_unique_key count.
//
// Collapse is idempotent: applying it to its own output is a no-op.
func Collapse(records []client.Record) []client.Record {
	latest := make(map[string]client.Record, len(records))
	order := make([]string, 0, len(records))
	var unkeyed []client.Record

	for _, rec := range records {
		key := rec.UniqueKey()
		if key == "" {
			unkeyed = append(unkeyed, rec)
			continue
		}
		prev, seen := latest[key]
		if !seen {
			latest[key] = rec
			order = append(order, key)
			continue
		}
		if rec.UpdatedDate() > prev.UpdatedDate() {
			latest[key] = rec
		}
	}

	out := make([]client.Record, 0, len(order)+len(unkeyed))
	for _, key := range order {
		out = append(out, latest[key])
	}
	return append(out, unkeyed...)
}
