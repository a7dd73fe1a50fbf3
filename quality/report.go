// Package quality computes structural data-quality reports over fetched
// record batches: null counts for required fields, coordinate bounds checks,
// duplicate keys, and the observed created_date span.
package quality

import (
	"fmt"
	"strconv"

	"github.com/withobsrvr/nyc311-ingestion/client"
)

// NYC bounding box for coordinate validation.
const (
	LatMin = 40.4
	LatMax = 41.0
	LonMin = -74.3
	LonMax = -73.7
)

// Acceptable per-batch rate for nulls in required fields and for duplicate
// keys before the batch is flagged.
const rateThreshold = 0.05

// Report summarizes one fetched batch. It is computed once per fetch and
// never mutated; date-range fields are the raw ISO-8601 strings ("" when the
// batch had no created_date values).
type Report struct {
	TotalRecords       int    `json:"total_records"`
	NullUniqueKey      int    `json:"null_unique_key"`
	NullCreatedDate    int    `json:"null_created_date"`
	NullBorough        int    `json:"null_borough"`
	InvalidCoordinates int    `json:"invalid_coordinates"`
	DuplicateKeys      int    `json:"duplicate_keys"`
	DateRangeStart     string `json:"date_range_start,omitempty"`
	DateRangeEnd       string `json:"date_range_end,omitempty"`
}

// IsValid reports whether the batch passes the quality thresholds. An empty
// batch is valid (an incremental run may simply have nothing new).
func (r Report) IsValid() bool {
	if r.TotalRecords == 0 {
		return true
	}
	nullRate := float64(r.NullUniqueKey+r.NullCreatedDate) / float64(r.TotalRecords)
	dupeRate := float64(r.DuplicateKeys) / float64(r.TotalRecords)
	return nullRate < rateThreshold && dupeRate < rateThreshold
}

// String renders a one-line summary for log output.
func (r Report) String() string {
	return fmt.Sprintf(
		"total=%d null_key=%d null_created=%d null_borough=%d bad_coords=%d dupes=%d range=[%s, %s] valid=%v",
		r.TotalRecords, r.NullUniqueKey, r.NullCreatedDate, r.NullBorough,
		r.InvalidCoordinates, r.DuplicateKeys, r.DateRangeStart, r.DateRangeEnd, r.IsValid())
}

// Validate computes the quality report for a batch in a single pass. It
// never fails and never rejects records; the caller decides what to do with
// a low-quality verdict.
func Validate(records []client.Record) Report {
	var rep Report
	rep.TotalRecords = len(records)
	if len(records) == 0 {
		return rep
	}

	keyCounts := make(map[string]int)

	for _, rec := range records {
		key := rec.UniqueKey()
		if key == "" {
			rep.NullUniqueKey++
		} else {
			keyCounts[key]++
		}

		created := rec.CreatedDate()
		if created == "" {
			rep.NullCreatedDate++
		} else {
			if rep.DateRangeStart == "" || created < rep.DateRangeStart {
				rep.DateRangeStart = created
			}
			if created > rep.DateRangeEnd {
				rep.DateRangeEnd = created
			}
		}

		if rec.Str("borough") == "" {
			rep.NullBorough++
		}

		lat, lon := rec.Str("latitude"), rec.Str("longitude")
		if lat != "" && lon != "" && !coordinatesInBounds(lat, lon) {
			rep.InvalidCoordinates++
		}
	}

	for _, n := range keyCounts {
		if n > 1 {
			rep.DuplicateKeys += n - 1
		}
	}

	return rep
}

// coordinatesInBounds parses a coordinate pair and checks it against the NYC
// bounding box. Unparseable values count as out of bounds.
func coordinatesInBounds(lat, lon string) bool {
	latF, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return false
	}
	lonF, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return false
	}
	return latF >= LatMin && latF <= LatMax && lonF >= LonMin && lonF <= LonMax
}
