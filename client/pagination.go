package client

import "time"

// FetchAll walks every page matching the predicate and passes each record to
// fn in API order (created_date DESC). The offset advances by the length of
// each page, never by a fixed stride, so a short page cannot cause a skip or
// a loop; no offset is requested twice within one call.
//
// The walk stops when a page comes back empty, when a page is shorter than
// the configured page size (the API's last page), or when maxRecords
// (if > 0) records have been emitted. A failed page request aborts the walk
// and returns the failure; records already passed to fn are not retracted.
// A non-nil error from fn also aborts the walk.
func (c *Client) FetchAll(where string, maxRecords int, fn func(Record) error) error {
	offset := 0
	total := 0

	for {
		page, err := c.FetchPage(where, offset)
		if err != nil {
			return err
		}

		if len(page) == 0 {
			return nil
		}

		for _, rec := range page {
			if err := fn(rec); err != nil {
				return err
			}
			total++
			if maxRecords > 0 && total >= maxRecords {
				return nil
			}
		}

		offset += len(page)

		if len(page) < c.cfg.PageSize {
			return nil
		}

		// Stay polite to the upstream rate limiter between pages.
		if c.cfg.PageDelay > 0 {
			time.Sleep(c.cfg.PageDelay)
		}
	}
}

// collect runs FetchAll and accumulates the records.
func (c *Client) collect(where string) ([]Record, error) {
	var records []Record
	err := c.FetchAll(where, 0, func(r Record) error {
		records = append(records, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// FetchRecent fetches all records created in the last N days.
func (c *Client) FetchRecent(days int) ([]Record, error) {
	return c.collect(RecentWhere(days))
}

// FetchSince fetches records created strictly after the given timestamp.
// This sees only brand-new requests; use FetchChangesSince to also capture
// status updates and closures on existing requests.
func (c *Client) FetchSince(ts string) ([]Record, error) {
	return c.collect(SinceWhere(ts))
}

// FetchChangesSince fetches records created, updated, or closed after the
// given timestamp. The OR predicate can return the same unique_key more than
// once; callers collapse the result with the resolver package.
func (c *Client) FetchChangesSince(ts string) ([]Record, error) {
	return c.collect(ChangesSinceWhere(ts))
}

// FetchDateRange fetches records with created_date in [start, end).
func (c *Client) FetchDateRange(start, end string) ([]Record, error) {
	return c.collect(DateRangeWhere(start, end))
}
