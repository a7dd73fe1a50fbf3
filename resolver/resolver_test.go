package resolver

import (
	"reflect"
	"testing"

	"github.com/withobsrvr/nyc311-ingestion/client"
)

func obs(key, updated string) client.Record {
	r := client.Record{}
	if key != "" {
		r["unique_key"] = key
	}
	if updated != "" {
		r["resolution_action_updated_date"] = updated
	}
	return r
}

func TestCollapseKeepsLatestVersion(t *testing.T) {
	records := []client.Record{
		obs("X", "2024-01-01"),
		obs("X", "2024-01-05"),
	}

	got := Collapse(records)
	if len(got) != 1 {
		t.Fatalf("collapsed to %d records, want 1", len(got))
	}
	if got[0].UpdatedDate() != "2024-01-05" {
		t.Errorf("kept version %q, want 2024-01-05", got[0].UpdatedDate())
	}
}

func TestCollapseOrderIndependent(t *testing.T) {
	// The later version wins regardless of arrival order.
	forward := Collapse([]client.Record{obs("X", "2024-01-01"), obs("X", "2024-01-05")})
	reverse := Collapse([]client.Record{obs("X", "2024-01-05"), obs("X", "2024-01-01")})

	if forward[0].UpdatedDate() != reverse[0].UpdatedDate() {
		t.Errorf("arrival order changed the winner: %q vs %q",
			forward[0].UpdatedDate(), reverse[0].UpdatedDate())
	}
}

func TestCollapseMissingUpdateDateSortsLowest(t *testing.T) {
	records := []client.Record{
		obs("X", ""),
		obs("X", "2024-01-01"),
	}

	got := Collapse(records)
	if len(got) != 1 {
		t.Fatalf("collapsed to %d records, want 1", len(got))
	}
	if got[0].UpdatedDate() != "2024-01-01" {
		t.Errorf("record with an update date must beat one without, kept %q", got[0].UpdatedDate())
	}
}

func TestCollapsePreservesDistinctKeys(t *testing.T) {
	records := []client.Record{
		obs("A", "2024-01-01"),
		obs("B", "2024-01-02"),
		obs("A", "2024-01-03"),
		obs("C", ""),
	}

	got := Collapse(records)
	if len(got) != 3 {
		t.Fatalf("collapsed to %d records, want 3", len(got))
	}
	// First-seen key order is preserved.
	wantKeys := []string{"A", "B", "C"}
	for i, want := range wantKeys {
		if got[i].UniqueKey() != want {
			t.Errorf("position %d has key %q, want %q", i, got[i].UniqueKey(), want)
		}
	}
	if got[0].UpdatedDate() != "2024-01-03" {
		t.Errorf("A kept version %q, want 2024-01-03", got[0].UpdatedDate())
	}
}

func TestCollapsePassesThroughUnkeyedRecords(t *testing.T) {
	records := []client.Record{
		obs("", "2024-01-01"),
		obs("A", "2024-01-02"),
		obs("", "2024-01-03"),
	}

	got := Collapse(records)
	if len(got) != 3 {
		t.Fatalf("collapsed to %d records, want 3 (unkeyed records must not vanish)", len(got))
	}

	var unkeyed int
	for _, r := range got {
		if r.UniqueKey() == "" {
			unkeyed++
		}
	}
	if unkeyed != 2 {
		t.Errorf("%d unkeyed records survived, want 2", unkeyed)
	}
}

func TestCollapseIdempotent(t *testing.T) {
	records := []client.Record{
		obs("X", "2024-01-01"),
		obs("X", "2024-01-05"),
		obs("Y", "2024-02-01"),
		obs("", ""),
	}

	once := Collapse(records)
	twice := Collapse(once)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("second collapse changed the output:\nonce:  %v\ntwice: %v", once, twice)
	}
}

func TestCollapseEmptyBatch(t *testing.T) {
	if got := Collapse(nil); len(got) != 0 {
		t.Errorf("Collapse(nil) returned %d records", len(got))
	}
}
