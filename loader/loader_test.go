package loader

import (
	"errors"
	"fmt"
	"testing"

	"github.com/withobsrvr/nyc311-ingestion/checkpoint"
	"github.com/withobsrvr/nyc311-ingestion/client"
)

// stubFetcher records which strategy the loader chose and serves canned
// batches.
type stubFetcher struct {
	recentDays   int
	sinceTS      string
	changesTS    string
	calls        []string
	recentBatch  []client.Record
	sinceBatch   []client.Record
	changesBatch []client.Record
	err          error
}

func (f *stubFetcher) FetchRecent(days int) ([]client.Record, error) {
	f.calls = append(f.calls, "recent")
	f.recentDays = days
	return f.recentBatch, f.err
}

func (f *stubFetcher) FetchSince(ts string) ([]client.Record, error) {
	f.calls = append(f.calls, "since")
	f.sinceTS = ts
	return f.sinceBatch, f.err
}

func (f *stubFetcher) FetchChangesSince(ts string) ([]client.Record, error) {
	f.calls = append(f.calls, "changes")
	f.changesTS = ts
	return f.changesBatch, f.err
}

// memStore is an in-memory checkpoint store for loader tests.
type memStore struct {
	state   *checkpoint.State
	loadErr error
	saveErr error
	saves   int
}

func (s *memStore) Load() (*checkpoint.State, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.state, nil
}

func (s *memStore) Save(st *checkpoint.State) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.state = st
	s.saves++
	return nil
}

func rec(key, created, updated string) client.Record {
	r := client.Record{}
	if key != "" {
		r["unique_key"] = key
	}
	if created != "" {
		r["created_date"] = created
	}
	if updated != "" {
		r["resolution_action_updated_date"] = updated
	}
	return r
}

func day(n int) string {
	return fmt.Sprintf("2024-01-%02dT00:00:00", n)
}

func TestInitialLoadEstablishesWatermark(t *testing.T) {
	fetcher := &stubFetcher{
		recentBatch: []client.Record{
			rec("k5", day(5), ""),
			rec("k4", day(4), ""),
			rec("k3", day(3), ""),
			rec("k2", day(2), ""),
			rec("k1", day(1), ""),
		},
	}
	store := &memStore{}
	l := New(fetcher, store, Config{SCD2Mode: true, InitialLookbackDays: 7})

	result, err := l.LoadIncremental()
	if err != nil {
		t.Fatalf("LoadIncremental failed: %v", err)
	}

	if result.Strategy != StrategyInitial {
		t.Errorf("Strategy = %q, want %q", result.Strategy, StrategyInitial)
	}
	if fetcher.recentDays != 7 {
		t.Errorf("lookback days = %d, want 7", fetcher.recentDays)
	}
	if len(result.Records) != 5 {
		t.Errorf("got %d records, want 5", len(result.Records))
	}
	if !result.Advanced {
		t.Error("watermark should advance on first non-empty load")
	}
	if result.Watermark != day(5) {
		t.Errorf("watermark = %q, want %q", result.Watermark, day(5))
	}
	if store.state == nil || store.state.LastLoadedTimestamp != day(5) {
		t.Errorf("persisted state = %+v, want timestamp %q", store.state, day(5))
	}
	if !store.state.SCD2Mode {
		t.Error("persisted state should record scd2 mode")
	}
}

func TestIncrementalChangesStrategy(t *testing.T) {
	fetcher := &stubFetcher{
		changesBatch: []client.Record{
			rec("X", day(10), "2024-01-10T12:00:00"),
			rec("X", day(10), "2024-01-11T12:00:00"),
			rec("Y", day(12), ""),
		},
	}
	store := &memStore{state: &checkpoint.State{LastLoadedTimestamp: day(9), SCD2Mode: true}}
	l := New(fetcher, store, Config{SCD2Mode: true})

	result, err := l.LoadIncremental()
	if err != nil {
		t.Fatalf("LoadIncremental failed: %v", err)
	}

	if result.Strategy != StrategyIncrementalChanges {
		t.Errorf("Strategy = %q, want %q", result.Strategy, StrategyIncrementalChanges)
	}
	if fetcher.changesTS != day(9) {
		t.Errorf("changes query anchored at %q, want %q", fetcher.changesTS, day(9))
	}

	// The two observations of X collapse to the newer version.
	if result.RawCount != 3 {
		t.Errorf("RawCount = %d, want 3", result.RawCount)
	}
	if len(result.Records) != 2 {
		t.Fatalf("got %d records after collapse, want 2", len(result.Records))
	}
	if result.Records[0].UpdatedDate() != "2024-01-11T12:00:00" {
		t.Errorf("X kept version %q, want the 01-11 update", result.Records[0].UpdatedDate())
	}

	if result.Watermark != day(12) {
		t.Errorf("watermark = %q, want %q", result.Watermark, day(12))
	}
}

func TestIncrementalNewOnlyStrategy(t *testing.T) {
	fetcher := &stubFetcher{
		sinceBatch: []client.Record{rec("Z", day(20), "")},
	}
	store := &memStore{state: &checkpoint.State{LastLoadedTimestamp: day(15), SCD2Mode: false}}
	l := New(fetcher, store, Config{SCD2Mode: false})

	result, err := l.LoadIncremental()
	if err != nil {
		t.Fatalf("LoadIncremental failed: %v", err)
	}
	if result.Strategy != StrategyIncrementalNew {
		t.Errorf("Strategy = %q, want %q", result.Strategy, StrategyIncrementalNew)
	}
	if fetcher.sinceTS != day(15) {
		t.Errorf("since query anchored at %q, want %q", fetcher.sinceTS, day(15))
	}
	if result.Watermark != day(20) {
		t.Errorf("watermark = %q, want %q", result.Watermark, day(20))
	}
}

func TestEmptyLoadLeavesWatermarkUnchanged(t *testing.T) {
	fetcher := &stubFetcher{}
	store := &memStore{state: &checkpoint.State{LastLoadedTimestamp: day(9), SCD2Mode: true}}
	l := New(fetcher, store, Config{SCD2Mode: true})

	result, err := l.LoadIncremental()
	if err != nil {
		t.Fatalf("LoadIncremental failed: %v", err)
	}
	if result.Advanced {
		t.Error("empty load must not advance the watermark")
	}
	if result.Watermark != day(9) {
		t.Errorf("watermark = %q, want unchanged %q", result.Watermark, day(9))
	}
	if store.saves != 0 {
		t.Errorf("state saved %d times on an empty load, want 0", store.saves)
	}
}

func TestWatermarkNeverRegresses(t *testing.T) {
	// The changes query can return records updated recently but created
	// long before the watermark.
	fetcher := &stubFetcher{
		changesBatch: []client.Record{rec("old", day(2), "2024-01-20T00:00:00")},
	}
	store := &memStore{state: &checkpoint.State{LastLoadedTimestamp: day(9), SCD2Mode: true}}
	l := New(fetcher, store, Config{SCD2Mode: true})

	result, err := l.LoadIncremental()
	if err != nil {
		t.Fatalf("LoadIncremental failed: %v", err)
	}
	if result.Advanced {
		t.Error("stale created_date must not advance the watermark")
	}
	if store.state.LastLoadedTimestamp != day(9) {
		t.Errorf("watermark regressed to %q", store.state.LastLoadedTimestamp)
	}
}

func TestWatermarkMonotonicAcrossLoads(t *testing.T) {
	store := &memStore{}
	batches := [][]client.Record{
		{rec("a", day(3), "")},
		{rec("b", day(8), "")},
		{}, // no new data
		{rec("c", day(11), "")},
	}

	prev := ""
	for k, batch := range batches {
		fetcher := &stubFetcher{recentBatch: batch, changesBatch: batch}
		l := New(fetcher, store, Config{SCD2Mode: true})

		result, err := l.LoadIncremental()
		if err != nil {
			t.Fatalf("load %d failed: %v", k, err)
		}
		if result.Watermark < prev {
			t.Errorf("load %d regressed watermark: %q -> %q", k, prev, result.Watermark)
		}
		prev = result.Watermark
	}

	if store.state.LastLoadedTimestamp != day(11) {
		t.Errorf("final watermark = %q, want %q", store.state.LastLoadedTimestamp, day(11))
	}
}

func TestUnreadableStateFallsBackToInitial(t *testing.T) {
	fetcher := &stubFetcher{recentBatch: []client.Record{rec("k", day(1), "")}}
	store := &memStore{loadErr: errors.New("disk on fire")}
	l := New(fetcher, store, Config{SCD2Mode: true, InitialLookbackDays: 3})

	result, err := l.LoadIncremental()
	if err != nil {
		t.Fatalf("LoadIncremental failed: %v", err)
	}
	if result.Strategy != StrategyInitial {
		t.Errorf("Strategy = %q, want fallback to %q", result.Strategy, StrategyInitial)
	}
	if fetcher.recentDays != 3 {
		t.Errorf("lookback days = %d, want 3", fetcher.recentDays)
	}
}

func TestFetchFailureAbortsWithoutStateChange(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("http 500")}
	store := &memStore{state: &checkpoint.State{LastLoadedTimestamp: day(9), SCD2Mode: true}}
	l := New(fetcher, store, Config{SCD2Mode: true})

	if _, err := l.LoadIncremental(); err == nil {
		t.Fatal("expected fetch failure to propagate")
	}
	if store.saves != 0 {
		t.Error("state must not change on a failed fetch")
	}
}

func TestLowQualityBatchStillReturned(t *testing.T) {
	// 6 of 100 records missing unique_key: over the 5% threshold.
	var batch []client.Record
	for i := 0; i < 94; i++ {
		batch = append(batch, rec(fmt.Sprintf("k%d", i), day(5), ""))
	}
	for i := 0; i < 6; i++ {
		batch = append(batch, rec("", day(5), ""))
	}

	fetcher := &stubFetcher{recentBatch: batch}
	store := &memStore{}
	l := New(fetcher, store, Config{SCD2Mode: true})

	result, err := l.LoadIncremental()
	if err != nil {
		t.Fatalf("low quality must not abort the load: %v", err)
	}
	if result.Report.IsValid() {
		t.Error("6% null rate should fail validation")
	}
	if len(result.Records) != 100 {
		t.Errorf("got %d records, want all 100 returned despite the verdict", len(result.Records))
	}
}
