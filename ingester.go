package main

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/withobsrvr/nyc311-ingestion/checkpoint"
	"github.com/withobsrvr/nyc311-ingestion/client"
	"github.com/withobsrvr/nyc311-ingestion/loader"
)

// Ingester runs the fetch-validate-persist cycle on a schedule and wires the
// loader to the raw archive and the downstream notification queue.
type Ingester struct {
	config   *Config
	client   *client.Client
	loader   *loader.Loader
	archiver *RawArchiver
	notifier *Notifier
	stateDB  io.Closer
	stopChan chan struct{}

	// Stats
	mu               sync.RWMutex
	loadsTotal       int64
	loadErrors       int64
	lastStrategy     string
	lastRecordCount  int
	lastWatermark    string
	lastLoadTime     time.Time
	lastLoadDuration time.Duration
}

// IngesterStats holds load statistics for the health endpoint.
type IngesterStats struct {
	LoadsTotal       int64
	LoadErrors       int64
	LastStrategy     string
	LastRecordCount  int
	LastWatermark    string
	LastLoadTime     time.Time
	LastLoadDuration time.Duration
}

// NewIngester creates an ingester instance from config.
func NewIngester(config *Config) (*Ingester, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ing := &Ingester{
		config:   config,
		client:   client.New(config.ClientConfig()),
		stopChan: make(chan struct{}),
	}

	if config.Archive.Enabled || config.State.Backend == "object" {
		mcli, err := newMinioClient(config.Archive)
		if err != nil {
			return nil, err
		}
		if config.Archive.Enabled {
			archiver, err := NewRawArchiver(mcli, config.Archive.Bucket, config.Archive.Prefix)
			if err != nil {
				return nil, err
			}
			ing.archiver = archiver
			log.Printf("📦 Raw archive enabled: s3://%s/%s", config.Archive.Bucket, config.Archive.Prefix)
		}
		if config.State.Backend == "object" {
			store := checkpoint.NewObjectStore(mcli, config.State.Bucket, config.State.Key)
			ing.loader = loader.New(ing.client, store, config.loaderConfig())
		}
	}

	switch config.State.Backend {
	case "file":
		store, err := checkpoint.NewFileStore(config.State.Path)
		if err != nil {
			return nil, err
		}
		ing.loader = loader.New(ing.client, store, config.loaderConfig())
	case "duckdb":
		store, err := checkpoint.NewDuckDBStore(config.State.Path, config.Service.Name)
		if err != nil {
			return nil, err
		}
		ing.stateDB = store
		ing.loader = loader.New(ing.client, store, config.loaderConfig())
	}

	if config.Notify.Enabled {
		ing.notifier = NewNotifier(config.Notify.URL, config.Notify.Queue)
		log.Printf("📨 Load notifications enabled: queue %q", config.Notify.Queue)
	}

	return ing, nil
}

// loaderConfig maps the loader section to the loader package's config.
func (c *Config) loaderConfig() loader.Config {
	return loader.Config{
		SCD2Mode:            c.Loader.SCD2Mode,
		InitialLookbackDays: c.Loader.InitialLookbackDays,
	}
}

// Start begins the load scheduler. The first cycle runs immediately;
// subsequent cycles run on the poll interval until Stop is called.
func (i *Ingester) Start() error {
	log.Println("🚀 Starting NYC 311 ingestion service")
	log.Printf("Poll interval: %v", i.config.PollInterval())
	log.Printf("SCD2 mode: %v, initial lookback: %d days",
		i.config.Loader.SCD2Mode, i.config.Loader.InitialLookbackDays)

	if err := i.runLoadCycle(); err != nil {
		log.Printf("⚠️  Initial load error: %v", err)
	}

	ticker := time.NewTicker(i.config.PollInterval())
	defer ticker.Stop()

	log.Println("✅ Ingester ready - polling for new data...")

	for {
		select {
		case <-ticker.C:
			if err := i.runLoadCycle(); err != nil {
				log.Printf("❌ Load cycle error: %v", err)
			}
		case <-i.stopChan:
			log.Println("🛑 Stopping ingester...")
			return nil
		}
	}
}

// Stop gracefully stops the ingester.
func (i *Ingester) Stop() {
	close(i.stopChan)
	if i.stateDB != nil {
		i.stateDB.Close()
	}
}

// runLoadCycle executes one full fetch-validate-persist cycle.
func (i *Ingester) runLoadCycle() error {
	start := time.Now()
	corr := start.UTC().Format("2006-01-02-15-04-05")

	if i.archiver != nil {
		i.client.SetPageObserver(func(offset int, raw []byte) {
			if err := i.archiver.PutPage(corr, offset, raw); err != nil {
				log.Printf("⚠️  Raw page archive failed (corr=%s offset=%d): %v", corr, offset, err)
				return
			}
			pagesArchivedTotal.Inc()
		})
		defer i.client.SetPageObserver(nil)
	}

	result, err := i.loader.LoadIncremental()
	duration := time.Since(start)
	if err != nil {
		loadsTotal.WithLabelValues("unknown", "failure").Inc()
		i.recordError()
		return err
	}

	loadsTotal.WithLabelValues(result.Strategy, "success").Inc()
	loadDuration.Observe(duration.Seconds())
	recordsFetchedTotal.Add(float64(result.RawCount))
	duplicatesCollapsedTotal.Add(float64(result.RawCount - len(result.Records)))
	if !result.Report.IsValid() {
		qualityFailuresTotal.Inc()
	}
	if ts, ok := parseTimestamp(result.Watermark); ok {
		watermarkTimestamp.Set(float64(ts.Unix()))
	}

	i.updateStats(result, duration)

	log.Printf("✅ Load cycle complete in %v (corr=%s, strategy=%s, records=%d, watermark=%s)",
		duration, corr, result.Strategy, len(result.Records), result.Watermark)

	if i.notifier != nil && len(result.Records) > 0 {
		manifest := LoadManifest{
			CorrID:    corr,
			Strategy:  result.Strategy,
			Records:   len(result.Records),
			RawCount:  result.RawCount,
			Watermark: result.Watermark,
			IsValid:   result.Report.IsValid(),
			StartedAt: start.UTC(),
			EndedAt:   time.Now().UTC(),
		}
		if err := i.notifier.PublishLoadComplete(manifest); err != nil {
			log.Printf("⚠️  Load notification failed (corr=%s): %v", corr, err)
		} else {
			log.Printf("📨 Published load manifest corr=%s -> queue=%s", corr, i.config.Notify.Queue)
		}
	}

	return nil
}

// parseTimestamp parses a Socrata floating timestamp, with or without
// milliseconds.
func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse("2006-01-02T15:04:05.000", s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// GetStats returns current load statistics.
func (i *Ingester) GetStats() IngesterStats {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return IngesterStats{
		LoadsTotal:       i.loadsTotal,
		LoadErrors:       i.loadErrors,
		LastStrategy:     i.lastStrategy,
		LastRecordCount:  i.lastRecordCount,
		LastWatermark:    i.lastWatermark,
		LastLoadTime:     i.lastLoadTime,
		LastLoadDuration: i.lastLoadDuration,
	}
}

// updateStats records the outcome of a successful cycle.
func (i *Ingester) updateStats(result *loader.Result, duration time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.loadsTotal++
	i.lastStrategy = result.Strategy
	i.lastRecordCount = len(result.Records)
	i.lastWatermark = result.Watermark
	i.lastLoadTime = time.Now()
	i.lastLoadDuration = duration
}

// recordError increments the error counters.
func (i *Ingester) recordError() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.loadsTotal++
	i.loadErrors++
}
