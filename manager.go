package railtrack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"railtrack.dev/railtrack/config"
	"railtrack.dev/railtrack/downloader"
	"railtrack.dev/railtrack/metrics"
	"railtrack.dev/railtrack/model"
	"railtrack.dev/railtrack/parse"
	"railtrack.dev/railtrack/publisher"
	"railtrack.dev/railtrack/storage"
)

const (
	DefaultScheduleMaxSize = 800 << 20 // 800 MB
	DefaultRealtimeMaxSize = 8 << 20   // 8 MB
	DefaultLiveMaxSize     = 8 << 20   // 8 MB
)

// Manager ties the schedule, realtime and live feeds to storage.
type Manager struct {
	Downloader downloader.Downloader

	// Optional. Receives the train set after each live refresh.
	Publisher publisher.Publisher

	// Optional.
	Metrics *metrics.Collector

	config  *config.Config
	storage storage.Storage
	matcher *Matcher

	// One per ingestion task. Overlapping runs are refused, not
	// queued.
	scheduleMutex sync.Mutex
	trainsMutex   sync.Mutex
}

// Creates a new Manager on top of the given storage.
//
// By default, downloads are cached in memory. Only realtime feeds
// are fetched with caching enabled, as schedules are persisted in
// storage and live snapshots must be fresh.
func NewManager(s storage.Storage, cfg *config.Config) *Manager {
	return &Manager{
		Downloader: downloader.NewMemoryDownloader(),

		config:  cfg,
		storage: s,
		matcher: NewMatcher(
			cfg.ReferenceZone,
			cfg.DateZone,
			cfg.Realtime.CarrierPrefix,
			cfg.Realtime.CorrectedRoutes,
		),
	}
}

// Replaces the clock used for "now". For tests.
func (m *Manager) SetNow(now func() time.Time) {
	m.matcher.Now = now
}

// Downloads every configured schedule source, then replaces each
// source's routes, trips and stop times in storage.
//
// Sources are independent. A source that fails to download or parse
// keeps its previous data, and its error is included in the
// returned (joined) error.
func (m *Manager) RefreshSchedule(ctx context.Context) error {
	if !m.scheduleMutex.TryLock() {
		return ErrRefreshInProgress
	}
	defer m.scheduleMutex.Unlock()

	type download struct {
		source model.Source
		body   []byte
		err    error
	}

	// All network I/O happens before any writer is opened
	downloads := make([]download, len(m.config.Sources))
	wg := sync.WaitGroup{}
	for i, src := range m.config.Sources {
		wg.Add(1)
		go func(i int, src config.ScheduleSource) {
			defer wg.Done()
			start := time.Now()
			body, err := m.Downloader.Get(ctx, src.URL, nil, downloader.GetOptions{
				ConnectTimeout: m.config.ConnectTimeout,
				Timeout:        m.config.ReadTimeout,
				MaxSize:        DefaultScheduleMaxSize,
			})
			m.Metrics.ObserveFetch("schedule", time.Since(start))
			downloads[i] = download{source: src.Source, body: body, err: err}
		}(i, src)
	}
	wg.Wait()

	errs := []error{}
	for _, d := range downloads {
		err := d.err
		if err != nil {
			err = fmt.Errorf("downloading %s: %w", d.source, err)
		} else {
			err = m.importSchedule(d.source, d.body)
		}
		m.Metrics.ScheduleResult(string(d.source), err)
		if err != nil {
			log.Printf("schedule source %s failed, keeping previous data: %v", d.source, err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Parses a schedule archive and atomically replaces the source's
// data with it.
func (m *Manager) importSchedule(source model.Source, body []byte) error {
	mapper, err := parse.MapperFor(source)
	if err != nil {
		return err
	}

	writer, err := m.storage.GetScheduleWriter(source)
	if err != nil {
		return fmt.Errorf("getting writer for %s: %w", source, err)
	}

	stats, err := parse.ParseSchedule(writer, body, mapper)
	if err != nil {
		if rbErr := writer.Rollback(); rbErr != nil {
			return errors.Join(
				fmt.Errorf("parsing %s: %w", source, err),
				fmt.Errorf("rolling back %s: %w", source, rbErr),
			)
		}
		return fmt.Errorf("parsing %s: %w", source, err)
	}

	err = writer.Commit()
	if err != nil {
		return fmt.Errorf("committing %s: %w", source, err)
	}

	log.Printf(
		"schedule source %s: %d routes, %d trips, %d stop times (%d skipped)",
		source, stats.Routes.Accepted, stats.Trips.Accepted, stats.StopTimes.Accepted, stats.Skipped(),
	)
	for file, fs := range map[string]parse.FileStats{
		"routes":     stats.Routes,
		"trips":      stats.Trips,
		"stop_times": stats.StopTimes,
	} {
		m.Metrics.SetScheduleRows(string(source), file, fs.Accepted)
		if fs.FirstError != nil {
			log.Printf("schedule source %s: first skipped row in %s: %v", source, file, fs.FirstError)
		}
	}
	m.Metrics.Skipped("malformed", stats.Skipped())

	return nil
}

// Replaces the station directory with the stations in the CSV file
// at path.
func (m *Manager) LoadStations(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening stations: %w", err)
	}
	defer f.Close()

	stations, err := parse.ParseStations(f)
	if err != nil {
		return fmt.Errorf("parsing stations: %w", err)
	}

	for i := range stations {
		stations[i].Name = parse.AmtrakStationName(stations[i].Code, stations[i].Name)
	}

	err = m.storage.ReplaceStations(stations)
	if err != nil {
		return fmt.Errorf("replacing stations: %w", err)
	}

	log.Printf("loaded %d stations", len(stations))
	return nil
}
