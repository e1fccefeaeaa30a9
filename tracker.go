package railtrack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"railtrack.dev/railtrack/downloader"
	"railtrack.dev/railtrack/model"
	"railtrack.dev/railtrack/parse"
	"railtrack.dev/railtrack/storage"
	"railtrack.dev/railtrack/timeutil"
)

const NearestTrainsLimit = 5

// Fetches the live position snapshot and replaces the stored train
// set with it.
//
// Trains whose next station isn't in the directory are kept, with a
// blank scheduled arrival. Readers see either the previous set or
// the new one, never a mix.
func (m *Manager) RefreshTrains(ctx context.Context) error {
	if !m.trainsMutex.TryLock() {
		m.Metrics.TrainResult("busy", 0)
		return ErrRefreshInProgress
	}
	defer m.trainsMutex.Unlock()

	n, err := m.refreshTrains(ctx)
	if err != nil {
		m.Metrics.TrainResult("error", 0)
		return err
	}
	m.Metrics.TrainResult("ok", n)

	return nil
}

func (m *Manager) refreshTrains(ctx context.Context) (int, error) {
	body, err := m.fetchLive(ctx)
	if err != nil {
		return 0, err
	}

	trains, err := parse.ParseLiveTrains(body)
	if err != nil {
		return 0, fmt.Errorf("parsing live trains: %w", err)
	}

	// Resolve stations before opening the writer, as some
	// backends can't read while a write is pending
	for i := range trains {
		m.resolveArrival(&trains[i])
	}

	writer, err := m.storage.GetTrainWriter()
	if err != nil {
		return 0, fmt.Errorf("getting train writer: %w", err)
	}

	staged, err := writeTrains(writer, trains)
	if err != nil {
		if rbErr := writer.Rollback(); rbErr != nil {
			return 0, errors.Join(err, fmt.Errorf("rolling back: %w", rbErr))
		}
		return 0, err
	}

	err = writer.Commit()
	if err != nil {
		return 0, fmt.Errorf("committing trains: %w", err)
	}

	log.Printf("updated trains, there are %d trains", len(staged))
	m.publish(ctx, staged)

	return len(staged), nil
}

// Runs one write cycle and returns the set it leaves staged.
func writeTrains(writer storage.TrainWriter, trains []model.LiveTrain) ([]model.LiveTrain, error) {
	err := writer.MarkAllInactive()
	if err != nil {
		return nil, fmt.Errorf("marking trains inactive: %w", err)
	}

	for _, t := range trains {
		t.Active = true
		err = writer.UpsertTrain(t)
		if err != nil {
			return nil, fmt.Errorf("upserting train %s: %w", t.ID, err)
		}
	}

	removed, err := writer.DeleteInactive()
	if err != nil {
		return nil, fmt.Errorf("deleting inactive trains: %w", err)
	}
	if removed > 0 {
		log.Printf("removed %d trains no longer running", removed)
	}

	staged, err := writer.Staged()
	if err != nil {
		return nil, fmt.Errorf("reading staged trains: %w", err)
	}

	return staged, nil
}

// Formats the arrival at the train's next station in that station's
// zone.
func (m *Manager) resolveArrival(t *model.LiveTrain) {
	t.ScheduledArrival = ""

	station, err := m.storage.StationByCode(t.NextStation)
	if err != nil {
		log.Printf("looking up station %s: %v", t.NextStation, err)
		return
	}
	if station == nil {
		log.Printf("station not found for %s", t.NextStation)
		return
	}
	if t.ArrivalEpoch == 0 {
		return
	}

	zone := station.TimeZone
	if zone == "" {
		zone = m.config.ReferenceZone
	}
	arrival, err := timeutil.FormatEpoch(t.ArrivalEpoch, zone)
	if err != nil {
		log.Printf("train %s: %v", t.ID, err)
		return
	}
	t.ScheduledArrival = arrival
}

// Gets the live snapshot, retrying with exponential backoff. Client
// errors (4xx) aren't retried.
func (m *Manager) fetchLive(ctx context.Context) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = m.config.Live.MaxElapsed

	start := time.Now()
	body, err := backoff.RetryNotifyWithData(
		func() ([]byte, error) {
			body, err := m.Downloader.Get(ctx, m.config.Live.URL, nil, downloader.GetOptions{
				ConnectTimeout: m.config.ConnectTimeout,
				Timeout:        m.config.ReadTimeout,
				MaxSize:        DefaultLiveMaxSize,
			})
			var statusErr *downloader.StatusError
			if errors.As(err, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 && statusErr.Code != http.StatusTooManyRequests {
				return nil, backoff.Permanent(err)
			}
			return body, err
		},
		backoff.WithContext(b, ctx),
		func(err error, d time.Duration) {
			log.Printf("live fetch failed, retrying in %s: %v", d, err)
		},
	)
	m.Metrics.ObserveFetch("live", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("downloading live trains: %w", err)
	}

	return body, nil
}

func (m *Manager) publish(ctx context.Context, trains []model.LiveTrain) {
	if m.Publisher == nil {
		return
	}
	err := m.Publisher.PublishTrains(ctx, trains)
	m.Metrics.PublishResult(err)
	if err != nil {
		log.Printf("publishing trains: %v", err)
	}
}

// All trains, ordered by number.
func (m *Manager) Trains() ([]model.LiveTrain, error) {
	trains, err := m.storage.Trains(storage.TrainFilter{})
	if err != nil {
		return nil, fmt.Errorf("getting trains: %w", err)
	}
	return trains, nil
}

// Trains whose name contains q, or whose number is q. Only when
// neither gives a hit are railroads searched.
func (m *Manager) SearchTrains(q string) ([]model.LiveTrain, error) {
	q = strings.TrimSpace(q)

	byName, err := m.storage.Trains(storage.TrainFilter{NameContains: q})
	if err != nil {
		return nil, fmt.Errorf("searching names: %w", err)
	}

	byNumber := []model.LiveTrain{}
	if number, err := strconv.Atoi(q); err == nil {
		byNumber, err = m.storage.Trains(storage.TrainFilter{Number: number, HasNumber: true})
		if err != nil {
			return nil, fmt.Errorf("searching numbers: %w", err)
		}
	}

	results := append(byName, byNumber...)
	if len(results) == 0 {
		results, err = m.storage.Trains(storage.TrainFilter{RailroadContains: q})
		if err != nil {
			return nil, fmt.Errorf("searching railroads: %w", err)
		}
	}

	seen := map[string]bool{}
	trains := []model.LiveTrain{}
	for _, t := range results {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		trains = append(trains, t)
	}

	sort.SliceStable(trains, func(i, j int) bool {
		if trains[i].Number != trains[j].Number {
			return trains[i].Number < trains[j].Number
		}
		return trains[i].ID < trains[j].ID
	})

	return trains, nil
}

// The (up to) five trains closest to the given point, closest first.
// Distance is plain Euclidean over degrees. Trains without a
// position are ignored.
func (m *Manager) NearestTrains(lat, lon float64) ([]model.LiveTrain, error) {
	trains, err := m.Trains()
	if err != nil {
		return nil, err
	}

	type candidate struct {
		train    model.LiveTrain
		distance float64
	}
	candidates := []candidate{}
	for _, t := range trains {
		if !t.Located() {
			continue
		}
		candidates = append(candidates, candidate{
			train:    t,
			distance: storage.EuclideanDistance(lat, lon, *t.Lat, *t.Lon),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})

	n := len(candidates)
	if n > NearestTrainsLimit {
		n = NearestTrainsLimit
	}
	nearest := make([]model.LiveTrain, 0, n)
	for _, c := range candidates[:n] {
		nearest = append(nearest, c.train)
	}

	return nearest, nil
}

// Stations whose name contains q, case-insensitively. As station
// names carry accents but queries often don't, "e" is also tried as
// "é".
func (m *Manager) SearchStationsByName(q string) ([]model.Station, error) {
	queries := []string{q}
	if accented := strings.ReplaceAll(q, "e", "é"); accented != q {
		queries = append(queries, accented)
	}

	seen := map[string]bool{}
	stations := []model.Station{}
	for _, query := range queries {
		found, err := m.storage.SearchStations(storage.StationFilter{NameContains: query})
		if err != nil {
			return nil, fmt.Errorf("searching stations: %w", err)
		}
		for _, s := range found {
			if seen[s.ID] {
				continue
			}
			seen[s.ID] = true
			stations = append(stations, s)
		}
	}

	sort.SliceStable(stations, func(i, j int) bool {
		return stations[i].Code < stations[j].Code
	})

	return stations, nil
}

// Stations whose code contains q, case-insensitively.
func (m *Manager) SearchStationsByCode(q string) ([]model.Station, error) {
	stations, err := m.storage.SearchStations(storage.StationFilter{CodeContains: q})
	if err != nil {
		return nil, fmt.Errorf("searching stations: %w", err)
	}
	return stations, nil
}

// All stations, ordered by code.
func (m *Manager) Stations() ([]model.Station, error) {
	return m.SearchStationsByCode("")
}

// Station with the given code.
func (m *Manager) Station(code string) (*model.Station, error) {
	station, err := m.storage.StationByCode(code)
	if err != nil {
		return nil, fmt.Errorf("getting station: %w", err)
	}
	if station == nil {
		return nil, fmt.Errorf("%w: %s", ErrStationNotFound, code)
	}
	return station, nil
}
