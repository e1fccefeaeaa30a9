package railtrack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"railtrack.dev/railtrack/downloader"
	"railtrack.dev/railtrack/model"
	"railtrack.dev/railtrack/parse"
	"railtrack.dev/railtrack/timeutil"
)

// Builds the arrivals/departures board for the station with the
// given code.
//
// The realtime feed is fetched first. If that fails, the board is
// still returned, but without rows.
func (m *Manager) Timeboard(ctx context.Context, code string) (*model.Timeboard, error) {
	feed, err := m.fetchRealtime(ctx, m.config.RealtimeURL(code))
	if err != nil {
		log.Printf("timeboard %s: realtime unavailable: %v", code, err)
	}

	station, err := m.storage.StationByCode(code)
	if err != nil {
		return nil, fmt.Errorf("getting station: %w", err)
	}
	if station == nil {
		return nil, fmt.Errorf("%w: %s", ErrStationNotFound, code)
	}

	board := &model.Timeboard{
		Code:      station.Code,
		Name:      station.Name,
		Website:   station.Website,
		AdminArea: station.AdminArea,
		Rows:      []model.TimeboardRow{},
	}

	if feed == nil {
		return board, nil
	}

	stopTimes, err := m.storage.StopTimesByStop(station.ID)
	if err != nil {
		return nil, fmt.Errorf("getting stop times: %w", err)
	}

	dangling, malformed, shortFeeds := 0, 0, 0
	for _, st := range stopTimes {
		trip, route, err := m.resolve(st)
		if errors.Is(err, ErrDanglingReference) {
			dangling++
			continue
		}
		if err != nil {
			return nil, err
		}

		rows, short, err := m.matcher.Match(feed, st, *trip, *route, *station)
		if err != nil {
			var formatErr *timeutil.FormatError
			var zoneErr *timeutil.UnknownZoneError
			switch {
			case errors.As(err, &formatErr):
				malformed++
				continue
			case errors.As(err, &zoneErr):
				log.Printf("timeboard %s: trip %s: %v", code, st.TripID, err)
				malformed++
				continue
			}
			return nil, fmt.Errorf("matching trip %s: %w", st.TripID, err)
		}

		shortFeeds += short
		board.Rows = append(board.Rows, rows...)
	}

	sort.SliceStable(board.Rows, func(i, j int) bool {
		return board.Rows[i].SortTime.Before(board.Rows[j].SortTime)
	})

	if dangling+malformed > 0 {
		log.Printf("timeboard %s: %d rows, skipped %d dangling and %d malformed stop times", code, len(board.Rows), dangling, malformed)
	}
	m.Metrics.Skipped("dangling", dangling)
	m.Metrics.Skipped("malformed", malformed)
	m.Metrics.Skipped("short_feed", shortFeeds)

	return board, nil
}

// Looks up a stop time's trip, and the trip's route, within the stop
// time's source.
func (m *Manager) resolve(st model.StopTime) (*model.Trip, *model.Route, error) {
	trip, err := m.storage.Trip(st.Source, st.TripID)
	if err != nil {
		return nil, nil, fmt.Errorf("getting trip: %w", err)
	}
	if trip == nil {
		return nil, nil, fmt.Errorf("%w: trip %s", ErrDanglingReference, st.TripID)
	}

	route, err := m.storage.Route(st.Source, trip.RouteID)
	if err != nil {
		return nil, nil, fmt.Errorf("getting route: %w", err)
	}
	if route == nil {
		return nil, nil, fmt.Errorf("%w: route %s", ErrDanglingReference, trip.RouteID)
	}

	return trip, route, nil
}

var supportedRealtimeVersions = map[string]bool{"1.0": true, "2.0": true}

func (m *Manager) fetchRealtime(ctx context.Context, url string) (*parse.Realtime, error) {
	start := time.Now()
	body, err := m.Downloader.Get(ctx, url, nil, downloader.GetOptions{
		Cache:          true,
		CacheTTL:       m.config.Realtime.CacheTTL,
		ConnectTimeout: m.config.ConnectTimeout,
		Timeout:        m.config.ReadTimeout,
		MaxSize:        DefaultRealtimeMaxSize,
	})
	m.Metrics.ObserveFetch("realtime", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("downloading realtime: %w", err)
	}

	feed, err := parse.ParseRealtime(body)
	if err != nil {
		return nil, fmt.Errorf("parsing realtime: %w", err)
	}
	if !supportedRealtimeVersions[feed.Version] || feed.Differential {
		log.Printf("realtime %s: unexpected header (version %q, differential %t), reading anyway", url, feed.Version, feed.Differential)
	}

	return feed, nil
}
