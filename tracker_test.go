package railtrack

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"railtrack.dev/railtrack/model"
	"railtrack.dev/railtrack/testutil"
)

type recordingPublisher struct {
	mutex     sync.Mutex
	snapshots [][]model.LiveTrain
	err       error
}

func (p *recordingPublisher) PublishTrains(ctx context.Context, trains []model.LiveTrain) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.snapshots = append(p.snapshots, trains)
	return p.err
}

func (p *recordingPublisher) Close() {}

const liveSnapshot = `[
  {"id": "a59", "number": 59, "name": "City of New Orleans", "railroad": "Amtrak",
   "lat": 41.87, "lon": -87.63, "next_station": "CHI", "arrival_epoch": 1719849600},
  {"id": "a159", "number": 159, "name": "Northeast Regional", "railroad": "Amtrak",
   "lat": 40.75, "lon": -73.99, "next_station": "nyp", "arrival_epoch": 1719849600},
  {"id": "v1", "number": 1, "name": "Canadian", "railroad": "VIA Rail",
   "lat": 43.64, "lon": -79.38, "next_station": "XXXX", "arrival_epoch": 1719849600},
  {"id": "a5900", "number": 5900, "name": "Thruway", "railroad": "Amtrak",
   "lat": null, "lon": null, "next_station": "WAS", "arrival_epoch": 0}
]`

func trainIDs(trains []model.LiveTrain) []string {
	ids := []string{}
	for _, t := range trains {
		ids = append(ids, t.ID)
	}
	return ids
}

func TestManagerRefreshTrains(t *testing.T) {
	for _, backend := range testutil.Backends() {
		t.Run(backend, func(t *testing.T) {
			server := serverFixture(t)
			server.SetFeed("/map", []byte(liveSnapshot))
			m, _ := managerFixture(t, backend, server)
			require.NoError(t, m.LoadStations(writeStations(t)))
			pub := &recordingPublisher{}
			m.Publisher = pub

			require.NoError(t, m.RefreshTrains(context.Background()))

			trains, err := m.Trains()
			require.NoError(t, err)
			assert.Equal(t, []string{"v1", "a59", "a159", "a5900"}, trainIDs(trains))

			byID := map[string]model.LiveTrain{}
			for _, tr := range trains {
				byID[tr.ID] = tr
				assert.True(t, tr.Active)
			}

			// Arrival in the next station's zone
			assert.Equal(t, "11:00 AM", byID["a59"].ScheduledArrival)
			assert.Equal(t, "12:00 PM", byID["a159"].ScheduledArrival)

			// Unknown station: kept, without an arrival
			assert.Equal(t, "", byID["v1"].ScheduledArrival)
			assert.Equal(t, "XXXX", byID["v1"].NextStation)

			// No position, no arrival epoch
			assert.False(t, byID["a5900"].Located())
			assert.Equal(t, "", byID["a5900"].ScheduledArrival)

			require.Len(t, pub.snapshots, 1)
			assert.Equal(t, trainIDs(trains), trainIDs(pub.snapshots[0]))
		})
	}
}

func TestManagerRefreshTrainsIdempotent(t *testing.T) {
	for _, backend := range testutil.Backends() {
		t.Run(backend, func(t *testing.T) {
			server := serverFixture(t)
			server.SetFeed("/map", []byte(liveSnapshot))
			m, _ := managerFixture(t, backend, server)
			require.NoError(t, m.LoadStations(writeStations(t)))

			require.NoError(t, m.RefreshTrains(context.Background()))
			first, err := m.Trains()
			require.NoError(t, err)

			require.NoError(t, m.RefreshTrains(context.Background()))
			second, err := m.Trains()
			require.NoError(t, err)

			assert.Equal(t, first, second)
		})
	}
}

func TestManagerRefreshTrainsDropsFinishedTrains(t *testing.T) {
	for _, backend := range testutil.Backends() {
		t.Run(backend, func(t *testing.T) {
			server := serverFixture(t)
			server.SetFeed("/map", []byte(liveSnapshot))
			m, _ := managerFixture(t, backend, server)
			require.NoError(t, m.LoadStations(writeStations(t)))
			pub := &recordingPublisher{}
			m.Publisher = pub

			require.NoError(t, m.RefreshTrains(context.Background()))

			// v1 has finished its run, a59 moved on
			server.SetFeed("/map", []byte(`[
  {"id": "a59", "number": 59, "name": "City of New Orleans", "railroad": "Amtrak",
   "lat": 41.0, "lon": -88.0, "next_station": "WAS", "arrival_epoch": 1719853200},
  {"id": "a159", "number": 159, "name": "Northeast Regional", "railroad": "Amtrak",
   "lat": 40.75, "lon": -73.99, "next_station": "NYP", "arrival_epoch": 1719849600}
]`))
			require.NoError(t, m.RefreshTrains(context.Background()))

			trains, err := m.Trains()
			require.NoError(t, err)
			assert.Equal(t, []string{"a59", "a159"}, trainIDs(trains))
			assert.Equal(t, "WAS", trains[0].NextStation)
			assert.Equal(t, "01:00 PM", trains[0].ScheduledArrival)
			assert.Equal(t, 41.0, *trains[0].Lat)

			// Publishes the set left after the swap, with finished
			// trains gone
			require.Len(t, pub.snapshots, 2)
			assert.Equal(t, trains, pub.snapshots[1])

			// An empty snapshot clears everything
			server.SetFeed("/map", []byte(`[]`))
			require.NoError(t, m.RefreshTrains(context.Background()))
			trains, err = m.Trains()
			require.NoError(t, err)
			assert.Len(t, trains, 0)
			require.Len(t, pub.snapshots, 3)
			assert.Len(t, pub.snapshots[2], 0)
		})
	}
}

func TestManagerRefreshTrainsFailureKeepsPreviousSet(t *testing.T) {
	server := serverFixture(t)
	server.SetFeed("/map", []byte(liveSnapshot))
	m, _ := managerFixture(t, "memory", server)
	require.NoError(t, m.LoadStations(writeStations(t)))
	require.NoError(t, m.RefreshTrains(context.Background()))

	server.SetFeed("/map", []byte(`{"oops": true}`))
	assert.Error(t, m.RefreshTrains(context.Background()))

	trains, err := m.Trains()
	require.NoError(t, err)
	assert.Len(t, trains, 4)
}

func TestManagerRefreshTrainsRetries(t *testing.T) {
	server := serverFixture(t)
	server.SetFeed("/map", []byte(liveSnapshot))
	server.Failures["/map"] = 2
	m, _ := managerFixture(t, "memory", server)
	require.NoError(t, m.LoadStations(writeStations(t)))

	require.NoError(t, m.RefreshTrains(context.Background()))
	assert.Equal(t, 3, server.RequestCount("/map"))

	trains, err := m.Trains()
	require.NoError(t, err)
	assert.Len(t, trains, 4)

	// Client errors aren't retried
	server.mutex.Lock()
	delete(server.Feeds, "/map")
	server.mutex.Unlock()
	assert.Error(t, m.RefreshTrains(context.Background()))
	assert.Equal(t, 4, server.RequestCount("/map"))
}

func TestManagerRefreshTrainsPublishFailure(t *testing.T) {
	server := serverFixture(t)
	server.SetFeed("/map", []byte(liveSnapshot))
	m, _ := managerFixture(t, "memory", server)
	m.Publisher = &recordingPublisher{err: fmt.Errorf("broker down")}

	// Publishing is best effort
	require.NoError(t, m.RefreshTrains(context.Background()))
	trains, err := m.Trains()
	require.NoError(t, err)
	assert.Len(t, trains, 4)
}

func TestManagerSearchTrains(t *testing.T) {
	for _, backend := range testutil.Backends() {
		t.Run(backend, func(t *testing.T) {
			server := serverFixture(t)
			server.SetFeed("/map", []byte(liveSnapshot))
			m, _ := managerFixture(t, backend, server)
			require.NoError(t, m.LoadStations(writeStations(t)))
			require.NoError(t, m.RefreshTrains(context.Background()))

			for _, tc := range []struct {
				Query    string
				Expected []string
			}{
				// By number
				{"59", []string{"a59"}},
				{" 159 ", []string{"a159"}},
				// By name
				{"regional", []string{"a159"}},
				{"N", []string{"v1", "a59", "a159"}},
				// Nothing by name or number, so by railroad
				{"via", []string{"v1"}},
				{"amtrak", []string{"a59", "a159", "a5900"}},
				{"metra", []string{}},
			} {
				trains, err := m.SearchTrains(tc.Query)
				require.NoError(t, err)
				assert.Equal(t, tc.Expected, trainIDs(trains), tc.Query)
			}
		})
	}
}

func TestManagerNearestTrains(t *testing.T) {
	for _, backend := range testutil.Backends() {
		t.Run(backend, func(t *testing.T) {
			server := serverFixture(t)
			server.SetFeed("/map", []byte(liveSnapshot))
			m, _ := managerFixture(t, backend, server)
			require.NoError(t, m.RefreshTrains(context.Background()))

			// Fewer than five located trains: all of them
			trains, err := m.NearestTrains(40.7, -74.0)
			require.NoError(t, err)
			assert.Equal(t, []string{"a159", "v1", "a59"}, trainIDs(trains))

			// More than five: the five closest
			entries := []string{}
			for i := 1; i <= 8; i++ {
				entries = append(entries, fmt.Sprintf(
					`{"id": "t%d", "number": %d, "name": "Train", "railroad": "Amtrak", "lat": %d.0, "lon": 0.0, "next_station": "NYP"}`,
					i, i, i,
				))
			}
			server.SetFeed("/map", []byte("["+strings.Join(entries, ",")+"]"))
			require.NoError(t, m.RefreshTrains(context.Background()))

			trains, err = m.NearestTrains(2.9, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"t3", "t2", "t4", "t1", "t5"}, trainIDs(trains))
		})
	}
}
