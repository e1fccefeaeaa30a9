package railtrack

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"railtrack.dev/railtrack/config"
	"railtrack.dev/railtrack/downloader"
	"railtrack.dev/railtrack/model"
	"railtrack.dev/railtrack/storage"
	"railtrack.dev/railtrack/testutil"
)

type MockRailServer struct {
	Feeds    map[string][]byte
	Failures map[string]int // remaining 503s per path
	Delays   map[string]time.Duration
	Requests []string
	Server   *httptest.Server

	mutex sync.Mutex
}

func (m *MockRailServer) handler(w http.ResponseWriter, r *http.Request) {
	m.mutex.Lock()
	m.Requests = append(m.Requests, r.URL.Path)
	feed, found := m.Feeds[r.URL.Path]
	delay := m.Delays[r.URL.Path]
	fail := m.Failures[r.URL.Path] > 0
	if fail {
		m.Failures[r.URL.Path]--
	}
	m.mutex.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	switch {
	case fail:
		w.WriteHeader(http.StatusServiceUnavailable)
	case found:
		w.Write(feed)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (m *MockRailServer) SetFeed(path string, data []byte) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.Feeds[path] = data
}

func (m *MockRailServer) RequestCount(path string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	n := 0
	for _, r := range m.Requests {
		if r == path {
			n++
		}
	}
	return n
}

func serverFixture(t *testing.T) *MockRailServer {
	m := &MockRailServer{
		Feeds:    map[string][]byte{},
		Failures: map[string]int{},
		Delays:   map[string]time.Duration{},
		Requests: []string{},
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handler))
	t.Cleanup(m.Server.Close)
	return m
}

// A manager reading every feed from the mock server, with "now"
// fixed at noon in New York on 2024-07-01.
func managerFixture(t *testing.T, backend string, server *MockRailServer) (*Manager, storage.Storage) {
	cfg := config.Default()
	cfg.Sources = []config.ScheduleSource{
		{Source: model.SourceAmtrak, URL: server.Server.URL + "/amtrak.zip"},
		{Source: model.SourceVIA, URL: server.Server.URL + "/via.zip"},
		{Source: model.SourceSanJoaquins, URL: server.Server.URL + "/sj.zip"},
	}
	cfg.DateZone = "UTC"
	cfg.Realtime.LongHaulURL = server.Server.URL + "/rt/amtrak"
	cfg.Realtime.RegionalURL = server.Server.URL + "/rt/via"
	cfg.Realtime.CacheTTL = 0
	cfg.Live.URL = server.Server.URL + "/map"
	cfg.Live.MaxElapsed = 5 * time.Second

	s := testutil.BuildStorage(t, backend)
	m := NewManager(s, cfg)
	m.SetNow(func() time.Time { return time.Unix(matcherNowEpoch, 0) })

	return m, s
}

func amtrakZip() map[string][]string {
	return map[string][]string{
		"routes.txt": {
			"route_id,agency_id,route_short_name,route_long_name,route_desc,route_type",
			"88,51,,Northeast Regional,,2",
		},
		"trips.txt": {
			"route_id,service_id,trip_id,trip_short_name,direction_id,shape_id,trip_headsign",
			"88,svc,t171,171,0,,Washington",
			"88,svc,t66,66,1,,Boston",
		},
		"stop_times.txt": {
			"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
			"t171,08:00:00,08:05:00,NYP,1",
			"t171,11:30:00,11:30:00,WAS,2",
			"t66,06:55:00,07:00:00,NYP,2",
			"tmissing,09:00:00,09:00:00,NYP,1",
		},
	}
}

func viaZip() map[string][]string {
	return map[string][]string{
		"routes.txt": {
			"route_id,agency_id,route_long_name",
			"r1,VIA,Toronto - Montréal",
		},
		"trips.txt": {
			"route_id,service_id,trip_id,x,trip_short_name,trip_headsign",
			"r1,svc,v60,,60-61,Montréal",
		},
		"stop_times.txt": {
			"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
			"v60,10:00:00,10:05:00,TRTO,1",
		},
	}
}

func sanJoaquinsZip() map[string][]string {
	return map[string][]string{
		"routes.txt": {
			"route_id,route_long_name",
			"SJ2,Amtrak San Joaquins",
			"BUS3,Thruway 3",
		},
		"trips.txt": {
			"trip_id,route_id,service_id,trip_headsign",
			"714,SJ2,svc,Sacramento",
		},
		"stop_times.txt": {
			"trip_id,stop_sequence,stop_id,arrival_time,departure_time",
			"714,1,BFD,05:00:00,05:00:00",
		},
	}
}

func serveSchedules(t *testing.T, server *MockRailServer) {
	server.SetFeed("/amtrak.zip", testutil.BuildZip(t, amtrakZip()))
	server.SetFeed("/via.zip", testutil.BuildZip(t, viaZip()))
	server.SetFeed("/sj.zip", testutil.BuildZip(t, sanJoaquinsZip()))
}

func writeStations(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "stations.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"id,admin_area,code,name,time_zone,website",
		"NYP,NY,NYP,New York Penn,America/New_York,https://www.amtrak.com/stations/nyp",
		"WAS,DC,WAS,Washington Union Station,America/New_York,",
		"CHI,IL,CHI,Chicago Union Station,America/Chicago,",
		"TRTO,ON,TRTO,Toronto Union,America/Toronto,",
		"MTRL,QC,MTRL,Montréal,America/Toronto,",
		"BFD,CA,BFD,Bakersfield,America/Los_Angeles,",
	}, "\n")), 0644))
	return path
}

func TestManagerRefreshSchedule(t *testing.T) {
	for _, backend := range testutil.Backends() {
		t.Run(backend, func(t *testing.T) {
			server := serverFixture(t)
			serveSchedules(t, server)
			m, s := managerFixture(t, backend, server)

			require.NoError(t, m.RefreshSchedule(context.Background()))

			for _, tc := range []struct {
				Source   model.Source
				Expected storage.ScheduleCounts
			}{
				{model.SourceAmtrak, storage.ScheduleCounts{Routes: 1, Trips: 2, StopTimes: 4}},
				{model.SourceVIA, storage.ScheduleCounts{Routes: 1, Trips: 1, StopTimes: 1}},
				{model.SourceSanJoaquins, storage.ScheduleCounts{Routes: 1, Trips: 1, StopTimes: 1}},
			} {
				counts, err := s.ScheduleCounts(tc.Source)
				require.NoError(t, err)
				assert.Equal(t, tc.Expected, counts, tc.Source)
			}

			route, err := s.Route(model.SourceVIA, "r1")
			require.NoError(t, err)
			require.NotNil(t, route)
			assert.Equal(t, "Corridor: Toronto - Montréal", route.Name)

			trip, err := s.Trip(model.SourceVIA, "v60")
			require.NoError(t, err)
			require.NotNil(t, trip)
			assert.Equal(t, 60, trip.Number)

			// Refreshing again replaces rather than duplicates
			require.NoError(t, m.RefreshSchedule(context.Background()))
			counts, err := s.ScheduleCounts(model.SourceAmtrak)
			require.NoError(t, err)
			assert.Equal(t, storage.ScheduleCounts{Routes: 1, Trips: 2, StopTimes: 4}, counts)
		})
	}
}

func TestManagerRefreshScheduleKeepsFailedSource(t *testing.T) {
	for _, backend := range testutil.Backends() {
		t.Run(backend, func(t *testing.T) {
			server := serverFixture(t)
			serveSchedules(t, server)
			m, s := managerFixture(t, backend, server)

			require.NoError(t, m.RefreshSchedule(context.Background()))

			// VIA goes missing, San Joaquins serves garbage,
			// Amtrak drops a trip.
			files := amtrakZip()
			files["trips.txt"] = files["trips.txt"][:2]
			server.SetFeed("/amtrak.zip", testutil.BuildZip(t, files))
			server.SetFeed("/sj.zip", []byte("<html>down for maintenance</html>"))
			server.mutex.Lock()
			delete(server.Feeds, "/via.zip")
			server.mutex.Unlock()

			err := m.RefreshSchedule(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "via")
			assert.Contains(t, err.Error(), "sanjoaquins")
			assert.NotContains(t, err.Error(), "amtrak")

			var statusErr *downloader.StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, http.StatusNotFound, statusErr.Code)

			// Amtrak was replaced
			counts, err := s.ScheduleCounts(model.SourceAmtrak)
			require.NoError(t, err)
			assert.Equal(t, storage.ScheduleCounts{Routes: 1, Trips: 1, StopTimes: 4}, counts)

			// The others kept their data
			counts, err = s.ScheduleCounts(model.SourceVIA)
			require.NoError(t, err)
			assert.Equal(t, storage.ScheduleCounts{Routes: 1, Trips: 1, StopTimes: 1}, counts)
			counts, err = s.ScheduleCounts(model.SourceSanJoaquins)
			require.NoError(t, err)
			assert.Equal(t, storage.ScheduleCounts{Routes: 1, Trips: 1, StopTimes: 1}, counts)
		})
	}
}

func TestManagerRefreshScheduleTimeout(t *testing.T) {
	server := serverFixture(t)
	serveSchedules(t, server)
	server.Delays["/via.zip"] = 2 * time.Second

	m, s := managerFixture(t, "memory", server)
	m.config.ReadTimeout = 100 * time.Millisecond

	err := m.RefreshSchedule(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, downloader.ErrUpstreamTimeout))

	// The slow source doesn't hold back the others
	counts, err := s.ScheduleCounts(model.SourceAmtrak)
	require.NoError(t, err)
	assert.Equal(t, 4, counts.StopTimes)
	counts, err = s.ScheduleCounts(model.SourceVIA)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.StopTimes)
}

func TestManagerRefreshInProgress(t *testing.T) {
	server := serverFixture(t)
	serveSchedules(t, server)
	m, _ := managerFixture(t, "memory", server)

	m.scheduleMutex.Lock()
	err := m.RefreshSchedule(context.Background())
	assert.ErrorIs(t, err, ErrRefreshInProgress)
	m.scheduleMutex.Unlock()

	m.trainsMutex.Lock()
	err = m.RefreshTrains(context.Background())
	assert.ErrorIs(t, err, ErrRefreshInProgress)
	m.trainsMutex.Unlock()

	// Nothing was downloaded
	assert.Len(t, server.Requests, 0)
}

func TestManagerLoadStations(t *testing.T) {
	for _, backend := range testutil.Backends() {
		t.Run(backend, func(t *testing.T) {
			server := serverFixture(t)
			m, _ := managerFixture(t, backend, server)

			require.NoError(t, m.LoadStations(writeStations(t)))

			station, err := m.Station("nyp")
			require.NoError(t, err)
			assert.Equal(t, "New York Moynihan Train Hall at Penn Station", station.Name)
			assert.Equal(t, "https://www.amtrak.com/stations/nyp", station.Website)

			_, err = m.Station("XYZ")
			assert.ErrorIs(t, err, ErrStationNotFound)

			stations, err := m.Stations()
			require.NoError(t, err)
			assert.Len(t, stations, 6)
			assert.Equal(t, "BFD", stations[0].Code)

			err = m.LoadStations(filepath.Join(t.TempDir(), "missing.csv"))
			assert.Error(t, err)
		})
	}
}

func TestManagerSearchStations(t *testing.T) {
	for _, backend := range testutil.Backends() {
		t.Run(backend, func(t *testing.T) {
			server := serverFixture(t)
			m, _ := managerFixture(t, backend, server)
			require.NoError(t, m.LoadStations(writeStations(t)))

			// Accent-less queries find accented names
			stations, err := m.SearchStationsByName("montreal")
			require.NoError(t, err)
			require.Len(t, stations, 1)
			assert.Equal(t, "MTRL", stations[0].Code)

			stations, err = m.SearchStationsByName("UNION")
			require.NoError(t, err)
			codes := []string{}
			for _, s := range stations {
				codes = append(codes, s.Code)
			}
			assert.Equal(t, []string{"CHI", "TRTO", "WAS"}, codes)

			stations, err = m.SearchStationsByCode("r")
			require.NoError(t, err)
			codes = []string{}
			for _, s := range stations {
				codes = append(codes, s.Code)
			}
			assert.Equal(t, []string{"MTRL", "TRTO"}, codes)

			stations, err = m.SearchStationsByName("nowhere")
			require.NoError(t, err)
			assert.Len(t, stations, 0)
		})
	}
}
