package railtrack

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"railtrack.dev/railtrack/model"
	"railtrack.dev/railtrack/parse"
	"railtrack.dev/railtrack/timeutil"
)

// 2024-07-01 16:00 UTC, i.e. noon in New York.
const matcherNowEpoch = 1719849600

func matcherFixture() *Matcher {
	m := NewMatcher("America/New_York", "UTC", "AMTK", []string{"SJ2"})
	m.Now = func() time.Time { return time.Unix(matcherNowEpoch, 0) }
	return m
}

func arrival(epoch int64, delay int32) parse.StopTimeUpdate {
	return parse.StopTimeUpdate{ArrivalIsSet: true, ArrivalTime: epoch, ArrivalDelay: delay}
}

func departure(epoch int64, delay int32) parse.StopTimeUpdate {
	return parse.StopTimeUpdate{DepartureIsSet: true, DepartureTime: epoch, DepartureDelay: delay}
}

func feedOf(updates ...*parse.TripUpdate) *parse.Realtime {
	return &parse.Realtime{TripUpdates: updates}
}

var (
	nyp   = model.Station{ID: "NYP", Code: "NYP", Name: "New York", TimeZone: "America/New_York"}
	chi   = model.Station{ID: "CHI", Code: "CHI", Name: "Chicago", TimeZone: "America/Chicago"}
	hfx   = model.Station{ID: "HLFX", Code: "HLFX", Name: "Halifax", TimeZone: "America/Halifax"}
	route = model.Route{Source: model.SourceAmtrak, ID: "88", Name: "Northeast Regional"}
	trip  = model.Trip{Source: model.SourceAmtrak, ID: "t1", RouteID: "88", Number: 171, Destination: "Washington"}
)

func TestMatchSingleEntity(t *testing.T) {
	m := matcherFixture()

	st := model.StopTime{TripID: "t1", StopID: "NYP", Arrival: "12:00:00", Departure: "12:10:00", StopSequence: 2}
	feed := feedOf(
		&parse.TripUpdate{TripID: "other", StopTimeUpdates: []parse.StopTimeUpdate{arrival(1, 0), arrival(2, 0)}},
		&parse.TripUpdate{TripID: "t1", StopTimeUpdates: []parse.StopTimeUpdate{
			departure(matcherNowEpoch-3600, 0),
			{
				ArrivalIsSet: true, ArrivalTime: matcherNowEpoch + 300, ArrivalDelay: 300,
				DepartureIsSet: true, DepartureTime: matcherNowEpoch + 900, DepartureDelay: 300,
			},
		}},
	)

	rows, _, err := m.Match(feed, st, trip, route, nyp)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, model.TimeboardRow{
		ScheduledArrival:   "12:00 PM",
		ScheduledDeparture: "12:10 PM",
		Arrival:            "12:05 PM",
		Departure:          "12:15 PM",
		LateArrival:        true,
		LateDeparture:      true,
		Date:               "07/01",
		TrainNumber:        171,
		Destination:        "Washington",
		RouteName:          "Northeast Regional",
		ActualTime:         matcherNowEpoch + 300,
		SortTime:           time.Unix(matcherNowEpoch+300, 0),
	}, rows[0])
}

func TestMatchPastMidnightWithOffset(t *testing.T) {
	m := matcherFixture()

	// Halifax is one hour ahead of New York
	st := model.StopTime{TripID: "t1", StopID: "HLFX", Arrival: "25:30:00", Departure: "25:45:00", StopSequence: 1}
	feed := feedOf(&parse.TripUpdate{TripID: "t1", StopTimeUpdates: []parse.StopTimeUpdate{{}}})

	rows, _, err := m.Match(feed, st, trip, route, hfx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "02:30 AM", rows[0].ScheduledArrival)
	assert.Equal(t, "02:45 AM", rows[0].ScheduledDeparture)

	// Neither arrival nor departure: dated today
	assert.Equal(t, "07/01", rows[0].Date)
	assert.Equal(t, "", rows[0].Arrival)
	assert.Equal(t, int64(0), rows[0].ActualTime)

	// Sorted by the scheduled departure on the service day
	assert.Equal(t, time.Date(2024, 7, 2, 1, 45, 0, 0, mustLoad(t, "America/New_York")).Unix(), rows[0].SortTime.Unix())
}

func TestMatchStationTimes(t *testing.T) {
	m := matcherFixture()

	// Chicago is one hour behind; realtime is shown in station time
	st := model.StopTime{TripID: "t1", StopID: "CHI", Arrival: "09:00:00", Departure: "09:30:00", StopSequence: 1}
	feed := feedOf(&parse.TripUpdate{TripID: "t1", StopTimeUpdates: []parse.StopTimeUpdate{
		arrival(matcherNowEpoch, -60),
	}})

	rows, _, err := m.Match(feed, st, trip, route, chi)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "08:00 AM", rows[0].ScheduledArrival)
	assert.Equal(t, "08:30 AM", rows[0].ScheduledDeparture)
	assert.Equal(t, "11:00 AM", rows[0].Arrival)
	assert.False(t, rows[0].LateArrival)
	assert.Equal(t, "", rows[0].Departure)
}

func TestMatchShortUpdateList(t *testing.T) {
	m := matcherFixture()

	st := model.StopTime{TripID: "t1", StopID: "NYP", Arrival: "12:00:00", Departure: "12:00:00", StopSequence: 3}
	feed := feedOf(&parse.TripUpdate{TripID: "t1", StopTimeUpdates: []parse.StopTimeUpdate{
		arrival(matcherNowEpoch, 0),
		arrival(matcherNowEpoch+60, 0),
	}})

	rows, short, err := m.Match(feed, st, trip, route, nyp)
	require.NoError(t, err)
	assert.Len(t, rows, 0)
	assert.Equal(t, 1, short)

	// Sequence 0 can't index anything either
	st.StopSequence = 0
	rows, short, err = m.Match(feed, st, trip, route, nyp)
	require.NoError(t, err)
	assert.Len(t, rows, 0)
	assert.Equal(t, 1, short)

	// Unrelated trips aren't counted
	st.StopSequence = 1
	feed.TripUpdates[0].TripID = "t2"
	rows, short, err = m.Match(feed, st, trip, route, nyp)
	require.NoError(t, err)
	assert.Len(t, rows, 0)
	assert.Equal(t, 0, short)
}

func TestMatchAliasIsSuffix(t *testing.T) {
	m := matcherFixture()

	shortID := model.Trip{Source: model.SourceAmtrak, ID: "1178", RouteID: "88", Number: 1178, Destination: "Washington"}
	st := model.StopTime{TripID: "1178", StopID: "NYP", Arrival: "12:00:00", Departure: "12:00:00", StopSequence: 1}
	feed := feedOf(
		&parse.TripUpdate{TripID: "2024-07-01_AMTK_11787", StopTimeUpdates: []parse.StopTimeUpdate{
			arrival(matcherNowEpoch+60, 0),
		}},
		&parse.TripUpdate{TripID: "2024-07-01_AMTK_1178", StopTimeUpdates: []parse.StopTimeUpdate{
			arrival(matcherNowEpoch+120, 0),
		}},
		&parse.TripUpdate{TripID: "2024-07-01_VIA_1178", StopTimeUpdates: []parse.StopTimeUpdate{
			arrival(matcherNowEpoch+180, 0),
		}},
	)

	rows, _, err := m.Match(feed, st, shortID, route, nyp)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(matcherNowEpoch+120), rows[0].ActualTime)
}

func TestMatchOneRowPerServiceDay(t *testing.T) {
	m := matcherFixture()

	st := model.StopTime{TripID: "t1", StopID: "NYP", Arrival: "12:00:00", Departure: "12:05:00", StopSequence: 1}
	feed := feedOf(
		&parse.TripUpdate{TripID: "2024-07-01_AMTK_t1", StopTimeUpdates: []parse.StopTimeUpdate{
			arrival(matcherNowEpoch, 600),
		}},
		&parse.TripUpdate{TripID: "2024-07-02_AMTK_t1", StopTimeUpdates: []parse.StopTimeUpdate{
			departure(matcherNowEpoch+86400, 0),
		}},
	)

	rows, _, err := m.Match(feed, st, trip, route, nyp)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "07/01", rows[0].Date)
	assert.Equal(t, "12:00 PM", rows[0].Arrival)
	assert.True(t, rows[0].LateArrival)

	// The second row starts over from the schedule
	assert.Equal(t, "07/02", rows[1].Date)
	assert.Equal(t, "", rows[1].Arrival)
	assert.False(t, rows[1].LateArrival)
	assert.Equal(t, "12:00 PM", rows[1].Departure)
	assert.Equal(t, "12:00 PM", rows[1].ScheduledArrival)
	assert.Equal(t, "12:05 PM", rows[1].ScheduledDeparture)
	assert.Equal(t, int64(matcherNowEpoch+86400), rows[1].ActualTime)
}

func TestMatchCorrectedRoute(t *testing.T) {
	m := matcherFixture()

	sjTrip := model.Trip{Source: model.SourceSanJoaquins, ID: "714", RouteID: "SJ2", Number: 714, Destination: "Sacramento"}
	sjRoute := model.Route{Source: model.SourceSanJoaquins, ID: "SJ2", Name: "San Joaquins"}
	st := model.StopTime{TripID: "714", StopID: "MCD", Arrival: "08:00:00", Departure: "08:00:00", StopSequence: 1}
	feed := feedOf(&parse.TripUpdate{TripID: "714", StopTimeUpdates: []parse.StopTimeUpdate{
		arrival(matcherNowEpoch, 0),
		arrival(matcherNowEpoch+3600, 0),
	}})

	rows, _, err := m.Match(feed, st, sjTrip, sjRoute, nyp)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(matcherNowEpoch+3600), rows[0].ActualTime)

	// The last stop of a corrected route falls off the end
	st.StopSequence = 2
	rows, _, err = m.Match(feed, st, sjTrip, sjRoute, nyp)
	require.NoError(t, err)
	assert.Len(t, rows, 0)
}

func TestMatchErrors(t *testing.T) {
	m := matcherFixture()
	feed := feedOf(&parse.TripUpdate{TripID: "t1", StopTimeUpdates: []parse.StopTimeUpdate{{}}})

	st := model.StopTime{TripID: "t1", StopID: "NYP", Arrival: "12:00", Departure: "12:00:00", StopSequence: 1}
	_, _, err := m.Match(feed, st, trip, route, nyp)
	var formatErr *timeutil.FormatError
	assert.True(t, errors.As(err, &formatErr))

	st = model.StopTime{TripID: "t1", StopID: "NYP", Arrival: "12:00:00", Departure: "12:00:00", StopSequence: 1}
	_, _, err = m.Match(feed, st, trip, route, model.Station{Code: "XXX", TimeZone: "Mars/Olympus_Mons"})
	var zoneErr *timeutil.UnknownZoneError
	assert.True(t, errors.As(err, &zoneErr))

	// No zone on the station means the reference zone
	rows, _, err := m.Match(feed, st, trip, route, model.Station{Code: "XXX"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "12:00 PM", rows[0].ScheduledArrival)

	// No feed, no rows
	rows, _, err = m.Match(nil, st, trip, route, nyp)
	require.NoError(t, err)
	assert.Len(t, rows, 0)
}

func mustLoad(t *testing.T, zone string) *time.Location {
	loc, err := time.LoadLocation(zone)
	require.NoError(t, err)
	return loc
}
