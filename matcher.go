package railtrack

import (
	"strings"
	"time"

	"railtrack.dev/railtrack/model"
	"railtrack.dev/railtrack/parse"
	"railtrack.dev/railtrack/timeutil"
)

const DefaultCarrierPrefix = "AMTK"

// Matcher reconciles a scheduled stop time with the trip updates of
// a realtime feed, producing one timeboard row per matching trip
// update. A trip ID can appear once per service day in the feed, so
// a single stop time can give several rows.
type Matcher struct {
	// Zone scheduled times are published in. Station display
	// times are shifted from it by whole hours.
	ReferenceZone string

	// Zone service dates are formatted in. Empty means local.
	DateZone string

	// Trip updates for trip T may be keyed "<date>_<prefix>_T".
	CarrierPrefix string

	// Routes whose trip updates carry an extra leading stop.
	CorrectedRoutes map[string]bool

	Now func() time.Time
}

func NewMatcher(referenceZone, dateZone, carrierPrefix string, correctedRoutes []string) *Matcher {
	corrected := map[string]bool{}
	for _, r := range correctedRoutes {
		corrected[r] = true
	}
	if carrierPrefix == "" {
		carrierPrefix = DefaultCarrierPrefix
	}
	return &Matcher{
		ReferenceZone:   referenceZone,
		DateZone:        dateZone,
		CarrierPrefix:   carrierPrefix,
		CorrectedRoutes: corrected,
		Now:             time.Now,
	}
}

type rowState int

const (
	// The row hasn't been filled from a trip update yet.
	awaitingDate rowState = iota

	// The row is filled. The next trip update starts a new row
	// from the template.
	dated
)

// Rows for stopTime at station, and the number of the trip's
// updates too short to reach stopTime. A nil feed gives no rows.
//
// Malformed scheduled times yield a *timeutil.FormatError and
// unresolvable zones a *timeutil.UnknownZoneError. Either way no
// rows are produced.
func (m *Matcher) Match(
	feed *parse.Realtime,
	stopTime model.StopTime,
	trip model.Trip,
	route model.Route,
	station model.Station,
) ([]model.TimeboardRow, int, error) {

	now := m.Now()

	stationZone := station.TimeZone
	if stationZone == "" {
		stationZone = m.ReferenceZone
	}
	refLoc, err := timeutil.LoadLocation(m.ReferenceZone)
	if err != nil {
		return nil, 0, err
	}

	offset, err := timeutil.TimezoneOffsetHours(stationZone, m.ReferenceZone, now)
	if err != nil {
		return nil, 0, err
	}

	template := model.TimeboardRow{
		TrainNumber: trip.Number,
		Destination: trip.Destination,
		RouteName:   route.Name,
	}
	template.ScheduledArrival, err = timeutil.ParseScheduleTime(stopTime.Arrival, offset)
	if err != nil {
		return nil, 0, err
	}
	template.ScheduledDeparture, err = timeutil.ParseScheduleTime(stopTime.Departure, offset)
	if err != nil {
		return nil, 0, err
	}

	scheduled := stopTime.Departure
	if scheduled == "" {
		scheduled = stopTime.Arrival
	}
	scheduledAt, err := timeutil.ScheduleInstant(scheduled, now, refLoc)
	if err != nil {
		return nil, 0, err
	}

	if feed == nil {
		return nil, 0, nil
	}

	index := int(stopTime.StopSequence) - 1
	if m.CorrectedRoutes[trip.RouteID] {
		index++
	}
	alias := "_" + m.CarrierPrefix + "_" + trip.ID

	rows := []model.TimeboardRow{}
	short := 0
	state := awaitingDate
	row := template

	for _, tu := range feed.TripUpdates {
		// Service-day aliases look like "2024-07-01_AMTK_1178"
		if tu.TripID != trip.ID && !strings.HasSuffix(tu.TripID, alias) {
			continue
		}

		// Some trips list fewer updates than the static
		// schedule has stops
		if index < 0 || len(tu.StopTimeUpdates) <= index {
			short++
			continue
		}
		update := tu.StopTimeUpdates[index]

		if state == dated {
			row = template
		}

		if update.ArrivalIsSet {
			row.ActualTime = update.ArrivalTime
			row.Date, err = timeutil.FormatDate(update.ArrivalTime, m.DateZone)
			if err != nil {
				return nil, 0, err
			}
			row.Arrival, err = timeutil.FormatEpoch(update.ArrivalTime, stationZone)
			if err != nil {
				return nil, 0, err
			}
			row.LateArrival = update.ArrivalDelay > 0
		}

		if update.DepartureIsSet {
			if row.Date == "" {
				row.ActualTime = update.DepartureTime
				row.Date, err = timeutil.FormatDate(update.DepartureTime, m.DateZone)
				if err != nil {
					return nil, 0, err
				}
			}
			row.Departure, err = timeutil.FormatEpoch(update.DepartureTime, stationZone)
			if err != nil {
				return nil, 0, err
			}
			row.LateDeparture = update.DepartureDelay > 0
		}

		// Likely a rescheduled train, assume it runs today
		if !update.ArrivalIsSet && !update.DepartureIsSet {
			row.Date, err = timeutil.FormatDate(now.Unix(), m.DateZone)
			if err != nil {
				return nil, 0, err
			}
		}

		if row.ActualTime != 0 {
			row.SortTime = time.Unix(row.ActualTime, 0)
		} else {
			row.SortTime = scheduledAt
		}

		rows = append(rows, row)
		state = dated
	}

	return rows, short, nil
}
