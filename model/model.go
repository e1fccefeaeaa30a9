package model

import (
	"fmt"
	"strings"
	"time"
)

// Holds all external facing types and constants.

// Source identifies one of the schedule feed formats we know how to
// import. Each source has its own CSV column layout.
type Source string

const (
	SourceAmtrak      Source = "amtrak"
	SourceVIA         Source = "via"
	SourceSanJoaquins Source = "sanjoaquins"
)

var Sources = []Source{SourceAmtrak, SourceVIA, SourceSanJoaquins}

func ParseSource(s string) (Source, error) {
	for _, src := range Sources {
		if strings.EqualFold(string(src), s) {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown source '%s'", s)
}

type Station struct {
	ID        string
	Code      string
	Name      string
	TimeZone  string
	AdminArea string
	Website   string
}

type Route struct {
	Source Source
	ID     string
	Name   string
}

type Trip struct {
	Source      Source
	ID          string
	RouteID     string
	Number      int
	Destination string
}

// Arrival and Departure are kept as found in stop_times.txt, i.e.
// "HH:MM:SS" with hours possibly past 24 for trips running past
// midnight.
type StopTime struct {
	Source       Source
	TripID       string
	StopID       string
	Arrival      string
	Departure    string
	StopSequence uint32
}

// One arrival/departure at a station, combining schedule with
// realtime data. Scheduled and actual times are formatted as
// "03:04 PM" in the station's local time.
type TimeboardRow struct {
	ScheduledArrival   string
	ScheduledDeparture string
	Arrival            string
	Departure          string
	LateArrival        bool
	LateDeparture      bool

	// Service day as "01/02". A trip ID can recur across days,
	// so rows for the same stop time are told apart by Date.
	Date string

	TrainNumber int
	Destination string
	RouteName   string

	// Epoch of the realtime arrival, or of the departure when
	// there's no arrival. 0 if neither was predicted.
	ActualTime int64

	// Instant used to order the timeboard.
	SortTime time.Time
}

type Timeboard struct {
	Code      string
	Name      string
	Website   string
	AdminArea string
	Rows      []TimeboardRow
}

// A train in the live position snapshot.
type LiveTrain struct {
	ID           string
	Number       int
	Name         string
	Railroad     string
	Lat          *float64
	Lon          *float64
	NextStation  string
	ArrivalEpoch int64

	// Arrival at NextStation formatted in the station's zone.
	// Blank when the station is unknown.
	ScheduledArrival string

	Active bool
}

func (t LiveTrain) Located() bool {
	return t.Lat != nil && t.Lon != nil
}
