package storage

import (
	"railtrack.dev/railtrack/model"
)

type Storage interface {
	StationStore
	ScheduleStore
	TrainStore

	Close() error
}

// The curated station directory.
type StationStore interface {
	// Replaces all stations.
	ReplaceStations(stations []model.Station) error

	// Station with the given code, or nil if there is none.
	// Codes are matched case-insensitively.
	StationByCode(code string) (*model.Station, error)

	// All stations matching the filter, ordered by code. An
	// empty filter returns all stations.
	SearchStations(filter StationFilter) ([]model.Station, error)
}

// Filter for SearchStations(). Matching is case-insensitive
// substring.
type StationFilter struct {
	CodeContains string
	NameContains string
}

// Routes, trips and stop times, partitioned by source.
type ScheduleStore interface {
	// Gets a writer for the given source. Nothing is visible to
	// readers until Commit(), at which point all of the source's
	// previous records are replaced.
	GetScheduleWriter(source model.Source) (ScheduleWriter, error)

	// Route or trip by source and ID, or nil if not found.
	Route(source model.Source, id string) (*model.Route, error)
	Trip(source model.Source, id string) (*model.Trip, error)

	// All stop times, across sources, at the given stop ID.
	// Ordered by source, trip ID and stop sequence.
	StopTimesByStop(stopID string) ([]model.StopTime, error)

	// Number of routes, trips and stop times stored for a
	// source.
	ScheduleCounts(source model.Source) (ScheduleCounts, error)
}

type ScheduleCounts struct {
	Routes    int
	Trips     int
	StopTimes int
}

// Writes schedule records for a single source.
//
// As stop_times.txt tends to be very large, BeginStopTimes() and
// EndStopTimes() are called before and after all calls to
// WriteStopTime(), allowing transactions/batching/whathaveyou.
//
// Exactly one of Commit() or Rollback() must be called.
type ScheduleWriter interface {
	WriteRoute(route model.Route) error
	WriteTrip(trip model.Trip) error
	BeginStopTimes() error
	WriteStopTime(stopTime model.StopTime) error
	EndStopTimes() error
	Commit() error
	Rollback() error
}

// The set of trains in the live position snapshot.
type TrainStore interface {
	// Gets a writer for the next refresh cycle. Readers keep
	// seeing the previous set until Commit().
	GetTrainWriter() (TrainWriter, error)

	// Trains matching the filter, ordered by number. An empty
	// filter returns all trains.
	Trains(filter TrainFilter) ([]model.LiveTrain, error)
}

// Filter for Trains(). Name and railroad match case-insensitive
// substrings, number matches exactly when HasNumber is set.
type TrainFilter struct {
	NameContains     string
	RailroadContains string
	Number           int
	HasNumber        bool
}

// One refresh cycle of the live train set. The expected sequence is
// MarkAllInactive(), UpsertTrain() for each train in the snapshot,
// DeleteInactive() and finally Commit().
type TrainWriter interface {
	MarkAllInactive() error

	// Inserts or replaces the train with train.ID.
	UpsertTrain(train model.LiveTrain) error

	// Deletes trains still inactive, returning how many were
	// removed.
	DeleteInactive() (int, error)

	// Trains as currently staged in this writer.
	Staged() ([]model.LiveTrain, error)

	Commit() error
	Rollback() error
}
