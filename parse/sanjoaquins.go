package parse

import (
	"railtrack.dev/railtrack/model"
)

// San Joaquins corridor schedule. The archive also carries the
// connecting bus network; only trains (three digit trip IDs) and
// the rail route are kept.
//
//	stop_times.txt: trip_id, stop_sequence, stop_id, arrival_time, departure_time
//	routes.txt:     route_id, ...
//	trips.txt:      trip_id, route_id, ..., trip_headsign
type SanJoaquinsMapper struct{}

const (
	SanJoaquinsRouteID   = "SJ2"
	SanJoaquinsRouteName = "San Joaquins"
)

func (SanJoaquinsMapper) StopTime(row []string) (*model.StopTime, error) {
	if len(row) == 0 || len(row[0]) != 3 {
		return nil, nil
	}
	if err := requireColumns(row, 5); err != nil {
		return nil, err
	}

	seq, err := parseStopSequence(row[1])
	if err != nil {
		return nil, err
	}

	return &model.StopTime{
		TripID:       row[0],
		StopSequence: seq,
		StopID:       row[2],
		Arrival:      row[3],
		Departure:    row[4],
	}, nil
}

func (SanJoaquinsMapper) Route(row []string) (*model.Route, error) {
	if len(row) == 0 || row[0] != SanJoaquinsRouteID {
		return nil, nil
	}
	return &model.Route{
		ID:   row[0],
		Name: SanJoaquinsRouteName,
	}, nil
}

func (SanJoaquinsMapper) Trip(row []string) (*model.Trip, error) {
	if len(row) == 0 || len(row[0]) != 3 {
		return nil, nil
	}
	if err := requireColumns(row, 4); err != nil {
		return nil, err
	}

	number, err := parseTrainNumber(row[0])
	if err != nil {
		return nil, err
	}

	return &model.Trip{
		ID:          row[0],
		RouteID:     row[1],
		Number:      number,
		Destination: row[3],
	}, nil
}
