package parse

import (
	"strings"

	"railtrack.dev/railtrack/model"
)

// VIA Rail's schedule.
//
//	stop_times.txt: trip_id, arrival_time, departure_time, stop_id, stop_sequence
//	routes.txt:     route_id, ..., route_long_name
//	trips.txt:      route_id, ..., trip_id, ..., trip_short_name, trip_headsign
type VIAMapper struct{}

// VIA names long distance routes by their end points. These are
// the names riders know them by.
var viaRouteNames = map[string]string{
	"Vancouver - Toronto":    "Canadian",
	"Montréal - Halifax":     "Ocean",
	"Toronto - New York":     "Maple Leaf",
	"Sudbury - White River":  "Lake Superior",
	"Jasper - Prince Rupert": "Skeena",
	"Winnipeg - Churchill":   "Hudson Bay",
	"The Pas - Churchill":    "Hudson Bay",
	"Montréal - Senneterre":  "Abitibi",
	"Montréal - Jonquière":   "Saguenay",
}

func ViaRouteName(name string) string {
	if mapped, found := viaRouteNames[name]; found {
		return mapped
	}
	return "Corridor: " + name
}

// Train numbers may be blank, or carry a suffix after a hyphen.
func viaTrainNumber(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if i := strings.Index(s, "-"); i >= 0 {
		s = s[:i]
	}
	return parseTrainNumber(s)
}

func (VIAMapper) StopTime(row []string) (*model.StopTime, error) {
	return stopTimeFromStandardRow(row)
}

func (VIAMapper) Route(row []string) (*model.Route, error) {
	if err := requireColumns(row, 3); err != nil {
		return nil, err
	}
	return &model.Route{
		ID:   row[0],
		Name: ViaRouteName(row[2]),
	}, nil
}

func (VIAMapper) Trip(row []string) (*model.Trip, error) {
	if err := requireColumns(row, 6); err != nil {
		return nil, err
	}

	number, err := viaTrainNumber(row[4])
	if err != nil {
		return nil, err
	}

	return &model.Trip{
		RouteID:     row[0],
		ID:          row[2],
		Number:      number,
		Destination: row[5],
	}, nil
}
