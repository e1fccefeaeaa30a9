package parse

import (
	"railtrack.dev/railtrack/model"
)

// Amtrak's national schedule.
//
//	stop_times.txt: trip_id, arrival_time, departure_time, stop_id, stop_sequence
//	routes.txt:     route_id, ..., ..., route_long_name
//	trips.txt:      route_id, ..., trip_id, trip_short_name, ..., ..., trip_headsign
type AmtrakMapper struct{}

func (AmtrakMapper) StopTime(row []string) (*model.StopTime, error) {
	return stopTimeFromStandardRow(row)
}

func (AmtrakMapper) Route(row []string) (*model.Route, error) {
	if err := requireColumns(row, 4); err != nil {
		return nil, err
	}
	return &model.Route{
		ID:   row[0],
		Name: row[3],
	}, nil
}

func (AmtrakMapper) Trip(row []string) (*model.Trip, error) {
	if err := requireColumns(row, 7); err != nil {
		return nil, err
	}

	number, err := parseTrainNumber(row[3])
	if err != nil {
		return nil, err
	}

	return &model.Trip{
		RouteID:     row[0],
		ID:          row[2],
		Number:      number,
		Destination: row[6],
	}, nil
}

// Amtrak's names for these stations are ambiguous or outdated.
var amtrakStationNames = map[string]string{
	"BON": "Boston North Station",
	"BOS": "Boston South Station",
	"BBY": "Boston Back Bay Station",
	"NYP": "New York Moynihan Train Hall at Penn Station",
	"BFX": "Buffalo Exchange Street Station",
	"BUF": "Buffalo Depew Station",
}

// Display name for a station, given its code.
func AmtrakStationName(code string, name string) string {
	if override, found := amtrakStationNames[code]; found {
		return override
	}
	return name
}
