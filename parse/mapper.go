package parse

import (
	"fmt"
	"strconv"
	"strings"

	"railtrack.dev/railtrack/model"
)

// Maps raw CSV rows from a schedule archive to records. Each source
// format lays out its columns differently.
//
// A nil record with a nil error means the row isn't wanted. A
// non-nil error means the row is malformed and should be skipped.
type Mapper interface {
	StopTime(row []string) (*model.StopTime, error)
	Route(row []string) (*model.Route, error)
	Trip(row []string) (*model.Trip, error)
}

func MapperFor(source model.Source) (Mapper, error) {
	switch source {
	case model.SourceAmtrak:
		return AmtrakMapper{}, nil
	case model.SourceVIA:
		return VIAMapper{}, nil
	case model.SourceSanJoaquins:
		return SanJoaquinsMapper{}, nil
	}
	return nil, fmt.Errorf("no mapper for source '%s'", source)
}

func requireColumns(row []string, n int) error {
	if len(row) < n {
		return fmt.Errorf("expected at least %d columns, found %d", n, len(row))
	}
	return nil
}

func parseStopSequence(s string) (uint32, error) {
	seq, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid stop_sequence '%s'", s)
	}
	return uint32(seq), nil
}

func parseTrainNumber(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid train number '%s'", s)
	}
	return n, nil
}

// Stop times share the same layout in the amtrak and via formats.
func stopTimeFromStandardRow(row []string) (*model.StopTime, error) {
	if err := requireColumns(row, 5); err != nil {
		return nil, err
	}

	seq, err := parseStopSequence(row[4])
	if err != nil {
		return nil, err
	}

	return &model.StopTime{
		TripID:       row[0],
		Arrival:      row[1],
		Departure:    row[2],
		StopID:       row[3],
		StopSequence: seq,
	}, nil
}
