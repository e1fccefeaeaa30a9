package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ClockLayout = "03:04 PM"
	DateLayout  = "01/02"
)

// Returned when a time string doesn't look like "HH:MM:SS".
type FormatError struct {
	Value  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed time '%s': %s", e.Value, e.Reason)
}

// Returned when a zone name can't be resolved by the runtime.
type UnknownZoneError struct {
	Zone string
	Err  error
}

func (e *UnknownZoneError) Error() string {
	return fmt.Sprintf("unknown time zone '%s': %v", e.Zone, e.Err)
}

func (e *UnknownZoneError) Unwrap() error {
	return e.Err
}

var locations sync.Map

// Loads a location by IANA name. The empty name is the system's
// local zone.
func LoadLocation(zone string) (*time.Location, error) {
	if zone == "" {
		return time.Local, nil
	}
	if loc, ok := locations.Load(zone); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, &UnknownZoneError{Zone: zone, Err: err}
	}
	locations.Store(zone, loc)
	return loc, nil
}

// Hour difference between the local hour-of-day in zoneA and zoneB
// at the given instant.
//
// Only the hour fields are compared, so zones with 30 or 45 minute
// offsets are truncated, and the result flips sign around midnight
// when the two zones fall on different days. Station display times
// depend on this exact behavior.
func TimezoneOffsetHours(zoneA string, zoneB string, at time.Time) (int, error) {
	locA, err := LoadLocation(zoneA)
	if err != nil {
		return 0, err
	}
	locB, err := LoadLocation(zoneB)
	if err != nil {
		return 0, err
	}
	return at.In(locA).Hour() - at.In(locB).Hour(), nil
}

// Splits "HH:MM:SS" into its components. Hours may exceed 23.
func SplitScheduleTime(raw string) (int, int, int, error) {
	split := strings.Split(strings.TrimSpace(raw), ":")
	if len(split) != 3 {
		return 0, 0, 0, &FormatError{raw, fmt.Sprintf("found %d parts", len(split))}
	}

	hms := [3]int{}
	for i, str := range split {
		j, err := strconv.Atoi(str)
		if err != nil {
			return 0, 0, 0, &FormatError{raw, fmt.Sprintf("non-integer in pos %d", i)}
		}
		hms[i] = j
	}

	if hms[0] < 0 {
		return 0, 0, 0, &FormatError{raw, "invalid hour"}
	}
	if hms[1] < 0 || hms[1] > 59 {
		return 0, 0, 0, &FormatError{raw, "invalid minute"}
	}
	if hms[2] < 0 || hms[2] > 59 {
		return 0, 0, 0, &FormatError{raw, "invalid second"}
	}

	return hms[0], hms[1], hms[2], nil
}

// Converts a stop_times.txt time into a 12 hour clock string,
// shifted by offsetHours.
//
// "25:30:00" with an offset of 1 becomes "02:30 AM".
func ParseScheduleTime(raw string, offsetHours int) (string, error) {
	hour, minute, _, err := SplitScheduleTime(raw)
	if err != nil {
		return "", err
	}

	hour = wrapHour(hour, offsetHours)

	t := time.Date(2000, 1, 1, hour, minute, 0, 0, time.UTC)
	return t.Format(ClockLayout), nil
}

func wrapHour(hour int, offsetHours int) int {
	hour %= 24
	hour += offsetHours % 24
	return ((hour % 24) + 24) % 24
}

// Instant at which a stop_times.txt time occurs on the given service
// day, in loc.
func ScheduleInstant(raw string, day time.Time, loc *time.Location) (time.Time, error) {
	hour, minute, second, err := SplitScheduleTime(raw)
	if err != nil {
		return time.Time{}, err
	}
	day = day.In(loc)
	noon := time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, loc)
	return noon.Add(time.Duration(hour-12)*time.Hour +
		time.Duration(minute)*time.Minute +
		time.Duration(second)*time.Second), nil
}

func FormatEpoch(epoch int64, zone string) (string, error) {
	loc, err := LoadLocation(zone)
	if err != nil {
		return "", err
	}
	return time.Unix(epoch, 0).In(loc).Format(ClockLayout), nil
}

func FormatDate(epoch int64, zone string) (string, error) {
	loc, err := LoadLocation(zone)
	if err != nil {
		return "", err
	}
	return time.Unix(epoch, 0).In(loc).Format(DateLayout), nil
}
