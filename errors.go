package railtrack

import "errors"

var (
	// No station with the requested code.
	ErrStationNotFound = errors.New("station not found")

	// A stop time's trip, or a trip's route, is missing from the
	// schedule. Such stop times are skipped.
	ErrDanglingReference = errors.New("dangling reference")

	// A refresh of the same kind is already running.
	ErrRefreshInProgress = errors.New("refresh in progress")
)
