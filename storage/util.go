package storage

import (
	"math"
	"sort"
	"strings"

	"railtrack.dev/railtrack/model"
)

// Distance in degree space. Good enough for ranking trains by
// proximity, not for reporting distances.
func EuclideanDistance(aLat, aLon, bLat, bLon float64) float64 {
	return math.Sqrt(math.Pow(aLat-bLat, 2) + math.Pow(aLon-bLon, 2))
}

// Great circle distance in km.
func HaversineDistance(aLat, aLon, bLat, bLon float64) float64 {
	const earthRadiusKm = 6371

	aLatRad := aLat * math.Pi / 180
	aLonRad := aLon * math.Pi / 180
	bLatRad := bLat * math.Pi / 180
	bLonRad := bLon * math.Pi / 180
	deltaLat := aLatRad - bLatRad
	deltaLon := aLonRad - bLonRad

	a := math.Cos(aLatRad)*math.Cos(bLatRad)*math.Pow(math.Sin(deltaLon/2), 2) + math.Pow(math.Sin(deltaLat/2), 2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return c * earthRadiusKm
}

func (f TrainFilter) matches(train model.LiveTrain) bool {
	if f.NameContains != "" && !strings.Contains(strings.ToLower(train.Name), strings.ToLower(f.NameContains)) {
		return false
	}
	if f.RailroadContains != "" && !strings.Contains(strings.ToLower(train.Railroad), strings.ToLower(f.RailroadContains)) {
		return false
	}
	if f.HasNumber && train.Number != f.Number {
		return false
	}
	return true
}

func sortTrains(trains []model.LiveTrain) {
	sort.SliceStable(trains, func(i, j int) bool {
		if trains[i].Number != trains[j].Number {
			return trains[i].Number < trains[j].Number
		}
		return trains[i].ID < trains[j].ID
	})
}

func sortStopTimes(stopTimes []model.StopTime) {
	sort.SliceStable(stopTimes, func(i, j int) bool {
		a, b := stopTimes[i], stopTimes[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.TripID != b.TripID {
			return a.TripID < b.TripID
		}
		return a.StopSequence < b.StopSequence
	})
}

// SQL LIKE pattern for a case-insensitive substring match against
// lower(column).
func likeContains(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}
