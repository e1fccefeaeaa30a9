package parse

import (
	"fmt"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	proto "google.golang.org/protobuf/proto"
)

// Prediction for one stop of a trip. Times are unix epochs, delays
// in seconds.
type StopTimeUpdate struct {
	ArrivalIsSet   bool
	ArrivalTime    int64
	ArrivalDelay   int32
	DepartureIsSet bool
	DepartureTime  int64
	DepartureDelay int32
}

type TripUpdate struct {
	EntityID string
	TripID   string

	// In feed order. Position i holds the update for the trip's
	// (i+1)th stop.
	StopTimeUpdates []StopTimeUpdate
}

// Contains key data from a GTFS Realtime feed
type Realtime struct {
	Timestamp uint64

	// As declared in the feed header. Differential feeds are read
	// as if they were full datasets.
	Version      string
	Differential bool

	// Trip updates in feed order. The same trip ID can appear
	// more than once, e.g. for trips on consecutive days.
	TripUpdates []*TripUpdate

	// These exist to simplify debugging down the road
	NumEntities          int
	NumWithoutTripID     int
	NumWithoutTripUpdate int
}

// Decodes a FeedMessage. Only undecodable input is an error.
func ParseRealtime(feed []byte) (*Realtime, error) {
	rt := &Realtime{
		TripUpdates: []*TripUpdate{},
	}

	// Unmarshal proto
	f := &gtfsproto.FeedMessage{}
	err := proto.Unmarshal(feed, f)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling protobuf: %w", err)
	}

	// Header
	header := f.GetHeader()

	// Providers are sloppy with headers, so these are recorded
	// rather than enforced
	rt.Version = header.GetGtfsRealtimeVersion()
	rt.Differential = header.GetIncrementality() == gtfsproto.FeedHeader_DIFFERENTIAL
	rt.Timestamp = header.GetTimestamp()

	for _, entity := range f.GetEntity() {
		rt.NumEntities++

		// We only care about TripUpdates
		if entity.TripUpdate == nil {
			rt.NumWithoutTripUpdate++
			continue
		}

		tripID := entity.TripUpdate.GetTrip().GetTripId()
		if tripID == "" {
			rt.NumWithoutTripID++
			continue
		}

		tu := &TripUpdate{
			EntityID:        entity.GetId(),
			TripID:          tripID,
			StopTimeUpdates: make([]StopTimeUpdate, 0, len(entity.TripUpdate.GetStopTimeUpdate())),
		}

		for _, update := range entity.TripUpdate.GetStopTimeUpdate() {
			stu := StopTimeUpdate{}
			if update.Arrival != nil {
				stu.ArrivalIsSet = true
				stu.ArrivalTime = update.GetArrival().GetTime()
				stu.ArrivalDelay = update.GetArrival().GetDelay()
			}
			if update.Departure != nil {
				stu.DepartureIsSet = true
				stu.DepartureTime = update.GetDeparture().GetTime()
				stu.DepartureDelay = update.GetDeparture().GetDelay()
			}
			tu.StopTimeUpdates = append(tu.StopTimeUpdates, stu)
		}

		rt.TripUpdates = append(rt.TripUpdates, tu)
	}

	return rt, nil
}
