package parse

import (
	"encoding/json"
	"fmt"
	"strings"

	"railtrack.dev/railtrack/model"
)

// One train in the live position snapshot.
type LiveTrainJSON struct {
	ID           string   `json:"id"`
	Number       int      `json:"number"`
	Name         string   `json:"name"`
	Railroad     string   `json:"railroad"`
	Lat          *float64 `json:"lat"`
	Lon          *float64 `json:"lon"`
	NextStation  string   `json:"next_station"`
	ArrivalEpoch int64    `json:"arrival_epoch"`
}

// Decodes the live snapshot, a JSON array of trains. Trains without
// an ID are keyed by railroad and number.
func ParseLiveTrains(buf []byte) ([]model.LiveTrain, error) {
	raw := []LiveTrainJSON{}
	err := json.Unmarshal(buf, &raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling live trains: %w", err)
	}

	trains := make([]model.LiveTrain, 0, len(raw))
	for _, t := range raw {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			id = fmt.Sprintf("%s-%d", t.Railroad, t.Number)
		}

		trains = append(trains, model.LiveTrain{
			ID:           id,
			Number:       t.Number,
			Name:         t.Name,
			Railroad:     t.Railroad,
			Lat:          t.Lat,
			Lon:          t.Lon,
			NextStation:  strings.TrimSpace(t.NextStation),
			ArrivalEpoch: t.ArrivalEpoch,
		})
	}

	return trains, nil
}
