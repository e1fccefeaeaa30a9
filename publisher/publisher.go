package publisher

import (
	"context"
	"strconv"
	"strings"
	"time"

	"railtrack.dev/railtrack/model"
)

// Fans out committed live train snapshots.
type Publisher interface {
	PublishTrains(ctx context.Context, trains []model.LiveTrain) error
	Close()
}

type TrainMessage struct {
	ID               string    `json:"id"`
	Number           int       `json:"number"`
	Name             string    `json:"name"`
	Railroad         string    `json:"railroad"`
	Lat              *float64  `json:"lat,omitempty"`
	Lon              *float64  `json:"lon,omitempty"`
	NextStation      string    `json:"nextStation"`
	ScheduledArrival string    `json:"scheduledArrival,omitempty"`
	PublishedAt      time.Time `json:"publishedAt"`
}

func NewTrainMessage(t model.LiveTrain, now time.Time) TrainMessage {
	return TrainMessage{
		ID:               t.ID,
		Number:           t.Number,
		Name:             t.Name,
		Railroad:         t.Railroad,
		Lat:              t.Lat,
		Lon:              t.Lon,
		NextStation:      t.NextStation,
		ScheduledArrival: t.ScheduledArrival,
		PublishedAt:      now.UTC(),
	}
}

// Subject for a train, e.g. "railtrack.trains.Amtrak.66".
func Subject(base string, t model.LiveTrain) string {
	return base + "." + subjectToken(t.Railroad) + "." + strconv.Itoa(t.Number)
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
