package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"railtrack.dev/railtrack/model"
)

type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("railtrack"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &NATSPublisher{nc: nc, subject: subject}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// Publishes one message per train, then flushes.
func (p *NATSPublisher) PublishTrains(ctx context.Context, trains []model.LiveTrain) error {
	now := time.Now()
	for _, t := range trains {
		b, err := json.Marshal(NewTrainMessage(t, now))
		if err != nil {
			return err
		}
		err = p.nc.Publish(Subject(p.subject, t), b)
		if err != nil {
			return fmt.Errorf("publishing %s: %w", t.ID, err)
		}
	}

	err := p.nc.FlushWithContext(ctx)
	if err != nil {
		return fmt.Errorf("flushing: %w", err)
	}
	return nil
}
