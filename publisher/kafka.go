package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"railtrack.dev/railtrack/model"
)

const kafkaFlushTimeout = 10 * time.Second

type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
}

func NewKafkaPublisher(brokers, topic string) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"client.id":         "railtrack",
	})
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}

	// Delivery reports
	go func() {
		for e := range p.Events() {
			if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
				log.Printf("kafka delivery failed: %v", m.TopicPartition.Error)
			}
		}
	}()

	return &KafkaPublisher{producer: p, topic: topic}, nil
}

func (p *KafkaPublisher) Close() {
	p.producer.Flush(int(kafkaFlushTimeout / time.Millisecond))
	p.producer.Close()
}

// Produces one message per train keyed by train ID, then waits for
// outstanding deliveries.
func (p *KafkaPublisher) PublishTrains(ctx context.Context, trains []model.LiveTrain) error {
	now := time.Now()
	for _, t := range trains {
		msg, err := json.Marshal(NewTrainMessage(t, now))
		if err != nil {
			return err
		}
		err = p.producer.Produce(&kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
			Key:            []byte(t.ID),
			Value:          msg,
		}, nil)
		if err != nil {
			return fmt.Errorf("producing %s: %w", t.ID, err)
		}
	}

	timeout := kafkaFlushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if remaining := p.producer.Flush(int(timeout / time.Millisecond)); remaining > 0 {
		return fmt.Errorf("%d messages not delivered", remaining)
	}
	return nil
}
