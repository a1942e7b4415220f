package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type kafkaPublisher struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaPublisher returns a NoopPublisher when brokers is empty.
func NewKafkaPublisher(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		logrus.Info("Kafka brokers not configured, domain events disabled")
		return NoopPublisher{}
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	logrus.WithFields(logrus.Fields{
		"brokers": brokers,
		"topic":   topic,
	}).Info("Kafka publisher configured")

	return &kafkaPublisher{writer: writer, topic: topic}
}

func (p *kafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		value, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
		}

		// keyed by reservation so that per-reservation ordering is kept
		messages = append(messages, kafka.Message{
			Key:   []byte(strconv.FormatInt(event.QueueID, 10)),
			Value: value,
			Time:  event.OccurredAt,
		})
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("failed to write events to %s: %w", p.topic, err)
	}

	logrus.WithFields(logrus.Fields{
		"topic": p.topic,
		"count": len(messages),
	}).Debug("Events published")

	return nil
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}
