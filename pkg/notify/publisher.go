package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

type Kind string

const (
	KindConfirmation Kind = "confirmation"
	KindCancellation Kind = "cancellation"
)

// Message is one email job handed to the mail service. Key is stable per
// reservation and kind so a consumer can drop redeliveries.
type Message struct {
	Key           string    `json:"key"`
	Kind          Kind      `json:"kind"`
	ReservationID string    `json:"reservationId"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	Guests        int       `json:"guests"`
	Table         string    `json:"table,omitempty"`
	QueuedAt      time.Time `json:"queuedAt"`
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Retry.Backoff = 100 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Net.DialTimeout = 30 * time.Second
	config.Net.ReadTimeout = 30 * time.Second
	config.Net.WriteTimeout = 30 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic), nil
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (k *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode email message: %w", err)
	}
	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(msg.Key),
		Value: sarama.ByteEncoder(body),
	})
	if err != nil {
		return fmt.Errorf("send to topic %s: %w", k.topic, err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}

// LogPublisher writes messages to the log. Used when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (l *LogPublisher) Publish(_ context.Context, msg Message) error {
	l.logger.Info("email queued for delivery",
		zap.String("key", msg.Key),
		zap.String("kind", string(msg.Kind)),
		zap.String("to", msg.Email),
		zap.String("date", msg.Date),
		zap.String("time", msg.Time),
	)
	return nil
}

func (l *LogPublisher) Close() error { return nil }
