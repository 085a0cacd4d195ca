// Package notify publishes terminal job transitions to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"gallery-pipeline/internal/models"
)

// Event is emitted once per job when it reaches a terminal status.
type Event struct {
	UploadID string           `json:"uploadId"`
	MediaID  int64            `json:"mediaId"`
	Status   models.JobStatus `json:"status"`
	ImageURL string           `json:"imageUrl,omitempty"`
	At       time.Time        `json:"at"`
}

type Notifier interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// MessageWriter is the subset of *kafka.Writer used here.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaNotifier struct {
	w MessageWriter
}

func NewKafkaWriter(cfg models.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaNotifier(w MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{w: w}
}

func (n *KafkaNotifier) Publish(ctx context.Context, ev Event) error {
	const op = "notify.Publish"

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	// keyed by upload id so every event of a job lands on the same partition
	err = n.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.UploadID),
		Value: payload,
		Time:  ev.At,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.w.Close()
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// New returns a Kafka backed notifier when brokers are configured.
func New(cfg models.KafkaConfig) Notifier {
	if len(cfg.Brokers) == 0 {
		return Nop{}
	}
	return NewKafkaNotifier(NewKafkaWriter(cfg))
}
