package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/shophub/marketplace/internal/services"
)

// Config describes the broker connection and topic layout.
type Config struct {
	Brokers            []string
	OrderEventsTopic   string
	NotificationsTopic string
}

// NewWriter builds a kafka writer for one topic with hashing on the message
// key so events for the same order land on the same partition.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

// ParseBrokers splits a comma separated broker list, dropping empty entries.
func ParseBrokers(csv string) []string {
	var brokers []string
	for _, b := range strings.Split(csv, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// KafkaOrderEventPublisher publishes order lifecycle events to a Kafka topic.
type KafkaOrderEventPublisher struct {
	writer  *kafka.Writer
	marshal func(any) ([]byte, error)
}

var _ services.OrderEventPublisher = (*KafkaOrderEventPublisher)(nil)

// NewKafkaOrderEventPublisher constructs a Kafka backed order event publisher.
func NewKafkaOrderEventPublisher(writer *kafka.Writer) (*KafkaOrderEventPublisher, error) {
	if writer == nil {
		return nil, errors.New("kafka order event publisher: writer is required")
	}
	return &KafkaOrderEventPublisher{
		writer:  writer,
		marshal: json.Marshal,
	}, nil
}

type orderEventMessage struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"order_id"`
	OrderNumber    string         `json:"order_number,omitempty"`
	PreviousStatus string         `json:"previous_status,omitempty"`
	CurrentStatus  string         `json:"current_status,omitempty"`
	Actor          string         `json:"actor,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// PublishOrderEvent writes one event keyed by order ID.
func (p *KafkaOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.writer == nil {
		return errors.New("kafka order event publisher: not initialised")
	}

	data, err := p.marshal(orderEventMessage{
		Type:           event.Type,
		OrderID:        event.OrderID,
		OrderNumber:    event.OrderNumber,
		PreviousStatus: string(event.PreviousStatus),
		CurrentStatus:  string(event.CurrentStatus),
		Actor:          event.Actor,
		OccurredAt:     event.OccurredAt,
		Metadata:       event.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: data,
		Time:  event.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}
