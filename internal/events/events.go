package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"catalogsync/internal/models"
)

// Published on the events topic.
const (
	TypeProductCreated = "product.created"
	TypeProductUpdated = "product.updated"
	TypeProductSynced  = "product.synced"
	TypeBatchCompleted = "batch.completed"
)

// Consumed from the commands topic by the worker.
const (
	TypeIngestRequested      = "ingest.requested"
	TypeImagesRequested      = "images.requested"
	TypeShopifySyncRequested = "shopify.sync_requested"
	TypeShopifySyncProduct   = "shopify.sync_product"
)

type Event struct {
	Type      string                 `json:"type"`
	ProductID string                 `json:"product_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ProductChanged describes a created or updated catalog record.
func ProductChanged(typ string, p *models.Product) Event {
	return Event{
		Type:      typ,
		ProductID: p.ID,
		Data: map[string]interface{}{
			"image_id": p.ImageID,
			"handle":   p.Handle,
			"sku":      p.SKU,
			"status":   string(p.Status),
		},
		Timestamp: p.UpdatedAt,
	}
}

type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }
func (Nop) Close() error                            { return nil }

type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaPublisher(brokers, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(brokers, ",")...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		logger: logger,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}
		value, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(ev.ProductID), Value: value, Time: ev.Timestamp})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Warn("publish events failed", zap.Int("count", len(msgs)), zap.Error(err))
		return err
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// New returns a Kafka publisher when brokers are configured, otherwise Nop.
func New(brokers, topic string, logger *zap.Logger) Publisher {
	if brokers == "" {
		return Nop{}
	}
	return NewKafkaPublisher(brokers, topic, logger)
}

// Decode parses a message value into an Event.
func Decode(value []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(value, &ev); err != nil {
		return Event{}, err
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("event type is required")
	}
	return ev, nil
}
