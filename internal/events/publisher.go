// Package events publishes checkout outcomes for downstream consumers such as
// order history and analytics.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultTopic               = "storefront-checkout"
	EventTypeCheckoutCompleted = "checkout.completed"
)

type Publisher interface {
	PublishCheckoutCompleted(ctx context.Context, event domain.CheckoutCompleted) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(topic string, brokers ...string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) PublishCheckoutCompleted(ctx context.Context, event domain.CheckoutCompleted) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal checkout event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.CheckoutID), // checkout_id for ordering
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventTypeCheckoutCompleted)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish checkout %s: %w", event.CheckoutID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop drops every event. Used when no brokers are configured.
type Nop struct{}

func (Nop) PublishCheckoutCompleted(context.Context, domain.CheckoutCompleted) error { return nil }

func (Nop) Close() error { return nil }
