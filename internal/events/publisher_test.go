package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
)

type mockWriter struct {
	m      sync.Mutex
	msgs   []kafkaGo.Message
	err    error
	closed bool
}

func (w *mockWriter) WriteMessages(_ context.Context, msgs ...kafkaGo.Message) error {
	w.m.Lock()
	defer w.m.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *mockWriter) Close() error {
	w.m.Lock()
	defer w.m.Unlock()
	w.closed = true
	return nil
}

func testEvent() domain.CheckoutCompleted {
	return domain.CheckoutCompleted{
		CheckoutID: "chk-1",
		UserID:     "u1",
		Records: []domain.PurchaseRecord{
			{ID: "r1", CheckoutID: "chk-1", UserID: "u1", ProductID: "1", Quantity: 2, TotalPrice: 20},
		},
		FailedItems: []string{"2"},
		TotalAmount: 20,
		CompletedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisher_MessageShape(t *testing.T) {
	w := &mockWriter{}
	p := &KafkaPublisher{writer: w}

	require.NoError(t, p.PublishCheckoutCompleted(context.Background(), testEvent()))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "chk-1", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, EventTypeCheckoutCompleted, string(msg.Headers[0].Value))

	var decoded domain.CheckoutCompleted
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, testEvent(), decoded)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &mockWriter{err: errors.New("broker unreachable")}
	p := &KafkaPublisher{writer: w}

	err := p.PublishCheckoutCompleted(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chk-1")
	assert.Contains(t, err.Error(), "broker unreachable")
}

func TestKafkaPublisher_Close(t *testing.T) {
	w := &mockWriter{}
	p := &KafkaPublisher{writer: w}
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.PublishCheckoutCompleted(context.Background(), testEvent()))
	assert.NoError(t, p.Close())
}

func setupKafka(t *testing.T) string {
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	})

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")
	return brokers[0]
}

func TestKafkaPublisher_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	broker := setupKafka(t)
	topic := "storefront-checkout-test"

	p := NewKafkaPublisher(topic, broker)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// The first write may race topic auto-creation.
	require.Eventually(t, func() bool {
		return p.PublishCheckoutCompleted(ctx, testEvent()) == nil
	}, 30*time.Second, time.Second)

	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers:  []string{broker},
		Topic:    topic,
		GroupID:  "storefront-test",
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "chk-1", string(msg.Key))

	var decoded domain.CheckoutCompleted
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "u1", decoded.UserID)
	assert.Equal(t, []string{"2"}, decoded.FailedItems)
}
