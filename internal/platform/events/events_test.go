package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/batimat/api/internal/services"
)

func sampleEvent() services.OrderEvent {
	return services.OrderEvent{
		Type:           services.OrderEventCancelled,
		OrderID:        "ord-1",
		OrderNumber:    "CMD-2025-000001",
		CustomerID:     "cust-1",
		PreviousStatus: "pending",
		CurrentStatus:  "cancelled",
		TotalAmount:    24000,
		Currency:       "MAD",
		OccurredAt:     time.Date(2025, 2, 10, 9, 30, 0, 0, time.UTC),
	}
}

func tracedContext(t *testing.T) context.Context {
	t.Helper()
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestPubSubPublisher_PublishesOrderedMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "batimat-test",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	topic, err := client.CreateTopic(ctx, "order-events")
	require.NoError(t, err)

	publisher, err := NewPubSubPublisher(topic)
	require.NoError(t, err)
	defer func() { _ = publisher.Close() }()

	require.NoError(t, publisher.PublishOrderEvent(tracedContext(t), sampleEvent()))

	messages := srv.Messages()
	require.Len(t, messages, 1)
	msg := messages[0]
	assert.Equal(t, "ord-1", msg.OrderingKey)
	assert.Equal(t, services.OrderEventCancelled, msg.Attributes[attrEventType])
	assert.Equal(t, "CMD-2025-000001", msg.Attributes[attrOrderNumber])
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", msg.Attributes["traceparent"])

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, "1", payload["schemaVersion"])
	assert.Equal(t, "cancelled", payload["currentStatus"])
	assert.EqualValues(t, 24000, payload["totalAmount"])
	assert.Equal(t, "2025-02-10T09:30:00Z", payload["occurredAt"])
}

func TestNewPubSubPublisher_RequiresTopic(t *testing.T) {
	_, err := NewPubSubPublisher(nil)
	assert.Error(t, err)
}

type stubWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (s *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msgs...)
	return nil
}

func (s *stubWriter) Close() error {
	s.closed = true
	return nil
}

func TestKafkaPublisher_WritesKeyedMessage(t *testing.T) {
	writer := &stubWriter{}
	publisher := newKafkaPublisher(writer)

	require.NoError(t, publisher.PublishOrderEvent(tracedContext(t), sampleEvent()))
	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, []byte("ord-1"), msg.Key)
	assert.Equal(t, sampleEvent().OccurredAt, msg.Time)

	headers := make(map[string]string)
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, services.OrderEventCancelled, headers[attrEventType])
	assert.Contains(t, headers["traceparent"], "4bf92f3577b34da6a3ce929d0e0e4736")

	var payload orderEventMessage
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, "CMD-2025-000001", payload.OrderNumber)
	assert.Equal(t, "pending", payload.PreviousStatus)

	require.NoError(t, publisher.Close())
	assert.True(t, writer.closed)
}

func TestKafkaPublisher_WrapsWriteError(t *testing.T) {
	boom := errors.New("leader not available")
	publisher := newKafkaPublisher(&stubWriter{err: boom})
	err := publisher.PublishOrderEvent(context.Background(), sampleEvent())
	assert.ErrorIs(t, err, boom)
}

func TestNewKafkaPublisher_Validates(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "orders")
	assert.Error(t, err)
	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "orders")
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

func TestDiscard(t *testing.T) {
	assert.NoError(t, Discard{}.PublishOrderEvent(context.Background(), sampleEvent()))
}
