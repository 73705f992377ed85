package publisher

import (
	"context"

	"github.com/google/uuid"
	"github.com/sakashimaa/go-order-management/pkg/events"
	"github.com/sakashimaa/go-order-management/pkg/kafka"
	"github.com/sakashimaa/go-order-management/pkg/mylogger"
	"github.com/sakashimaa/go-order-management/pkg/utils"
	"github.com/sakashimaa/go-order-management/services/order/internal/service"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type KafkaPublisher struct {
	producer kafka.Producer
	topic    string
	cb       *gobreaker.CircuitBreaker
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewKafkaPublisher(producer kafka.Producer, topic string, logger *zap.Logger) *KafkaPublisher {
	if topic == "" {
		topic = events.TopicOrderEvents
	}

	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		cb:       utils.NewBreaker("kafka-order-events", logger),
		logger:   logger,
		tracer:   otel.Tracer("order_publisher"),
	}
}

// Publish sends the event wrapped in an envelope, keyed by key. While the
// breaker is open calls fail fast with gobreaker.ErrOpenState.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, event events.OrderCreatedEvent, eventType string) error {
	ctx, span := p.tracer.Start(ctx, "KafkaPublisher.Publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.destination", p.topic),
		attribute.String("messaging.kafka.message_key", key),
		attribute.String("event_type", eventType),
	)

	value, err := events.NewEnvelope(eventType, event)
	if err != nil {
		span.RecordError(err)
		return &service.PublishError{OrderID: event.OrderID, Err: err}
	}

	_, err = utils.ExecuteWithBreaker(p.cb, func() (struct{}, error) {
		return struct{}{}, p.producer.ProduceMessage(ctx, kafka.Message{
			Topic:   p.topic,
			Key:     key,
			Value:   value,
			Headers: map[string]string{events.HeaderEventType: eventType},
		})
	})
	if err != nil {
		span.RecordError(err)

		mylogger.Warn(
			ctx,
			p.logger,
			"Failed to produce order event",
			zap.String("key", key),
			zap.String("breaker_state", p.cb.State().String()),
			zap.Error(err),
		)

		orderID := event.OrderID
		if orderID == uuid.Nil {
			orderID, _ = uuid.Parse(key)
		}

		return &service.PublishError{OrderID: orderID, Err: err}
	}

	return nil
}
