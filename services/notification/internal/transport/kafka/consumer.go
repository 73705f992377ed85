package kafka

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/IBM/sarama"
	"github.com/sakashimaa/go-order-management/pkg/events"
	"github.com/sakashimaa/go-order-management/pkg/kafka"
	"github.com/sakashimaa/go-order-management/pkg/mylogger"
	"github.com/sakashimaa/go-order-management/services/notification/internal/service"
	"go.uber.org/zap"
)

type OrderEventHandler interface {
	HandleOrderCreated(ctx context.Context, event events.OrderCreatedEvent) error
}

type Consumer struct {
	service OrderEventHandler
	logger  *zap.Logger
}

func NewConsumer(service OrderEventHandler, logger *zap.Logger) *Consumer {
	return &Consumer{
		service: service,
		logger:  logger,
	}
}

func (c *Consumer) Start(ctx context.Context, brokers []string, groupID, topic string) error {
	consumerGroup := kafka.NewConsumerGroup(
		brokers,
		groupID,
		[]string{topic},
		c.processMessage,
		c.logger,
	)

	return consumerGroup.Run(ctx)
}

// processMessage returns nil for messages that can never succeed so they are
// committed instead of redelivered forever.
func (c *Consumer) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	mylogger.Info(
		ctx,
		c.logger,
		"Processing message",
		zap.String("topic", msg.Topic),
		zap.String("key", string(msg.Key)),
	)

	wrapper, err := events.DecodeEnvelope(msg.Value)
	if err != nil {
		mylogger.Error(ctx, c.logger, "Error unmarshalling wrapper", zap.Error(err))
		return nil
	}

	switch wrapper.Event {
	case events.EventTypeOrderCreated:
		var event events.OrderCreatedEvent
		if err := json.Unmarshal(wrapper.Payload, &event); err != nil {
			mylogger.Error(ctx, c.logger, "Error parsing event", zap.Error(err))
			return nil
		}

		if err := c.service.HandleOrderCreated(ctx, event); err != nil {
			if errors.Is(err, service.ErrInvalidEvent) {
				mylogger.Warn(ctx, c.logger, "Dropping invalid order event", zap.String("key", string(msg.Key)))
				return nil
			}

			return err
		}
	default:
		mylogger.Debug(
			ctx,
			c.logger,
			"Ignored event type",
			zap.String("event", wrapper.Event),
			zap.String("header_event_type", kafka.Header(msg, events.HeaderEventType)),
		)
	}

	return nil
}
