package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sakashimaa/go-order-management/pkg/events"
	"github.com/sakashimaa/go-order-management/pkg/mylogger"
	"github.com/sakashimaa/go-order-management/services/notification/internal/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var ErrInvalidEvent = errors.New("invalid order event")

// Deduplicator runs action at most once per event id.
type Deduplicator interface {
	ProcessOnce(ctx context.Context, eventID string, action func(ctx context.Context) error) (bool, error)
}

type Metrics struct {
	sent       prometheus.Counter
	duplicates prometheus.Counter
	failures   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notification_emails_sent_total",
			Help: "Order confirmation emails sent.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notification_duplicates_skipped_total",
			Help: "Order events skipped because they were already processed.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notification_email_failures_total",
			Help: "Order events whose email could not be sent.",
		}),
	}

	reg.MustRegister(m.sent, m.duplicates, m.failures)

	return m
}

type NotificationService struct {
	emailSender email.Sender
	dedup       Deduplicator
	logger      *zap.Logger
	metrics     *Metrics
	tracer      trace.Tracer
}

func NewNotificationService(emailSender email.Sender, dedup Deduplicator, logger *zap.Logger, metrics *Metrics) *NotificationService {
	return &NotificationService{
		emailSender: emailSender,
		dedup:       dedup,
		logger:      logger,
		metrics:     metrics,
		tracer:      otel.Tracer("notification-service"),
	}
}

// HandleOrderCreated sends the confirmation email once per order id.
func (s *NotificationService) HandleOrderCreated(ctx context.Context, event events.OrderCreatedEvent) error {
	ctx, span := s.tracer.Start(ctx, "NotificationService.HandleOrderCreated")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", event.OrderID.String()))

	if event.OrderID == uuid.Nil || event.CustomerEmail == "" {
		return ErrInvalidEvent
	}

	msg := NewConfirmationEmail(event)

	processed, err := s.dedup.ProcessOnce(ctx, event.OrderID.String(), func(ctx context.Context) error {
		return s.emailSender.Send(ctx, msg)
	})
	if err != nil {
		span.RecordError(err)
		s.metrics.failed()

		mylogger.Error(
			ctx,
			s.logger,
			"Error sending order confirmation",
			zap.String("order_id", event.OrderID.String()),
			zap.Error(err),
		)

		return err
	}

	if !processed {
		s.metrics.duplicate()

		mylogger.Info(
			ctx,
			s.logger,
			"Duplicate order event skipped",
			zap.String("order_id", event.OrderID.String()),
		)

		return nil
	}

	s.metrics.emailSent()

	mylogger.Info(
		ctx,
		s.logger,
		"Order confirmation email sent",
		zap.String("order_id", event.OrderID.String()),
		zap.String("to", event.CustomerEmail),
	)

	return nil
}

func (m *Metrics) emailSent() {
	if m != nil {
		m.sent.Inc()
	}
}

func (m *Metrics) duplicate() {
	if m != nil {
		m.duplicates.Inc()
	}
}

func (m *Metrics) failed() {
	if m != nil {
		m.failures.Inc()
	}
}
