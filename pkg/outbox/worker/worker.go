package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sakashimaa/go-order-management/pkg/db"
	"github.com/sakashimaa/go-order-management/pkg/events"
	"github.com/sakashimaa/go-order-management/pkg/kafka"
	"github.com/sakashimaa/go-order-management/pkg/mylogger"
	"github.com/sakashimaa/go-order-management/pkg/outbox/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OutboxRepository interface {
	SaveOutboxEvent(ctx context.Context, q db.DBTX, event *domain.OutboxEvent) error
	GetUnpublishedEvents(ctx context.Context, q db.DBTX, batchSize int, createdBefore time.Time) ([]*domain.OutboxEvent, error)
	MarkEventPublished(ctx context.Context, q db.DBTX, eventID int64) error
	MarkEventFailed(ctx context.Context, q db.DBTX, eventID int64, error string) error
}

type KafkaProducer interface {
	ProduceMessage(ctx context.Context, msg kafka.Message) error
}

// OutboxProcessor relays outbox rows that were not published in-line by the
// service that wrote them. Rows younger than the grace period are left to the
// writer, which usually publishes them right after commit.
type OutboxProcessor struct {
	pool          db.TxBeginner
	repo          OutboxRepository
	kafkaProducer KafkaProducer
	logger        *zap.Logger
	batchSize     int
	interval      time.Duration
	gracePeriod   time.Duration
	tracer        trace.Tracer
	relayed       prometheus.Counter
	failed        prometheus.Counter
	now           func() time.Time
}

type Option func(*OutboxProcessor)

func WithBatchSize(n int) Option {
	return func(p *OutboxProcessor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(p *OutboxProcessor) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithGracePeriod(d time.Duration) Option {
	return func(p *OutboxProcessor) {
		if d >= 0 {
			p.gracePeriod = d
		}
	}
}

// WithMetrics registers the relay counters on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(p *OutboxProcessor) {
		p.relayed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_events_relayed_total",
			Help: "Outbox events published by the relay worker.",
		})
		p.failed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_events_relay_failures_total",
			Help: "Outbox relay publish attempts that failed.",
		})
		reg.MustRegister(p.relayed, p.failed)
	}
}

func NewOutboxProcessor(
	pool db.TxBeginner,
	repo OutboxRepository,
	producer KafkaProducer,
	logger *zap.Logger,
	opts ...Option,
) *OutboxProcessor {
	p := &OutboxProcessor{
		pool:          pool,
		repo:          repo,
		kafkaProducer: producer,
		logger:        logger,
		batchSize:     50,
		interval:      500 * time.Millisecond,
		gracePeriod:   5 * time.Second,
		tracer:        otel.Tracer("outbox-worker"),
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	mylogger.Info(
		ctx,
		p.logger,
		"Starting outbox processor",
		zap.Duration("interval", p.interval),
		zap.Duration("grace_period", p.gracePeriod),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(
				ctx,
				p.logger,
				"Outbox processor stopping",
			)

			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				mylogger.Error(
					ctx,
					p.logger,
					"Error processing outbox batch",
					zap.Error(err),
				)
			}
		}
	}
}

// ProcessBatch relays one batch and returns how many events were published.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.ProcessBatch")
	defer span.End()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(cleanupCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Error(
				cleanupCtx,
				p.logger,
				"Outbox worker failed to rollback transaction",
				zap.Error(err),
				zap.String("method_name", "ProcessBatch"),
			)
		}
	}()

	events, err := p.repo.GetUnpublishedEvents(ctx, tx, p.batchSize, p.now().Add(-p.gracePeriod))
	if err != nil {
		return 0, err
	}

	if len(events) == 0 {
		return 0, nil
	}

	mylogger.Info(
		ctx,
		p.logger,
		"Relaying outbox events",
		zap.Int("count", len(events)),
	)

	published := 0
	for _, event := range events {
		if err := p.relay(ctx, tx, event); err != nil {
			return published, err
		}
		if event.PublishedAt != nil {
			published++
		}
	}

	span.SetAttributes(attribute.Int("outbox.published", published))

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("error committing outbox batch: %w", err)
	}

	return published, nil
}

func (p *OutboxProcessor) relay(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error {
	err := p.kafkaProducer.ProduceMessage(ctx, kafka.Message{
		Topic:   event.Topic,
		Key:     event.AggregateID,
		Value:   event.Payload,
		Headers: map[string]string{events.HeaderEventType: event.EventType},
	})
	if err != nil {
		p.inc(p.failed)

		mylogger.Error(
			ctx,
			p.logger,
			"outbox worker produce message failed",
			zap.Int64("id", event.Id),
			zap.Int64("attempts", event.Attempts+1),
			zap.Error(err),
		)

		if dbErr := p.repo.MarkEventFailed(ctx, tx, event.Id, err.Error()); dbErr != nil {
			return dbErr
		}

		return nil
	}

	if err := p.repo.MarkEventPublished(ctx, tx, event.Id); err != nil {
		mylogger.Error(
			ctx,
			p.logger,
			"outbox worker mark event published failed",
			zap.Int64("id", event.Id),
			zap.Error(err),
		)

		return err
	}

	now := p.now()
	event.PublishedAt = &now
	p.inc(p.relayed)

	mylogger.Debug(
		ctx,
		p.logger,
		"outbox worker event published successfully",
		zap.Int64("id", event.Id),
		zap.String("aggregate_id", event.AggregateID),
	)

	return nil
}

func (p *OutboxProcessor) inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}
