package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/go-order-management/pkg/db"
	"github.com/sakashimaa/go-order-management/pkg/outbox/domain"
	"github.com/sakashimaa/go-order-management/pkg/outbox/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const eventColumns = `id, aggregate_type, aggregate_id, event_type, payload, headers,
	created_at, published_at, attempts, last_error, topic`

type outboxRepo struct {
	tracer      trace.Tracer
	logger      *zap.Logger
	maxAttempts int
}

type Option func(*outboxRepo)

// WithMaxAttempts parks events after n failed relay attempts.
func WithMaxAttempts(n int) Option {
	return func(r *outboxRepo) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

func NewOutboxRepository(logger *zap.Logger, opts ...Option) worker.OutboxRepository {
	r := &outboxRepo{
		tracer:      otel.Tracer("pkg/outbox_repo"),
		logger:      logger,
		maxAttempts: domain.MaxAttempts,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *outboxRepo) SaveOutboxEvent(ctx context.Context, q db.DBTX, event *domain.OutboxEvent) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.SaveOutboxEvent")
	defer span.End()

	span.SetAttributes(
		attribute.String("aggregate_type", event.AggregateType),
		attribute.String("aggregate_id", event.AggregateID),
		attribute.String("event_type", event.EventType),
		attribute.String("topic", event.Topic),
	)

	err := q.QueryRow(
		ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, event_type, payload, headers, topic)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		event.AggregateType,
		event.AggregateID,
		event.EventType,
		event.Payload,
		event.Headers,
		event.Topic,
	).Scan(&event.Id, &event.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("save outbox event for %s %s: %w", event.AggregateType, event.AggregateID, err)
	}

	return nil
}

// GetUnpublishedEvents locks up to batchSize pending events created at or
// before createdBefore. Rows locked by another relay are skipped.
func (r *outboxRepo) GetUnpublishedEvents(ctx context.Context, q db.DBTX, batchSize int, createdBefore time.Time) ([]*domain.OutboxEvent, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.GetUnpublishedEvents")
	defer span.End()

	span.SetAttributes(attribute.Int("batch_size", batchSize))

	rows, err := q.Query(
		ctx,
		`SELECT `+eventColumns+`
		FROM outbox
		WHERE published_at IS NULL
			AND attempts < $1
			AND created_at <= $2
		ORDER BY id
		LIMIT $3
		FOR UPDATE SKIP LOCKED`,
		r.maxAttempts,
		createdBefore,
		batchSize,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query pending outbox events: %w", err)
	}

	events, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[domain.OutboxEvent])
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("scan pending outbox events: %w", err)
	}

	span.SetAttributes(attribute.Int("result_count", len(events)))

	return events, nil
}

func (r *outboxRepo) MarkEventPublished(ctx context.Context, q db.DBTX, eventID int64) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkEventPublished")
	defer span.End()

	span.SetAttributes(attribute.Int64("event_id", eventID))

	// A row the relay already published is left untouched.
	if _, err := q.Exec(
		ctx,
		`UPDATE outbox
		SET published_at = NOW(), last_error = NULL
		WHERE id = $1 AND published_at IS NULL`,
		eventID,
	); err != nil {
		span.RecordError(err)
		return fmt.Errorf("mark outbox event %d published: %w", eventID, err)
	}

	return nil
}

func (r *outboxRepo) MarkEventFailed(ctx context.Context, q db.DBTX, eventID int64, errMsg string) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkEventFailed")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
		attribute.String("outbox.error_message", errMsg),
	)

	tag, err := q.Exec(
		ctx,
		`UPDATE outbox
		SET last_error = $2, attempts = attempts + 1
		WHERE id = $1`,
		eventID,
		errMsg,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("mark outbox event %d failed: %w", eventID, err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.Warn("outbox event vanished before it could be marked failed", zap.Int64("event_id", eventID))
	}

	return nil
}
