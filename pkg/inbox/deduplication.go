package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sakashimaa/go-order-management/pkg/db"
	"github.com/sakashimaa/go-order-management/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

// Deduplicator runs an action at most once per event id. The id is claimed in
// processed_events inside a transaction that commits only after the action
// succeeds, so a failed action leaves the event claimable by a redelivery.
type Deduplicator struct {
	pool     db.TxBeginner
	logger   *zap.Logger
	tracer   trace.Tracer
	attempts int
	delay    time.Duration
}

func NewDeduplicator(pool db.TxBeginner, logger *zap.Logger) *Deduplicator {
	return &Deduplicator{
		pool:     pool,
		logger:   logger,
		tracer:   otel.Tracer("pkg/inbox"),
		attempts: 3,
		delay:    500 * time.Millisecond,
	}
}

// ProcessOnce reports processed=false when the event was already handled.
func (d *Deduplicator) ProcessOnce(ctx context.Context, eventID string, action func(ctx context.Context) error) (processed bool, err error) {
	ctx, span := d.tracer.Start(ctx, "Deduplicator.ProcessOnce")
	defer span.End()

	span.SetAttributes(attribute.String("event_id", eventID))

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("begin dedup transaction: %w", err)
	}

	defer func() {
		shutdownCtx := context.WithoutCancel(ctx)

		rbErr := tx.Rollback(shutdownCtx)
		if rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			mylogger.Error(
				shutdownCtx,
				d.logger,
				"Error rolling back transaction",
				zap.Error(rbErr),
			)
		}
	}()

	query := `
		INSERT INTO processed_events (event_id)
		VALUES ($1)
	`

	if _, err := tx.Exec(ctx, query, eventID); err != nil {
		var pgError *pgconn.PgError
		if errors.As(err, &pgError) && pgError.Code == uniqueViolation {
			mylogger.Info(
				ctx,
				d.logger,
				"Event already processed, skipping",
				zap.String("event_id", eventID),
			)

			return false, nil
		}

		span.RecordError(err)
		return false, fmt.Errorf("claim event %s: %w", eventID, err)
	}

	for i := 0; i < d.attempts; i++ {
		err = action(ctx)
		if err == nil {
			break
		}

		mylogger.Warn(
			ctx,
			d.logger,
			"Event action failed",
			zap.String("event_id", eventID),
			zap.Int("attempt", i+1),
			zap.Error(err),
		)

		if i < d.attempts-1 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(d.delay):
			}
		}
	}

	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, d.logger, "Event action failed after retries", zap.String("event_id", eventID), zap.Error(err))

		return false, fmt.Errorf("process event %s: %w", eventID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			d.logger,
			"Failed to commit transaction",
			zap.Error(err),
		)

		return false, fmt.Errorf("commit event %s: %w", eventID, err)
	}

	return true, nil
}
