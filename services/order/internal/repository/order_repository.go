package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/go-order-management/pkg/db"
	"github.com/sakashimaa/go-order-management/pkg/mylogger"
	"github.com/sakashimaa/go-order-management/services/order/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OrderRepository interface {
	CreateOrder(ctx context.Context, tx pgx.Tx, order *domain.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	List(ctx context.Context, limit, offset int64) ([]domain.Order, int64, error)
}

type orderRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewOrderRepository(pool *pgxpool.Pool, logger *zap.Logger) OrderRepository {
	return &orderRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("order_repository"),
	}
}

// CreateOrder inserts the order and its lines in submission order. ID and
// OrderDate are filled from the database.
func (r *orderRepo) CreateOrder(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.CreateOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("customer_id", order.CustomerID.String()),
		attribute.Int("lines_count", len(order.Lines)),
	)

	queryOrder := `
		INSERT INTO orders (customer_id)
		VALUES ($1)
		RETURNING id, order_date
	`

	if err := tx.QueryRow(ctx, queryOrder, order.CustomerID).Scan(&order.ID, &order.OrderDate); err != nil {
		span.RecordError(err)

		mylogger.Warn(
			ctx,
			r.logger,
			"Failed to insert order",
			zap.Error(err),
		)

		return fmt.Errorf("failed to insert order: %w", err)
	}

	queryLine := `
		INSERT INTO order_lines (order_id, line_no, product_id, product_title, quantity)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	for i := range order.Lines {
		line := &order.Lines[i]
		line.OrderID = order.ID

		err := tx.QueryRow(
			ctx,
			queryLine,
			order.ID,
			i+1,
			line.ProductID,
			line.ProductTitle,
			line.Quantity,
		).Scan(&line.ID)
		if err != nil {
			span.RecordError(err)

			mylogger.Error(
				ctx,
				r.logger,
				"Failed to insert order line",
				zap.String("order_id", order.ID.String()),
				zap.Int("line_no", i+1),
				zap.Error(err),
			)

			return fmt.Errorf("failed to insert order line: %w", err)
		}
	}

	return nil
}

func (r *orderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.GetByID")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", id.String()),
	)

	query := `
		SELECT o.id, o.customer_id, o.order_date, c.email
		FROM orders o
		JOIN customers c ON c.id = o.customer_id
		WHERE o.id = $1;
	`

	var order domain.Order
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&order.ID,
		&order.CustomerID,
		&order.OrderDate,
		&order.CustomerEmail,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}

		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to get order",
			zap.String("order_id", id.String()),
			zap.Error(err),
		)

		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	lines, err := r.linesOf(ctx, r.pool, []uuid.UUID{order.ID})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	order.Lines = lines[order.ID]

	return &order, nil
}

func (r *orderRepo) List(ctx context.Context, limit, offset int64) ([]domain.Order, int64, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.List")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("limit", limit),
		attribute.Int64("offset", offset),
	)

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders`).Scan(&total); err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	query := `
		SELECT o.id, o.customer_id, o.order_date, c.email
		FROM orders o
		JOIN customers c ON c.id = o.customer_id
		ORDER BY o.order_date DESC, o.id
		LIMIT $1 OFFSET $2;
	`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to list orders",
			zap.Error(err),
		)

		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	ids := make([]uuid.UUID, 0, limit)
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.OrderDate, &o.CustomerEmail); err != nil {
			span.RecordError(err)
			return nil, 0, fmt.Errorf("failed to scan order: %w", err)
		}

		orders = append(orders, o)
		ids = append(ids, o.ID)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	if len(ids) == 0 {
		return orders, total, nil
	}

	lines, err := r.linesOf(ctx, r.pool, ids)
	if err != nil {
		span.RecordError(err)
		return nil, 0, err
	}

	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}

	return orders, total, nil
}

func (r *orderRepo) linesOf(ctx context.Context, q db.DBTX, orderIDs []uuid.UUID) (map[uuid.UUID][]domain.OrderLine, error) {
	params := make([]string, len(orderIDs))
	for i, id := range orderIDs {
		params[i] = id.String()
	}

	query := `
		SELECT id, order_id, product_id, product_title, quantity
		FROM order_lines
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, line_no;
	`

	rows, err := q.Query(ctx, query, params)
	if err != nil {
		mylogger.Error(
			ctx,
			r.logger,
			"Failed to query order_lines",
			zap.Error(err),
		)

		return nil, fmt.Errorf("failed to query order lines: %w", err)
	}
	defer rows.Close()

	result := make(map[uuid.UUID][]domain.OrderLine, len(orderIDs))
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(
			&line.ID,
			&line.OrderID,
			&line.ProductID,
			&line.ProductTitle,
			&line.Quantity,
		); err != nil {
			mylogger.Error(
				ctx,
				r.logger,
				"Failed to scan row",
				zap.Error(err),
			)

			return nil, fmt.Errorf("failed to scan order line: %w", err)
		}

		result[line.OrderID] = append(result[line.OrderID], line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return result, nil
}
