package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/go-order-management/pkg/mylogger"
	"github.com/sakashimaa/go-order-management/services/order/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type CustomerRepository interface {
	Create(ctx context.Context, customer *domain.Customer) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Customer, error)
	List(ctx context.Context, limit, offset int64) ([]domain.Customer, int64, error)
}

type customerRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewCustomerRepository(pool *pgxpool.Pool, logger *zap.Logger) CustomerRepository {
	return &customerRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("customer_repository"),
	}
}

func (r *customerRepo) Create(ctx context.Context, customer *domain.Customer) error {
	ctx, span := r.tracer.Start(ctx, "CustomerRepository.Create")
	defer span.End()

	query := `
		INSERT INTO customers (first_name, last_name, email)
		VALUES ($1, $2, $3)
		RETURNING id, created_at;
	`

	err := r.pool.QueryRow(
		ctx,
		query,
		customer.FirstName,
		customer.LastName,
		customer.Email,
	).Scan(&customer.ID, &customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			mylogger.Warn(
				ctx,
				r.logger,
				"Customer email already taken",
				zap.String("email", customer.Email),
			)

			return ErrCustomerEmailTaken
		}

		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error inserting customer",
			zap.Error(err),
		)

		return fmt.Errorf("error creating customer: %w", err)
	}

	return nil
}

func (r *customerRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Customer, error) {
	ctx, span := r.tracer.Start(ctx, "CustomerRepository.GetByID")
	defer span.End()

	span.SetAttributes(
		attribute.String("customer_id", id.String()),
	)

	query := `
		SELECT id, first_name, last_name, email, created_at
		FROM customers
		WHERE id = $1;
	`

	var c domain.Customer
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.FirstName,
		&c.LastName,
		&c.Email,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}

		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error getting customer",
			zap.String("customer_id", id.String()),
			zap.Error(err),
		)

		return nil, fmt.Errorf("error getting customer: %w", err)
	}

	return &c, nil
}

func (r *customerRepo) List(ctx context.Context, limit, offset int64) ([]domain.Customer, int64, error) {
	ctx, span := r.tracer.Start(ctx, "CustomerRepository.List")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("limit", limit),
		attribute.Int64("offset", offset),
	)

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM customers`).Scan(&total); err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("error counting customers: %w", err)
	}

	query := `
		SELECT id, first_name, last_name, email, created_at
		FROM customers
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2;
	`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error listing customers",
			zap.Error(err),
		)

		return nil, 0, fmt.Errorf("error listing customers: %w", err)
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, limit)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.CreatedAt); err != nil {
			span.RecordError(err)
			return nil, 0, fmt.Errorf("error scanning customer: %w", err)
		}

		customers = append(customers, c)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("error iterating customers: %w", err)
	}

	return customers, total, nil
}
