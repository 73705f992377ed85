package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/go-order-management/pkg/db"
	"github.com/sakashimaa/go-order-management/pkg/events"
	"github.com/sakashimaa/go-order-management/pkg/mylogger"
	outboxDomain "github.com/sakashimaa/go-order-management/pkg/outbox/domain"
	"github.com/sakashimaa/go-order-management/pkg/outbox/worker"
	"github.com/sakashimaa/go-order-management/services/order/internal/domain"
	"github.com/sakashimaa/go-order-management/services/order/internal/repository"
	"github.com/sakashimaa/go-order-management/services/order/pkg/validator"
	"go.uber.org/zap"
)

type ProductService interface {
	Create(ctx context.Context, input domain.CreateProductInput) (*domain.Product, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	List(ctx context.Context, limit, offset int64, search string) ([]domain.Product, int64, error)
	Update(ctx context.Context, id uuid.UUID, input domain.UpdateProductInput) (*domain.Product, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type productService struct {
	productRepo repository.ProductRepository
	outboxRepo  worker.OutboxRepository
	pool        db.TxBeginner
	validator   validator.Validator
	logger      *zap.Logger
}

func NewProductService(
	productRepo repository.ProductRepository,
	outboxRepo worker.OutboxRepository,
	pool db.TxBeginner,
	validator validator.Validator,
	logger *zap.Logger,
) ProductService {
	return &productService{
		productRepo: productRepo,
		outboxRepo:  outboxRepo,
		pool:        pool,
		validator:   validator,
		logger:      logger,
	}
}

func (s *productService) Create(ctx context.Context, input domain.CreateProductInput) (*domain.Product, error) {
	if err := s.validator.ValidateStruct(input); err != nil {
		return nil, invalidInput(err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		mylogger.Error(ctx, s.logger, "Error starting transaction", zap.Error(err))
		return nil, err
	}

	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		err := tx.Rollback(cleanupCtx)

		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(
				ctx,
				s.logger,
				"Error rolling back transaction",
				zap.Error(err),
				zap.String("method_name", "Create"),
				zap.String("service", "product_service"),
			)
		}
	}()

	product := &domain.Product{
		Title: input.Title,
		Price: input.Price,
		Stock: input.Stock,
	}

	if err := s.productRepo.Create(ctx, tx, product); err != nil {
		mylogger.Error(ctx, s.logger, "create error", zap.Error(err))
		return nil, fmt.Errorf("error creating product: %w", err)
	}

	payloadBytes, err := events.NewEnvelope(events.EventTypeProductCreated, events.ProductCreatedEvent{
		ProductID: product.ID,
		Title:     product.Title,
	})
	if err != nil {
		return nil, fmt.Errorf("event payload marshal error: %w", err)
	}

	outboxEvent := &outboxDomain.OutboxEvent{
		AggregateType: "Product",
		AggregateID:   product.ID.String(),
		EventType:     events.EventTypeProductCreated,
		Payload:       payloadBytes,
		Topic:         events.TopicProductEvents,
	}

	if err := s.outboxRepo.SaveOutboxEvent(ctx, tx, outboxEvent); err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Error saving outbox event",
			zap.Error(err),
		)

		return nil, fmt.Errorf("failed to save outbox event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Error commiting transaction",
			zap.Error(err),
		)

		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return product, nil
}

func (s *productService) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	res, err := s.productRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			mylogger.Warn(ctx, s.logger, "product not found", zap.String("product_id", id.String()))
			return nil, &NotFoundError{Entity: "product", IDs: []uuid.UUID{id}}
		}

		mylogger.Error(ctx, s.logger, "error getting product", zap.Error(err))
		return nil, fmt.Errorf("error getting product by id: %w", err)
	}

	return res, nil
}

func (s *productService) List(ctx context.Context, limit, offset int64, search string) ([]domain.Product, int64, error) {
	list, quantity, err := s.productRepo.List(ctx, limit, offset, search)
	if err != nil {
		mylogger.Error(ctx, s.logger, "list error", zap.Error(err))
		return nil, 0, fmt.Errorf("error listing products: %w", err)
	}

	return list, quantity, nil
}

func (s *productService) Update(ctx context.Context, id uuid.UUID, input domain.UpdateProductInput) (*domain.Product, error) {
	if input.IsEmpty() {
		return nil, &ValidationError{Field: "_", Reason: "at least one of title, price, stock is required"}
	}

	if err := s.validator.ValidateStruct(input); err != nil {
		return nil, invalidInput(err)
	}

	res, err := s.productRepo.Update(ctx, id, &input)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return nil, &NotFoundError{Entity: "product", IDs: []uuid.UUID{id}}
		}

		mylogger.Error(ctx, s.logger, "error updating product", zap.Error(err))
		return nil, fmt.Errorf("error updating product: %w", err)
	}

	return res, nil
}

func (s *productService) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.productRepo.DeleteByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			mylogger.Warn(ctx, s.logger, "product not found", zap.String("product_id", id.String()))
			return &NotFoundError{Entity: "product", IDs: []uuid.UUID{id}}
		}

		mylogger.Error(ctx, s.logger, "error deleting product", zap.Error(err))
		return fmt.Errorf("error deleting product: %w", err)
	}

	return nil
}
