package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/go-order-management/pkg/config"
	"github.com/sakashimaa/go-order-management/pkg/db"
	"github.com/sakashimaa/go-order-management/pkg/events"
	"github.com/sakashimaa/go-order-management/pkg/mylogger"
	outboxDomain "github.com/sakashimaa/go-order-management/pkg/outbox/domain"
	"github.com/sakashimaa/go-order-management/pkg/outbox/worker"
	"github.com/sakashimaa/go-order-management/services/order/internal/domain"
	"github.com/sakashimaa/go-order-management/services/order/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Publisher delivers an order event keyed by key. Failures are reported as
// *PublishError.
type Publisher interface {
	Publish(ctx context.Context, key string, event events.OrderCreatedEvent, eventType string) error
}

// ProductCacheInvalidator drops cached copies of products whose stock changed.
type ProductCacheInvalidator interface {
	Invalidate(ctx context.Context, ids ...uuid.UUID)
}

type OrderService interface {
	CreateOrder(ctx context.Context, input domain.CreateOrderInput) (*domain.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListOrders(ctx context.Context, limit, offset int64) ([]domain.Order, int64, error)
}

type orderService struct {
	pool         db.Pool
	logger       *zap.Logger
	productRepo  repository.ProductRepository
	customerRepo repository.CustomerRepository
	orderRepo    repository.OrderRepository
	outboxRepo   worker.OutboxRepository
	publisher    Publisher
	cache        ProductCacheInvalidator
	metrics      *Metrics
	topic        string
	maxLines     int
	maxAttempts  int
	tracer       trace.Tracer
}

type OrderOption func(*orderService)

func WithProductCache(cache ProductCacheInvalidator) OrderOption {
	return func(s *orderService) {
		s.cache = cache
	}
}

func WithOrderMetrics(m *Metrics) OrderOption {
	return func(s *orderService) {
		s.metrics = m
	}
}

func WithTopic(topic string) OrderOption {
	return func(s *orderService) {
		if topic != "" {
			s.topic = topic
		}
	}
}

func NewOrderService(
	pool db.Pool,
	logger *zap.Logger,
	productRepo repository.ProductRepository,
	customerRepo repository.CustomerRepository,
	orderRepo repository.OrderRepository,
	outboxRepo worker.OutboxRepository,
	publisher Publisher,
	cfg config.Order,
	opts ...OrderOption,
) OrderService {
	s := &orderService{
		pool:         pool,
		logger:       logger,
		productRepo:  productRepo,
		customerRepo: customerRepo,
		orderRepo:    orderRepo,
		outboxRepo:   outboxRepo,
		publisher:    publisher,
		topic:        events.TopicOrderEvents,
		maxLines:     cfg.MaxLines,
		maxAttempts:  cfg.MaxAttempts,
		tracer:       otel.Tracer("order_service"),
	}

	if s.maxLines <= 0 {
		s.maxLines = 100
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = 3
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// commitConflict marks an attempt that lost a race on productID, or on the
// transaction as a whole when productID is nil.
type commitConflict struct {
	productID uuid.UUID
	err       error
}

func (c *commitConflict) Error() string { return c.err.Error() }
func (c *commitConflict) Unwrap() error { return c.err }

func (s *orderService) CreateOrder(ctx context.Context, input domain.CreateOrderInput) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("customer_id", input.CustomerID.String()),
		attribute.Int("lines_count", len(input.Lines)),
	)

	if err := s.validate(input); err != nil {
		s.metrics.createFailed("validation")
		span.SetStatus(codes.Error, err.Error())

		return nil, err
	}

	requested := make(map[uuid.UUID]int64, len(input.Lines))
	for _, line := range input.Lines {
		requested[line.ProductID] += int64(line.Quantity)
	}

	ids := make([]uuid.UUID, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })

	var (
		order     *domain.Order
		outboxID  int64
		lastClash *commitConflict
	)

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		var err error
		order, outboxID, err = s.attempt(ctx, input, ids, requested)
		if err == nil {
			break
		}

		if !repository.IsConflict(err) {
			s.metrics.createFailed(failureReason(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())

			return nil, err
		}

		s.metrics.stockConflict()

		lastClash = &commitConflict{err: err}
		errors.As(err, &lastClash)

		mylogger.Warn(
			ctx,
			s.logger,
			"Order commit conflicted, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.maxAttempts),
			zap.String("product_id", lastClash.productID.String()),
			zap.Error(err),
		)
	}

	if order == nil {
		err := &ConflictError{ProductID: lastClash.productID, Attempts: s.maxAttempts}
		s.metrics.createFailed("conflict")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return nil, err
	}

	s.metrics.orderCreated()
	span.SetAttributes(attribute.String("order_id", order.ID.String()))

	mylogger.Info(
		ctx,
		s.logger,
		"Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("customer_id", order.CustomerID.String()),
		zap.Int64("total_quantity", order.TotalQuantity()),
	)

	if s.cache != nil {
		s.cache.Invalidate(ctx, ids...)
	}

	s.emit(ctx, order, outboxID)

	return order, nil
}

func (s *orderService) validate(input domain.CreateOrderInput) error {
	if input.CustomerID == uuid.Nil {
		return &ValidationError{Field: "customer_id", Reason: "is required"}
	}

	if len(input.Lines) == 0 {
		return &ValidationError{Field: "order_products", Reason: "at least one line is required"}
	}

	if len(input.Lines) > s.maxLines {
		return &ValidationError{
			Field:  "order_products",
			Reason: fmt.Sprintf("at most %d lines are allowed, got %d", s.maxLines, len(input.Lines)),
		}
	}

	var bad []uuid.UUID
	seen := make(map[uuid.UUID]struct{})
	for _, line := range input.Lines {
		if line.ProductID == uuid.Nil {
			return &ValidationError{Field: "product_id", Reason: "is required"}
		}

		if line.Quantity >= 1 {
			continue
		}

		if _, ok := seen[line.ProductID]; !ok {
			seen[line.ProductID] = struct{}{}
			bad = append(bad, line.ProductID)
		}
	}

	if len(bad) > 0 {
		return &ValidationError{Field: "quantity", Reason: "must be at least 1", ProductIDs: bad}
	}

	return nil
}

// attempt resolves the references, checks stock and commits one order. ids
// must be sorted so concurrent orders lock product rows in the same order.
func (s *orderService) attempt(
	ctx context.Context,
	input domain.CreateOrderInput,
	ids []uuid.UUID,
	requested map[uuid.UUID]int64,
) (*domain.Order, int64, error) {
	var (
		customer *domain.Customer
		products map[uuid.UUID]*domain.Product
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c, err := s.customerRepo.GetByID(gctx, input.CustomerID)
		if err != nil {
			if errors.Is(err, repository.ErrCustomerNotFound) {
				return nil
			}

			return fmt.Errorf("failed to get customer: %w", err)
		}

		customer = c
		return nil
	})

	g.Go(func() error {
		p, err := s.productRepo.FindByIDs(gctx, ids)
		if err != nil {
			return fmt.Errorf("failed to find products: %w", err)
		}

		products = p
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var missing []uuid.UUID
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, 0, &NotFoundError{Entity: "product", IDs: missing}
	}

	if customer == nil {
		return nil, 0, &NotFoundError{Entity: "customer", IDs: []uuid.UUID{input.CustomerID}}
	}

	var short []uuid.UUID
	for _, id := range ids {
		if products[id].Stock < requested[id] {
			short = append(short, id)
		}
	}
	if len(short) > 0 {
		return nil, 0, &InsufficientStockError{ProductIDs: short}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		shutdownCtx := context.WithoutCancel(ctx)
		err := tx.Rollback(shutdownCtx)

		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(
				shutdownCtx,
				s.logger,
				"Error rolling back transaction",
				zap.Error(err),
			)
		}
	}()

	for _, id := range ids {
		if err := s.productRepo.DecrementStock(ctx, tx, id, requested[id]); err != nil {
			if repository.IsConflict(err) {
				return nil, 0, &commitConflict{productID: id, err: err}
			}

			return nil, 0, fmt.Errorf("failed to decrement stock: %w", err)
		}
	}

	order := &domain.Order{
		CustomerID:    customer.ID,
		CustomerEmail: customer.Email,
		Lines:         make([]domain.OrderLine, 0, len(input.Lines)),
	}

	for _, line := range input.Lines {
		productID := line.ProductID
		order.Lines = append(order.Lines, domain.OrderLine{
			ProductID:    &productID,
			ProductTitle: products[productID].Title,
			Quantity:     line.Quantity,
		})
	}

	if err := s.orderRepo.CreateOrder(ctx, tx, order); err != nil {
		if repository.IsConflict(err) {
			return nil, 0, &commitConflict{err: err}
		}

		mylogger.Error(
			ctx,
			s.logger,
			"Failed to create order",
			zap.String("customer_id", input.CustomerID.String()),
			zap.Error(err),
		)

		return nil, 0, fmt.Errorf("failed to create order: %w", err)
	}

	payload, err := events.NewEnvelope(events.EventTypeOrderCreated, order.ToCreatedEvent())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	outboxEvent := &outboxDomain.OutboxEvent{
		AggregateType: "Order",
		AggregateID:   order.ID.String(),
		EventType:     events.EventTypeOrderCreated,
		Payload:       payload,
		Topic:         s.topic,
	}

	if err := s.outboxRepo.SaveOutboxEvent(ctx, tx, outboxEvent); err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Failed to save outbox event",
			zap.Error(err),
		)

		return nil, 0, fmt.Errorf("failed to save outbox event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if repository.IsConflict(err) {
			return nil, 0, &commitConflict{err: err}
		}

		mylogger.Error(
			ctx,
			s.logger,
			"Failed to commit transaction",
			zap.Error(err),
		)

		return nil, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return order, outboxEvent.Id, nil
}

// emit publishes the event of a committed order. A failure leaves the outbox
// row unpublished and the relay worker picks it up after its grace period.
func (s *orderService) emit(ctx context.Context, order *domain.Order, outboxID int64) {
	ctx, span := s.tracer.Start(ctx, "OrderService.emit")
	defer span.End()

	err := s.publisher.Publish(ctx, order.ID.String(), order.ToCreatedEvent(), events.EventTypeOrderCreated)
	if err != nil {
		var pubErr *PublishError
		if !errors.As(err, &pubErr) {
			pubErr = &PublishError{OrderID: order.ID, Err: err}
		}

		s.metrics.publishFailed()
		span.RecordError(pubErr)
		span.SetStatus(codes.Error, pubErr.Error())

		mylogger.Error(
			ctx,
			s.logger,
			"order event publish failed",
			zap.String("order_id", order.ID.String()),
			zap.Int64("outbox_id", outboxID),
			zap.Error(pubErr),
		)

		return
	}

	if err := s.outboxRepo.MarkEventPublished(ctx, s.pool, outboxID); err != nil {
		mylogger.Warn(
			ctx,
			s.logger,
			"Failed to mark outbox event published, relay will send it again",
			zap.String("order_id", order.ID.String()),
			zap.Int64("outbox_id", outboxID),
			zap.Error(err),
		)
	}
}

func (s *orderService) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, &NotFoundError{Entity: "order", IDs: []uuid.UUID{id}}
		}

		span.RecordError(err)
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, limit, offset int64) ([]domain.Order, int64, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ListOrders")
	defer span.End()

	orders, total, err := s.orderRepo.List(ctx, limit, offset)
	if err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}

	return orders, total, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	default:
		return "internal"
	}
}
