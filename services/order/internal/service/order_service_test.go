package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sakashimaa/go-order-management/pkg/config"
	"github.com/sakashimaa/go-order-management/pkg/events"
	"github.com/sakashimaa/go-order-management/services/order/internal/domain"
	"github.com/sakashimaa/go-order-management/services/order/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type orderFixture struct {
	svc       OrderService
	pool      *fakePool
	products  *fakeProductRepo
	customers *fakeCustomerRepo
	orders    *fakeOrderRepo
	outbox    *fakeOutboxRepo
	publisher *fakePublisher
	cache     *fakeCache
	metrics   *Metrics
	logs      *observer.ObservedLogs
	customer  domain.Customer
}

func newOrderFixture(t *testing.T, cfg config.Order, products ...domain.Product) *orderFixture {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	customer := domain.Customer{ID: uuid.New(), Email: "jane@example.com"}

	f := &orderFixture{
		pool:      &fakePool{},
		products:  newFakeProductRepo(products...),
		customers: newFakeCustomerRepo(customer),
		orders:    newFakeOrderRepo(),
		outbox:    &fakeOutboxRepo{},
		publisher: &fakePublisher{},
		cache:     &fakeCache{},
		metrics:   NewMetrics(prometheus.NewRegistry()),
		logs:      logs,
		customer:  customer,
	}

	f.svc = NewOrderService(
		f.pool,
		zap.New(core),
		f.products,
		f.customers,
		f.orders,
		f.outbox,
		f.publisher,
		cfg,
		WithProductCache(f.cache),
		WithOrderMetrics(f.metrics),
	)

	return f
}

func product(title string, stock int64) domain.Product {
	return domain.Product{ID: uuid.New(), Title: title, Stock: stock}
}

func defaultOrderConfig() config.Order {
	return config.Order{MaxLines: 100, MaxAttempts: 3}
}

func TestCreateOrder_Success(t *testing.T) {
	p := product("Keyboard", 5)
	f := newOrderFixture(t, defaultOrderConfig(), p)

	order, err := f.svc.CreateOrder(context.Background(), domain.CreateOrderInput{
		CustomerID: f.customer.ID,
		Lines:      []domain.OrderLineInput{{ProductID: p.ID, Quantity: 3}},
	})
	require.NoError(t, err)
	require.NotNil(t, order)

	assert.NotEqual(t, uuid.Nil, order.ID)
	assert.Equal(t, f.customer.ID, order.CustomerID)
	require.Len(t, order.Lines, 1)
	assert.Equal(t, "Keyboard", order.Lines[0].ProductTitle)
	assert.Equal(t, int32(3), order.Lines[0].Quantity)

	assert.Equal(t, int64(2), f.products.stock(p.ID))

	require.Len(t, f.pool.txs, 1)
	assert.True(t, f.pool.txs[0].committed)

	require.Len(t, f.outbox.saved, 1)
	saved := f.outbox.saved[0]
	assert.Equal(t, order.ID.String(), saved.AggregateID)
	assert.Equal(t, events.EventTypeOrderCreated, saved.EventType)
	assert.Equal(t, events.TopicOrderEvents, saved.Topic)

	env, err := events.DecodeEnvelope(saved.Payload)
	require.NoError(t, err)
	assert.Equal(t, events.EventTypeOrderCreated, env.Event)

	require.Len(t, f.publisher.calls, 1)
	call := f.publisher.calls[0]
	assert.Equal(t, order.ID.String(), call.key)
	assert.Equal(t, events.EventTypeOrderCreated, call.eventType)
	assert.Equal(t, "jane@example.com", call.event.CustomerEmail)
	require.Len(t, call.event.OrderProducts, 1)
	assert.Equal(t, "Keyboard", call.event.OrderProducts[0].ProductTitle)

	assert.Equal(t, []int64{saved.Id}, f.outbox.published)
	assert.Equal(t, []uuid.UUID{p.ID}, f.cache.invalidated)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ordersCreated))
}

func TestCreateOrder_DuplicateLinesAreSummed(t *testing.T) {
	p := product("Mouse", 5)
	f := newOrderFixture(t, defaultOrderConfig(), p)

	order, err := f.svc.CreateOrder(context.Background(), domain.CreateOrderInput{
		CustomerID: f.customer.ID,
		Lines: []domain.OrderLineInput{
			{ProductID: p.ID, Quantity: 2},
			{ProductID: p.ID, Quantity: 3},
		},
	})
	require.NoError(t, err)

	assert.Len(t, order.Lines, 2)
	assert.Equal(t, int64(5), order.TotalQuantity())
	assert.Equal(t, []uuid.UUID{p.ID}, f.products.decrements)
	assert.Equal(t, int64(0), f.products.stock(p.ID))
}

func TestCreateOrder_DuplicateLinesExceedStock(t *testing.T) {
	p := product("Mouse", 4)
	f := newOrderFixture(t, defaultOrderConfig(), p)

	_, err := f.svc.CreateOrder(context.Background(), domain.CreateOrderInput{
		CustomerID: f.customer.ID,
		Lines: []domain.OrderLineInput{
			{ProductID: p.ID, Quantity: 2},
			{ProductID: p.ID, Quantity: 3},
		},
	})

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, []uuid.UUID{p.ID}, stockErr.ProductIDs)
	assert.Equal(t, int64(4), f.products.stock(p.ID))
}

func TestCreateOrder_Validation(t *testing.T) {
	p := product("Cable", 10)
	badA, badB := uuid.New(), uuid.New()

	tests := []struct {
		name    string
		cfg     config.Order
		input   func(customerID uuid.UUID) domain.CreateOrderInput
		field   string
		wantIDs []uuid.UUID
	}{
		{
			name: "missing customer",
			cfg:  defaultOrderConfig(),
			input: func(_ uuid.UUID) domain.CreateOrderInput {
				return domain.CreateOrderInput{Lines: []domain.OrderLineInput{{ProductID: p.ID, Quantity: 1}}}
			},
			field: "customer_id",
		},
		{
			name: "no lines",
			cfg:  defaultOrderConfig(),
			input: func(customerID uuid.UUID) domain.CreateOrderInput {
				return domain.CreateOrderInput{CustomerID: customerID}
			},
			field: "order_products",
		},
		{
			name: "too many lines",
			cfg:  config.Order{MaxLines: 2, MaxAttempts: 3},
			input: func(customerID uuid.UUID) domain.CreateOrderInput {
				line := domain.OrderLineInput{ProductID: p.ID, Quantity: 1}
				return domain.CreateOrderInput{CustomerID: customerID, Lines: []domain.OrderLineInput{line, line, line}}
			},
			field: "order_products",
		},
		{
			name: "nil product id",
			cfg:  defaultOrderConfig(),
			input: func(customerID uuid.UUID) domain.CreateOrderInput {
				return domain.CreateOrderInput{CustomerID: customerID, Lines: []domain.OrderLineInput{{Quantity: 1}}}
			},
			field: "product_id",
		},
		{
			name: "non positive quantities",
			cfg:  defaultOrderConfig(),
			input: func(customerID uuid.UUID) domain.CreateOrderInput {
				return domain.CreateOrderInput{
					CustomerID: customerID,
					Lines: []domain.OrderLineInput{
						{ProductID: p.ID, Quantity: 1},
						{ProductID: badA, Quantity: 0},
						{ProductID: badB, Quantity: -2},
						{ProductID: badA, Quantity: -1},
					},
				}
			},
			field:   "quantity",
			wantIDs: []uuid.UUID{badA, badB},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrderFixture(t, tt.cfg, p)

			_, err := f.svc.CreateOrder(context.Background(), tt.input(f.customer.ID))

			var valErr *ValidationError
			require.ErrorAs(t, err, &valErr)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, tt.field, valErr.Field)
			assert.Equal(t, tt.wantIDs, valErr.ProductIDs)

			assert.Zero(t, f.products.findCalls)
			assert.Zero(t, f.pool.begins())
			assert.Empty(t, f.publisher.calls)
		})
	}
}

func TestCreateOrder_MissingProducts(t *testing.T) {
	known := product("Monitor", 3)
	missingA, missingB := uuid.New(), uuid.New()
	f := newOrderFixture(t, defaultOrderConfig(), known)

	_, err := f.svc.CreateOrder(context.Background(), domain.CreateOrderInput{
		CustomerID: f.customer.ID,
		Lines: []domain.OrderLineInput{
			{ProductID: missingA, Quantity: 1},
			{ProductID: known.ID, Quantity: 1},
			{ProductID: missingB, Quantity: 1},
		},
	})

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "product", notFound.Entity)
	assert.ElementsMatch(t, []uuid.UUID{missingA, missingB}, notFound.IDs)

	assert.Empty(t, f.products.decrements)
	assert.Zero(t, f.pool.begins())
	assert.Equal(t, int64(3), f.products.stock(known.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.createFailures.WithLabelValues("not_found")))
}

func TestCreateOrder_MissingCustomer(t *testing.T) {
	p := product("Monitor", 3)
	f := newOrderFixture(t, defaultOrderConfig(), p)
	unknown := uuid.New()

	_, err := f.svc.CreateOrder(context.Background(), domain.CreateOrderInput{
		CustomerID: unknown,
		Lines:      []domain.OrderLineInput{{ProductID: p.ID, Quantity: 1}},
	})

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "customer", notFound.Entity)
	assert.Equal(t, []uuid.UUID{unknown}, notFound.IDs)
	assert.Empty(t, f.products.decrements)
}

func TestCreateOrder_InsufficientStockListsAllProducts(t *testing.T) {
	enough := product("Pen", 10)
	shortA := product("Notebook", 1)
	shortB := product("Stapler", 0)
	f := newOrderFixture(t, defaultOrderConfig(), enough, shortA, shortB)

	_, err := f.svc.CreateOrder(context.Background(), domain.CreateOrderInput{
		CustomerID: f.customer.ID,
		Lines: []domain.OrderLineInput{
			{ProductID: enough.ID, Quantity: 2},
			{ProductID: shortA.ID, Quantity: 2},
			{ProductID: shortB.ID, Quantity: 1},
		},
	})

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.ElementsMatch(t, []uuid.UUID{shortA.ID, shortB.ID}, stockErr.ProductIDs)

	assert.Zero(t, f.pool.begins())
	assert.Equal(t, int64(10), f.products.stock(enough.ID))
	assert.Empty(t, f.outbox.saved)
}

func TestCreateOrder_RetriesAfterConflict(t *testing.T) {
	p := product("Lamp", 5)
	f := newOrderFixture(t, defaultOrderConfig(), p)

	conflicts := 1
	f.products.onDecrement = func(_ uuid.UUID, _ int64) error {
		if conflicts > 0 {
			conflicts--
			return repository.ErrStockConflict
		}
		return nil
	}

	order, err := f.svc.CreateOrder(context.Background(), domain.CreateOrderInput{
		CustomerID: f.customer.ID,
		Lines:      []domain.OrderLineInput{{ProductID: p.ID, Quantity: 2}},
	})
	require.NoError(t, err)
	require.NotNil(t, order)

	assert.Equal(t, 2, f.products.findCalls)
	require.Len(t, f.pool.txs, 2)
	assert.True(t, f.pool.txs[0].rolledBack)
	assert.True(t, f.pool.txs[1].committed)
	assert.Equal(t, int64(3), f.products.stock(p.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.stockConflicts))
	assert.Equal(t, 1, f.logs.FilterMessage("Order commit conflicted, retrying").Len())
}

func TestCreateOrder_ConflictThenInsufficientStock(t *testing.T) {
	p := product("Lamp", 5)
	f := newOrderFixture(t, defaultOrderConfig(), p)

	// A concurrent order takes most of the stock between the check and the
	// decrement of the first attempt.
	raced := false
	f.products.onDecrement = func(id uuid.UUID, _ int64) error {
		if raced {
			return nil
		}
		raced = true

		f.products.mu.Lock()
		f.products.products[id].Stock = 1
		f.products.mu.Unlock()

		return repository.ErrStockConflict
	}

	_, err := f.svc.CreateOrder(context.Background(), domain.CreateOrderInput{
		CustomerID: f.customer.ID,
		Lines:      []domain.OrderLineInput{{ProductID: p.ID, Quantity: 3}},
	})

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, []uuid.UUID{p.ID}, stockErr.ProductIDs)
	assert.Equal(t, 2, f.products.findCalls)
	assert.Equal(t, int64(1), f.products.stock(p.ID))
}

func TestCreateOrder_ConflictExhaustsAttempts(t *testing.T) {
	p := product("Lamp", 5)
	f := newOrderFixture(t, defaultOrderConfig(), p)

	f.products.onDecrement = func(_ uuid.UUID, _ int64) error {
		return repository.ErrStockConflict
	}

	_, err := f.svc.CreateOrder(context.Background(), domain.CreateOrderInput{
		CustomerID: f.customer.ID,
		Lines:      []domain.OrderLineInput{{ProductID: p.ID, Quantity: 1}},
	})

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, p.ID, conflict.ProductID)
	assert.Equal(t, 3, conflict.Attempts)

	assert.Equal(t, 3, f.products.findCalls)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.stockConflicts))
	assert.Empty(t, f.orders.orders)
	assert.Empty(t, f.publisher.calls)
	assert.Equal(t, int64(5), f.products.stock(p.ID))
}

func TestCreateOrder_DecrementsInSortedOrder(t *testing.T) {
	a, b, c := product("A", 5), product("B", 5), product("C", 5)
	f := newOrderFixture(t, defaultOrderConfig(), a, b, c)

	_, err := f.svc.CreateOrder(context.Background(), domain.CreateOrderInput{
		CustomerID: f.customer.ID,
		Lines: []domain.OrderLineInput{
			{ProductID: c.ID, Quantity: 1},
			{ProductID: a.ID, Quantity: 1},
			{ProductID: b.ID, Quantity: 1},
		},
	})
	require.NoError(t, err)

	require.Len(t, f.products.decrements, 3)
	for i := 1; i < len(f.products.decrements); i++ {
		prev, cur := f.products.decrements[i-1], f.products.decrements[i]
		assert.Negative(t, compareUUID(prev, cur))
	}
}

func TestCreateOrder_PublishFailureKeepsOrder(t *testing.T) {
	p := product("Desk", 2)
	f := newOrderFixture(t, defaultOrderConfig(), p)
	f.publisher.err = errors.New("broker unavailable")

	order, err := f.svc.CreateOrder(context.Background(), domain.CreateOrderInput{
		CustomerID: f.customer.ID,
		Lines:      []domain.OrderLineInput{{ProductID: p.ID, Quantity: 2}},
	})
	require.NoError(t, err)
	require.NotNil(t, order)

	assert.Equal(t, int64(0), f.products.stock(p.ID))
	require.Len(t, f.outbox.saved, 1)
	assert.Empty(t, f.outbox.published)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.publishFailures))

	entries := f.logs.FilterMessage("order event publish failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}

func TestGetOrder_NotFound(t *testing.T) {
	f := newOrderFixture(t, defaultOrderConfig())
	id := uuid.New()

	_, err := f.svc.GetOrder(context.Background(), id)

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "order", notFound.Entity)
	assert.Equal(t, []uuid.UUID{id}, notFound.IDs)
}

func compareUUID(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
