package tests

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/go-order-management/services/order/internal/domain"
	"github.com/sakashimaa/go-order-management/services/order/internal/service"
)

func (s *IntegrationTestSuite) TestCreateOrder_Success() {
	customer := s.seedCustomer("buyer@example.com")
	product := s.seedProduct("Standing desk", 5)

	order, err := s.OrderService.CreateOrder(s.Ctx, domain.CreateOrderInput{
		CustomerID: customer.ID,
		Lines:      []domain.OrderLineInput{{ProductID: product.ID, Quantity: 3}},
	})
	s.Require().NoError(err)
	s.Require().NotNil(order)

	s.Equal(int64(2), s.stockOf(product.ID))

	stored, err := s.OrderService.GetOrder(s.Ctx, order.ID)
	s.Require().NoError(err)
	s.Require().Len(stored.Lines, 1)
	s.Equal("Standing desk", stored.Lines[0].ProductTitle)
	s.Equal(int32(3), stored.Lines[0].Quantity)
	s.Equal(customer.Email, stored.CustomerEmail)

	publishedAtQuery := `
		SELECT published_at
		FROM outbox
		WHERE aggregate_id = $1 AND event_type = 'OrderCreated'
	`

	s.Require().Eventually(func() bool {
		var publishedAt *time.Time

		err := s.DbPool.QueryRow(s.Ctx, publishedAtQuery, order.ID.String()).Scan(&publishedAt)
		return err == nil && publishedAt != nil
	}, 10*time.Second, 100*time.Millisecond)
}

func (s *IntegrationTestSuite) TestCreateOrder_InsufficientStockLeavesNoTrace() {
	customer := s.seedCustomer("buyer@example.com")
	enough := s.seedProduct("Chair", 10)
	short := s.seedProduct("Lamp", 1)
	outboxBefore := s.count("outbox")

	_, err := s.OrderService.CreateOrder(s.Ctx, domain.CreateOrderInput{
		CustomerID: customer.ID,
		Lines: []domain.OrderLineInput{
			{ProductID: enough.ID, Quantity: 4},
			{ProductID: short.ID, Quantity: 2},
		},
	})

	var stockErr *service.InsufficientStockError
	s.Require().ErrorAs(err, &stockErr)
	s.Equal([]uuid.UUID{short.ID}, stockErr.ProductIDs)

	s.Equal(int64(10), s.stockOf(enough.ID))
	s.Equal(int64(1), s.stockOf(short.ID))
	s.Zero(s.count("orders"))
	s.Zero(s.count("order_lines"))
	s.Equal(outboxBefore, s.count("outbox"))
}

func (s *IntegrationTestSuite) TestCreateOrder_UnknownReferences() {
	customer := s.seedCustomer("buyer@example.com")
	product := s.seedProduct("Chair", 10)
	missing := uuid.New()

	_, err := s.OrderService.CreateOrder(s.Ctx, domain.CreateOrderInput{
		CustomerID: customer.ID,
		Lines: []domain.OrderLineInput{
			{ProductID: product.ID, Quantity: 1},
			{ProductID: missing, Quantity: 1},
		},
	})

	var notFound *service.NotFoundError
	s.Require().ErrorAs(err, &notFound)
	s.Equal("product", notFound.Entity)
	s.Equal([]uuid.UUID{missing}, notFound.IDs)

	_, err = s.OrderService.CreateOrder(s.Ctx, domain.CreateOrderInput{
		CustomerID: uuid.New(),
		Lines:      []domain.OrderLineInput{{ProductID: product.ID, Quantity: 1}},
	})
	s.Require().ErrorAs(err, &notFound)
	s.Equal("customer", notFound.Entity)

	s.Equal(int64(10), s.stockOf(product.ID))
}

// Two orders race for the last units: exactly one wins and stock never goes
// negative.
func (s *IntegrationTestSuite) TestCreateOrder_ConcurrentLastUnits() {
	customer := s.seedCustomer("buyer@example.com")
	product := s.seedProduct("Limited edition", 2)

	const buyers = 2

	var (
		wg   sync.WaitGroup
		errs = make([]error, buyers)
	)

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			_, errs[i] = s.OrderService.CreateOrder(s.Ctx, domain.CreateOrderInput{
				CustomerID: customer.ID,
				Lines:      []domain.OrderLineInput{{ProductID: product.ID, Quantity: 2}},
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}

		s.True(
			errors.Is(err, service.ErrInsufficientStock) || errors.Is(err, service.ErrConflict),
			"unexpected error: %v", err,
		)
	}

	s.Equal(1, succeeded)
	s.Equal(int64(0), s.stockOf(product.ID))
	s.Equal(1, s.count("orders"))
}

func (s *IntegrationTestSuite) TestCreateOrder_DuplicateLines() {
	customer := s.seedCustomer("buyer@example.com")
	product := s.seedProduct("Cable", 5)

	order, err := s.OrderService.CreateOrder(s.Ctx, domain.CreateOrderInput{
		CustomerID: customer.ID,
		Lines: []domain.OrderLineInput{
			{ProductID: product.ID, Quantity: 2},
			{ProductID: product.ID, Quantity: 3},
		},
	})
	s.Require().NoError(err)

	s.Len(order.Lines, 2)
	s.Equal(int64(0), s.stockOf(product.ID))
}
