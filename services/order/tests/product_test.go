package tests

import (
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/go-order-management/services/order/internal/domain"
	"github.com/sakashimaa/go-order-management/services/order/internal/repository"
	"github.com/sakashimaa/go-order-management/services/order/internal/service"
)

func (s *IntegrationTestSuite) TestFindProduct_CachesInRedis() {
	product := s.seedProduct("Headphones", 4)
	key := fmt.Sprintf("product:%s", product.ID)

	_, err := s.RedisClient.Get(s.Ctx, key).Result()
	s.Require().ErrorIs(err, redis.Nil)

	found, err := s.ProductService.FindByID(s.Ctx, product.ID)
	s.Require().NoError(err)
	s.Equal("Headphones", found.Title)

	raw, err := s.RedisClient.Get(s.Ctx, key).Bytes()
	s.Require().NoError(err)

	var cached domain.Product
	s.Require().NoError(json.Unmarshal(raw, &cached))
	s.Equal(product.ID, cached.ID)
	s.Equal(int64(4), cached.Stock)
}

func (s *IntegrationTestSuite) TestCreateOrder_InvalidatesCachedStock() {
	customer := s.seedCustomer("buyer@example.com")
	product := s.seedProduct("Headphones", 4)

	_, err := s.ProductService.FindByID(s.Ctx, product.ID)
	s.Require().NoError(err)

	_, err = s.OrderService.CreateOrder(s.Ctx, domain.CreateOrderInput{
		CustomerID: customer.ID,
		Lines:      []domain.OrderLineInput{{ProductID: product.ID, Quantity: 1}},
	})
	s.Require().NoError(err)

	exists, err := s.RedisClient.Exists(s.Ctx, fmt.Sprintf("product:%s", product.ID)).Result()
	s.Require().NoError(err)
	s.Zero(exists)

	found, err := s.ProductService.FindByID(s.Ctx, product.ID)
	s.Require().NoError(err)
	s.Equal(int64(3), found.Stock)
}

func (s *IntegrationTestSuite) TestUpdateProduct() {
	product := s.seedProduct("Headphones", 4)
	title := "Wireless headphones"

	updated, err := s.ProductService.Update(s.Ctx, product.ID, domain.UpdateProductInput{Title: &title})
	s.Require().NoError(err)
	s.Equal(title, updated.Title)
	s.Equal(int64(4), updated.Stock)

	negative := int64(-1)
	_, err = s.ProductService.Update(s.Ctx, product.ID, domain.UpdateProductInput{Stock: &negative})
	s.Require().ErrorIs(err, service.ErrValidation)
}

func (s *IntegrationTestSuite) TestListProducts_Search() {
	s.seedProduct("Red mug", 1)
	s.seedProduct("Blue mug", 1)
	s.seedProduct("Notebook", 1)

	items, total, err := s.ProductService.List(s.Ctx, 10, 0, "MUG")
	s.Require().NoError(err)
	s.Equal(int64(2), total)
	s.Len(items, 2)

	items, total, err = s.ProductService.List(s.Ctx, 1, 0, "")
	s.Require().NoError(err)
	s.Equal(int64(3), total)
	s.Len(items, 1)
}

func (s *IntegrationTestSuite) TestDeleteProduct_KeepsOrderHistory() {
	customer := s.seedCustomer("buyer@example.com")
	product := s.seedProduct("Discontinued", 3)

	order, err := s.OrderService.CreateOrder(s.Ctx, domain.CreateOrderInput{
		CustomerID: customer.ID,
		Lines:      []domain.OrderLineInput{{ProductID: product.ID, Quantity: 1}},
	})
	s.Require().NoError(err)

	s.Require().NoError(s.ProductService.Delete(s.Ctx, product.ID))

	_, err = s.ProductRepo.GetByID(s.Ctx, product.ID)
	s.Require().ErrorIs(err, repository.ErrProductNotFound)

	stored, err := s.OrderService.GetOrder(s.Ctx, order.ID)
	s.Require().NoError(err)
	s.Require().Len(stored.Lines, 1)
	s.Nil(stored.Lines[0].ProductID)
	s.Equal("Discontinued", stored.Lines[0].ProductTitle)

	event := stored.ToCreatedEvent()
	s.Equal("Unknown Product", event.OrderProducts[0].ProductTitle)

	err = s.ProductService.Delete(s.Ctx, product.ID)
	s.Require().ErrorIs(err, service.ErrNotFound)
}

func (s *IntegrationTestSuite) TestCreateCustomer_DuplicateEmail() {
	s.seedCustomer("dup@example.com")

	_, err := s.CustomerService.Create(s.Ctx, domain.CreateCustomerInput{
		FirstName: "Other",
		LastName:  "Person",
		Email:     "DUP@example.com",
	})
	s.Require().ErrorIs(err, repository.ErrCustomerEmailTaken)
}
