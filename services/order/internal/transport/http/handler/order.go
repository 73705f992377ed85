package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sakashimaa/go-order-management/pkg/mylogger"
	"github.com/sakashimaa/go-order-management/pkg/utils"
	"github.com/sakashimaa/go-order-management/services/order/internal/domain"
	"github.com/sakashimaa/go-order-management/services/order/internal/service"
	"github.com/sakashimaa/go-order-management/services/order/pkg/validator"
	"go.uber.org/zap"
)

type OrderHandler struct {
	service  service.OrderService
	validate validator.Validator
	logger   *zap.Logger
	timeout  time.Duration
}

func NewOrderHandler(svc service.OrderService, validate validator.Validator, logger *zap.Logger, timeout time.Duration) *OrderHandler {
	return &OrderHandler{
		service:  svc,
		validate: validate,
		logger:   logger,
		timeout:  timeout,
	}
}

type OrderLineRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int32  `json:"quantity"`
}

// Quantities are checked by the service so every offending line is reported.
type CreateOrderRequest struct {
	CustomerID    string             `json:"customer_id" validate:"required,uuid"`
	OrderProducts []OrderLineRequest `json:"order_products" validate:"dive"`
}

func (r *CreateOrderRequest) toInput() domain.CreateOrderInput {
	lines := make([]domain.OrderLineInput, 0, len(r.OrderProducts))
	for _, line := range r.OrderProducts {
		lines = append(lines, domain.OrderLineInput{
			ProductID: uuid.MustParse(line.ProductID),
			Quantity:  line.Quantity,
		})
	}

	return domain.CreateOrderInput{
		CustomerID: uuid.MustParse(r.CustomerID),
		Lines:      lines,
	}
}

func (h *OrderHandler) Create(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	input := new(CreateOrderRequest)
	if err := c.BodyParser(input); err != nil {
		mylogger.Warn(
			ctx,
			h.logger,
			"failed to parse body in create order",
			zap.Error(err),
		)

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "error parsing body",
		})
	}

	if err := h.validate.ValidateStruct(input); err != nil {
		mylogger.Warn(
			ctx,
			h.logger,
			"create order validation failed",
			zap.Error(err),
		)

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": utils.FormatValidationError(err),
		})
	}

	order, err := h.service.CreateOrder(ctx, input.toInput())
	if err != nil {
		mylogger.Warn(
			ctx,
			h.logger,
			"create order failed",
			zap.String("customer_id", input.CustomerID),
			zap.Error(err),
		)

		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(order)
}

func (h *OrderHandler) FindByID(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id, err := parseID(c)
	if err != nil {
		mylogger.Warn(ctx, h.logger, "invalid order id", zap.String("id", c.Params("id")))

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid id",
		})
	}

	order, err := h.service.GetOrder(ctx, id)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(order)
}

func (h *OrderHandler) List(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	limit, offset, err := parsePage(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	orders, total, err := h.service.ListOrders(ctx, limit, offset)
	if err != nil {
		mylogger.Warn(ctx, h.logger, "list orders failed", zap.Error(err))
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(listResponse[domain.Order]{
		Items:      orders,
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
	})
}
