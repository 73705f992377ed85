package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/go-order-management/pkg/mylogger"
	"github.com/sakashimaa/go-order-management/services/order/internal/domain"
	"github.com/sakashimaa/go-order-management/services/order/internal/service"
	"go.uber.org/zap"
)

type CustomerHandler struct {
	service service.CustomerService
	logger  *zap.Logger
	timeout time.Duration
}

func NewCustomerHandler(svc service.CustomerService, logger *zap.Logger, timeout time.Duration) *CustomerHandler {
	return &CustomerHandler{
		service: svc,
		logger:  logger,
		timeout: timeout,
	}
}

// Create leaves tag validation to the service, which normalizes the email first.
func (h *CustomerHandler) Create(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	input := new(domain.CreateCustomerInput)
	if err := c.BodyParser(input); err != nil {
		mylogger.Warn(
			ctx,
			h.logger,
			"failed to parse body in create customer",
			zap.Error(err),
		)

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "error parsing body",
		})
	}

	customer, err := h.service.Create(ctx, *input)
	if err != nil {
		mylogger.Warn(ctx, h.logger, "create customer failed", zap.Error(err))
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(customer)
}

func (h *CustomerHandler) FindByID(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid id",
		})
	}

	customer, err := h.service.FindByID(ctx, id)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(customer)
}

func (h *CustomerHandler) List(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	limit, offset, err := parsePage(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	customers, total, err := h.service.List(ctx, limit, offset)
	if err != nil {
		mylogger.Warn(ctx, h.logger, "list customers failed", zap.Error(err))
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(listResponse[domain.Customer]{
		Items:      customers,
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
	})
}
