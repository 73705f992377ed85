package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/go-order-management/pkg/mylogger"
	"github.com/sakashimaa/go-order-management/pkg/utils"
	"github.com/sakashimaa/go-order-management/services/order/internal/domain"
	"github.com/sakashimaa/go-order-management/services/order/internal/service"
	"github.com/sakashimaa/go-order-management/services/order/pkg/validator"
	"go.uber.org/zap"
)

type ProductHandler struct {
	service  service.ProductService
	validate validator.Validator
	logger   *zap.Logger
	timeout  time.Duration
}

func NewProductHandler(svc service.ProductService, validate validator.Validator, logger *zap.Logger, timeout time.Duration) *ProductHandler {
	return &ProductHandler{
		service:  svc,
		validate: validate,
		logger:   logger,
		timeout:  timeout,
	}
}

func (h *ProductHandler) Create(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	input := new(domain.CreateProductInput)
	if err := c.BodyParser(input); err != nil {
		mylogger.Warn(
			ctx,
			h.logger,
			"failed to parse body in create",
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
			"failed to parse input",
			zap.Error(err),
		)

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": utils.FormatValidationError(err),
		})
	}

	product, err := h.service.Create(ctx, *input)
	if err != nil {
		mylogger.Warn(
			ctx,
			h.logger,
			"create product failed",
			zap.Error(err),
		)

		return respondError(c, err)
	}

	mylogger.Info(
		ctx,
		h.logger,
		"create product succeeded",
		zap.String("created_id", product.ID.String()),
	)

	return c.Status(fiber.StatusCreated).JSON(product)
}

func (h *ProductHandler) FindByID(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id, err := parseID(c)
	if err != nil {
		mylogger.Warn(
			ctx,
			h.logger,
			"id is invalid",
			zap.String("id", c.Params("id")),
		)

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid id",
		})
	}

	product, err := h.service.FindByID(ctx, id)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(product)
}

func (h *ProductHandler) List(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	limit, offset, err := parsePage(c)
	if err != nil {
		mylogger.Warn(
			ctx,
			h.logger,
			"pagination is invalid",
			zap.String("limit", c.Query("limit")),
			zap.String("offset", c.Query("offset")),
		)

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	search := c.Query("search")

	products, total, err := h.service.List(ctx, limit, offset, search)
	if err != nil {
		mylogger.Warn(ctx, h.logger, "list products failed", zap.Error(err))
		return respondError(c, err)
	}

	mylogger.Info(
		ctx,
		h.logger,
		"list products succeeded",
		zap.Int64("offset", offset),
		zap.Int64("limit", limit),
		zap.String("search", search),
		zap.Int64("total", total),
	)

	return c.Status(fiber.StatusOK).JSON(listResponse[domain.Product]{
		Items:      products,
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
	})
}

func (h *ProductHandler) Update(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid id",
		})
	}

	input := new(domain.UpdateProductInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "error parsing body",
		})
	}

	product, err := h.service.Update(ctx, id, *input)
	if err != nil {
		mylogger.Warn(
			ctx,
			h.logger,
			"update product failed",
			zap.String("product_id", id.String()),
			zap.Error(err),
		)

		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(product)
}

func (h *ProductHandler) Delete(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id, err := parseID(c)
	if err != nil {
		mylogger.Warn(
			ctx,
			h.logger,
			"invalid product id",
			zap.String("id", c.Params("id")),
		)

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Id is invalid",
		})
	}

	if err := h.service.Delete(ctx, id); err != nil {
		return respondError(c, err)
	}

	mylogger.Info(
		ctx,
		h.logger,
		"product deleted successfully",
		zap.String("product_id", id.String()),
	)

	return c.SendStatus(fiber.StatusNoContent)
}
