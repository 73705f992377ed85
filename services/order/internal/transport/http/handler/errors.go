package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/go-order-management/services/order/internal/repository"
	"github.com/sakashimaa/go-order-management/services/order/internal/service"
)

func mapError(err error) (int, fiber.Map) {
	var (
		validationErr *service.ValidationError
		notFoundErr   *service.NotFoundError
		stockErr      *service.InsufficientStockError
	)

	switch {
	case errors.As(err, &validationErr):
		body := fiber.Map{"error": validationErr.Error()}
		if len(validationErr.ProductIDs) > 0 {
			body["product_ids"] = validationErr.ProductIDs
		}
		if len(validationErr.Fields) > 0 {
			body["fields"] = validationErr.Fields
		}
		return fiber.StatusBadRequest, body
	case errors.As(err, &notFoundErr):
		body := fiber.Map{"error": notFoundErr.Error()}
		if notFoundErr.Entity == "product" {
			body["product_ids"] = notFoundErr.IDs
		}
		return fiber.StatusNotFound, body
	case errors.As(err, &stockErr):
		return fiber.StatusConflict, fiber.Map{
			"error":       stockErr.Error(),
			"product_ids": stockErr.ProductIDs,
		}
	case errors.Is(err, service.ErrConflict):
		return fiber.StatusConflict, fiber.Map{"error": err.Error()}
	case errors.Is(err, repository.ErrCustomerEmailTaken):
		return fiber.StatusConflict, fiber.Map{"error": err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, fiber.Map{"error": "request timed out"}
	default:
		return fiber.StatusInternalServerError, fiber.Map{"error": "internal error"}
	}
}

func respondError(c *fiber.Ctx, err error) error {
	status, body := mapError(err)
	return c.Status(status).JSON(body)
}
