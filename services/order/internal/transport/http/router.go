package http

import (
	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/sakashimaa/go-order-management/pkg/config"
	"github.com/sakashimaa/go-order-management/services/order/internal/transport/http/handler"
)

type Handlers struct {
	Product  *handler.ProductHandler
	Customer *handler.CustomerHandler
	Order    *handler.OrderHandler
}

// NewApp builds the fiber app with tracing and per-IP rate limiting in front
// of the routes.
func NewApp(h *Handlers, cfg config.Limiter) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Use(otelfiber.Middleware())

	if cfg.Max > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        cfg.Max,
			Expiration: cfg.Expiration,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error": "Too many requests. Try again later.",
				})
			},
		}))
	}

	RegisterRoutes(app, h)

	return app
}

func RegisterRoutes(app *fiber.App, h *Handlers) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("Order Service is alive!")
	})

	api := app.Group("/v1")

	product := api.Group("/products")
	product.Post("", h.Product.Create)
	product.Get("", h.Product.List)
	product.Get("/:id", h.Product.FindByID)
	product.Patch("/:id", h.Product.Update)
	product.Delete("/:id", h.Product.Delete)

	customer := api.Group("/customers")
	customer.Post("", h.Customer.Create)
	customer.Get("", h.Customer.List)
	customer.Get("/:id", h.Customer.FindByID)

	order := api.Group("/orders")
	order.Post("", h.Order.Create)
	order.Get("", h.Order.List)
	order.Get("/:id", h.Order.FindByID)
}
