package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/internal/order/domain"
	"github.com/sakashimaa/order-saga/internal/order/repository"
	"github.com/sakashimaa/order-saga/internal/order/service"
	"github.com/sakashimaa/order-saga/pkg/httpserver"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/pkg/utils"
	"go.uber.org/zap"
)

type OrderHandler struct {
	service service.OrderService
	logger  *zap.Logger
}

func NewOrderHandler(service service.OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		service: service,
		logger:  logger,
	}
}

func RegisterRoutes(app fiber.Router, h *OrderHandler) {
	orders := app.Group("/api/orders", httpserver.RequireUser())
	orders.Post("", h.Create)
	orders.Get("", h.List)
	orders.Get("/:id", h.Get)
}

func (h *OrderHandler) Create(c *fiber.Ctx) error {
	var req domain.CreateOrderRequest
	if err := c.BodyParser(&req); err != nil {
		mylogger.Warn(c.UserContext(), h.logger, "Failed to parse body in create", zap.Error(err))

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "error parsing body",
		})
	}
	req.UserID = httpserver.UserID(c)

	order, err := h.service.CreateOrder(c.UserContext(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidOrder) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":  "validation failed",
				"fields": utils.FormatValidationError(err),
			})
		}

		mylogger.Error(c.UserContext(), h.logger, "Create order failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal error",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(order)
}

func (h *OrderHandler) Get(c *fiber.Ctx) error {
	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid order id",
		})
	}

	order, err := h.service.GetOrder(c.UserContext(), orderID, httpserver.UserID(c))
	switch {
	case err == nil:
		return c.JSON(order)
	case errors.Is(err, repository.ErrOrderNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	default:
		mylogger.Error(c.UserContext(), h.logger, "Get order failed", zap.String("order_id", orderID.String()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}

func (h *OrderHandler) List(c *fiber.Ctx) error {
	orders, err := h.service.ListUserOrders(c.UserContext(), httpserver.UserID(c))
	if err != nil {
		mylogger.Error(c.UserContext(), h.logger, "List orders failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
	if orders == nil {
		orders = []*domain.Order{}
	}

	return c.JSON(fiber.Map{"orders": orders})
}
