package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/internal/inventory/repository"
	"github.com/sakashimaa/order-saga/internal/inventory/service"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.uber.org/zap"
)

type InventoryHandler struct {
	service service.InventoryService
	logger  *zap.Logger
}

func NewInventoryHandler(service service.InventoryService, logger *zap.Logger) *InventoryHandler {
	return &InventoryHandler{
		service: service,
		logger:  logger,
	}
}

func RegisterRoutes(app fiber.Router, h *InventoryHandler) {
	inventory := app.Group("/api/inventory")
	inventory.Get("/:productId", h.Get)
	inventory.Put("/:productId", h.SetStock)
}

type recordResponse struct {
	ProductID string `json:"product_id"`
	Total     int64  `json:"total"`
	Reserved  int64  `json:"reserved"`
	Available int64  `json:"available"`
}

type setStockRequest struct {
	Total *int64 `json:"total"`
}

func (h *InventoryHandler) Get(c *fiber.Ctx) error {
	productID, err := uuid.Parse(c.Params("productId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid product id"})
	}

	rec, err := h.service.GetRecord(c.UserContext(), productID)
	if errors.Is(err, repository.ErrProductNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		mylogger.Error(c.UserContext(), h.logger, "Get inventory failed", zap.String("product_id", productID.String()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	return c.JSON(recordResponse{
		ProductID: rec.ProductID.String(),
		Total:     rec.Total,
		Reserved:  rec.Reserved,
		Available: rec.Available(),
	})
}

func (h *InventoryHandler) SetStock(c *fiber.Ctx) error {
	productID, err := uuid.Parse(c.Params("productId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid product id"})
	}

	var req setStockRequest
	if err := c.BodyParser(&req); err != nil || req.Total == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "total is required"})
	}

	rec, err := h.service.SetStock(c.UserContext(), productID, *req.Total)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrInvalidQuantity), errors.Is(err, repository.ErrStockBelowReserved):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	default:
		mylogger.Error(c.UserContext(), h.logger, "Set stock failed", zap.String("product_id", productID.String()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	mylogger.Info(
		c.UserContext(),
		h.logger,
		"Stock updated",
		zap.String("product_id", productID.String()),
		zap.Int64("total", rec.Total),
	)

	return c.JSON(recordResponse{
		ProductID: rec.ProductID.String(),
		Total:     rec.Total,
		Reserved:  rec.Reserved,
		Available: rec.Available(),
	})
}
