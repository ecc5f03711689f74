package handlers

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"

	"paymesh/internal/domain"
)

type (
	GatewayService interface {
		List(category *domain.Category) []domain.Gateway
		Register(ctx context.Context, g domain.Gateway) (domain.Gateway, error)
		Deactivate(ctx context.Context, id string) error
	}

	GatewayHandler struct {
		gateways GatewayService
	}
)

func NewGatewayHandler(gateways GatewayService) *GatewayHandler {
	return &GatewayHandler{gateways: gateways}
}

// List answers ?category= and ?capability= filters.
func (h *GatewayHandler) List(c *fiber.Ctx) error {
	var category *domain.Category
	if raw := c.Query("category"); raw != "" {
		cat := domain.Category(raw)
		if !cat.Valid() {
			return badRequest(c, "unknown category "+raw)
		}
		category = &cat
	}

	gateways := h.gateways.List(category)
	if capability := c.Query("capability"); capability != "" {
		matching := make([]domain.Gateway, 0, len(gateways))
		for _, g := range gateways {
			if g.HasCapability(capability) {
				matching = append(matching, g)
			}
		}
		gateways = matching
	}
	return c.JSON(gateways)
}

func (h *GatewayHandler) Register(c *fiber.Ctx) error {
	var g domain.Gateway
	if err := sonic.Unmarshal(c.Body(), &g); err != nil {
		return badRequest(c, "malformed gateway descriptor")
	}

	saved, err := h.gateways.Register(c.UserContext(), g)
	if err != nil {
		return sendError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(saved)
}

func (h *GatewayHandler) Deactivate(c *fiber.Ctx) error {
	if err := h.gateways.Deactivate(c.UserContext(), c.Params("id")); err != nil {
		return sendError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
