package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/zoobzio/clockz"

	"paymesh/internal/domain"
)

type (
	MarketService interface {
		Markets() []domain.Market
		Rates() []domain.ExchangeRate
		Market(id string) (domain.Market, error)
		IsOpenNow(marketID string, now time.Time) (bool, error)
		Format(amount decimal.Decimal, marketID string) (string, error)
		Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error)
	}

	MarketHandler struct {
		markets MarketService
		clock   clockz.Clock
	}
)

func NewMarketHandler(markets MarketService, clock clockz.Clock) *MarketHandler {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &MarketHandler{markets: markets, clock: clock}
}

func (h *MarketHandler) List(c *fiber.Ctx) error {
	return c.JSON(h.markets.Markets())
}

// Rates lists every configured conversion pair.
func (h *MarketHandler) Rates(c *fiber.Ctx) error {
	return c.JSON(h.markets.Rates())
}

func (h *MarketHandler) Market(c *fiber.Ctx) error {
	m, err := h.markets.Market(c.Params("id"))
	if err != nil {
		return sendError(c, err)
	}
	return c.JSON(m)
}

func (h *MarketHandler) Open(c *fiber.Ctx) error {
	now := h.clock.Now()
	open, err := h.markets.IsOpenNow(c.Params("id"), now)
	if err != nil {
		return sendError(c, err)
	}
	return c.JSON(fiber.Map{
		"marketId":  strings.ToUpper(c.Params("id")),
		"open":      open,
		"checkedAt": now.UTC(),
	})
}

func (h *MarketHandler) Format(c *fiber.Ctx) error {
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil {
		return badRequest(c, "amount must be a decimal number")
	}

	formatted, err := h.markets.Format(amount, c.Params("id"))
	if err != nil {
		return sendError(c, err)
	}
	return c.JSON(fiber.Map{"formatted": formatted})
}

func (h *MarketHandler) Convert(c *fiber.Ctx) error {
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil {
		return badRequest(c, "amount must be a decimal number")
	}
	from, to := strings.ToUpper(c.Query("from")), strings.ToUpper(c.Query("to"))
	if len(from) != 3 || len(to) != 3 {
		return badRequest(c, "from and to must be 3-letter currency codes")
	}

	converted, err := h.markets.Convert(amount, from, to)
	if err != nil {
		return sendError(c, err)
	}
	return c.JSON(fiber.Map{
		"amount":    amount,
		"from":      from,
		"to":        to,
		"converted": converted,
	})
}
