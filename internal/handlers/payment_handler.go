package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"paymesh/internal/domain"
)

type (
	PaymentService interface {
		Process(ctx context.Context, gatewayID string, req domain.PaymentRequest) (domain.PaymentResponse, error)
		Confirm(ctx context.Context, paymentID string, outcome domain.Status, metadata map[string]any) (domain.AuditLogEntry, error)
		History(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLogEntry, error)
		Entries(ctx context.Context, paymentID string) ([]domain.AuditLogEntry, error)
	}

	StatsService interface {
		Stats(ctx context.Context, period domain.Period) (domain.StatsWindow, error)
		StatsBetween(ctx context.Context, from, to time.Time) (domain.StatsWindow, error)
	}

	PaymentHandler struct {
		payments PaymentService
		stats    StatsService
	}

	confirmRequest struct {
		Status   domain.Status  `json:"status"`
		Metadata map[string]any `json:"metadata"`
	}
)

const maxHistoryLimit = 1000

func NewPaymentHandler(payments PaymentService, stats StatsService) *PaymentHandler {
	return &PaymentHandler{payments: payments, stats: stats}
}

// Process answers 200 for every attempted payment, whatever its outcome.
// Synchronous rejections carry the response body with a 4xx/503 status.
func (h *PaymentHandler) Process(c *fiber.Ctx) error {
	var req domain.PaymentRequest
	if err := sonic.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "malformed payment request")
	}

	resp, err := h.payments.Process(c.UserContext(), c.Params("gatewayId"), req)
	if err != nil {
		return c.Status(statusFor(err)).JSON(resp)
	}
	return c.JSON(resp)
}

func (h *PaymentHandler) Confirm(c *fiber.Ctx) error {
	var req confirmRequest
	if err := sonic.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "malformed confirmation")
	}

	entry, err := h.payments.Confirm(c.UserContext(), utils.CopyString(c.Params("paymentId")), req.Status, req.Metadata)
	if err != nil {
		return sendError(c, err)
	}
	return c.JSON(entry)
}

// History caps every page at maxHistoryLimit entries; ?limit= may only
// lower it.
func (h *PaymentHandler) History(c *fiber.Ctx) error {
	filter := domain.AuditFilter{
		GatewayID:  c.Query("gatewayId"),
		CustomerID: c.Query("customerId"),
		Status:     domain.Status(c.Query("status")),
		Limit:      maxHistoryLimit,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return badRequest(c, "unknown status "+string(filter.Status))
	}

	var err error
	if filter.StartTime, err = parseTime(c.Query("from")); err != nil {
		return badRequest(c, "from must be RFC3339")
	}
	if filter.EndTime, err = parseTime(c.Query("to")); err != nil {
		return badRequest(c, "to must be RFC3339")
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxHistoryLimit {
			return badRequest(c, "limit must be between 1 and "+strconv.Itoa(maxHistoryLimit))
		}
		filter.Limit = limit
	}

	entries, err := h.payments.History(c.UserContext(), filter)
	if err != nil {
		return sendError(c, err)
	}
	if entries == nil {
		entries = []domain.AuditLogEntry{}
	}
	return c.JSON(entries)
}

func (h *PaymentHandler) Entries(c *fiber.Ctx) error {
	entries, err := h.payments.Entries(c.UserContext(), utils.CopyString(c.Params("paymentId")))
	if err != nil {
		return sendError(c, err)
	}
	return c.JSON(entries)
}

// Summary reports stats for ?period= (default day), or for an explicit
// ?from=&to= range when both are given.
func (h *PaymentHandler) Summary(c *fiber.Ctx) error {
	from, errFrom := parseTime(c.Query("from"))
	to, errTo := parseTime(c.Query("to"))
	if errFrom != nil || errTo != nil {
		return badRequest(c, "from and to must be RFC3339")
	}

	var (
		window domain.StatsWindow
		err    error
	)
	if !from.IsZero() && !to.IsZero() {
		window, err = h.stats.StatsBetween(c.UserContext(), from, to)
	} else {
		window, err = h.stats.Stats(c.UserContext(), domain.Period(c.Query("period", string(domain.PeriodDay))))
	}
	if err != nil {
		return sendError(c, err)
	}
	return c.JSON(window)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
