package handlers

import (
	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"

	"paymesh/internal/circuitbreaker"
	"paymesh/internal/health"
	"paymesh/internal/usecase"
)

type (
	MetricsSource interface {
		Metrics() usecase.MetricsSnapshot
	}

	// Dependencies wires the HTTP surface. Breakers and Health may be nil.
	Dependencies struct {
		Payments PaymentService
		Stats    StatsService
		Markets  *MarketHandler
		Gateways GatewayService
		Metrics  MetricsSource
		Breakers *circuitbreaker.Set
		Health   *health.Monitor
	}
)

func NewApp(deps Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		DisableStartupMessage: true,
		Immutable:             true,
	})

	payments := NewPaymentHandler(deps.Payments, deps.Stats)
	gateways := NewGatewayHandler(deps.Gateways)

	app.Post("/payments/:gatewayId", payments.Process)
	app.Get("/payments", payments.History)
	app.Get("/payments/:paymentId", payments.Entries)
	app.Get("/payments-summary", payments.Summary)
	app.Post("/webhooks/payments/:paymentId/confirm", payments.Confirm)

	app.Get("/markets", deps.Markets.List)
	app.Get("/rates", deps.Markets.Rates)
	app.Get("/markets/:id", deps.Markets.Market)
	app.Get("/markets/:id/open", deps.Markets.Open)
	app.Get("/markets/:id/format", deps.Markets.Format)
	app.Get("/convert", deps.Markets.Convert)

	app.Get("/gateways", gateways.List)
	app.Post("/gateways", gateways.Register)
	app.Delete("/gateways/:id", gateways.Deactivate)

	app.Get("/health", func(c *fiber.Ctx) error {
		body := fiber.Map{"status": "ok"}
		if deps.Metrics != nil {
			body["dispatch"] = deps.Metrics.Metrics()
		}
		if deps.Breakers != nil {
			states := make(map[string]string)
			for id, s := range deps.Breakers.States() {
				states[id] = s.String()
			}
			body["breakers"] = states
		}
		if deps.Health != nil {
			body["gateways"] = deps.Health.Snapshot()
		}
		return c.JSON(body)
	})

	return app
}
