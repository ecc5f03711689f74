package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zoobzio/clockz"

	"paymesh/internal/domain"
)

type Converter interface {
	Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error)
}

// StatsEngine reduces audit entries into windowed aggregates. It only reads.
type StatsEngine struct {
	store    domain.AuditStore
	rates    Converter
	clock    clockz.Clock
	currency string
}

func NewStatsEngine(store domain.AuditStore, rates Converter, clock clockz.Clock, reportingCurrency string) *StatsEngine {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &StatsEngine{
		store:    store,
		rates:    rates,
		clock:    clock,
		currency: reportingCurrency,
	}
}

// Stats covers [now - period, now].
func (s *StatsEngine) Stats(ctx context.Context, period domain.Period) (domain.StatsWindow, error) {
	span, ok := period.Duration()
	if !ok {
		return domain.StatsWindow{}, fmt.Errorf("%w: unknown period %q", domain.ErrValidation, period)
	}
	now := s.clock.Now().UTC()
	return s.StatsBetween(ctx, now.Add(-span), now)
}

// StatsBetween counts every payment once, by its newest entry inside
// [from, to], so a confirmation supersedes the Pending dispatch it resolves.
func (s *StatsEngine) StatsBetween(ctx context.Context, from, to time.Time) (domain.StatsWindow, error) {
	if to.Before(from) {
		return domain.StatsWindow{}, fmt.Errorf("%w: window ends before it starts", domain.ErrValidation)
	}

	entries, err := s.store.Query(ctx, domain.AuditFilter{StartTime: from, EndTime: to})
	if err != nil {
		return domain.StatsWindow{}, fmt.Errorf("query audit log: %w", err)
	}

	latest := make(map[string]domain.AuditLogEntry, len(entries))
	for _, e := range entries {
		if prev, ok := latest[e.PaymentID]; !ok || e.Sequence > prev.Sequence {
			latest[e.PaymentID] = e
		}
	}

	window := domain.StatsWindow{
		From:                from,
		To:                  to,
		Currency:            s.currency,
		TotalAmount:         decimal.Zero,
		PerGatewayBreakdown: make(map[string]domain.GatewayStats),
	}

	for _, e := range latest {
		gs, ok := window.PerGatewayBreakdown[e.GatewayID]
		if !ok {
			gs.Amount = decimal.Zero
		}
		window.TotalPayments++
		gs.Total++

		switch e.Response.Status {
		case domain.StatusFailed:
			window.FailedPayments++
			gs.Failed++
		case domain.StatusPending:
			window.PendingPayments++
		case domain.StatusCancelled:
			window.CancelledPayments++
		}

		if e.Response.Success {
			window.SuccessfulPayments++
			gs.Successful++

			amount, err := s.rates.Convert(e.Request.Amount, e.Request.Currency, s.currency)
			if err != nil {
				slog.Warn("Amount left out of stats total",
					"paymentId", e.PaymentID, "currency", e.Request.Currency, "reportingCurrency", s.currency, "err", err)
			} else {
				window.TotalAmount = window.TotalAmount.Add(amount)
				gs.Amount = gs.Amount.Add(amount)
			}
		}

		window.PerGatewayBreakdown[e.GatewayID] = gs
	}

	if window.TotalPayments > 0 {
		rate := float64(window.SuccessfulPayments) / float64(window.TotalPayments) * 100
		window.SuccessRate = math.Round(rate*100) / 100
	}
	return window, nil
}
