package provider

import (
	"context"
	"strconv"
	"time"

	"paymesh/internal/domain"
)

// Invocation is everything an adapter needs for one dispatch.
type Invocation struct {
	PaymentID string
	Gateway   domain.Gateway
	Request   domain.PaymentRequest
	// Market is the home market of the request currency, nil when the
	// currency has none.
	Market *domain.Market
	Now    time.Time
}

// Precision falls back to two decimals when no market is known.
func (inv Invocation) Precision() int32 {
	if inv.Market != nil {
		return inv.Market.DecimalPrecision
	}
	return 2
}

// RawOutcome is an adapter's answer before the dispatcher normalizes it.
// Declined outcomes carry Reason and no status.
type RawOutcome struct {
	Declined      bool
	Status        domain.Status
	TransactionID string
	RedirectURL   string
	Reason        string
	Metadata      map[string]any
}

// Adapter encodes one category's outcome semantics. Errors are transport or
// protocol failures; declines are returned as outcomes.
type Adapter interface {
	Invoke(ctx context.Context, inv Invocation) (RawOutcome, error)
}

func callFor(inv Invocation) Call {
	capture := inv.Request.CaptureMode
	if capture == "" {
		capture = domain.CaptureAutomatic
	}
	return Call{
		PaymentID:   inv.PaymentID,
		Category:    inv.Gateway.Category,
		Amount:      inv.Request.Amount,
		Currency:    inv.Request.Currency,
		Description: inv.Request.Description,
		CustomerID:  inv.Request.CustomerID,
		Metadata:    inv.Request.Metadata,
		CaptureMode: capture,
		Recurring:   inv.Request.Recurring,
	}
}

func declined(reply Reply) RawOutcome {
	reason := reply.Reason
	if reason == "" {
		reason = "payment declined by provider"
	}
	return RawOutcome{Declined: true, Reason: reason, TransactionID: reply.TransactionID, Metadata: copyData(reply.Data)}
}

func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

func configInt(g domain.Gateway, key string, def int) int {
	v, ok := g.Config[key]
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
