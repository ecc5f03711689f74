package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"paymesh/internal/domain"
)

const (
	defaultInstallments = 4
	installmentSpacing  = 30 * 24 * time.Hour
)

// BNPLAdapter never completes at dispatch time: an approved or pending
// reply means the lender is still deciding.
type BNPLAdapter struct {
	transport Transport
}

func NewBNPLAdapter(t Transport) *BNPLAdapter {
	return &BNPLAdapter{transport: t}
}

func (a *BNPLAdapter) Invoke(ctx context.Context, inv Invocation) (RawOutcome, error) {
	reply, err := a.transport.Send(ctx, callFor(inv))
	if err != nil {
		return RawOutcome{}, err
	}
	if reply.Status == ReplyDeclined {
		return declined(reply), nil
	}

	n := configInt(inv.Gateway, "installments", defaultInstallments)
	schedule := Installments(inv.Request.Amount, n, inv.Precision(), inv.Now)

	meta := copyData(reply.Data)
	meta["installments"] = n
	meta["firstPayment"] = schedule[0].Amount.StringFixed(inv.Precision())
	meta["schedule"] = scheduleMetadata(schedule, inv.Precision())

	return RawOutcome{
		Status:        domain.StatusPending,
		TransactionID: reply.TransactionID,
		RedirectURL:   reply.RedirectURL,
		Metadata:      meta,
	}, nil
}

type Installment struct {
	DueDate time.Time
	Amount  decimal.Decimal
}

// Installments splits amount into n parts truncated to precision. The first
// is due at start, the rest every 30 days, and the last absorbs the
// remainder so the parts always sum to amount.
func Installments(amount decimal.Decimal, n int, precision int32, start time.Time) []Installment {
	if n < 1 {
		n = 1
	}
	part := amount.Div(decimal.NewFromInt(int64(n))).Truncate(precision)

	out := make([]Installment, n)
	for i := range out {
		out[i] = Installment{
			DueDate: start.Add(time.Duration(i) * installmentSpacing),
			Amount:  part,
		}
	}
	out[n-1].Amount = amount.Sub(part.Mul(decimal.NewFromInt(int64(n - 1))))
	return out
}

func scheduleMetadata(schedule []Installment, precision int32) []map[string]any {
	out := make([]map[string]any, len(schedule))
	for i, inst := range schedule {
		out[i] = map[string]any{
			"dueDate": inst.DueDate.UTC().Format(time.RFC3339),
			"amount":  inst.Amount.StringFixed(precision),
		}
	}
	return out
}
