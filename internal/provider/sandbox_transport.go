package provider

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SandboxTransport answers locally without a network round trip. It approves
// every call unless DeclineAbove is set and the amount exceeds it.
type SandboxTransport struct {
	DeclineAbove decimal.NullDecimal
}

func (t SandboxTransport) Send(ctx context.Context, call Call) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	if t.DeclineAbove.Valid && call.Amount.GreaterThan(t.DeclineAbove.Decimal) {
		return Reply{
			Status: ReplyDeclined,
			Reason: fmt.Sprintf("sandbox limit %s exceeded", t.DeclineAbove.Decimal.String()),
		}, nil
	}

	return Reply{
		Status:        ReplyApproved,
		TransactionID: "sbx_" + uuid.NewString(),
	}, nil
}
