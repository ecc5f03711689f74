package provider

import (
	"context"

	"paymesh/internal/domain"
)

// CardAdapter settles synchronously: Completed or declined.
type CardAdapter struct {
	transport Transport
}

func NewCardAdapter(t Transport) *CardAdapter {
	return &CardAdapter{transport: t}
}

func (a *CardAdapter) Invoke(ctx context.Context, inv Invocation) (RawOutcome, error) {
	call := callFor(inv)
	reply, err := a.transport.Send(ctx, call)
	if err != nil {
		return RawOutcome{}, err
	}

	out, err := settleSync(inv, reply)
	if err != nil || out.Declined {
		return out, err
	}
	out.Metadata["captureMode"] = string(call.CaptureMode)
	out.Metadata["captured"] = call.CaptureMode == domain.CaptureAutomatic
	return out, nil
}

// settleSync maps a reply for categories that never stay pending.
func settleSync(inv Invocation, reply Reply) (RawOutcome, error) {
	switch reply.Status {
	case ReplyDeclined:
		return declined(reply), nil
	case ReplyPending:
		return RawOutcome{}, domain.NewPaymentError(domain.ErrProviderFailure,
			"provider answered pending for synchronous %s gateway", inv.Gateway.Category)
	}

	if reply.TransactionID == "" {
		return RawOutcome{}, domain.NewPaymentError(domain.ErrProviderFailure, "approved reply carries no transaction id")
	}
	return RawOutcome{
		Status:        domain.StatusCompleted,
		TransactionID: reply.TransactionID,
		RedirectURL:   reply.RedirectURL,
		Metadata:      copyData(reply.Data),
	}, nil
}
