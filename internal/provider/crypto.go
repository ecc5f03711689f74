package provider

import (
	"context"
	"time"

	"paymesh/internal/domain"
)

const (
	defaultConfirmations       = 3
	defaultConfirmationMinutes = 30
)

// CryptoAdapter reports Pending until on-chain confirmation arrives through
// the webhook.
type CryptoAdapter struct {
	transport Transport
}

func NewCryptoAdapter(t Transport) *CryptoAdapter {
	return &CryptoAdapter{transport: t}
}

func (a *CryptoAdapter) Invoke(ctx context.Context, inv Invocation) (RawOutcome, error) {
	reply, err := a.transport.Send(ctx, callFor(inv))
	if err != nil {
		return RawOutcome{}, err
	}
	if reply.Status == ReplyDeclined {
		return declined(reply), nil
	}

	meta := copyData(reply.Data)

	address, _ := meta["settlementAddress"].(string)
	if address == "" {
		address = inv.Gateway.Config["settlementAddress"]
	}
	if address == "" {
		return RawOutcome{}, domain.NewPaymentError(domain.ErrProviderFailure, "no settlement address for %s", inv.Gateway.ID)
	}
	meta["settlementAddress"] = address

	if _, ok := meta["network"]; !ok {
		if network := inv.Gateway.Config["network"]; network != "" {
			meta["network"] = network
		}
	}

	minutes := configInt(inv.Gateway, "confirmationMinutes", defaultConfirmationMinutes)
	meta["confirmationsRequired"] = configInt(inv.Gateway, "confirmationsRequired", defaultConfirmations)
	meta["expectedConfirmationBy"] = inv.Now.Add(time.Duration(minutes) * time.Minute).UTC().Format(time.RFC3339)

	return RawOutcome{
		Status:        domain.StatusPending,
		TransactionID: reply.TransactionID,
		RedirectURL:   reply.RedirectURL,
		Metadata:      meta,
	}, nil
}
