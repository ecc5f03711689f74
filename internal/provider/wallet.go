package provider

import (
	"context"
	"strings"

	"paymesh/internal/domain"
)

// LocalWalletAdapter follows the card contract within the wallet's single
// home currency.
type LocalWalletAdapter struct {
	transport Transport
}

func NewLocalWalletAdapter(t Transport) *LocalWalletAdapter {
	return &LocalWalletAdapter{transport: t}
}

func (a *LocalWalletAdapter) Invoke(ctx context.Context, inv Invocation) (RawOutcome, error) {
	if len(inv.Gateway.SupportedCurrencies) == 0 {
		return RawOutcome{}, domain.NewPaymentError(domain.ErrCurrencyUnsupported, "wallet %s has no home currency", inv.Gateway.ID)
	}
	home := inv.Gateway.SupportedCurrencies[0]
	if !strings.EqualFold(inv.Request.Currency, home) {
		return RawOutcome{}, domain.NewPaymentError(domain.ErrCurrencyUnsupported,
			"wallet %s only accepts %s", inv.Gateway.ID, home)
	}

	reply, err := a.transport.Send(ctx, callFor(inv))
	if err != nil {
		return RawOutcome{}, err
	}

	out, err := settleSync(inv, reply)
	if err != nil || out.Declined {
		return out, err
	}
	out.Metadata["homeCurrency"] = home
	return out, nil
}
