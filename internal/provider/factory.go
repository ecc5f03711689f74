package provider

import (
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"paymesh/internal/domain"
)

const modeSandbox = "sandbox"

// Factory builds the adapter for a gateway from its category and config.
// HTTP transports share one client; per-call deadlines come from the
// dispatcher's context.
type Factory struct {
	client *http.Client
}

func NewFactory(client *http.Client) *Factory {
	if client == nil {
		client = &http.Client{}
	}
	return &Factory{client: client}
}

func (f *Factory) Adapter(g domain.Gateway) (Adapter, error) {
	t, err := f.transport(g)
	if err != nil {
		return nil, err
	}

	switch g.Category {
	case domain.CategoryCard:
		return NewCardAdapter(t), nil
	case domain.CategoryLocalWallet:
		return NewLocalWalletAdapter(t), nil
	case domain.CategoryBNPL:
		return NewBNPLAdapter(t), nil
	case domain.CategoryCrypto:
		return NewCryptoAdapter(t), nil
	case domain.CategorySubscription:
		return NewSubscriptionAdapter(t), nil
	}
	return nil, fmt.Errorf("%w: no adapter for category %q", domain.ErrValidation, g.Category)
}

func (f *Factory) transport(g domain.Gateway) (Transport, error) {
	if g.Config["mode"] == modeSandbox {
		var t SandboxTransport
		if limit := g.Config["sandboxDeclineAbove"]; limit != "" {
			d, err := decimal.NewFromString(limit)
			if err != nil {
				return nil, fmt.Errorf("%w: gateway %s sandboxDeclineAbove: %v", domain.ErrValidation, g.ID, err)
			}
			t.DeclineAbove = decimal.NewNullDecimal(d)
		}
		return t, nil
	}

	endpoint := g.Config["endpoint"]
	if endpoint == "" {
		return nil, fmt.Errorf("%w: gateway %s has no endpoint configured", domain.ErrValidation, g.ID)
	}
	return NewHTTPTransport(f.client, endpoint, g.Config["apiKey"]), nil
}
