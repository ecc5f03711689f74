package provider

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const billingInterval = 30 * 24 * time.Hour

type SubscriptionAdapter struct {
	transport Transport
}

func NewSubscriptionAdapter(t Transport) *SubscriptionAdapter {
	return &SubscriptionAdapter{transport: t}
}

func (a *SubscriptionAdapter) Invoke(ctx context.Context, inv Invocation) (RawOutcome, error) {
	call := callFor(inv)
	call.Recurring = true

	reply, err := a.transport.Send(ctx, call)
	if err != nil {
		return RawOutcome{}, err
	}

	out, err := settleSync(inv, reply)
	if err != nil || out.Declined {
		return out, err
	}

	id, _ := out.Metadata["subscriptionId"].(string)
	if id == "" {
		id = "sub_" + uuid.NewString()
	}
	out.Metadata["subscriptionId"] = id
	out.Metadata["interval"] = "monthly"
	out.Metadata["nextBillingDate"] = inv.Now.Add(billingInterval).UTC().Format(time.RFC3339)
	return out, nil
}
