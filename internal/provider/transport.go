package provider

import (
	"context"

	"github.com/shopspring/decimal"

	"paymesh/internal/domain"
)

// Reply statuses a provider may answer with.
const (
	ReplyApproved = "approved"
	ReplyPending  = "pending"
	ReplyDeclined = "declined"
)

// Call is the body sent to a provider.
type Call struct {
	PaymentID   string             `json:"paymentId"`
	Category    domain.Category    `json:"category"`
	Amount      decimal.Decimal    `json:"amount"`
	Currency    string             `json:"currency"`
	Description string             `json:"description"`
	CustomerID  string             `json:"customerId,omitempty"`
	Metadata    map[string]string  `json:"metadata,omitempty"`
	CaptureMode domain.CaptureMode `json:"captureMode,omitempty"`
	Recurring   bool               `json:"recurring,omitempty"`
}

type Reply struct {
	Status        string         `json:"status"`
	TransactionID string         `json:"transactionId"`
	RedirectURL   string         `json:"redirectUrl"`
	Reason        string         `json:"reason"`
	Data          map[string]any `json:"data"`
}

// Transport carries one Call to a provider. Declines are replies, not
// errors; an error means the provider could not be reached or answered
// something unusable.
type Transport interface {
	Send(ctx context.Context, call Call) (Reply, error)
}
