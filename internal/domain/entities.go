package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

type Category string

const (
	CategoryCard         Category = "card"
	CategoryLocalWallet  Category = "local_wallet"
	CategoryBNPL         Category = "bnpl"
	CategoryCrypto       Category = "crypto"
	CategorySubscription Category = "subscription"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryCard, CategoryLocalWallet, CategoryBNPL, CategoryCrypto, CategorySubscription:
		return true
	}
	return false
}

type CaptureMode string

const (
	CaptureAutomatic CaptureMode = "automatic"
	CaptureManual    CaptureMode = "manual"
)

type SymbolPosition string

const (
	SymbolBefore SymbolPosition = "before"
	SymbolAfter  SymbolPosition = "after"
)

// BusinessHours are wall-clock times in the market's timezone, "HH:MM".
type BusinessHours struct {
	Open        string         `json:"open" yaml:"open"`
	Close       string         `json:"close" yaml:"close"`
	WeekendDays []time.Weekday `json:"weekendDays" yaml:"weekendDays"`
}

type Market struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	CurrencyCode       string          `json:"currencyCode"`
	CurrencySymbol     string          `json:"currencySymbol"`
	SymbolPosition     SymbolPosition  `json:"symbolPosition"`
	ThousandsSeparator string          `json:"thousandsSeparator"`
	DecimalSeparator   string          `json:"decimalSeparator"`
	DecimalPrecision   int32           `json:"decimalPrecision"`
	TaxRatePercent     decimal.Decimal `json:"taxRatePercent"`
	BusinessHours      BusinessHours   `json:"businessHours"`
	Timezone           string          `json:"timezone"`
}

type ExchangeRate struct {
	From string          `json:"from"`
	To   string          `json:"to"`
	Rate decimal.Decimal `json:"rate"`
}

type Gateway struct {
	ID                  string            `json:"id"`
	DisplayName         string            `json:"displayName"`
	Category            Category          `json:"category"`
	SupportedCurrencies []string          `json:"supportedCurrencies"`
	Capabilities        []string          `json:"capabilities"`
	Active              bool              `json:"active"`
	Config              map[string]string `json:"config"`
}

// Supports reports whether currency is in the gateway's supported set.
func (g Gateway) Supports(currency string) bool {
	currency = strings.ToUpper(currency)
	for _, c := range g.SupportedCurrencies {
		if c == currency {
			return true
		}
	}
	return false
}

func (g Gateway) HasCapability(capability string) bool {
	for _, c := range g.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices or maps with g.
func (g Gateway) Clone() Gateway {
	out := g
	out.SupportedCurrencies = append([]string(nil), g.SupportedCurrencies...)
	out.Capabilities = append([]string(nil), g.Capabilities...)
	if g.Config != nil {
		out.Config = make(map[string]string, len(g.Config))
		for k, v := range g.Config {
			out.Config[k] = v
		}
	}
	return out
}

type PaymentRequest struct {
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	CustomerID  string            `json:"customerId,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Recurring   bool              `json:"recurring,omitempty"`
	CaptureMode CaptureMode       `json:"captureMode,omitempty"`
}

type PaymentResponse struct {
	Success         bool           `json:"success"`
	PaymentID       string         `json:"paymentId"`
	Status          Status         `json:"status"`
	TransactionID   string         `json:"transactionId,omitempty"`
	RedirectURL     string         `json:"redirectUrl,omitempty"`
	GatewayMetadata map[string]any `json:"gatewayMetadata,omitempty"`
	ErrorCode       string         `json:"errorCode,omitempty"`
	ErrorMessage    string         `json:"errorMessage,omitempty"`
}

type EntryKind string

const (
	EntryDispatch     EntryKind = "dispatch"
	EntryConfirmation EntryKind = "confirmation"
)

// AuditLogEntry is immutable once appended. Sequence is assigned by the store.
type AuditLogEntry struct {
	Sequence            int64           `json:"sequence"`
	PaymentID           string          `json:"paymentId"`
	GatewayID           string          `json:"gatewayId"`
	Kind                EntryKind       `json:"kind"`
	ReferencesPaymentID string          `json:"referencesPaymentId,omitempty"`
	Request             PaymentRequest  `json:"request"`
	Response            PaymentResponse `json:"response"`
	RecordedAt          time.Time       `json:"recordedAt"`
}

// Clone copies the metadata maps so callers cannot mutate a stored entry.
func (e AuditLogEntry) Clone() AuditLogEntry {
	out := e
	if e.Request.Metadata != nil {
		out.Request.Metadata = make(map[string]string, len(e.Request.Metadata))
		for k, v := range e.Request.Metadata {
			out.Request.Metadata[k] = v
		}
	}
	if e.Response.GatewayMetadata != nil {
		out.Response.GatewayMetadata = make(map[string]any, len(e.Response.GatewayMetadata))
		for k, v := range e.Response.GatewayMetadata {
			out.Response.GatewayMetadata[k] = v
		}
	}
	return out
}

type AuditFilter struct {
	PaymentID  string
	GatewayID  string
	CustomerID string
	Status     Status
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
}

// Matches applies every non-zero field of f to e. Time bounds are inclusive.
func (f AuditFilter) Matches(e AuditLogEntry) bool {
	if f.PaymentID != "" && e.PaymentID != f.PaymentID {
		return false
	}
	if f.GatewayID != "" && e.GatewayID != f.GatewayID {
		return false
	}
	if f.CustomerID != "" && e.Request.CustomerID != f.CustomerID {
		return false
	}
	if f.Status != "" && e.Response.Status != f.Status {
		return false
	}
	if !f.StartTime.IsZero() && e.RecordedAt.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.RecordedAt.After(f.EndTime) {
		return false
	}
	return true
}

type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

func (p Period) Duration() (time.Duration, bool) {
	switch p {
	case PeriodDay:
		return 24 * time.Hour, true
	case PeriodWeek:
		return 7 * 24 * time.Hour, true
	case PeriodMonth:
		return 30 * 24 * time.Hour, true
	case PeriodYear:
		return 365 * 24 * time.Hour, true
	}
	return 0, false
}

type GatewayStats struct {
	Total      int             `json:"total"`
	Successful int             `json:"successful"`
	Failed     int             `json:"failed"`
	Amount     decimal.Decimal `json:"amount"`
}

type StatsWindow struct {
	From                time.Time               `json:"from"`
	To                  time.Time               `json:"to"`
	Currency            string                  `json:"currency"`
	TotalPayments       int                     `json:"totalPayments"`
	SuccessfulPayments  int                     `json:"successfulPayments"`
	FailedPayments      int                     `json:"failedPayments"`
	PendingPayments     int                     `json:"pendingPayments"`
	CancelledPayments   int                     `json:"cancelledPayments"`
	TotalAmount         decimal.Decimal         `json:"totalAmount"`
	SuccessRate         float64                 `json:"successRate"`
	PerGatewayBreakdown map[string]GatewayStats `json:"gatewayBreakdown"`
}

const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentPending   = "payment.pending"
	EventPaymentFailed    = "payment.failed"
	EventPaymentCancelled = "payment.cancelled"
)

// EventTypeFor maps a status to the event published for it.
func EventTypeFor(s Status) string {
	switch s {
	case StatusCompleted:
		return EventPaymentCompleted
	case StatusPending:
		return EventPaymentPending
	case StatusCancelled:
		return EventPaymentCancelled
	}
	return EventPaymentFailed
}

type PaymentEvent struct {
	Type       string          `json:"type"`
	PaymentID  string          `json:"paymentId"`
	GatewayID  string          `json:"gatewayId"`
	Status     Status          `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	OccurredAt time.Time       `json:"occurredAt"`
}
