package domain

import "context"

// AuditStore is the append-only log of dispatch attempts. Append assigns the
// entry's Sequence and must reject a second confirmation entry for the same
// payment with ErrAlreadyConfirmed.
type AuditStore interface {
	Append(ctx context.Context, entry AuditLogEntry) (AuditLogEntry, error)
	Query(ctx context.Context, filter AuditFilter) ([]AuditLogEntry, error)
	Latest(ctx context.Context, paymentID string) (AuditLogEntry, error)
}

type GatewayStore interface {
	SaveGateway(ctx context.Context, gateway Gateway) error
	LoadGateways(ctx context.Context) ([]Gateway, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event PaymentEvent) error
}
