package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zoobzio/clockz"

	"paymesh/internal/circuitbreaker"
	"paymesh/internal/domain"
	"paymesh/internal/provider"
)

const (
	defaultAdapterTimeout = 10 * time.Second
	auditAttempts         = 3
	genericFailureMessage = "payment could not be processed by the provider"
)

type (
	GatewayDirectory interface {
		Get(id string) (domain.Gateway, error)
	}

	// MarketContext resolves the market facts a dispatch carries to the
	// adapter.
	MarketContext interface {
		MarketForCurrency(code string) (domain.Market, error)
		SplitTax(amount decimal.Decimal, marketID string) (decimal.Decimal, decimal.Decimal, error)
		IsOpenNow(marketID string, now time.Time) (bool, error)
	}

	AdapterSource interface {
		Adapter(g domain.Gateway) (provider.Adapter, error)
	}

	HealthChecker interface {
		IsHealthy(ctx context.Context, g domain.Gateway) bool
	}

	PaymentDispatcher struct {
		gateways GatewayDirectory
		markets  MarketContext
		adapters AdapterSource
		store    domain.AuditStore
		events   domain.EventPublisher
		breakers *circuitbreaker.Set
		health   HealthChecker
		clock    clockz.Clock
		timeout  time.Duration
		ids      *idGenerator
		metrics  *DispatchMetrics
	}

	DispatcherOption func(*PaymentDispatcher)
)

func WithClock(clock clockz.Clock) DispatcherOption {
	return func(d *PaymentDispatcher) { d.clock = clock }
}

// WithAdapterTimeout sets the bound for gateways without config.timeout.
func WithAdapterTimeout(timeout time.Duration) DispatcherOption {
	return func(d *PaymentDispatcher) { d.timeout = timeout }
}

func WithEventPublisher(p domain.EventPublisher) DispatcherOption {
	return func(d *PaymentDispatcher) { d.events = p }
}

func WithCircuitBreakers(set *circuitbreaker.Set) DispatcherOption {
	return func(d *PaymentDispatcher) { d.breakers = set }
}

func WithHealthChecker(h HealthChecker) DispatcherOption {
	return func(d *PaymentDispatcher) { d.health = h }
}

func NewPaymentDispatcher(
	gateways GatewayDirectory,
	markets MarketContext,
	adapters AdapterSource,
	store domain.AuditStore,
	opts ...DispatcherOption,
) *PaymentDispatcher {
	d := &PaymentDispatcher{
		gateways: gateways,
		markets:  markets,
		adapters: adapters,
		store:    store,
		clock:    clockz.RealClock,
		timeout:  defaultAdapterTimeout,
		metrics:  NewDispatchMetrics(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.ids = &idGenerator{clock: d.clock}
	return d
}

func (d *PaymentDispatcher) Metrics() MetricsSnapshot {
	return d.metrics.Snapshot()
}

// Process dispatches req to gatewayID. Requests rejected before any provider
// is called come back as a Failed response together with a non-nil error and
// leave no audit entry. Every attempt that reaches an adapter is audited and
// returns a nil error, whatever its outcome.
func (d *PaymentDispatcher) Process(ctx context.Context, gatewayID string, req domain.PaymentRequest) (domain.PaymentResponse, error) {
	req, market, err := d.validate(req)
	if err != nil {
		return d.reject(gatewayID, err)
	}

	g, err := d.gateways.Get(gatewayID)
	if err != nil || !g.Active {
		return d.reject(gatewayID, domain.NewPaymentError(domain.ErrGatewayUnavailable, "gateway unavailable"))
	}
	if !g.Supports(req.Currency) {
		return d.reject(gatewayID, domain.NewPaymentError(domain.ErrCurrencyUnsupported,
			"currency %s is not supported by gateway %s", req.Currency, g.ID))
	}

	var breaker *circuitbreaker.CircuitBreaker
	if d.breakers != nil {
		breaker = d.breakers.For(g.ID)
		if !breaker.CanExecute() {
			return d.reject(gatewayID, domain.NewPaymentError(domain.ErrGatewayUnavailable, "gateway unavailable: circuit open"))
		}
	}
	if d.health != nil && !d.health.IsHealthy(ctx, g) {
		return d.reject(gatewayID, domain.NewPaymentError(domain.ErrGatewayUnavailable, "gateway unavailable: health check failing"))
	}

	adapter, err := d.adapters.Adapter(g)
	if err != nil {
		slog.Error("Gateway misconfigured", "gatewayId", g.ID, "err", err)
		return d.reject(gatewayID, domain.NewPaymentError(domain.ErrGatewayUnavailable, "gateway unavailable"))
	}

	now := d.clock.Now()
	inv := provider.Invocation{
		PaymentID: d.ids.next(g.ID),
		Gateway:   g,
		Request:   req,
		Market:    market,
		Now:       now,
	}

	outcome, invokeErr := d.invoke(ctx, adapter, inv, d.adapterTimeout(g))
	latency := d.clock.Now().Sub(now)

	var pe *domain.PaymentError
	if errors.As(invokeErr, &pe) && !pe.Attempted() {
		return d.reject(gatewayID, pe)
	}

	resp := d.normalize(inv, outcome, invokeErr)
	if breaker != nil {
		if invokeErr != nil {
			breaker.OnFailure()
		} else {
			breaker.OnSuccess()
		}
	}
	d.metrics.recordAttempt(resp.Status, errors.Is(invokeErr, domain.ErrProviderTimeout), latency)

	entry := domain.AuditLogEntry{
		PaymentID:  resp.PaymentID,
		GatewayID:  g.ID,
		Kind:       domain.EntryDispatch,
		Request:    req,
		Response:   resp,
		RecordedAt: d.clock.Now().UTC(),
	}
	if d.appendEntry(ctx, entry) {
		d.publish(ctx, entry)
	}
	return resp, nil
}

func (d *PaymentDispatcher) validate(req domain.PaymentRequest) (domain.PaymentRequest, *domain.Market, error) {
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.Description = strings.TrimSpace(req.Description)

	if req.Amount.Sign() <= 0 {
		return req, nil, domain.NewPaymentError(domain.ErrValidation, "amount must be greater than zero")
	}
	if len(req.Currency) != 3 {
		return req, nil, domain.NewPaymentError(domain.ErrValidation, "currency must be a 3-letter ISO code")
	}
	if req.Description == "" {
		return req, nil, domain.NewPaymentError(domain.ErrValidation, "description is required")
	}
	switch req.CaptureMode {
	case "":
		req.CaptureMode = domain.CaptureAutomatic
	case domain.CaptureAutomatic, domain.CaptureManual:
	default:
		return req, nil, domain.NewPaymentError(domain.ErrValidation, "unknown capture mode %q", req.CaptureMode)
	}

	m, err := d.markets.MarketForCurrency(req.Currency)
	if err != nil {
		return req, nil, nil
	}
	if !req.Amount.Equal(req.Amount.Truncate(m.DecimalPrecision)) {
		return req, nil, domain.NewPaymentError(domain.ErrValidation,
			"amount has more than %d decimal places for %s", m.DecimalPrecision, req.Currency)
	}
	return req, &m, nil
}

// reject reports a request that never reached a provider.
func (d *PaymentDispatcher) reject(gatewayID string, err error) (domain.PaymentResponse, error) {
	d.metrics.incrementRejected()
	slog.Info("Payment rejected", "gatewayId", gatewayID, "code", domain.ErrorCode(err), "err", err)

	msg := err.Error()
	var pe *domain.PaymentError
	if errors.As(err, &pe) {
		msg = pe.Message
	}
	return domain.PaymentResponse{
		Success:      false,
		Status:       domain.StatusFailed,
		ErrorCode:    domain.ErrorCode(err),
		ErrorMessage: msg,
	}, err
}

func (d *PaymentDispatcher) adapterTimeout(g domain.Gateway) time.Duration {
	if v := g.Config["timeout"]; v != "" {
		if t, err := time.ParseDuration(v); err == nil && t > 0 {
			return t
		}
		slog.Warn("Ignoring invalid gateway timeout", "gatewayId", g.ID, "timeout", v)
	}
	return d.timeout
}

// invoke runs the adapter in its own goroutine so a hung provider only
// costs this request its timeout. Panics become provider failures.
func (d *PaymentDispatcher) invoke(ctx context.Context, a provider.Adapter, inv provider.Invocation, timeout time.Duration) (provider.RawOutcome, error) {
	ctx, cancel := d.clock.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		outcome provider.RawOutcome
		err     error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: &domain.PaymentError{
					Kind:    domain.ErrProviderFailure,
					Message: genericFailureMessage,
					Err:     fmt.Errorf("adapter panic: %v", r),
				}}
			}
		}()
		out, err := a.Invoke(ctx, inv)
		done <- result{outcome: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return provider.RawOutcome{}, timeoutError(timeout, r.err)
		}
		return r.outcome, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return provider.RawOutcome{}, timeoutError(timeout, ctx.Err())
		}
		return provider.RawOutcome{}, &domain.PaymentError{Kind: domain.ErrProviderFailure, Message: "request cancelled", Err: ctx.Err()}
	}
}

func timeoutError(timeout time.Duration, cause error) error {
	return &domain.PaymentError{
		Kind:    domain.ErrProviderTimeout,
		Message: fmt.Sprintf("provider did not answer within %s", timeout),
		Err:     cause,
	}
}

// normalize turns an adapter result into the unified response.
func (d *PaymentDispatcher) normalize(inv provider.Invocation, outcome provider.RawOutcome, err error) domain.PaymentResponse {
	resp := domain.PaymentResponse{PaymentID: inv.PaymentID}
	log := slog.With("paymentId", inv.PaymentID, "gatewayId", inv.Gateway.ID)

	if err != nil {
		var pe *domain.PaymentError
		if !errors.As(err, &pe) {
			pe = &domain.PaymentError{Kind: domain.ErrProviderFailure, Message: genericFailureMessage, Err: err}
		}
		log.Error("Provider call failed", "code", pe.Code(), "err", err)

		resp.Status = domain.StatusFailed
		resp.ErrorCode = pe.Code()
		resp.ErrorMessage = pe.Message
		if pe.Kind == domain.ErrProviderFailure {
			resp.ErrorMessage = genericFailureMessage
		}
		return resp
	}

	if outcome.Declined {
		log.Info("Payment declined", "reason", outcome.Reason)
		resp.Status = domain.StatusFailed
		resp.TransactionID = outcome.TransactionID
		resp.ErrorCode = domain.ErrorCode(domain.ErrProviderRejected)
		resp.ErrorMessage = outcome.Reason
		if len(outcome.Metadata) > 0 {
			resp.GatewayMetadata = outcome.Metadata
		}
		return resp
	}

	if outcome.Status != domain.StatusCompleted && outcome.Status != domain.StatusPending {
		log.Error("Adapter returned an unusable status", "status", outcome.Status)
		resp.Status = domain.StatusFailed
		resp.ErrorCode = domain.ErrorCode(domain.ErrProviderFailure)
		resp.ErrorMessage = genericFailureMessage
		return resp
	}

	resp.Success = true
	resp.Status = outcome.Status
	resp.TransactionID = outcome.TransactionID
	resp.RedirectURL = outcome.RedirectURL
	resp.GatewayMetadata = outcome.Metadata
	if resp.GatewayMetadata == nil {
		resp.GatewayMetadata = map[string]any{}
	}
	d.attachMarketContext(inv, resp.GatewayMetadata)
	return resp
}

func (d *PaymentDispatcher) attachMarketContext(inv provider.Invocation, meta map[string]any) {
	if inv.Market == nil {
		return
	}
	meta["marketId"] = inv.Market.ID

	if net, tax, err := d.markets.SplitTax(inv.Request.Amount, inv.Market.ID); err == nil {
		meta["taxAmount"] = tax.StringFixed(inv.Market.DecimalPrecision)
		meta["netAmount"] = net.StringFixed(inv.Market.DecimalPrecision)
	}
	if open, err := d.markets.IsOpenNow(inv.Market.ID, inv.Now); err == nil {
		meta["marketOpen"] = open
	}
}

// appendEntry retries a failed append a few times. Stores keep one dispatch
// entry per payment id, so a retry after a write whose reply was lost does
// not duplicate it. A record that still cannot be written is logged loudly;
// the caller still gets its response.
func (d *PaymentDispatcher) appendEntry(ctx context.Context, entry domain.AuditLogEntry) bool {
	ctx = context.WithoutCancel(ctx)

	var err error
	for attempt := 1; attempt <= auditAttempts; attempt++ {
		if _, err = d.store.Append(ctx, entry); err == nil {
			return true
		}
		slog.Warn("Audit append failed", "paymentId", entry.PaymentID, "attempt", attempt, "err", err)
	}

	d.metrics.incrementAuditFailures()
	slog.Error("CRITICAL: audit entry lost",
		"paymentId", entry.PaymentID,
		"gatewayId", entry.GatewayID,
		"status", entry.Response.Status,
		"err", err,
	)
	return false
}

func (d *PaymentDispatcher) publish(ctx context.Context, entry domain.AuditLogEntry) {
	if d.events == nil {
		return
	}

	event := domain.PaymentEvent{
		Type:       domain.EventTypeFor(entry.Response.Status),
		PaymentID:  entry.PaymentID,
		GatewayID:  entry.GatewayID,
		Status:     entry.Response.Status,
		Amount:     entry.Request.Amount,
		Currency:   entry.Request.Currency,
		OccurredAt: entry.RecordedAt,
	}
	if err := d.events.Publish(context.WithoutCancel(ctx), event); err != nil {
		slog.Warn("Payment event not published", "paymentId", entry.PaymentID, "type", event.Type, "err", err)
	}
}

// Confirm resolves a Pending payment by appending a confirmation entry.
// The original entry is never touched.
func (d *PaymentDispatcher) Confirm(ctx context.Context, paymentID string, outcome domain.Status, metadata map[string]any) (domain.AuditLogEntry, error) {
	if !outcome.Terminal() {
		return domain.AuditLogEntry{}, fmt.Errorf("%w: outcome must be completed, failed or cancelled, got %q", domain.ErrValidation, outcome)
	}

	latest, err := d.store.Latest(ctx, paymentID)
	if err != nil {
		return domain.AuditLogEntry{}, err
	}
	if latest.Response.Status != domain.StatusPending {
		return domain.AuditLogEntry{}, fmt.Errorf("%w: payment %s is %s", domain.ErrInvalidTransition, paymentID, latest.Response.Status)
	}

	resp := latest.Response
	resp.Status = outcome
	resp.Success = outcome == domain.StatusCompleted
	resp.ErrorCode = ""
	resp.ErrorMessage = ""
	switch outcome {
	case domain.StatusFailed:
		resp.ErrorCode = domain.ErrorCode(domain.ErrProviderRejected)
		resp.ErrorMessage = "payment failed at provider"
	case domain.StatusCancelled:
		resp.ErrorMessage = "payment cancelled"
	}

	merged := make(map[string]any, len(resp.GatewayMetadata)+len(metadata))
	for k, v := range resp.GatewayMetadata {
		merged[k] = v
	}
	for k, v := range metadata {
		merged[k] = v
	}
	resp.GatewayMetadata = merged

	entry, err := d.store.Append(ctx, domain.AuditLogEntry{
		PaymentID:           latest.PaymentID,
		GatewayID:           latest.GatewayID,
		Kind:                domain.EntryConfirmation,
		ReferencesPaymentID: latest.PaymentID,
		Request:             latest.Request,
		Response:            resp,
		RecordedAt:          d.clock.Now().UTC(),
	})
	if err != nil {
		return domain.AuditLogEntry{}, err
	}

	d.metrics.incrementConfirmed()
	slog.Info("Payment confirmed", "paymentId", entry.PaymentID, "gatewayId", entry.GatewayID, "status", outcome)
	d.publish(ctx, entry)
	return entry, nil
}

// History returns audit entries newest first.
func (d *PaymentDispatcher) History(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLogEntry, error) {
	return d.store.Query(ctx, filter)
}

// Entries lists every entry of one payment, newest first.
func (d *PaymentDispatcher) Entries(ctx context.Context, paymentID string) ([]domain.AuditLogEntry, error) {
	entries, err := d.store.Query(ctx, domain.AuditFilter{PaymentID: paymentID})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, paymentID)
	}
	return entries, nil
}

// idGenerator issues {gatewayId}_{timestamp}_{random}. The timestamp is
// strictly increasing across goroutines.
type idGenerator struct {
	clock clockz.Clock
	last  atomic.Int64
}

func (g *idGenerator) next(gatewayID string) string {
	now := g.clock.Now().UnixNano()
	for {
		prev := g.last.Load()
		ts := now
		if ts <= prev {
			ts = prev + 1
		}
		if g.last.CompareAndSwap(prev, ts) {
			random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
			return fmt.Sprintf("%s_%d_%s", gatewayID, ts, random)
		}
	}
}
