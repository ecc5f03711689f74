package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"

	"paymesh/internal/circuitbreaker"
	"paymesh/internal/domain"
	"paymesh/internal/gateway"
	"paymesh/internal/infrastructure"
	"paymesh/internal/market"
	"paymesh/internal/provider"
	"paymesh/internal/usecase"
)

type fixture struct {
	app     *fiber.App
	markets *market.Registry
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	gateways := gateway.NewRegistry(nil)
	for _, g := range []domain.Gateway{
		{ID: "stripe", Category: domain.CategoryCard, SupportedCurrencies: []string{"SAR", "USD"}, Capabilities: []string{"refunds"}, Active: true, Config: map[string]string{"mode": "sandbox"}},
		{ID: "tamara", Category: domain.CategoryBNPL, SupportedCurrencies: []string{"SAR"}, Active: true, Config: map[string]string{"mode": "sandbox"}},
	} {
		_, err := gateways.Register(ctx, g)
		require.NoError(t, err)
	}

	markets := market.Default()
	store := infrastructure.NewMemoryAuditStore()
	breakers := circuitbreaker.NewSet(clockz.RealClock, 5, time.Minute, 1)
	dispatcher := usecase.NewPaymentDispatcher(gateways, markets, provider.NewFactory(nil), store,
		usecase.WithCircuitBreakers(breakers))

	app := NewApp(Dependencies{
		Payments: dispatcher,
		Stats:    usecase.NewStatsEngine(store, markets, nil, "SAR"),
		Markets:  NewMarketHandler(markets, nil),
		Gateways: gateways,
		Metrics:  dispatcher,
		Breakers: breakers,
	})
	return fixture{app: app, markets: markets}
}

func (f fixture) do(t *testing.T, method, target, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var out T
	require.NoError(t, sonic.Unmarshal(raw, &out), string(raw))
	return out
}

const cardPayment = `{"amount":"100","currency":"SAR","description":"order 1","customerId":"c-1"}`

func TestProcessPayment(t *testing.T) {
	f := newFixture(t)

	status, raw := f.do(t, http.MethodPost, "/payments/stripe", cardPayment)
	require.Equal(t, http.StatusOK, status, string(raw))

	resp := decode[domain.PaymentResponse](t, raw)
	assert.True(t, resp.Success)
	assert.Equal(t, domain.StatusCompleted, resp.Status)
	assert.True(t, strings.HasPrefix(resp.PaymentID, "stripe_"))
}

func TestProcessPaymentRejections(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		target string
		body   string
		status int
		code   string
	}{
		{"malformed body", "/payments/stripe", `{"amount":`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"zero amount", "/payments/stripe", `{"amount":"0","currency":"SAR","description":"x"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unsupported currency", "/payments/tamara", `{"amount":"10","currency":"USD","description":"x"}`, http.StatusUnprocessableEntity, "CURRENCY_UNSUPPORTED"},
		{"unknown gateway", "/payments/adyen", cardPayment, http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, raw := f.do(t, http.MethodPost, tt.target, tt.body)
			assert.Equal(t, tt.status, status, string(raw))

			body := decode[map[string]any](t, raw)
			code := body["errorCode"]
			if code == nil {
				code = body["error"]
			}
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestConfirmWebhook(t *testing.T) {
	f := newFixture(t)

	status, raw := f.do(t, http.MethodPost, "/payments/tamara", `{"amount":"100","currency":"SAR","description":"sofa"}`)
	require.Equal(t, http.StatusOK, status)
	pending := decode[domain.PaymentResponse](t, raw)
	require.Equal(t, domain.StatusPending, pending.Status)

	target := "/webhooks/payments/" + pending.PaymentID + "/confirm"

	status, raw = f.do(t, http.MethodPost, target, `{"status":"pending"}`)
	assert.Equal(t, http.StatusBadRequest, status, string(raw))

	status, raw = f.do(t, http.MethodPost, target, `{"status":"completed","metadata":{"lenderRef":"L-1"}}`)
	require.Equal(t, http.StatusOK, status, string(raw))
	entry := decode[domain.AuditLogEntry](t, raw)
	assert.Equal(t, domain.EntryConfirmation, entry.Kind)
	assert.Equal(t, "L-1", entry.Response.GatewayMetadata["lenderRef"])

	status, _ = f.do(t, http.MethodPost, target, `{"status":"completed"}`)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = f.do(t, http.MethodPost, "/webhooks/payments/tamara_0_none/confirm", `{"status":"completed"}`)
	assert.Equal(t, http.StatusNotFound, status)

	status, raw = f.do(t, http.MethodGet, "/payments/"+pending.PaymentID, "")
	require.Equal(t, http.StatusOK, status, string(raw))
	entries := decode[[]domain.AuditLogEntry](t, raw)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.StatusCompleted, entries[0].Response.Status)
	assert.Equal(t, pending.PaymentID, entries[0].PaymentID)

	status, raw = f.do(t, http.MethodGet, "/payments?status=completed&gatewayId=tamara", "")
	require.Equal(t, http.StatusOK, status)
	completed := decode[[]domain.AuditLogEntry](t, raw)
	require.Len(t, completed, 1)
	assert.Equal(t, pending.PaymentID, completed[0].ReferencesPaymentID)
}

type historySpy struct {
	PaymentService
	filter domain.AuditFilter
}

func (s *historySpy) History(_ context.Context, filter domain.AuditFilter) ([]domain.AuditLogEntry, error) {
	s.filter = filter
	return nil, nil
}

func TestHistoryLimitIsCapped(t *testing.T) {
	spy := &historySpy{}
	f := fixture{app: NewApp(Dependencies{
		Payments: spy,
		Markets:  NewMarketHandler(market.Default(), nil),
		Gateways: gateway.NewRegistry(nil),
	})}

	status, raw := f.do(t, http.MethodGet, "/payments", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "[]", string(raw))
	assert.Equal(t, maxHistoryLimit, spy.filter.Limit)

	status, _ = f.do(t, http.MethodGet, "/payments?limit=25", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 25, spy.filter.Limit)
}

func TestHistoryAndSummary(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		status, _ := f.do(t, http.MethodPost, "/payments/stripe", cardPayment)
		require.Equal(t, http.StatusOK, status)
	}
	status, _ := f.do(t, http.MethodPost, "/payments/tamara", cardPayment)
	require.Equal(t, http.StatusOK, status)

	status, raw := f.do(t, http.MethodGet, "/payments?gatewayId=stripe&limit=2", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]domain.AuditLogEntry](t, raw), 2)

	status, raw = f.do(t, http.MethodGet, "/payments?customerId=nobody", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "[]", string(raw))

	for _, bad := range []string{"/payments?limit=lots", "/payments?limit=0", "/payments?limit=1001", "/payments?status=lost", "/payments?from=yesterday"} {
		status, _ = f.do(t, http.MethodGet, bad, "")
		assert.Equal(t, http.StatusBadRequest, status, bad)
	}

	status, _ = f.do(t, http.MethodGet, "/payments/stripe_0_missing", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, raw = f.do(t, http.MethodGet, "/payments-summary?period=day", "")
	require.Equal(t, http.StatusOK, status, string(raw))
	summary := decode[domain.StatsWindow](t, raw)
	assert.Equal(t, 4, summary.TotalPayments)
	assert.Equal(t, 3, summary.PerGatewayBreakdown["stripe"].Total)
	assert.Equal(t, float64(100), summary.SuccessRate)
	assert.True(t, decimal.NewFromInt(400).Equal(summary.TotalAmount))

	status, _ = f.do(t, http.MethodGet, "/payments-summary?period=decade", "")
	assert.Equal(t, http.StatusBadRequest, status)

	past := time.Now().Add(-48 * time.Hour).UTC()
	status, raw = f.do(t, http.MethodGet, "/payments-summary?from="+past.Format(time.RFC3339)+"&to="+past.Add(time.Hour).Format(time.RFC3339), "")
	require.Equal(t, http.StatusOK, status)
	assert.Zero(t, decode[domain.StatsWindow](t, raw).TotalPayments)
}

func TestMarketRoutes(t *testing.T) {
	f := newFixture(t)

	status, raw := f.do(t, http.MethodGet, "/markets", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]domain.Market](t, raw), len(f.markets.Markets()))

	status, raw = f.do(t, http.MethodGet, "/rates", "")
	require.Equal(t, http.StatusOK, status)
	rates := decode[[]domain.ExchangeRate](t, raw)
	require.NotEmpty(t, rates)
	assert.Len(t, rates, len(f.markets.Rates()))

	status, raw = f.do(t, http.MethodGet, "/markets/sa", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "SAR", decode[domain.Market](t, raw).CurrencyCode)

	status, _ = f.do(t, http.MethodGet, "/markets/ZZ", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, raw = f.do(t, http.MethodGet, "/markets/SA/open", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, decode[map[string]any](t, raw), "open")

	want, err := f.markets.Format(decimal.RequireFromString("1234.5"), "SA")
	require.NoError(t, err)
	status, raw = f.do(t, http.MethodGet, "/markets/SA/format?amount=1234.5", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, want, decode[map[string]any](t, raw)["formatted"])

	status, _ = f.do(t, http.MethodGet, "/markets/SA/format?amount=abc", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, raw = f.do(t, http.MethodGet, "/convert?amount=10&from=usd&to=SAR", "")
	require.Equal(t, http.StatusOK, status, string(raw))
	body := decode[map[string]any](t, raw)
	assert.Equal(t, "USD", body["from"])
	assert.NotEmpty(t, body["converted"])

	status, _ = f.do(t, http.MethodGet, "/convert?amount=10&from=JPY&to=SAR", "")
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = f.do(t, http.MethodGet, "/convert?amount=10&from=US&to=SAR", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestGatewayRoutes(t *testing.T) {
	f := newFixture(t)

	status, raw := f.do(t, http.MethodGet, "/gateways?category=bnpl", "")
	require.Equal(t, http.StatusOK, status)
	list := decode[[]domain.Gateway](t, raw)
	require.Len(t, list, 1)
	assert.Equal(t, "tamara", list[0].ID)

	status, _ = f.do(t, http.MethodGet, "/gateways?category=cash", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, raw = f.do(t, http.MethodGet, "/gateways?capability=refunds", "")
	require.Equal(t, http.StatusOK, status)
	list = decode[[]domain.Gateway](t, raw)
	require.Len(t, list, 1)
	assert.Equal(t, "stripe", list[0].ID)

	status, raw = f.do(t, http.MethodGet, "/gateways?category=bnpl&capability=refunds", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "[]", string(raw))

	status, raw = f.do(t, http.MethodPost, "/gateways",
		`{"id":"stcpay","category":"local_wallet","supportedCurrencies":["sar"],"active":true,"config":{"mode":"sandbox"}}`)
	require.Equal(t, http.StatusCreated, status, string(raw))
	assert.Equal(t, []string{"SAR"}, decode[domain.Gateway](t, raw).SupportedCurrencies)

	status, _ = f.do(t, http.MethodPost, "/gateways", `{"id":"bad","category":"local_wallet","supportedCurrencies":["SAR","USD"]}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodPost, "/payments/stcpay", cardPayment)
	assert.Equal(t, http.StatusOK, status)

	status, _ = f.do(t, http.MethodDelete, "/gateways/stcpay", "")
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = f.do(t, http.MethodPost, "/payments/stcpay", cardPayment)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, _ = f.do(t, http.MethodDelete, "/gateways/nope", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, raw = f.do(t, http.MethodGet, "/gateways", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]domain.Gateway](t, raw), 3, "inactive gateways are listed too")
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	status, _ := f.do(t, http.MethodPost, "/payments/stripe", cardPayment)
	require.Equal(t, http.StatusOK, status)

	status, raw := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, status)

	body := decode[map[string]any](t, raw)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"stripe": "closed"}, body["breakers"])
	assert.Equal(t, float64(1), body["dispatch"].(map[string]any)["processed"])
}
