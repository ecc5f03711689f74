package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paymesh/internal/domain"
)

type stubTransport struct {
	reply Reply
	err   error
	calls []Call
}

func (s *stubTransport) Send(_ context.Context, call Call) (Reply, error) {
	s.calls = append(s.calls, call)
	return s.reply, s.err
}

var now = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func invocation(category domain.Category, amount string, currency string) Invocation {
	return Invocation{
		PaymentID: "gw_1_abc",
		Gateway: domain.Gateway{
			ID:                  "gw",
			Category:            category,
			SupportedCurrencies: []string{currency},
			Active:              true,
			Config:              map[string]string{},
		},
		Request: domain.PaymentRequest{
			Amount:      decimal.RequireFromString(amount),
			Currency:    currency,
			Description: "order #1",
		},
		Market: &domain.Market{ID: "SA", CurrencyCode: "SAR", DecimalPrecision: 2},
		Now:    now,
	}
}

func TestCardAdapter(t *testing.T) {
	ctx := context.Background()

	t.Run("approved completes", func(t *testing.T) {
		tr := &stubTransport{reply: Reply{Status: ReplyApproved, TransactionID: "ch_1"}}
		out, err := NewCardAdapter(tr).Invoke(ctx, invocation(domain.CategoryCard, "100", "SAR"))
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, out.Status)
		assert.Equal(t, "ch_1", out.TransactionID)
		assert.Equal(t, true, out.Metadata["captured"])
		assert.Equal(t, domain.CaptureAutomatic, tr.calls[0].CaptureMode)
	})

	t.Run("manual capture is not captured", func(t *testing.T) {
		tr := &stubTransport{reply: Reply{Status: ReplyApproved, TransactionID: "ch_2"}}
		inv := invocation(domain.CategoryCard, "100", "SAR")
		inv.Request.CaptureMode = domain.CaptureManual
		out, err := NewCardAdapter(tr).Invoke(ctx, inv)
		require.NoError(t, err)
		assert.Equal(t, false, out.Metadata["captured"])
	})

	t.Run("declined", func(t *testing.T) {
		tr := &stubTransport{reply: Reply{Status: ReplyDeclined, Reason: "insufficient funds"}}
		out, err := NewCardAdapter(tr).Invoke(ctx, invocation(domain.CategoryCard, "100", "SAR"))
		require.NoError(t, err)
		assert.True(t, out.Declined)
		assert.Equal(t, "insufficient funds", out.Reason)
	})

	t.Run("pending is a protocol failure", func(t *testing.T) {
		tr := &stubTransport{reply: Reply{Status: ReplyPending, TransactionID: "ch_3"}}
		_, err := NewCardAdapter(tr).Invoke(ctx, invocation(domain.CategoryCard, "100", "SAR"))
		assert.ErrorIs(t, err, domain.ErrProviderFailure)
	})

	t.Run("approved without transaction id", func(t *testing.T) {
		tr := &stubTransport{reply: Reply{Status: ReplyApproved}}
		_, err := NewCardAdapter(tr).Invoke(ctx, invocation(domain.CategoryCard, "100", "SAR"))
		assert.ErrorIs(t, err, domain.ErrProviderFailure)
	})
}

func TestLocalWalletAdapterRejectsForeignCurrency(t *testing.T) {
	tr := &stubTransport{reply: Reply{Status: ReplyApproved, TransactionID: "w_1"}}
	inv := invocation(domain.CategoryLocalWallet, "50", "SAR")

	out, err := NewLocalWalletAdapter(tr).Invoke(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, out.Status)
	assert.Equal(t, "SAR", out.Metadata["homeCurrency"])

	inv.Request.Currency = "USD"
	_, err = NewLocalWalletAdapter(tr).Invoke(context.Background(), inv)
	assert.ErrorIs(t, err, domain.ErrCurrencyUnsupported)
	assert.Len(t, tr.calls, 1)
}

func TestBNPLAdapter(t *testing.T) {
	tr := &stubTransport{reply: Reply{Status: ReplyApproved, TransactionID: "tmr_1", RedirectURL: "https://checkout.example/tmr_1"}}

	out, err := NewBNPLAdapter(tr).Invoke(context.Background(), invocation(domain.CategoryBNPL, "100", "SAR"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, out.Status)
	assert.Equal(t, 4, out.Metadata["installments"])
	assert.Equal(t, "25.00", out.Metadata["firstPayment"])
	assert.Equal(t, "https://checkout.example/tmr_1", out.RedirectURL)

	schedule := out.Metadata["schedule"].([]map[string]any)
	require.Len(t, schedule, 4)
	assert.Equal(t, "2026-11-17T09:00:00Z", schedule[1]["dueDate"])

	tr.reply = Reply{Status: ReplyDeclined, Reason: "credit check failed"}
	out, err = NewBNPLAdapter(tr).Invoke(context.Background(), invocation(domain.CategoryBNPL, "100", "SAR"))
	require.NoError(t, err)
	assert.True(t, out.Declined)
}

func TestBNPLInstallmentsFromConfig(t *testing.T) {
	tr := &stubTransport{reply: Reply{Status: ReplyPending}}
	inv := invocation(domain.CategoryBNPL, "100", "SAR")
	inv.Gateway.Config["installments"] = "3"

	out, err := NewBNPLAdapter(tr).Invoke(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Metadata["installments"])
	assert.Equal(t, "33.33", out.Metadata["firstPayment"])
}

func TestInstallmentsSumToAmount(t *testing.T) {
	amount := decimal.RequireFromString("100.001")
	parts := Installments(amount, 3, 3, now)

	sum := decimal.Zero
	for _, p := range parts {
		sum = sum.Add(p.Amount)
	}
	assert.True(t, sum.Equal(amount))
	assert.Equal(t, "33.333", parts[0].Amount.StringFixed(3))
	assert.Equal(t, "33.335", parts[2].Amount.StringFixed(3))
	assert.Equal(t, now.Add(60*24*time.Hour), parts[2].DueDate)
}

func TestCryptoAdapter(t *testing.T) {
	tr := &stubTransport{reply: Reply{Status: ReplyApproved, TransactionID: "tx_1"}}
	inv := invocation(domain.CategoryCrypto, "100", "USD")
	inv.Gateway.Config["settlementAddress"] = "bc1qexample"
	inv.Gateway.Config["network"] = "bitcoin"

	out, err := NewCryptoAdapter(tr).Invoke(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, out.Status)
	assert.Equal(t, "bc1qexample", out.Metadata["settlementAddress"])
	assert.Equal(t, "bitcoin", out.Metadata["network"])
	assert.Equal(t, 3, out.Metadata["confirmationsRequired"])
	assert.Equal(t, "2026-10-18T09:30:00Z", out.Metadata["expectedConfirmationBy"])

	tr.reply = Reply{Status: ReplyApproved, Data: map[string]any{"settlementAddress": "0xabc"}}
	out, err = NewCryptoAdapter(tr).Invoke(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", out.Metadata["settlementAddress"])

	delete(inv.Gateway.Config, "settlementAddress")
	tr.reply = Reply{Status: ReplyApproved}
	_, err = NewCryptoAdapter(tr).Invoke(context.Background(), inv)
	assert.ErrorIs(t, err, domain.ErrProviderFailure)
}

func TestSubscriptionAdapter(t *testing.T) {
	tr := &stubTransport{reply: Reply{Status: ReplyApproved, TransactionID: "in_1"}}

	out, err := NewSubscriptionAdapter(tr).Invoke(context.Background(), invocation(domain.CategorySubscription, "49.99", "SAR"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, out.Status)
	assert.Contains(t, out.Metadata["subscriptionId"], "sub_")
	assert.Equal(t, "monthly", out.Metadata["interval"])
	assert.Equal(t, "2026-11-17T09:00:00Z", out.Metadata["nextBillingDate"])
	assert.True(t, tr.calls[0].Recurring)
}

func TestHTTPTransport(t *testing.T) {
	var gotAuth, gotKey string
	var gotCall Call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		body, _ := io.ReadAll(r.Body)
		_ = sonic.Unmarshal(body, &gotCall)

		switch gotCall.Description {
		case "decline":
			w.WriteHeader(http.StatusPaymentRequired)
			_, _ = w.Write([]byte(`{"reason":"card expired"}`))
		case "boom":
			w.WriteHeader(http.StatusBadGateway)
		case "garbage":
			_, _ = w.Write([]byte(`{"status":`))
		case "weird":
			_, _ = w.Write([]byte(`{"status":"maybe"}`))
		default:
			_, _ = w.Write([]byte(`{"status":"approved","transactionId":"ch_9","data":{"last4":"4242"}}`))
		}
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.Client(), srv.URL+"/", "sk_test")
	ctx := context.Background()
	call := Call{PaymentID: "stripe_1_x", Amount: decimal.RequireFromString("100.50"), Currency: "SAR", Description: "ok"}

	reply, err := tr.Send(ctx, call)
	require.NoError(t, err)
	assert.Equal(t, ReplyApproved, reply.Status)
	assert.Equal(t, "ch_9", reply.TransactionID)
	assert.Equal(t, "4242", reply.Data["last4"])
	assert.Equal(t, "Bearer sk_test", gotAuth)
	assert.Equal(t, "stripe_1_x", gotKey)
	assert.True(t, gotCall.Amount.Equal(decimal.RequireFromString("100.50")))

	call.Description = "decline"
	reply, err = tr.Send(ctx, call)
	require.NoError(t, err)
	assert.Equal(t, ReplyDeclined, reply.Status)
	assert.Equal(t, "card expired", reply.Reason)

	for _, d := range []string{"boom", "garbage", "weird"} {
		call.Description = d
		_, err = tr.Send(ctx, call)
		assert.ErrorIs(t, err, domain.ErrProviderFailure, d)
	}
}

func TestSandboxTransport(t *testing.T) {
	tr := SandboxTransport{DeclineAbove: decimal.NewNullDecimal(decimal.NewFromInt(1000))}

	reply, err := tr.Send(context.Background(), Call{Amount: decimal.NewFromInt(999)})
	require.NoError(t, err)
	assert.Equal(t, ReplyApproved, reply.Status)
	assert.NotEmpty(t, reply.TransactionID)

	reply, err = tr.Send(context.Background(), Call{Amount: decimal.NewFromInt(1001)})
	require.NoError(t, err)
	assert.Equal(t, ReplyDeclined, reply.Status)
}

func TestFactory(t *testing.T) {
	f := NewFactory(nil)

	a, err := f.Adapter(domain.Gateway{ID: "tamara", Category: domain.CategoryBNPL, Config: map[string]string{"mode": "sandbox"}})
	require.NoError(t, err)
	assert.IsType(t, &BNPLAdapter{}, a)

	a, err = f.Adapter(domain.Gateway{ID: "stripe", Category: domain.CategoryCard, Config: map[string]string{"endpoint": "http://localhost:9"}})
	require.NoError(t, err)
	assert.IsType(t, &CardAdapter{}, a)

	_, err = f.Adapter(domain.Gateway{ID: "stripe", Category: domain.CategoryCard, Config: map[string]string{}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.Adapter(domain.Gateway{ID: "x", Category: domain.CategoryCard, Config: map[string]string{"mode": "sandbox", "sandboxDeclineAbove": "lots"}})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
