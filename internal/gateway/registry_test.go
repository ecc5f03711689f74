package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paymesh/internal/domain"
)

type memoryGatewayStore struct {
	mu      sync.Mutex
	saved   map[string]domain.Gateway
	saveErr error
	loadErr error
	preload []domain.Gateway
}

func (s *memoryGatewayStore) SaveGateway(_ context.Context, g domain.Gateway) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if s.saved == nil {
		s.saved = map[string]domain.Gateway{}
	}
	s.saved[g.ID] = g
	return nil
}

func (s *memoryGatewayStore) LoadGateways(context.Context) ([]domain.Gateway, error) {
	return s.preload, s.loadErr
}

func stripe() domain.Gateway {
	return domain.Gateway{
		ID:                  "stripe",
		DisplayName:         "Stripe",
		Category:            domain.CategoryCard,
		SupportedCurrencies: []string{"sar", "USD"},
		Active:              true,
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()

	g, err := r.Register(ctx, stripe())
	require.NoError(t, err)
	assert.Equal(t, []string{"SAR", "USD"}, g.SupportedCurrencies)
	assert.NotNil(t, g.Config)

	got, err := r.Get("stripe")
	require.NoError(t, err)
	assert.Equal(t, "Stripe", got.DisplayName)

	_, err = r.Get("adyen")
	assert.ErrorIs(t, err, domain.ErrGatewayNotFound)
}

func TestGetReturnsCopy(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Register(context.Background(), stripe())
	require.NoError(t, err)

	g, _ := r.Get("stripe")
	g.SupportedCurrencies[0] = "EUR"
	g.Config["endpoint"] = "http://evil"

	again, _ := r.Get("stripe")
	assert.Equal(t, "SAR", again.SupportedCurrencies[0])
	assert.Empty(t, again.Config["endpoint"])
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()

	tests := []struct {
		name string
		gw   domain.Gateway
	}{
		{"missing id", domain.Gateway{Category: domain.CategoryCard, SupportedCurrencies: []string{"SAR"}}},
		{"unknown category", domain.Gateway{ID: "x", Category: "cheque", SupportedCurrencies: []string{"SAR"}}},
		{"no currencies", domain.Gateway{ID: "x", Category: domain.CategoryCard}},
		{"bad currency", domain.Gateway{ID: "x", Category: domain.CategoryCard, SupportedCurrencies: []string{"RIYAL"}}},
		{"wallet with two currencies", domain.Gateway{ID: "stcpay", Category: domain.CategoryLocalWallet, SupportedCurrencies: []string{"SAR", "USD"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Register(ctx, tt.gw)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestDeactivate(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()
	_, err := r.Register(ctx, stripe())
	require.NoError(t, err)

	require.NoError(t, r.Deactivate(ctx, "stripe"))

	g, err := r.Get("stripe")
	require.NoError(t, err)
	assert.False(t, g.Active)
	assert.Empty(t, r.ListActive(nil))
	assert.Len(t, r.List(nil), 1)

	assert.ErrorIs(t, r.Deactivate(ctx, "missing"), domain.ErrGatewayNotFound)
}

func TestListActiveByCategory(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()

	for _, g := range []domain.Gateway{
		stripe(),
		{ID: "checkout", Category: domain.CategoryCard, SupportedCurrencies: []string{"AED"}, Active: true},
		{ID: "tamara", Category: domain.CategoryBNPL, SupportedCurrencies: []string{"SAR"}, Active: true},
		{ID: "tabby", Category: domain.CategoryBNPL, SupportedCurrencies: []string{"SAR", "AED"}, Active: false},
	} {
		_, err := r.Register(ctx, g)
		require.NoError(t, err)
	}

	card := domain.CategoryCard
	cards := r.ListActive(&card)
	require.Len(t, cards, 2)
	assert.Equal(t, "checkout", cards[0].ID)
	assert.Equal(t, "stripe", cards[1].ID)

	bnpl := domain.CategoryBNPL
	assert.Len(t, r.ListActive(&bnpl), 1)
	assert.Len(t, r.List(&bnpl), 2)
	assert.Len(t, r.ListActive(nil), 3)

	crypto := domain.CategoryCrypto
	assert.Empty(t, r.ListActive(&crypto))
}

func TestReRegisterMovesCategory(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()
	_, err := r.Register(ctx, stripe())
	require.NoError(t, err)

	moved := stripe()
	moved.Category = domain.CategorySubscription
	_, err = r.Register(ctx, moved)
	require.NoError(t, err)

	card := domain.CategoryCard
	sub := domain.CategorySubscription
	assert.Empty(t, r.ListActive(&card))
	assert.Len(t, r.ListActive(&sub), 1)
}

func TestSupports(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Register(context.Background(), stripe())
	require.NoError(t, err)

	assert.True(t, r.Supports("stripe", "SAR"))
	assert.True(t, r.Supports("stripe", "usd"))
	assert.False(t, r.Supports("stripe", "KWD"))
	assert.False(t, r.Supports("missing", "SAR"))
}

func TestStoreWriteThroughAndLoad(t *testing.T) {
	ctx := context.Background()
	store := &memoryGatewayStore{}
	r := NewRegistry(store)

	_, err := r.Register(ctx, stripe())
	require.NoError(t, err)
	require.NoError(t, r.Deactivate(ctx, "stripe"))
	assert.False(t, store.saved["stripe"].Active)

	store.preload = []domain.Gateway{stripe(), {ID: "", Category: domain.CategoryCard}}
	loaded := NewRegistry(store)
	require.NoError(t, loaded.Load(ctx))
	assert.Len(t, loaded.List(nil), 1)

	store.saveErr = errors.New("disk full")
	_, err = r.Register(ctx, stripe())
	assert.ErrorContains(t, err, "disk full")

	store.loadErr = errors.New("connection refused")
	assert.Error(t, NewRegistry(store).Load(ctx))
}

func TestSeedKeepsStoredDeactivation(t *testing.T) {
	ctx := context.Background()
	store := &memoryGatewayStore{}

	first := NewRegistry(store)
	require.NoError(t, first.Seed(ctx, []domain.Gateway{stripe()}))
	require.NoError(t, first.Deactivate(ctx, "stripe"))

	store.preload = []domain.Gateway{store.saved["stripe"]}
	tamara := domain.Gateway{ID: "tamara", Category: domain.CategoryBNPL, SupportedCurrencies: []string{"SAR"}, Active: true}

	restarted := NewRegistry(store)
	require.NoError(t, restarted.Load(ctx))
	require.NoError(t, restarted.Seed(ctx, []domain.Gateway{stripe(), tamara}))

	g, err := restarted.Get("stripe")
	require.NoError(t, err)
	assert.False(t, g.Active)
	assert.False(t, store.saved["stripe"].Active)
	active := restarted.ListActive(nil)
	require.Len(t, active, 1)
	assert.Equal(t, "tamara", active[0].ID)

	g, err = restarted.Get("tamara")
	require.NoError(t, err)
	assert.True(t, g.Active)

	assert.ErrorIs(t, restarted.Seed(ctx, []domain.Gateway{{ID: "bad"}}), domain.ErrValidation)
}
