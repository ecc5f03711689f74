package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"paymesh/internal/domain"
)

// Registry holds one descriptor per provider. Lookups by id are O(1) and by
// category O(k) over that category's index. Writes are administrative.
type Registry struct {
	mu         sync.RWMutex
	gateways   map[string]domain.Gateway
	byCategory map[domain.Category]map[string]struct{}
	store      domain.GatewayStore
}

// NewRegistry builds an empty registry. store may be nil, in which case
// registrations only live in memory.
func NewRegistry(store domain.GatewayStore) *Registry {
	return &Registry{
		gateways:   make(map[string]domain.Gateway),
		byCategory: make(map[domain.Category]map[string]struct{}),
		store:      store,
	}
}

// Load fills the registry from the store.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	gateways, err := r.store.LoadGateways(ctx)
	if err != nil {
		return fmt.Errorf("load gateways: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range gateways {
		g, err := normalize(g)
		if err != nil {
			slog.Warn("Skipping stored gateway", "gatewayId", g.ID, "err", err)
			continue
		}
		r.put(g)
	}
	slog.Info("Gateways loaded", "count", len(gateways))
	return nil
}

// Register validates and stores g, replacing any descriptor with the same id.
func (r *Registry) Register(ctx context.Context, g domain.Gateway) (domain.Gateway, error) {
	g, err := normalize(g)
	if err != nil {
		return domain.Gateway{}, err
	}

	if r.store != nil {
		if err := r.store.SaveGateway(ctx, g); err != nil {
			return domain.Gateway{}, fmt.Errorf("save gateway %s: %w", g.ID, err)
		}
	}

	r.mu.Lock()
	r.put(g)
	r.mu.Unlock()

	slog.Info("Gateway registered", "gatewayId", g.ID, "category", g.Category, "active", g.Active)
	return g.Clone(), nil
}

// Seed registers the gateways whose ids are not known yet. A descriptor
// already loaded from the store wins over its seed, so an operator's
// deactivation survives restarts.
func (r *Registry) Seed(ctx context.Context, gateways []domain.Gateway) error {
	for _, g := range gateways {
		r.mu.RLock()
		_, known := r.gateways[strings.TrimSpace(g.ID)]
		r.mu.RUnlock()
		if known {
			slog.Info("Keeping stored gateway over its seed", "gatewayId", g.ID)
			continue
		}
		if _, err := r.Register(ctx, g); err != nil {
			return fmt.Errorf("seed gateway %s: %w", g.ID, err)
		}
	}
	return nil
}

func (r *Registry) Deactivate(ctx context.Context, id string) error {
	r.mu.RLock()
	g, ok := r.gateways[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrGatewayNotFound, id)
	}

	g = g.Clone()
	g.Active = false
	if r.store != nil {
		if err := r.store.SaveGateway(ctx, g); err != nil {
			return fmt.Errorf("save gateway %s: %w", id, err)
		}
	}

	r.mu.Lock()
	r.put(g)
	r.mu.Unlock()

	slog.Info("Gateway deactivated", "gatewayId", id)
	return nil
}

func (r *Registry) Get(id string) (domain.Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.gateways[id]
	if !ok {
		return domain.Gateway{}, fmt.Errorf("%w: %s", domain.ErrGatewayNotFound, id)
	}
	return g.Clone(), nil
}

func (r *Registry) Supports(id, currency string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.gateways[id]
	return ok && g.Supports(currency)
}

// ListActive returns active gateways ordered by id. A nil category lists
// every category.
func (r *Registry) ListActive(category *domain.Category) []domain.Gateway {
	return r.list(category, true)
}

// List is ListActive including inactive gateways.
func (r *Registry) List(category *domain.Category) []domain.Gateway {
	return r.list(category, false)
}

func (r *Registry) list(category *domain.Category, activeOnly bool) []domain.Gateway {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Gateway
	collect := func(id string) {
		g := r.gateways[id]
		if activeOnly && !g.Active {
			return
		}
		out = append(out, g.Clone())
	}

	if category != nil {
		for id := range r.byCategory[*category] {
			collect(id)
		}
	} else {
		for id := range r.gateways {
			collect(id)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// put must be called with mu held.
func (r *Registry) put(g domain.Gateway) {
	if prev, ok := r.gateways[g.ID]; ok && prev.Category != g.Category {
		delete(r.byCategory[prev.Category], g.ID)
	}
	if r.byCategory[g.Category] == nil {
		r.byCategory[g.Category] = make(map[string]struct{})
	}
	r.byCategory[g.Category][g.ID] = struct{}{}
	r.gateways[g.ID] = g.Clone()
}

func normalize(g domain.Gateway) (domain.Gateway, error) {
	g = g.Clone()
	g.ID = strings.TrimSpace(g.ID)
	if g.ID == "" {
		return g, fmt.Errorf("%w: gateway id is required", domain.ErrValidation)
	}
	if !g.Category.Valid() {
		return g, fmt.Errorf("%w: gateway %s has unknown category %q", domain.ErrValidation, g.ID, g.Category)
	}
	if g.DisplayName == "" {
		g.DisplayName = g.ID
	}

	seen := make(map[string]bool, len(g.SupportedCurrencies))
	currencies := g.SupportedCurrencies[:0]
	for _, c := range g.SupportedCurrencies {
		c = strings.ToUpper(strings.TrimSpace(c))
		if len(c) != 3 {
			return g, fmt.Errorf("%w: gateway %s has invalid currency %q", domain.ErrValidation, g.ID, c)
		}
		if !seen[c] {
			seen[c] = true
			currencies = append(currencies, c)
		}
	}
	g.SupportedCurrencies = currencies

	if len(g.SupportedCurrencies) == 0 {
		return g, fmt.Errorf("%w: gateway %s supports no currency", domain.ErrValidation, g.ID)
	}
	if g.Category == domain.CategoryLocalWallet && len(g.SupportedCurrencies) != 1 {
		return g, fmt.Errorf("%w: local wallet %s must have exactly one home currency", domain.ErrValidation, g.ID)
	}
	if g.Config == nil {
		g.Config = map[string]string{}
	}
	return g, nil
}
