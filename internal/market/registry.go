package market

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"

	"paymesh/internal/domain"
)

type pair struct {
	from string
	to   string
}

// Registry holds markets and the exchange-rate matrix. It is filled once at
// start and read concurrently afterwards.
type Registry struct {
	mu         sync.RWMutex
	markets    map[string]domain.Market
	locations  map[string]*time.Location
	hours      map[string]openingHours
	byCurrency map[string]string
	rates      map[pair]decimal.Decimal
}

func NewRegistry() *Registry {
	return &Registry{
		markets:    make(map[string]domain.Market),
		locations:  make(map[string]*time.Location),
		hours:      make(map[string]openingHours),
		byCurrency: make(map[string]string),
		rates:      make(map[pair]decimal.Decimal),
	}
}

func (r *Registry) RegisterMarket(m domain.Market) error {
	m.ID = strings.ToUpper(strings.TrimSpace(m.ID))
	m.CurrencyCode = strings.ToUpper(strings.TrimSpace(m.CurrencyCode))

	if m.ID == "" {
		return fmt.Errorf("%w: market id is required", domain.ErrValidation)
	}
	if len(m.CurrencyCode) != 3 {
		return fmt.Errorf("%w: market %s has invalid currency %q", domain.ErrValidation, m.ID, m.CurrencyCode)
	}
	if m.DecimalPrecision < 0 || m.DecimalPrecision > 4 {
		return fmt.Errorf("%w: market %s has invalid precision %d", domain.ErrValidation, m.ID, m.DecimalPrecision)
	}
	if m.TaxRatePercent.IsNegative() {
		return fmt.Errorf("%w: market %s has negative tax rate", domain.ErrValidation, m.ID)
	}
	if m.SymbolPosition == "" {
		m.SymbolPosition = domain.SymbolBefore
	}
	if m.ThousandsSeparator == "" {
		m.ThousandsSeparator = ","
	}
	if m.DecimalSeparator == "" {
		m.DecimalSeparator = "."
	}
	if m.CurrencySymbol == "" {
		m.CurrencySymbol = m.CurrencyCode
	}

	loc, err := time.LoadLocation(m.Timezone)
	if err != nil {
		return fmt.Errorf("%w: market %s timezone: %v", domain.ErrValidation, m.ID, err)
	}
	hours, err := parseHours(m.BusinessHours)
	if err != nil {
		return fmt.Errorf("%w: market %s business hours: %v", domain.ErrValidation, m.ID, err)
	}
	m.BusinessHours.WeekendDays = append([]time.Weekday(nil), m.BusinessHours.WeekendDays...)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.markets[m.ID] = m
	r.locations[m.ID] = loc
	r.hours[m.ID] = hours
	if _, ok := r.byCurrency[m.CurrencyCode]; !ok {
		r.byCurrency[m.CurrencyCode] = m.ID
	}
	return nil
}

// RegisterRate stores the multiplicative rate for the ordered pair from->to.
func (r *Registry) RegisterRate(from, to string, rate decimal.Decimal) error {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return fmt.Errorf("%w: rate %s->%s is implicit", domain.ErrValidation, from, to)
	}
	if !rate.IsPositive() {
		return fmt.Errorf("%w: rate %s->%s must be positive", domain.ErrValidation, from, to)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rates[pair{from, to}] = rate
	return nil
}

func (r *Registry) Market(id string) (domain.Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.markets[strings.ToUpper(id)]
	if !ok {
		return domain.Market{}, fmt.Errorf("%w: %s", domain.ErrMarketNotFound, id)
	}
	return m, nil
}

// MarketForCurrency returns the first market registered with the currency.
func (r *Registry) MarketForCurrency(code string) (domain.Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byCurrency[strings.ToUpper(code)]
	if !ok {
		return domain.Market{}, fmt.Errorf("%w: no market for currency %s", domain.ErrMarketNotFound, code)
	}
	return r.markets[id], nil
}

func (r *Registry) Markets() []domain.Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Rates() []domain.ExchangeRate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ExchangeRate, 0, len(r.rates))
	for p, rate := range r.rates {
		out = append(out, domain.ExchangeRate{From: p.from, To: p.to, Rate: rate})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// Convert multiplies amount by the registered from->to rate. Converting a
// currency to itself is the identity; any other pair without a rate fails.
func (r *Registry) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return amount, nil
	}

	r.mu.RLock()
	rate, ok := r.rates[pair{from, to}]
	r.mu.RUnlock()

	if !ok {
		return decimal.Zero, domain.NewPaymentError(domain.ErrConversionUnavailable, "no exchange rate for %s->%s", from, to)
	}
	return amount.Mul(rate), nil
}

// Precision returns the decimal precision of the currency's home market.
func (r *Registry) Precision(currency string) (int32, error) {
	m, err := r.MarketForCurrency(currency)
	if err != nil {
		return 0, err
	}
	return m.DecimalPrecision, nil
}

// SplitTax treats amount as tax inclusive and separates the VAT portion.
func (r *Registry) SplitTax(amount decimal.Decimal, marketID string) (net, tax decimal.Decimal, err error) {
	m, err := r.Market(marketID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if m.TaxRatePercent.IsZero() {
		return amount, decimal.Zero, nil
	}

	hundred := decimal.NewFromInt(100)
	tax = amount.Mul(m.TaxRatePercent).Div(hundred.Add(m.TaxRatePercent)).Round(m.DecimalPrecision)
	return amount.Sub(tax), tax, nil
}
