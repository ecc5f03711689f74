package market

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"paymesh/internal/domain"
)

type seedFile struct {
	Markets []seedMarket `yaml:"markets"`
	Pegs    *seedPegs    `yaml:"pegs"`
	Rates   []seedRate   `yaml:"rates"`
}

type seedMarket struct {
	ID                 string    `yaml:"id"`
	Name               string    `yaml:"name"`
	Currency           string    `yaml:"currency"`
	Symbol             string    `yaml:"symbol"`
	SymbolPosition     string    `yaml:"symbolPosition"`
	ThousandsSeparator string    `yaml:"thousandsSeparator"`
	DecimalSeparator   string    `yaml:"decimalSeparator"`
	Precision          int32     `yaml:"precision"`
	TaxRatePercent     string    `yaml:"taxRatePercent"`
	Timezone           string    `yaml:"timezone"`
	BusinessHours      seedHours `yaml:"businessHours"`
}

type seedHours struct {
	Open    string   `yaml:"open"`
	Close   string   `yaml:"close"`
	Weekend []string `yaml:"weekend"`
}

type seedPegs struct {
	SpreadPercent string            `yaml:"spreadPercent"`
	Rates         map[string]string `yaml:"rates"`
}

type seedRate struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	Rate string `yaml:"rate"`
}

// LoadFile builds a registry from a YAML markets file. Pegs derive a full
// rate matrix; explicit rates are applied after and override derived ones.
func LoadFile(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read markets file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Registry, error) {
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse markets file: %w", err)
	}

	r := NewRegistry()
	for _, sm := range f.Markets {
		m, err := sm.toMarket()
		if err != nil {
			return nil, err
		}
		if err := r.RegisterMarket(m); err != nil {
			return nil, err
		}
	}

	if f.Pegs != nil {
		pegs := make(map[string]decimal.Decimal, len(f.Pegs.Rates))
		for code, v := range f.Pegs.Rates {
			d, err := decimal.NewFromString(v)
			if err != nil {
				return nil, fmt.Errorf("peg %s: %w", code, err)
			}
			pegs[code] = d
		}
		spread := decimal.Zero
		if f.Pegs.SpreadPercent != "" {
			s, err := decimal.NewFromString(f.Pegs.SpreadPercent)
			if err != nil {
				return nil, fmt.Errorf("spread: %w", err)
			}
			spread = s
		}
		for _, rate := range DeriveRates(pegs, spread) {
			if err := r.RegisterRate(rate.From, rate.To, rate.Rate); err != nil {
				return nil, err
			}
		}
	}

	for _, sr := range f.Rates {
		d, err := decimal.NewFromString(sr.Rate)
		if err != nil {
			return nil, fmt.Errorf("rate %s->%s: %w", sr.From, sr.To, err)
		}
		if err := r.RegisterRate(sr.From, sr.To, d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (sm seedMarket) toMarket() (domain.Market, error) {
	tax := decimal.Zero
	if sm.TaxRatePercent != "" {
		d, err := decimal.NewFromString(sm.TaxRatePercent)
		if err != nil {
			return domain.Market{}, fmt.Errorf("market %s tax rate: %w", sm.ID, err)
		}
		tax = d
	}

	weekend := make([]time.Weekday, 0, len(sm.BusinessHours.Weekend))
	for _, name := range sm.BusinessHours.Weekend {
		d, ok := weekdays[strings.ToLower(name)]
		if !ok {
			return domain.Market{}, fmt.Errorf("market %s: unknown weekday %q", sm.ID, name)
		}
		weekend = append(weekend, d)
	}

	return domain.Market{
		ID:                 sm.ID,
		Name:               sm.Name,
		CurrencyCode:       sm.Currency,
		CurrencySymbol:     sm.Symbol,
		SymbolPosition:     domain.SymbolPosition(strings.ToLower(sm.SymbolPosition)),
		ThousandsSeparator: sm.ThousandsSeparator,
		DecimalSeparator:   sm.DecimalSeparator,
		DecimalPrecision:   sm.Precision,
		TaxRatePercent:     tax,
		Timezone:           sm.Timezone,
		BusinessHours: domain.BusinessHours{
			Open:        sm.BusinessHours.Open,
			Close:       sm.BusinessHours.Close,
			WeekendDays: weekend,
		},
	}, nil
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// DeriveRates expands units-per-base pegs into a rate for every ordered pair,
// shaving spreadPercent off each direction.
func DeriveRates(pegs map[string]decimal.Decimal, spreadPercent decimal.Decimal) []domain.ExchangeRate {
	codes := make([]string, 0, len(pegs))
	for code := range pegs {
		codes = append(codes, strings.ToUpper(code))
	}
	sort.Strings(codes)

	upper := make(map[string]decimal.Decimal, len(pegs))
	for code, v := range pegs {
		upper[strings.ToUpper(code)] = v
	}

	factor := decimal.NewFromInt(1).Sub(spreadPercent.Div(decimal.NewFromInt(100)))
	out := make([]domain.ExchangeRate, 0, len(codes)*(len(codes)-1))
	for _, from := range codes {
		for _, to := range codes {
			if from == to {
				continue
			}
			mid := upper[to].Div(upper[from])
			out = append(out, domain.ExchangeRate{
				From: from,
				To:   to,
				Rate: mid.Mul(factor).Round(6),
			})
		}
	}
	return out
}

// Default returns the built-in GCC and US markets with a full rate matrix.
func Default() *Registry {
	r, err := Parse([]byte(defaultSeed))
	if err != nil {
		panic(fmt.Sprintf("market: built-in seed is invalid: %v", err))
	}
	return r
}

const defaultSeed = `
markets:
  - id: SA
    name: Saudi Arabia
    currency: SAR
    symbol: "ر.س"
    symbolPosition: after
    precision: 2
    taxRatePercent: "15"
    timezone: Asia/Riyadh
    businessHours: {open: "09:00", close: "17:00", weekend: [friday, saturday]}
  - id: AE
    name: United Arab Emirates
    currency: AED
    symbol: "د.إ"
    symbolPosition: after
    precision: 2
    taxRatePercent: "5"
    timezone: Asia/Dubai
    businessHours: {open: "08:00", close: "17:00", weekend: [saturday, sunday]}
  - id: KW
    name: Kuwait
    currency: KWD
    symbol: "د.ك"
    symbolPosition: after
    precision: 3
    taxRatePercent: "0"
    timezone: Asia/Kuwait
    businessHours: {open: "08:00", close: "16:00", weekend: [friday, saturday]}
  - id: BH
    name: Bahrain
    currency: BHD
    symbol: "د.ب"
    symbolPosition: after
    precision: 3
    taxRatePercent: "10"
    timezone: Asia/Bahrain
    businessHours: {open: "08:00", close: "16:00", weekend: [friday, saturday]}
  - id: OM
    name: Oman
    currency: OMR
    symbol: "ر.ع."
    symbolPosition: after
    precision: 3
    taxRatePercent: "5"
    timezone: Asia/Muscat
    businessHours: {open: "08:00", close: "16:00", weekend: [friday, saturday]}
  - id: QA
    name: Qatar
    currency: QAR
    symbol: "ر.ق"
    symbolPosition: after
    precision: 2
    taxRatePercent: "0"
    timezone: Asia/Qatar
    businessHours: {open: "08:00", close: "16:00", weekend: [friday, saturday]}
  - id: US
    name: United States
    currency: USD
    symbol: "$"
    symbolPosition: before
    precision: 2
    taxRatePercent: "0"
    timezone: America/New_York
    businessHours: {open: "09:00", close: "17:00", weekend: [saturday, sunday]}
pegs:
  spreadPercent: "0.5"
  rates:
    USD: "1"
    SAR: "3.75"
    AED: "3.6725"
    KWD: "0.3075"
    BHD: "0.376"
    OMR: "0.3845"
    QAR: "3.64"
`
