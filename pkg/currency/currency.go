package currency

import (
	"strings"

	"ticketing-settlement/pkg/config"

	"go.uber.org/fx"
)

var Module = fx.Module("currency", fx.Provide(NewRegistry))

// Thresholds is the per-currency configuration consumed by settlement.
type Thresholds interface {
	MinimumPayout(code string) int64
	Symbol(code string) string
}

// Registry holds minimum payouts in minor units and display symbols.
type Registry struct {
	defaultMinimum int64
	currencies     map[string]config.Currency
}

func NewRegistry(cfg *config.Config) *Registry {
	return New(cfg.Settlement.DefaultMinimumPayout, cfg.Settlement.Currencies...)
}

func New(defaultMinimum int64, currencies ...config.Currency) *Registry {
	r := &Registry{defaultMinimum: defaultMinimum, currencies: make(map[string]config.Currency, len(currencies))}
	for _, c := range currencies {
		code := Normalize(c.Code)
		if code == "" {
			continue
		}
		c.Code = code
		r.currencies[code] = c
	}
	return r
}

func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (r *Registry) MinimumPayout(code string) int64 {
	if c, ok := r.currencies[Normalize(code)]; ok {
		return c.MinimumPayout
	}
	return r.defaultMinimum
}

// Symbol is for display only; unknown currencies render as their code.
func (r *Registry) Symbol(code string) string {
	code = Normalize(code)
	if c, ok := r.currencies[code]; ok && c.Symbol != "" {
		return c.Symbol
	}
	return code
}
