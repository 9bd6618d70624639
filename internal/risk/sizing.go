package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"fxbot-go/internal/signal"
)

var lotUnits = decimal.NewFromInt(signal.LotUnits)

// PositionSize risks RiskFraction of the balance scaled by signal strength, capped at
// MaxOrderSize. Currency pairs against the funding currency are returned in lots.
func PositionSize(cfg Config, instrument string, strength float64, balance decimal.Decimal) decimal.Decimal {
	if !balance.IsPositive() || math.IsNaN(strength) {
		return decimal.Zero
	}
	base := balance.Mul(cfg.RiskFraction)
	size := base.Mul(decimal.NewFromFloat(math.Abs(strength)))
	if size.GreaterThan(cfg.MaxOrderSize) {
		size = cfg.MaxOrderSize
	}
	if signal.IsCurrencyPair(instrument, cfg.FundingCurrency) {
		size = size.Div(lotUnits).Round(2)
	}
	if size.IsNegative() {
		return decimal.Zero
	}
	return size
}
