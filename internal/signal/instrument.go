package signal

import "strings"

// LotUnits is the number of base-currency units in one standard FX lot.
const LotUnits = 100000

// IsCurrencyPair reports whether instrument looks like a six-letter FX pair quoted
// against (or based in) the funding currency, e.g. EURUSD or USDJPY for "USD".
func IsCurrencyPair(instrument, funding string) bool {
	instrument = strings.ToUpper(strings.TrimSpace(instrument))
	funding = strings.ToUpper(strings.TrimSpace(funding))
	if len(instrument) != 6 || len(funding) != 3 {
		return false
	}
	for _, r := range instrument {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return strings.HasPrefix(instrument, funding) || strings.HasSuffix(instrument, funding)
}

// PipSize returns the minimal quoted increment used for commissions and synthetic spreads.
func PipSize(instrument string) float64 {
	if strings.Contains(strings.ToUpper(instrument), "JPY") {
		return 0.01
	}
	return 0.0001
}
