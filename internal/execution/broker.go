package execution

import (
	"context"

	"github.com/shopspring/decimal"

	"fxbot-go/internal/signal"
)

// OrderRequest is what the engine asks a broker to execute.
type OrderRequest struct {
	ClientID   string
	Instrument string
	Action     signal.Action
	Quantity   decimal.Decimal
	OrderType  OrderType
}

// BrokerResult is the broker's answer. Success false means the broker declined the
// order; transport problems are returned as errors instead.
type BrokerResult struct {
	Success    bool
	OrderID    string
	Price      decimal.Decimal
	Commission decimal.Decimal
	PnL        decimal.NullDecimal
	Error      string
}

// BrokerClient is the single seam to a live venue.
type BrokerClient interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (BrokerResult, error)
	AccountBalance(ctx context.Context) (decimal.Decimal, error)
	CloseAllPositions(ctx context.Context) error
}

// TradeStore persists terminal orders.
type TradeStore interface {
	SaveTrade(ctx context.Context, o Order) error
}

// QuoteSource prices simulated fills. ok is false when no quote is known.
type QuoteSource interface {
	Latest(ctx context.Context, instrument string) (q signal.Quote, ok bool, err error)
}

// RiskRecorder receives the trade count and realized P&L of each outcome.
type RiskRecorder interface {
	RecordTrade()
	RecordPnL(delta decimal.Decimal)
}

// SimulatedAccount books dry-run fills and returns the realized P&L they produce.
type SimulatedAccount interface {
	Fill(instrument string, action signal.Action, units, price, commission float64) (realized float64, err error)
}
