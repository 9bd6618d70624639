package paper

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"fxbot-go/internal/signal"
)

const epsilon = 1e-9

var (
	ErrInvalidFill   = errors.New("quantity and price must be positive")
	ErrPositionLimit = errors.New("position limit exceeded")
)

// positionState is a netted position: positive units are long, negative short.
type positionState struct {
	Units    float64
	AvgPrice float64
}

// Account tracks virtual cash, realized PnL, and per-instrument netted positions in dry-run mode.
type Account struct {
	mu               sync.Mutex
	startingCash     float64
	cash             float64
	realizedPnL      float64
	commissions      float64
	maxUnitsPerInstr float64
	positions        map[string]positionState
}

// PositionSnapshot exposes a read-only view of a single instrument position.
type PositionSnapshot struct {
	Units      float64
	AvgPrice   float64
	Unrealized float64
}

// Snapshot represents a thread-safe view of the account state, optionally marked to market using provided prices.
type Snapshot struct {
	Cash        float64
	RealizedPnL float64
	Commissions float64
	Equity      float64
	Positions   map[string]PositionSnapshot
}

// NewAccount constructs an account with starting cash and an optional absolute position cap in units.
func NewAccount(startingCash, maxUnitsPerInstrument float64) *Account {
	return &Account{
		startingCash:     startingCash,
		cash:             startingCash,
		maxUnitsPerInstr: maxUnitsPerInstrument,
		positions:        make(map[string]positionState),
	}
}

// StartingCash returns the initial bankroll.
func (a *Account) StartingCash() float64 { return a.startingCash }

// Fill books a market fill. Fills against an open position realize P&L on the closed
// part; any remainder opens or extends the position at the fill price. Cash moves by
// realized P&L minus commission.
func (a *Account) Fill(instrument string, action signal.Action, units, price, commission float64) (float64, error) {
	if units <= 0 || price <= 0 {
		return 0, ErrInvalidFill
	}
	signed := units
	switch action {
	case signal.Buy:
	case signal.Sell:
		signed = -units
	default:
		return 0, errors.New("unknown order side")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.positions[instrument]
	newUnits := state.Units + signed
	if a.maxUnitsPerInstr > 0 && math.Abs(newUnits) > a.maxUnitsPerInstr+epsilon {
		return 0, ErrPositionLimit
	}

	var realized float64
	switch {
	case state.Units == 0 || sameSign(state.Units, signed):
		total := math.Abs(state.Units) + units
		state.AvgPrice = (state.AvgPrice*math.Abs(state.Units) + price*units) / total
		state.Units = newUnits
	default:
		closed := math.Min(math.Abs(state.Units), units)
		if state.Units > 0 {
			realized = (price - state.AvgPrice) * closed
		} else {
			realized = (state.AvgPrice - price) * closed
		}
		if units > math.Abs(state.Units) {
			// flipped through flat; the remainder is a new position
			state.AvgPrice = price
		}
		state.Units = newUnits
	}

	a.realizedPnL += realized
	a.commissions += commission
	a.cash += realized - commission
	if math.Abs(state.Units) <= epsilon {
		delete(a.positions, instrument)
	} else {
		a.positions[instrument] = state
	}
	return realized, nil
}

// AccountBalance serves dry-run position sizing.
func (a *Account) AccountBalance(context.Context) (decimal.Decimal, error) {
	return decimal.NewFromFloat(a.AvailableCash()), nil
}

// CloseAllPositions flattens the simulated book at average price, realizing nothing.
func (a *Account) CloseAllPositions(context.Context) error {
	a.mu.Lock()
	a.positions = make(map[string]positionState)
	a.mu.Unlock()
	return nil
}

// Snapshot returns a copy of balances, optionally marked using the supplied prices map.
func (a *Account) Snapshot(prices map[string]float64) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	positions := make(map[string]PositionSnapshot, len(a.positions))
	equity := a.cash
	for inst, pos := range a.positions {
		var unrealized float64
		if mark := prices[inst]; mark > 0 {
			unrealized = (mark - pos.AvgPrice) * pos.Units
		}
		positions[inst] = PositionSnapshot{Units: pos.Units, AvgPrice: pos.AvgPrice, Unrealized: unrealized}
		equity += unrealized
	}

	return Snapshot{
		Cash:        a.cash,
		RealizedPnL: a.realizedPnL,
		Commissions: a.commissions,
		Equity:      equity,
		Positions:   positions,
	}
}

// AvailableCash reports the current cash balance.
func (a *Account) AvailableCash() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash
}

// Position returns the signed position in units for the supplied instrument.
func (a *Account) Position(instrument string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positions[instrument].Units
}

// RealizedPnL returns total closed-trade profit and loss before commissions.
func (a *Account) RealizedPnL() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.realizedPnL
}

func sameSign(a, b float64) bool { return (a > 0) == (b > 0) }
