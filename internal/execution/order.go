package execution

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fxbot-go/internal/signal"
)

var ErrInvalidTransition = errors.New("invalid order state transition")

// Status is the lifecycle position of an order.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusFilled   Status = "FILLED"
	StatusRejected Status = "REJECTED"
	StatusFailed   Status = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusRejected || s == StatusFailed
}

// OrderType mirrors the broker order kinds the engine can request.
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

// Order is one execution attempt and, once terminal, the trade record handed to storage.
type Order struct {
	ID            uuid.UUID           `json:"id"`
	Instrument    string              `json:"instrument"`
	Action        signal.Action       `json:"action"`
	Quantity      decimal.Decimal     `json:"quantity"`
	Price         decimal.NullDecimal `json:"price"`
	OrderType     OrderType           `json:"order_type"`
	Status        Status              `json:"status"`
	BrokerOrderID string              `json:"broker_order_id,omitempty"`
	Commission    decimal.Decimal     `json:"commission"`
	PnL           decimal.NullDecimal `json:"pnl"`
	Reason        string              `json:"reason,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	FilledAt      *time.Time          `json:"filled_at,omitempty"`
	Metadata      map[string]any      `json:"metadata,omitempty"`
}

// NewOrder creates a PENDING order with a fresh ID.
func NewOrder(instrument string, action signal.Action, qty decimal.Decimal, typ OrderType, now time.Time) Order {
	if typ == "" {
		typ = Market
	}
	return Order{
		ID:         uuid.New(),
		Instrument: instrument,
		Action:     action,
		Quantity:   qty,
		OrderType:  typ,
		Status:     StatusPending,
		CreatedAt:  now,
		Metadata:   map[string]any{},
	}
}

func (o *Order) fill(price, commission decimal.Decimal, brokerID string, at time.Time) error {
	if o.Status.Terminal() {
		return ErrInvalidTransition
	}
	o.Status = StatusFilled
	o.Price = decimal.NewNullDecimal(price)
	o.Commission = commission
	o.BrokerOrderID = brokerID
	o.FilledAt = &at
	return nil
}

func (o *Order) reject(reason string) error {
	if o.Status.Terminal() {
		return ErrInvalidTransition
	}
	o.Status = StatusRejected
	o.Reason = reason
	return nil
}

func (o *Order) fail(reason string) error {
	if o.Status.Terminal() {
		return ErrInvalidTransition
	}
	o.Status = StatusFailed
	o.Reason = reason
	return nil
}
