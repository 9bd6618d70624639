// Package store persists terminal orders to PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"fxbot-go/internal/execution"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id              UUID PRIMARY KEY,
	instrument      TEXT NOT NULL,
	action          TEXT NOT NULL,
	quantity        NUMERIC(20, 8) NOT NULL,
	price           NUMERIC(20, 8),
	order_type      TEXT NOT NULL,
	status          TEXT NOT NULL,
	broker_order_id TEXT NOT NULL DEFAULT '',
	commission      NUMERIC(20, 8) NOT NULL DEFAULT 0,
	pnl             NUMERIC(20, 8),
	reason          TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	filled_at       TIMESTAMPTZ,
	metadata        JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS trades_created_at_idx ON trades (created_at);`

// Open connects with the given driver (normally "postgres") and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	if driver == "" {
		driver = "postgres"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// TradeRepository works with the trades table.
type TradeRepository struct {
	db *sql.DB
}

func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Migrate creates the trades table when it does not exist.
func (r *TradeRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate trades: %w", err)
	}
	return nil
}

// SaveTrade inserts a terminal order. Saving the same order twice is a no-op.
func (r *TradeRepository) SaveTrade(ctx context.Context, o execution.Order) error {
	query := `
		INSERT INTO trades (id, instrument, action, quantity, price, order_type, status, broker_order_id,
			commission, pnl, reason, created_at, filled_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`

	meta, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(o.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if o.Metadata == nil {
		meta = []byte("{}")
	}

	_, err = r.db.ExecContext(ctx, query,
		o.ID.String(),
		o.Instrument,
		string(o.Action),
		o.Quantity,
		o.Price,
		string(o.OrderType),
		string(o.Status),
		o.BrokerOrderID,
		o.Commission,
		o.PnL,
		o.Reason,
		o.CreatedAt,
		o.FilledAt,
		string(meta),
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", o.ID, err)
	}
	return nil
}

// DailySummary returns the attempt count and summed realized P&L of orders created on
// the UTC calendar day containing day.
func (r *TradeRepository) DailySummary(ctx context.Context, day time.Time) (int, decimal.Decimal, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(pnl), 0)
		FROM trades
		WHERE created_at >= $1 AND created_at < $2`

	y, m, d := day.UTC().Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	var count int
	var pnl decimal.Decimal
	if err := r.db.QueryRowContext(ctx, query, start, start.AddDate(0, 0, 1)).Scan(&count, &pnl); err != nil {
		return 0, decimal.Zero, fmt.Errorf("daily summary: %w", err)
	}
	return count, pnl, nil
}
