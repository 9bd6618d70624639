package store

import (
	"context"
	"errors"

	"fxbot-go/internal/execution"
)

// Multi saves every trade to each store in order. One failing store does not stop the rest.
type Multi []execution.TradeStore

func (m Multi) SaveTrade(ctx context.Context, o execution.Order) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.SaveTrade(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
