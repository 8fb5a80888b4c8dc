package fetcher

import (
	"context"

	"github.com/shopspring/decimal"
)

// ExchangeRateFetcher retrieves the external reference exchange rate (e.g. USD/BRL).
type ExchangeRateFetcher interface {
	FetchRate(ctx context.Context) (decimal.Decimal, error)
}

// Static always returns the same rate. Used by the simulate command.
type Static struct {
	Rate decimal.Decimal
}

// FetchRate returns the configured rate.
func (s Static) FetchRate(ctx context.Context) (decimal.Decimal, error) {
	return s.Rate, nil
}

var _ ExchangeRateFetcher = Static{}
