package swap

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pegkeeper/internal/domain"
)

// DryRun logs orders instead of trading.
type DryRun struct {
	logger zerolog.Logger
}

// NewDryRun builds a no-op executor.
func NewDryRun(logger zerolog.Logger) *DryRun {
	return &DryRun{logger: logger.With().Str("component", "swap_dry_run").Logger()}
}

// Execute records the order and reports a zero-impact result.
func (d *DryRun) Execute(ctx context.Context, order domain.TradeOrder, walletAddress string) (domain.SwapResult, error) {
	d.logger.Info().
		Str("action", string(order.Action)).
		Str("amount", order.Amount.String()).
		Str("wallet", walletAddress).
		Msg("dry run: swap not submitted")
	return domain.SwapResult{
		Signature:      "dry-run",
		InputAmount:    order.Amount.String(),
		PriceImpactPct: decimal.Zero,
	}, nil
}

// StaticPrice always reports the same asset price.
type StaticPrice struct {
	Price decimal.Decimal
}

// AssetPrice returns the configured price.
func (s StaticPrice) AssetPrice(ctx context.Context) (decimal.Decimal, error) {
	return s.Price, nil
}

var (
	_ Executor    = (*DryRun)(nil)
	_ PriceSource = StaticPrice{}
)
