package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Action is the corrective step derived from the pegged asset price.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// TradeOrder is built only for BUY or SELL and handed to the swap executor once.
type TradeOrder struct {
	Action Action
	Amount decimal.Decimal
}

// NewTradeOrder validates the action and amount.
func NewTradeOrder(action Action, amount decimal.Decimal) (TradeOrder, error) {
	if action != ActionBuy && action != ActionSell {
		return TradeOrder{}, fmt.Errorf("trade order requires BUY or SELL, got %q", action)
	}
	if !amount.IsPositive() {
		return TradeOrder{}, fmt.Errorf("trade amount must be positive, got %s", amount)
	}
	return TradeOrder{Action: action, Amount: amount}, nil
}

// SwapResult is either a completed swap receipt or an unsigned payload awaiting external signing.
type SwapResult struct {
	Signature           string
	InputAmount         string
	OutputAmount        string
	PriceImpactPct      decimal.Decimal
	HighImpact          bool
	UnsignedTransaction string
}

// Deferred reports whether the result still needs an external signature.
func (r SwapResult) Deferred() bool {
	return r.UnsignedTransaction != ""
}
