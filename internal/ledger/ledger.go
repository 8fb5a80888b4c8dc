// Package ledger publishes and reads the on-chain oracle price record.
package ledger

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"pegkeeper/internal/domain"
)

// Decimals is the fixed-point scale of the on-chain price.
const Decimals = 6

var scale = decimal.New(1, Decimals)

// Record is the latest committed oracle price.
type Record struct {
	Price     uint64
	UpdatedAt time.Time
	Authority string
}

// Value converts the fixed-point price back to a decimal.
func (r Record) Value() decimal.Decimal {
	return FromFixedPoint(r.Price)
}

// Publication describes a successful price write.
type Publication struct {
	Price     uint64
	Reference string
}

// OracleLedger reads and writes the oracle price record.
type OracleLedger interface {
	Publish(ctx context.Context, rate decimal.Decimal) (Publication, error)
	ReadLatest(ctx context.Context) (Record, error)
}

// ToFixedPoint returns floor(rate * 10^6). Truncation keeps published values conservative.
func ToFixedPoint(rate decimal.Decimal) (uint64, error) {
	if !rate.IsPositive() {
		return 0, fmt.Errorf("rate must be positive, got %s", rate)
	}
	scaled := rate.Mul(scale).Floor()
	if scaled.GreaterThan(decimal.NewFromUint64(math.MaxUint64)) {
		return 0, fmt.Errorf("rate %s overflows fixed-point range", rate)
	}
	return scaled.BigInt().Uint64(), nil
}

// FromFixedPoint is the inverse of ToFixedPoint up to the truncated digits.
func FromFixedPoint(price uint64) decimal.Decimal {
	return decimal.NewFromUint64(price).Shift(-Decimals)
}

func ledgerError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrLedgerUnavailable, op, err)
}
