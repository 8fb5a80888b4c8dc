package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"pegkeeper/internal/domain"
)

func TestToFixedPointTruncates(t *testing.T) {
	cases := map[string]uint64{
		"5.856789":  5856789,
		"5.8567891": 5856789,
		"5.8567899": 5856789,
		"5.85":      5850000,
		"1":         1000000,
		"0.0000001": 0,
	}
	for in, want := range cases {
		got, err := ToFixedPoint(decimal.RequireFromString(in))
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
}

func TestToFixedPointRejectsNonPositive(t *testing.T) {
	_, err := ToFixedPoint(decimal.Zero)
	require.Error(t, err)
	_, err = ToFixedPoint(decimal.RequireFromString("-5.1"))
	require.Error(t, err)
	_, err = ToFixedPoint(decimal.RequireFromString("1e20"))
	require.Error(t, err)
}

func TestFromFixedPoint(t *testing.T) {
	require.True(t, FromFixedPoint(5856789).Equal(decimal.RequireFromString("5.856789")))
	record := Record{Price: 5850000}
	require.True(t, record.Value().Equal(decimal.RequireFromString("5.85")))
}

func TestMemoryLedger(t *testing.T) {
	m := NewMemory("local")
	ctx := context.Background()

	_, err := m.ReadLatest(ctx)
	require.True(t, errors.Is(err, domain.ErrLedgerUnavailable))

	pub, err := m.Publish(ctx, decimal.RequireFromString("5.8567891"))
	require.NoError(t, err)
	require.Equal(t, uint64(5856789), pub.Price)
	require.Equal(t, "memory-1", pub.Reference)

	rec, err := m.ReadLatest(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(5856789), rec.Price)
	require.Equal(t, "local", rec.Authority)

	_, err = m.Publish(ctx, decimal.RequireFromString("6.1"))
	require.NoError(t, err)
	rec, err = m.ReadLatest(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(6100000), rec.Price)

	_, err = m.Publish(ctx, decimal.Zero)
	require.ErrorIs(t, err, domain.ErrLedgerUnavailable)
}

func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}
