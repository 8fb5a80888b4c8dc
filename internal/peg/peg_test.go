package peg

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"pegkeeper/internal/domain"
)

func TestDecideBoundaries(t *testing.T) {
	cases := []struct {
		price string
		want  domain.Action
	}{
		{"1.02", domain.ActionHold},
		{"1.021", domain.ActionSell},
		{"0.98", domain.ActionHold},
		{"0.979", domain.ActionBuy},
		{"1", domain.ActionHold},
		{"1.5", domain.ActionSell},
		{"0.01", domain.ActionBuy},
	}

	for _, tc := range cases {
		t.Run(tc.price, func(t *testing.T) {
			got := Decide(decimal.RequireFromString(tc.price), DefaultBand())
			require.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluate(t *testing.T) {
	v := Evaluate(decimal.RequireFromString("1.05"), DefaultBand())
	require.False(t, v.Stable)
	require.True(t, v.Deviation.Equal(decimal.RequireFromString("0.05")), "deviation %s", v.Deviation)
	require.True(t, v.DeviationPct().Equal(decimal.NewFromInt(5)))

	v = Evaluate(decimal.NewFromInt(1), DefaultBand())
	require.True(t, v.Stable)
	require.True(t, v.Deviation.IsZero())
}

func TestEvaluateAgreesWithDecide(t *testing.T) {
	band := DefaultBand()
	for p := decimal.RequireFromString("0.900"); p.LessThanOrEqual(decimal.RequireFromString("1.100")); p = p.Add(decimal.RequireFromString("0.001")) {
		action := Decide(p, band)
		require.Contains(t, []domain.Action{domain.ActionBuy, domain.ActionSell, domain.ActionHold}, action)
		require.Equal(t, Evaluate(p, band).Stable, action == domain.ActionHold, "price %s", p)
	}
}

func TestEvaluateAgreesWithDecideOnNonUnitTarget(t *testing.T) {
	band := Band{Target: decimal.NewFromInt(3), Tolerance: decimal.RequireFromString("0.02")}
	prices := []string{
		"3.06",
		"3.06000000000000001",
		"3.0600000000000000000001",
		"3.05999999999999999",
		"2.94",
		"2.93999999999999999",
		"2.94000000000000001",
		"3",
	}
	for _, raw := range prices {
		p := decimal.RequireFromString(raw)
		require.Equal(t, Evaluate(p, band).Stable, Decide(p, band) == domain.ActionHold, "price %s", raw)
	}

	require.Equal(t, domain.ActionSell, Decide(decimal.RequireFromString("3.06000000000000001"), band))
	require.False(t, Evaluate(decimal.RequireFromString("3.06000000000000001"), band).Stable)

	seventh := Band{Target: decimal.NewFromInt(7), Tolerance: decimal.RequireFromString("0.013")}
	for p := decimal.RequireFromString("6.900"); p.LessThanOrEqual(decimal.RequireFromString("7.100")); p = p.Add(decimal.RequireFromString("0.0001")) {
		require.Equal(t, Evaluate(p, seventh).Stable, Decide(p, seventh) == domain.ActionHold, "price %s", p)
	}
}

func TestCustomBand(t *testing.T) {
	band := Band{Target: decimal.NewFromInt(5), Tolerance: decimal.RequireFromString("0.1")}

	require.Equal(t, domain.ActionHold, Decide(decimal.RequireFromString("5.5"), band))
	require.Equal(t, domain.ActionSell, Decide(decimal.RequireFromString("5.51"), band))
	require.Equal(t, domain.ActionBuy, Decide(decimal.RequireFromString("4.49"), band))

	v := Evaluate(decimal.RequireFromString("4.5"), band)
	require.True(t, v.Stable)
	require.True(t, v.Deviation.Equal(decimal.RequireFromString("0.1")))
}
