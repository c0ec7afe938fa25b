package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMoneyDecimalRoundTrip(t *testing.T) {
	m := NewMoney(123_45)
	require.Equal(t, "123.45", m.ToDecimal().StringFixed(2))
	require.Equal(t, int64(123_45), FromDecimal(m.ToDecimal()))
}

func TestMoneyMultiplyRoundsDown(t *testing.T) {
	m := NewMoney(100_01) // R$ 100.01
	tenPercent := m.Multiply(decimal.NewFromFloat(0.10))
	// 10.001 truncates to 10.00
	require.Equal(t, int64(10_00), tenPercent.Amount)
}

func TestMoneySplitFee(t *testing.T) {
	cases := []struct {
		name   string
		amount int64
		feeBps int64
		fee    int64
		net    int64
	}{
		{name: "exact_split", amount: 100_00, feeBps: 1000, fee: 10_00, net: 90_00},
		{name: "rounds_fee_down", amount: 99_99, feeBps: 1000, fee: 9_99, net: 90_00},
		{name: "zero_fee", amount: 50_00, feeBps: 0, fee: 0, net: 50_00},
		{name: "one_centavo", amount: 1, feeBps: 1000, fee: 0, net: 1},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			fee, net := NewMoney(tc.amount).SplitFee(tc.feeBps)
			require.Equal(t, tc.fee, fee.Amount)
			require.Equal(t, tc.net, net.Amount)
			require.Equal(t, tc.amount, fee.Amount+net.Amount)
		})
	}
}

func TestMoneyString(t *testing.T) {
	require.Equal(t, "R$ 0.05", NewMoney(5).String())
	require.Equal(t, "R$ 1234.50", NewMoney(1234_50).String())
}
