package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value in BRL.
// Amount is stored as BIGINT centavos (10^-2) to avoid floating point errors.
type Money struct {
	Amount int64 // centavos
}

// NewMoney creates a new Money instance from centavos.
func NewMoney(amount int64) Money {
	return Money{Amount: amount}
}

// ToDecimal converts the int64 centavos to a shopspring/decimal.Decimal.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(m.Amount).Div(decimal.NewFromInt(100))
}

// FromDecimal converts a decimal.Decimal in whole currency units to int64
// centavos, truncating toward zero.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).IntPart()
}

// Multiply returns a new Money instance scaled by a factor (fee rate,
// conversion rate). It uses shopspring/decimal for precision and rounds down.
func (m Money) Multiply(factor decimal.Decimal) Money {
	return Money{Amount: FromDecimal(m.ToDecimal().Mul(factor))}
}

// SplitFee divides the amount into a fee portion computed from basis points
// and the remaining net portion. The fee rounds down so the split never
// exceeds the original amount.
func (m Money) SplitFee(feeBps int64) (fee, net Money) {
	rate := decimal.NewFromInt(feeBps).Div(decimal.NewFromInt(10_000))
	fee = m.Multiply(rate)
	net = Money{Amount: m.Amount - fee.Amount}
	return fee, net
}

// String returns the string representation of the money.
func (m Money) String() string {
	return fmt.Sprintf("R$ %s", m.ToDecimal().StringFixed(2))
}
