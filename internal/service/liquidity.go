package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/krkn12/cred30-sub003/internal/domain"
	"github.com/krkn12/cred30-sub003/internal/models"
	"github.com/krkn12/cred30-sub003/internal/observability"
	"github.com/krkn12/cred30-sub003/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// safetyBufferRate is a flat 10% of gross system balance withheld from
// disposable liquidity. TODO: confirm with the business owner whether this
// margin should instead track outstanding obligations.
var safetyBufferRate = decimal.NewFromFloat(0.10)

// LiquidityReport is the outcome of a liquidity gate check.
type LiquidityReport struct {
	IsLiquid bool `json:"is_liquid"`
	// AvailableLiquidity is floored at zero for display; the raw value is
	// what the gate compared against.
	AvailableLiquidity int64  `json:"available_liquidity"`
	Message            string `json:"message,omitempty"`
}

// AvailableLiquidity computes the raw (possibly negative) disposable cash:
// gross balance minus reserve buckets, profit pool, and the safety buffer.
func AvailableLiquidity(t models.SystemTreasury) int64 {
	buffer := domain.NewMoney(t.SystemBalance).Multiply(safetyBufferRate)
	return t.SystemBalance - t.Reserves() - t.ProfitPool - buffer.Amount
}

// CheckLiquidity decides whether the system can honor an outbound payout of
// the requested amount. Read-only: it takes no lock itself, so it must run
// inside a scope that already locked the balances it will mutate, or the
// check is racy against a concurrent large withdrawal.
func (s *LedgerService) CheckLiquidity(ctx context.Context, qtx *repository.Queries, amount int64) (LiquidityReport, error) {
	if amount <= 0 {
		return LiquidityReport{}, fmt.Errorf("invalid amount: %d", amount)
	}

	row, err := qtx.GetTreasury(ctx, domain.TreasuryRowID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Fail closed: a missing treasury row is "not liquid", never
			// infinite liquidity.
			zap.L().Warn("liquidity check with missing treasury row")
			return LiquidityReport{IsLiquid: false, Message: "system treasury unavailable"}, nil
		}
		return LiquidityReport{}, fmt.Errorf("read treasury: %w", repository.ClassifyError(err))
	}

	raw := AvailableLiquidity(repository.TreasuryFromRow(row))
	report := LiquidityReport{
		IsLiquid:           raw >= amount,
		AvailableLiquidity: max(raw, 0),
	}
	observability.SetAvailableLiquidity(raw)
	if !report.IsLiquid {
		report.Message = "requested amount exceeds available system liquidity"
		observability.IncrementLiquidityDenial()
	}
	return report, nil
}
