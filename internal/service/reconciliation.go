package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/krkn12/cred30-sub003/internal/domain"
	"github.com/krkn12/cred30-sub003/internal/observability"
	"github.com/krkn12/cred30-sub003/internal/repository"
	"go.uber.org/zap"
)

// ReconciliationService cross-checks the ledger's standing invariants. It
// never repairs anything: violations are logged and counted so an operator
// can investigate before any automated correction touches money.
type ReconciliationService struct {
	store QueryStore
}

func NewReconciliationService(store QueryStore) *ReconciliationService {
	return &ReconciliationService{store: store}
}

// ReconciliationReport is one sweep's findings.
type ReconciliationReport struct {
	NegativeBalanceAccounts int64
	// CoverageGap is how far gross treasury falls short of account balances
	// plus consortium pools. Zero or negative means fully covered.
	CoverageGap           int64
	TreasuryOverallocated bool
	Healthy               bool
}

// Run takes a snapshot inside one transaction and evaluates every invariant
// against it.
func (s *ReconciliationService) Run(ctx context.Context) (ReconciliationReport, error) {
	var report ReconciliationReport
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		negatives, err := qtx.CountNegativeAccountBalances(ctx)
		if err != nil {
			return fmt.Errorf("count negative balances: %w", err)
		}
		report.NegativeBalanceAccounts = negatives

		balances, err := qtx.SumAccountBalances(ctx)
		if err != nil {
			return fmt.Errorf("sum account balances: %w", err)
		}
		pools, err := qtx.SumGroupPools(ctx)
		if err != nil {
			return fmt.Errorf("sum group pools: %w", err)
		}

		row, err := qtx.GetTreasury(ctx, domain.TreasuryRowID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("system treasury row missing")
			}
			return fmt.Errorf("read treasury: %w", err)
		}
		treasury := repository.TreasuryFromRow(row)

		report.CoverageGap = balances + pools - treasury.SystemBalance
		report.TreasuryOverallocated = treasury.Reserves()+treasury.ProfitPool > treasury.SystemBalance
		return nil
	})
	if err != nil {
		return ReconciliationReport{}, err
	}

	report.Healthy = report.NegativeBalanceAccounts == 0 &&
		report.CoverageGap <= 0 &&
		!report.TreasuryOverallocated

	if report.NegativeBalanceAccounts > 0 {
		observability.IncrementInvariantViolation("negative_balance")
		zap.L().Error("reconciliation found negative balances",
			zap.Int64("accounts", report.NegativeBalanceAccounts))
	}
	if report.CoverageGap > 0 {
		observability.IncrementInvariantViolation("coverage_gap")
		zap.L().Error("treasury does not cover liabilities",
			zap.Int64("gap_cents", report.CoverageGap))
	}
	if report.TreasuryOverallocated {
		observability.IncrementInvariantViolation("treasury_overallocated")
		zap.L().Error("treasury buckets exceed gross balance")
	}
	if report.Healthy {
		zap.L().Debug("reconciliation clean")
	}
	return report, nil
}
