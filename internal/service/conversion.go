package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/krkn12/cred30-sub003/internal/domain"
	"github.com/krkn12/cred30-sub003/internal/models"
	"github.com/krkn12/cred30-sub003/internal/observability"
	"github.com/krkn12/cred30-sub003/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ConversionService turns loyalty points into spendable balance and grants
// the point and balance bonuses the platform hands out.
type ConversionService struct {
	store  QueryStore
	ledger *LedgerService
	rate   decimal.Decimal // BRL per point
	audit  *AuditService
}

func NewConversionService(store QueryStore, ledger *LedgerService, rate decimal.Decimal) *ConversionService {
	return &ConversionService{
		store:  store,
		ledger: ledger,
		rate:   rate,
		audit:  NewAuditService(),
	}
}

// ConvertPoints debits points, gates the resulting payout against system
// liquidity, and credits the equivalent balance. The conversion rounds down,
// so a fractional centavo always favors the platform.
func (s *ConversionService) ConvertPoints(ctx context.Context, accountID uuid.UUID, points int64) (*models.TransactionRecord, error) {
	if points <= 0 {
		return nil, fmt.Errorf("invalid points amount: %d", points)
	}
	if !s.rate.IsPositive() {
		return nil, fmt.Errorf("invalid conversion rate: %s", s.rate)
	}

	amount := decimal.NewFromInt(points).Mul(s.rate).Shift(2).Floor().IntPart()
	if amount <= 0 {
		return nil, fmt.Errorf("points amount %d converts below one centavo", points)
	}

	var record models.TransactionRecord
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if _, err := s.ledger.LockAccount(ctx, qtx, accountID); err != nil {
			return err
		}
		if _, err := s.ledger.MutatePoints(ctx, qtx, accountID, points, domain.DirectionDebit); err != nil {
			if errors.Is(err, models.ErrInsufficientBalance) {
				observability.IncrementBalanceRejection("point_conversion")
			}
			return err
		}

		if _, err := s.ledger.LockTreasury(ctx, qtx); err != nil {
			return err
		}
		report, err := s.ledger.CheckLiquidity(ctx, qtx, amount)
		if err != nil {
			return err
		}
		if !report.IsLiquid {
			return fmt.Errorf("%s: %w", report.Message, models.ErrInsufficientLiquidity)
		}

		// No cash leaves the vault here; the new balance is an internal
		// liability funded out of the profit pool. Gross only moves when the
		// holder eventually withdraws.
		if err := s.ledger.MutateTreasury(ctx, qtx, repository.AdjustTreasuryParams{
			ProfitDelta: -amount,
		}); err != nil {
			return fmt.Errorf("fund point conversion: %w", err)
		}

		if _, err := s.ledger.MutateBalance(ctx, qtx, accountID, amount, domain.DirectionCredit); err != nil {
			return err
		}

		recordID, err := s.ledger.CreateRecord(ctx, qtx, CreateRecordParams{
			AccountID:   accountID,
			Type:        domain.TxTypePointConversion,
			Direction:   domain.DirectionCredit,
			Amount:      amount,
			Description: "point conversion",
			Status:      domain.TxStatusApproved,
			Metadata: map[string]any{
				"points": points,
				"rate":   s.rate.String(),
			},
		})
		if err != nil {
			return err
		}

		row, err := qtx.GetTransactionRecord(ctx, recordID)
		if err != nil {
			return fmt.Errorf("load conversion record: %w", err)
		}
		record = repository.RecordFromRow(row)
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("points converted",
		zap.String("account_id", accountID.String()),
		zap.Int64("points", points),
		zap.Int64("amount_cents", amount),
	)
	return &record, nil
}

// GrantAdReward credits points for a watched ad. Points are not money, so the
// treasury is untouched until the user converts them.
func (s *ConversionService) GrantAdReward(ctx context.Context, accountID uuid.UUID, points int64, campaign string) (*models.TransactionRecord, error) {
	if points <= 0 {
		return nil, fmt.Errorf("invalid points amount: %d", points)
	}

	var record models.TransactionRecord
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if _, err := s.ledger.LockAccount(ctx, qtx, accountID); err != nil {
			return err
		}
		if _, err := s.ledger.MutatePoints(ctx, qtx, accountID, points, domain.DirectionCredit); err != nil {
			return err
		}

		recordID, err := s.ledger.CreateRecord(ctx, qtx, CreateRecordParams{
			AccountID:   accountID,
			Type:        domain.TxTypeAdReward,
			Direction:   domain.DirectionCredit,
			Amount:      points,
			Description: "ad reward",
			Status:      domain.TxStatusApproved,
			Metadata: map[string]any{
				"unit":     "points",
				"campaign": campaign,
			},
		})
		if err != nil {
			return err
		}

		row, err := qtx.GetTransactionRecord(ctx, recordID)
		if err != nil {
			return fmt.Errorf("load reward record: %w", err)
		}
		record = repository.RecordFromRow(row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// GrantReferralBonus credits balance for a converted referral. The bonus is
// funded out of the profit pool, so an empty pool refuses the grant instead
// of minting unbacked balance.
func (s *ConversionService) GrantReferralBonus(ctx context.Context, accountID uuid.UUID, amount int64, referredUserID uuid.UUID) (*models.TransactionRecord, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("invalid amount: %d", amount)
	}

	var record models.TransactionRecord
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if _, err := s.ledger.LockAccount(ctx, qtx, accountID); err != nil {
			return err
		}
		if _, err := s.ledger.LockTreasury(ctx, qtx); err != nil {
			return err
		}
		if err := s.ledger.MutateTreasury(ctx, qtx, repository.AdjustTreasuryParams{
			ProfitDelta: -amount,
		}); err != nil {
			return fmt.Errorf("fund referral bonus: %w", err)
		}
		if _, err := s.ledger.MutateBalance(ctx, qtx, accountID, amount, domain.DirectionCredit); err != nil {
			return err
		}

		recordID, err := s.ledger.CreateRecord(ctx, qtx, CreateRecordParams{
			AccountID:   accountID,
			Type:        domain.TxTypeReferralBonus,
			Direction:   domain.DirectionCredit,
			Amount:      amount,
			Description: "referral bonus",
			Status:      domain.TxStatusApproved,
			Metadata: map[string]any{
				"referred_user_id": referredUserID.String(),
			},
		})
		if err != nil {
			return err
		}

		row, err := qtx.GetTransactionRecord(ctx, recordID)
		if err != nil {
			return fmt.Errorf("load bonus record: %w", err)
		}
		record = repository.RecordFromRow(row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}
