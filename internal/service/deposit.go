package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/krkn12/cred30-sub003/internal/domain"
	"github.com/krkn12/cred30-sub003/internal/models"
	"github.com/krkn12/cred30-sub003/internal/repository"
	"go.uber.org/zap"
)

// DepositService handles manual PIX deposits: the record is created before
// settlement and the account is only credited once an operator approves the
// matching transfer.
type DepositService struct {
	store  QueryStore
	ledger *LedgerService
}

func NewDepositService(store QueryStore, ledger *LedgerService) *DepositService {
	return &DepositService{store: store, ledger: ledger}
}

// Request appends a PENDING deposit record with no balance effect.
func (s *DepositService) Request(ctx context.Context, accountID uuid.UUID, amount int64, pixKey string) (*models.TransactionRecord, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("invalid amount: %d", amount)
	}

	var record models.TransactionRecord
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		recordID, err := s.ledger.CreateRecord(ctx, qtx, CreateRecordParams{
			AccountID:   accountID,
			Type:        domain.TxTypeDeposit,
			Direction:   domain.DirectionCredit,
			Amount:      amount,
			Description: "manual PIX deposit",
			Status:      domain.TxStatusPending,
			Metadata:    map[string]any{"pix_key": pixKey},
		})
		if err != nil {
			return err
		}
		row, err := qtx.GetTransactionRecord(ctx, recordID)
		if err != nil {
			return fmt.Errorf("load created record: %w", err)
		}
		record = repository.RecordFromRow(row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Approve settles a confirmed deposit: the record becomes APPROVED and the
// credit lands on the account and the treasury's gross balance in the same
// unit of work.
func (s *DepositService) Approve(ctx context.Context, recordID uuid.UUID, actorID *uuid.UUID) (models.TransactionRecord, error) {
	var record models.TransactionRecord
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		record, err = s.ledger.ProcessApproval(ctx, qtx, recordID, domain.DecisionApprove, actorID)
		if err != nil {
			return err
		}
		if record.Direction != domain.DirectionCredit {
			return errors.New("deposit record has unexpected direction")
		}

		if _, err := s.ledger.LockAccount(ctx, qtx, record.AccountID); err != nil {
			return err
		}
		if _, err := s.ledger.MutateBalance(ctx, qtx, record.AccountID, record.Amount, domain.DirectionCredit); err != nil {
			return err
		}

		if _, err := s.ledger.LockTreasury(ctx, qtx); err != nil {
			return err
		}
		if err := s.ledger.MutateTreasury(ctx, qtx, repository.AdjustTreasuryParams{
			SystemDelta: record.Amount,
		}); err != nil {
			return fmt.Errorf("settle deposit: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.TransactionRecord{}, err
	}

	zap.L().Info("deposit approved",
		zap.String("record_id", recordID.String()),
		zap.Int64("amount_cents", record.Amount),
	)
	return record, nil
}

// Reject refuses a deposit that never arrived. No compensation is needed
// because the credit never happened.
func (s *DepositService) Reject(ctx context.Context, recordID uuid.UUID, actorID *uuid.UUID) (models.TransactionRecord, error) {
	var record models.TransactionRecord
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		record, err = s.ledger.ProcessApproval(ctx, qtx, recordID, domain.DecisionReject, actorID)
		return err
	})
	return record, err
}
