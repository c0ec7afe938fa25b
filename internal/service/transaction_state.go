package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/krkn12/cred30-sub003/internal/domain"
	"github.com/krkn12/cred30-sub003/internal/models"
	"github.com/krkn12/cred30-sub003/internal/observability"
	"github.com/krkn12/cred30-sub003/internal/repository"
	"go.uber.org/zap"
)

// Records start PENDING (manual PIX flows) or PENDING_CONFIRMATION
// (two-factor flows) and reach exactly one terminal state. Terminal states
// accept nothing.
var recordTransitions = map[string]map[string]struct{}{
	domain.TxStatusPending: {
		domain.TxStatusPendingConfirmation: {},
		domain.TxStatusApproved:            {},
		domain.TxStatusRejected:            {},
		domain.TxStatusCancelled:           {},
	},
	domain.TxStatusPendingConfirmation: {
		domain.TxStatusApproved:  {},
		domain.TxStatusRejected:  {},
		domain.TxStatusCancelled: {},
	},
	domain.TxStatusApproved:  {},
	domain.TxStatusRejected:  {},
	domain.TxStatusCancelled: {},
}

func normalizeState(state string) string {
	return strings.ToUpper(strings.TrimSpace(state))
}

func canTransition(current, next string) bool {
	nextStates, ok := recordTransitions[normalizeState(current)]
	if !ok {
		return false
	}
	_, ok = nextStates[normalizeState(next)]
	return ok
}

// CreateRecordParams holds the arguments for appending one transaction record.
type CreateRecordParams struct {
	AccountID   uuid.UUID
	Type        string
	Direction   string
	Amount      int64
	Description string
	Status      string
	Metadata    map[string]any
}

// CreateRecord appends a transaction record inside the caller's unit of work.
// Amount is always stored positive; Direction carries the debit/credit
// meaning explicitly so it is never inferred from Type.
func (s *LedgerService) CreateRecord(ctx context.Context, qtx *repository.Queries, arg CreateRecordParams) (uuid.UUID, error) {
	if arg.Amount <= 0 {
		return uuid.Nil, fmt.Errorf("invalid record amount: %d", arg.Amount)
	}
	if arg.Direction != domain.DirectionDebit && arg.Direction != domain.DirectionCredit {
		return uuid.Nil, fmt.Errorf("invalid record direction: %q", arg.Direction)
	}
	status := normalizeState(arg.Status)
	switch status {
	case domain.TxStatusPending, domain.TxStatusPendingConfirmation, domain.TxStatusApproved:
	default:
		return uuid.Nil, fmt.Errorf("invalid initial record status: %q", arg.Status)
	}

	var metadata []byte
	if arg.Metadata != nil {
		encoded, err := json.Marshal(arg.Metadata)
		if err != nil {
			return uuid.Nil, fmt.Errorf("encode record metadata: %w", err)
		}
		metadata = encoded
	}

	recordID := uuid.New()
	if err := qtx.CreateTransactionRecord(ctx, repository.CreateTransactionRecordParams{
		ID:          recordID,
		AccountID:   arg.AccountID,
		Type:        arg.Type,
		Direction:   arg.Direction,
		Amount:      arg.Amount,
		Status:      status,
		Description: arg.Description,
		Metadata:    metadata,
	}); err != nil {
		return uuid.Nil, fmt.Errorf("create transaction record: %w", repository.ClassifyError(err))
	}

	if err := s.audit.Write(ctx, qtx, "transaction_record", recordID, nil, "created", "", status, metadata); err != nil {
		return uuid.Nil, err
	}
	return recordID, nil
}

// transitionRecordState moves a record to nextState after validating the
// transition against the row read under lock. The expected pre-state guard on
// the update means a record that moved underneath us fails loudly instead of
// being silently overwritten.
func (s *LedgerService) transitionRecordState(ctx context.Context, qtx *repository.Queries, recordID uuid.UUID, nextState string, actorID *uuid.UUID, action string, metadata []byte) (repository.TransactionRecordRow, error) {
	row, err := qtx.GetTransactionRecordForUpdate(ctx, recordID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return row, fmt.Errorf("transaction record %s: %w", recordID, models.ErrNotFound)
		}
		return row, fmt.Errorf("lock transaction record: %w", repository.ClassifyError(err))
	}

	if !canTransition(row.Status, nextState) {
		zap.L().Error("invalid transaction record transition",
			zap.String("record_id", recordID.String()),
			zap.String("current", row.Status),
			zap.String("next", nextState),
		)
		if domain.IsTerminalStatus(row.Status) {
			return row, fmt.Errorf("record already %s: %w", row.Status, models.ErrInvalidStateTransition)
		}
		return row, fmt.Errorf("%s -> %s: %w", row.Status, nextState, models.ErrInvalidStateTransition)
	}

	rows, err := qtx.UpdateTransactionStatus(ctx, repository.UpdateTransactionStatusParams{
		Status:         nextState,
		ExpectedStatus: row.Status,
		ID:             recordID,
	})
	if err != nil {
		return row, fmt.Errorf("update record state: %w", repository.ClassifyError(err))
	}
	if err := requireExactlyOne(rows, "update record state"); err != nil {
		return row, err
	}

	if err := s.audit.Write(ctx, qtx, "transaction_record", recordID, actorID, action, row.Status, nextState, metadata); err != nil {
		return row, err
	}
	observability.IncrementApprovalTransition(action)

	row.Status = nextState
	return row, nil
}

// ProcessApproval applies an APPROVE or REJECT decision to a pending record.
// Approval only changes visibility: for flows that debited up front the money
// already moved at creation time. Rejection of an up-front debit applies the
// compensating credit inside the same unit of work, so the refund can never
// be half-applied.
func (s *LedgerService) ProcessApproval(ctx context.Context, qtx *repository.Queries, recordID uuid.UUID, decision string, actorID *uuid.UUID) (models.TransactionRecord, error) {
	var nextState, action string
	switch normalizeState(decision) {
	case domain.DecisionApprove:
		nextState, action = domain.TxStatusApproved, "approved"
	case domain.DecisionReject:
		nextState, action = domain.TxStatusRejected, "rejected"
	default:
		return models.TransactionRecord{}, fmt.Errorf("invalid approval decision: %q", decision)
	}

	row, err := s.transitionRecordState(ctx, qtx, recordID, nextState, actorID, action, nil)
	if err != nil {
		return models.TransactionRecord{}, err
	}

	if nextState == domain.TxStatusRejected && row.Direction == domain.DirectionDebit {
		if err := s.compensate(ctx, qtx, row, actorID); err != nil {
			return models.TransactionRecord{}, err
		}
	}

	return repository.RecordFromRow(row), nil
}

// CancelRecord moves a still-pending record to CANCELLED, refunding any
// up-front debit. Used by the expiry sweep and by user-initiated aborts.
func (s *LedgerService) CancelRecord(ctx context.Context, qtx *repository.Queries, recordID uuid.UUID, actorID *uuid.UUID, reason string) (models.TransactionRecord, error) {
	metadata, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return models.TransactionRecord{}, fmt.Errorf("encode cancel metadata: %w", err)
	}

	row, err := s.transitionRecordState(ctx, qtx, recordID, domain.TxStatusCancelled, actorID, "cancelled", metadata)
	if err != nil {
		return models.TransactionRecord{}, err
	}

	if row.Direction == domain.DirectionDebit {
		if err := s.compensate(ctx, qtx, row, actorID); err != nil {
			return models.TransactionRecord{}, err
		}
	}
	return repository.RecordFromRow(row), nil
}

// compensate credits the debited amount back to the owning account. The
// account lock is taken here because the approval path does not lock it
// otherwise.
func (s *LedgerService) compensate(ctx context.Context, qtx *repository.Queries, row repository.TransactionRecordRow, actorID *uuid.UUID) error {
	if _, err := s.LockAccount(ctx, qtx, row.AccountID); err != nil {
		return err
	}
	if _, err := s.MutateBalance(ctx, qtx, row.AccountID, row.Amount, domain.DirectionCredit); err != nil {
		return fmt.Errorf("compensating credit: %w", err)
	}
	return s.audit.Write(ctx, qtx, "account", row.AccountID, actorID, "compensating_credit", "", "", nil)
}

// GetRecord is a non-locking read of a single record.
func (s *LedgerService) GetRecord(ctx context.Context, recordID uuid.UUID) (models.TransactionRecord, error) {
	row, err := s.store.Queries().GetTransactionRecord(ctx, recordID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TransactionRecord{}, fmt.Errorf("transaction record %s: %w", recordID, models.ErrNotFound)
		}
		return models.TransactionRecord{}, fmt.Errorf("get transaction record: %w", repository.ClassifyError(err))
	}
	return repository.RecordFromRow(row), nil
}
