package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/krkn12/cred30-sub003/internal/domain"
	"github.com/krkn12/cred30-sub003/internal/idempotency"
	"github.com/krkn12/cred30-sub003/internal/models"
	"github.com/krkn12/cred30-sub003/internal/observability"
	"github.com/krkn12/cred30-sub003/internal/repository"
	"go.uber.org/zap"
)

// WithdrawalService composes the ledger primitives into the withdrawal
// workflow: debit up front, gate against system liquidity, record awaiting
// confirmation, settle or refund on the approval decision.
type WithdrawalService struct {
	store  QueryStore
	ledger *LedgerService
	idem   *idempotency.Store
	audit  *AuditService
}

func NewWithdrawalService(store QueryStore, ledger *LedgerService, idem *idempotency.Store) *WithdrawalService {
	return &WithdrawalService{
		store:  store,
		ledger: ledger,
		idem:   idem,
		audit:  NewAuditService(),
	}
}

// RequestWithdrawalParams describes one withdrawal request.
type RequestWithdrawalParams struct {
	AccountID uuid.UUID
	Amount    int64 // centavos
	Reference string
	PixKey    string
	// TwoFactor starts the record at PENDING_CONFIRMATION instead of PENDING
	// (the second factor already happened upstream).
	TwoFactor bool
	// CollateralCovered skips the liquidity gate when the requester's
	// collateral fully covers the amount. Adapter policy, not a core rule.
	CollateralCovered bool
}

// Request debits the account, runs the liquidity gate, and appends the
// withdrawal record, all in one unit of work. The debit happens now; approval
// later only changes the record's visibility.
func (s *WithdrawalService) Request(ctx context.Context, req RequestWithdrawalParams) (*models.TransactionRecord, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("invalid amount: %d", req.Amount)
	}
	if req.Reference == "" {
		return nil, errors.New("reference is required")
	}

	requestHash := idempotency.HashRequest("withdrawal", req.AccountID.String(), fmt.Sprint(req.Amount))
	if existing, err := s.replayExisting(ctx, req.Reference, requestHash); existing != nil || err != nil {
		return existing, err
	}

	initialStatus := domain.TxStatusPending
	if req.TwoFactor {
		initialStatus = domain.TxStatusPendingConfirmation
	}

	var record models.TransactionRecord
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		// The reservation joins the unit of work: a failed withdrawal rolls
		// the reference back too, so the client can retry it.
		if _, err := qtx.ReserveReference(ctx, repository.ReserveReferenceParams{
			Reference:   req.Reference,
			Kind:        "withdrawal",
			RequestHash: requestHash,
		}); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return idempotency.ErrInProgress
			}
			return fmt.Errorf("reserve reference: %w", err)
		}

		if _, err := s.ledger.LockAccount(ctx, qtx, req.AccountID); err != nil {
			return err
		}
		if _, err := s.ledger.MutateBalance(ctx, qtx, req.AccountID, req.Amount, domain.DirectionDebit); err != nil {
			if errors.Is(err, models.ErrInsufficientBalance) {
				observability.IncrementBalanceRejection("withdrawal")
			}
			return err
		}

		if !req.CollateralCovered {
			// Hold the treasury row so two concurrent requests cannot both
			// pass the gate against the same snapshot.
			if _, err := s.ledger.LockTreasury(ctx, qtx); err != nil {
				return err
			}
			report, err := s.ledger.CheckLiquidity(ctx, qtx, req.Amount)
			if err != nil {
				return err
			}
			if !report.IsLiquid {
				return fmt.Errorf("%s: %w", report.Message, models.ErrInsufficientLiquidity)
			}
		}

		recordID, err := s.ledger.CreateRecord(ctx, qtx, CreateRecordParams{
			AccountID:   req.AccountID,
			Type:        domain.TxTypeWithdrawal,
			Direction:   domain.DirectionDebit,
			Amount:      req.Amount,
			Description: "withdrawal request",
			Status:      initialStatus,
			Metadata: map[string]any{
				"pix_key":            req.PixKey,
				"reference":          req.Reference,
				"collateral_covered": req.CollateralCovered,
			},
		})
		if err != nil {
			return err
		}

		record, err = s.finalizeReference(ctx, qtx, req.Reference, requestHash, recordID)
		return err
	})
	if err != nil {
		return nil, err
	}

	// Cache only after commit so a rolled-back reference never gets served.
	if s.idem != nil {
		s.idem.CacheReference(ctx, req.Reference, requestHash, record.ID)
	}

	zap.L().Info("withdrawal requested",
		zap.String("record_id", record.ID.String()),
		zap.String("account_id", req.AccountID.String()),
		zap.Int64("amount_cents", req.Amount),
		zap.String("status", record.Status),
	)
	return &record, nil
}

// Confirm acknowledges the second factor for a manually created withdrawal,
// moving PENDING to PENDING_CONFIRMATION.
func (s *WithdrawalService) Confirm(ctx context.Context, recordID uuid.UUID, actorID *uuid.UUID) (models.TransactionRecord, error) {
	var record models.TransactionRecord
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		row, err := s.ledger.transitionRecordState(ctx, qtx, recordID, domain.TxStatusPendingConfirmation, actorID, "confirmed", nil)
		if err != nil {
			return err
		}
		record = repository.RecordFromRow(row)
		return nil
	})
	return record, err
}

// Approve finalizes a withdrawal: the record becomes APPROVED and the payout
// leaves the treasury's gross balance. The account was already debited at
// request time, so approval never re-debits.
func (s *WithdrawalService) Approve(ctx context.Context, recordID uuid.UUID, actorID *uuid.UUID) (models.TransactionRecord, error) {
	var record models.TransactionRecord
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		record, err = s.ledger.ProcessApproval(ctx, qtx, recordID, domain.DecisionApprove, actorID)
		if err != nil {
			return err
		}
		if record.Type != domain.TxTypeWithdrawal || record.Direction != domain.DirectionDebit {
			return fmt.Errorf("record %s is not a withdrawal debit", recordID)
		}

		if _, err := s.ledger.LockTreasury(ctx, qtx); err != nil {
			return err
		}
		if err := s.ledger.MutateTreasury(ctx, qtx, repository.AdjustTreasuryParams{
			SystemDelta: -record.Amount,
		}); err != nil {
			return fmt.Errorf("settle withdrawal payout: %w", err)
		}
		return nil
	})
	return record, err
}

// Reject refuses a withdrawal; the compensating credit restoring the debited
// funds happens inside ProcessApproval, in the same unit of work.
func (s *WithdrawalService) Reject(ctx context.Context, recordID uuid.UUID, actorID *uuid.UUID) (models.TransactionRecord, error) {
	var record models.TransactionRecord
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		record, err = s.ledger.ProcessApproval(ctx, qtx, recordID, domain.DecisionReject, actorID)
		return err
	})
	return record, err
}

// ExpireStale cancels withdrawal records still awaiting confirmation past the
// TTL. Each cancellation refunds the up-front debit and releases the workflow
// reference so the client can submit a fresh request under the same key.
// Returns how many records were expired.
func (s *WithdrawalService) ExpireStale(ctx context.Context, ttl time.Duration, limit int32) (int, error) {
	cutoff := time.Now().Add(-ttl)
	expired := 0
	var released []string
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		rows, err := qtx.ListExpiredPendingWithdrawals(ctx, cutoff, limit)
		if err != nil {
			return fmt.Errorf("list expired withdrawals: %w", err)
		}
		for _, row := range rows {
			record, err := s.ledger.CancelRecord(ctx, qtx, row.ID, nil, "confirmation window expired")
			if err != nil {
				return fmt.Errorf("expire withdrawal %s: %w", row.ID, err)
			}
			if ref, ok := record.Metadata["reference"].(string); ok && ref != "" {
				if _, err := qtx.ReleaseReference(ctx, ref); err != nil {
					return fmt.Errorf("release reference %s: %w", ref, err)
				}
				released = append(released, ref)
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if s.idem != nil {
		for _, ref := range released {
			s.idem.Forget(ctx, ref)
		}
	}
	if expired > 0 {
		zap.L().Warn("expired stale withdrawals", zap.Int("count", expired))
	}
	return expired, nil
}

// replayExisting returns the previously created record when the reference was
// already finalized, ErrInProgress when another request holds it.
func (s *WithdrawalService) replayExisting(ctx context.Context, reference, requestHash string) (*models.TransactionRecord, error) {
	if s.idem == nil {
		return nil, nil
	}
	rec, err := s.idem.Lookup(ctx, reference, requestHash)
	if err != nil {
		if errors.Is(err, idempotency.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var stored struct {
		RecordID uuid.UUID `json:"record_id"`
	}
	if err := decodeReferenceResponse(rec.Response, &stored); err != nil {
		return nil, err
	}
	record, err := s.ledger.GetRecord(ctx, stored.RecordID)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *WithdrawalService) finalizeReference(ctx context.Context, qtx *repository.Queries, reference, requestHash string, recordID uuid.UUID) (models.TransactionRecord, error) {
	if err := finalizeWorkflowReference(ctx, qtx, reference, requestHash, recordID); err != nil {
		return models.TransactionRecord{}, err
	}

	row, err := qtx.GetTransactionRecord(ctx, recordID)
	if err != nil {
		return models.TransactionRecord{}, fmt.Errorf("load created record: %w", err)
	}
	return repository.RecordFromRow(row), nil
}
