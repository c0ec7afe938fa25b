package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/krkn12/cred30-sub003/internal/domain"
	"github.com/krkn12/cred30-sub003/internal/models"
	"github.com/krkn12/cred30-sub003/internal/observability"
	"github.com/krkn12/cred30-sub003/internal/repository"
	"go.uber.org/zap"
)

var (
	ErrAssemblyNotOpen     = errors.New("assembly is not open for bids")
	ErrAssemblyNotFinished = errors.New("assembly has not finished")
	ErrAssemblyNoBids      = errors.New("assembly received no bids")
	ErrMemberContemplated  = errors.New("member was already contemplated")
	ErrMemberWrongGroup    = errors.New("member does not belong to this group")
	ErrGroupNotActive      = errors.New("consortium group is not active")
	ErrAssemblyNoWinner    = errors.New("assembly has no recorded winner")
)

// ConsortiumService runs the rotating-credit group workflows. The group pool
// is a ledger-adjacent balance and follows the same lock-first discipline as
// accounts.
type ConsortiumService struct {
	store  QueryStore
	ledger *LedgerService
	audit  *AuditService
}

func NewConsortiumService(store QueryStore, ledger *LedgerService) *ConsortiumService {
	return &ConsortiumService{
		store:  store,
		ledger: ledger,
		audit:  NewAuditService(),
	}
}

// Contribute debits one full installment from the member's account, splits
// the admin fee into the treasury profit pool, credits the net to the group
// pool, and appends both records, all in one unit of work.
func (s *ConsortiumService) Contribute(ctx context.Context, memberID uuid.UUID) (*models.TransactionRecord, error) {
	var installmentRecord models.TransactionRecord
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		member, err := qtx.GetMember(ctx, memberID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("consortium member %s: %w", memberID, models.ErrNotFound)
			}
			return fmt.Errorf("load member: %w", err)
		}

		group, err := qtx.GetGroupForUpdate(ctx, member.GroupID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("consortium group %s: %w", member.GroupID, models.ErrNotFound)
			}
			return fmt.Errorf("lock group: %w", repository.ClassifyError(err))
		}
		if group.Status != domain.GroupStatusActive {
			return ErrGroupNotActive
		}

		if _, err := s.ledger.LockAccount(ctx, qtx, member.AccountID); err != nil {
			return err
		}
		if _, err := s.ledger.MutateBalance(ctx, qtx, member.AccountID, group.Installment, domain.DirectionDebit); err != nil {
			if errors.Is(err, models.ErrInsufficientBalance) {
				observability.IncrementBalanceRejection("consortium_contribution")
			}
			return err
		}

		fee, net := domain.NewMoney(group.Installment).SplitFee(group.AdminFeeBps)

		rows, err := qtx.CreditGroupPool(ctx, net.Amount, group.ID)
		if err != nil {
			return fmt.Errorf("credit group pool: %w", err)
		}
		if err := requireExactlyOne(rows, "credit group pool"); err != nil {
			return err
		}

		if fee.Amount > 0 {
			if _, err := s.ledger.LockTreasury(ctx, qtx); err != nil {
				return err
			}
			// The fee is an internal transfer: the cash already sits in the
			// gross balance since the member's deposit, so only the profit
			// pool slice grows.
			if err := s.ledger.MutateTreasury(ctx, qtx, repository.AdjustTreasuryParams{
				ProfitDelta: fee.Amount,
			}); err != nil {
				return err
			}
		}

		recordID, err := s.ledger.CreateRecord(ctx, qtx, CreateRecordParams{
			AccountID:   member.AccountID,
			Type:        domain.TxTypeConsortiumInstallment,
			Direction:   domain.DirectionDebit,
			Amount:      group.Installment,
			Description: fmt.Sprintf("installment for group %s", group.Name),
			Status:      domain.TxStatusApproved,
			Metadata: map[string]any{
				"group_id":  group.ID,
				"member_id": member.ID,
				"net_cents": net.Amount,
			},
		})
		if err != nil {
			return err
		}

		if fee.Amount > 0 {
			if _, err := s.ledger.CreateRecord(ctx, qtx, CreateRecordParams{
				AccountID:   member.AccountID,
				Type:        domain.TxTypeConsortiumAdminFee,
				Direction:   domain.DirectionCredit,
				Amount:      fee.Amount,
				Description: fmt.Sprintf("admin fee for group %s", group.Name),
				Status:      domain.TxStatusApproved,
				Metadata: map[string]any{
					"group_id":  group.ID,
					"member_id": member.ID,
				},
			}); err != nil {
				return err
			}
		}

		row, err := qtx.GetTransactionRecord(ctx, recordID)
		if err != nil {
			return fmt.Errorf("load installment record: %w", err)
		}
		installmentRecord = repository.RecordFromRow(row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &installmentRecord, nil
}

// Join enrolls an account into a group, optionally charging an entry fee that
// lands in the treasury profit pool.
func (s *ConsortiumService) Join(ctx context.Context, groupID, accountID uuid.UUID, entryFee int64) (*models.ConsortiumMember, error) {
	member := &models.ConsortiumMember{
		ID:        uuid.New(),
		GroupID:   groupID,
		AccountID: accountID,
	}
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		group, err := qtx.GetGroupForUpdate(ctx, groupID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("consortium group %s: %w", groupID, models.ErrNotFound)
			}
			return fmt.Errorf("lock group: %w", repository.ClassifyError(err))
		}
		if group.Status != domain.GroupStatusActive {
			return ErrGroupNotActive
		}

		if entryFee > 0 {
			if _, err := s.ledger.LockAccount(ctx, qtx, accountID); err != nil {
				return err
			}
			if _, err := s.ledger.MutateBalance(ctx, qtx, accountID, entryFee, domain.DirectionDebit); err != nil {
				return err
			}
			if _, err := s.ledger.LockTreasury(ctx, qtx); err != nil {
				return err
			}
			if err := s.ledger.MutateTreasury(ctx, qtx, repository.AdjustTreasuryParams{
				ProfitDelta: entryFee,
			}); err != nil {
				return err
			}
			if _, err := s.ledger.CreateRecord(ctx, qtx, CreateRecordParams{
				AccountID:   accountID,
				Type:        domain.TxTypeConsortiumEntry,
				Direction:   domain.DirectionDebit,
				Amount:      entryFee,
				Description: fmt.Sprintf("entry fee for group %s", group.Name),
				Status:      domain.TxStatusApproved,
				Metadata:    map[string]any{"group_id": groupID},
			}); err != nil {
				return err
			}
		}

		return qtx.CreateMember(ctx, repository.CreateMemberParams{
			ID:        member.ID,
			GroupID:   groupID,
			AccountID: accountID,
		})
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

// PlaceBid records a member's bid in an open assembly.
func (s *ConsortiumService) PlaceBid(ctx context.Context, assemblyID, memberID uuid.UUID, amount int64) (*models.ConsortiumBid, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("invalid bid amount: %d", amount)
	}

	bid := &models.ConsortiumBid{
		ID:         uuid.New(),
		AssemblyID: assemblyID,
		MemberID:   memberID,
		Amount:     amount,
	}
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		assembly, err := qtx.GetAssemblyForUpdate(ctx, assemblyID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("assembly %s: %w", assemblyID, models.ErrNotFound)
			}
			return fmt.Errorf("lock assembly: %w", repository.ClassifyError(err))
		}
		if assembly.Status != domain.AssemblyStatusOpenForBids {
			return ErrAssemblyNotOpen
		}

		member, err := qtx.GetMember(ctx, memberID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("consortium member %s: %w", memberID, models.ErrNotFound)
			}
			return fmt.Errorf("load member: %w", err)
		}
		if member.GroupID != assembly.GroupID {
			return ErrMemberWrongGroup
		}
		if member.Contemplated {
			return ErrMemberContemplated
		}

		return qtx.CreateBid(ctx, repository.CreateBidParams{
			ID:         bid.ID,
			AssemblyID: assemblyID,
			MemberID:   memberID,
			Amount:     amount,
		})
	})
	if err != nil {
		return nil, err
	}
	return bid, nil
}

// FinishAssembly closes the bidding window and records the highest bidder as
// winner. The OPEN_FOR_BIDS -> FINISHED transition happens exactly once; a
// concurrent finish loses the guarded update and fails.
func (s *ConsortiumService) FinishAssembly(ctx context.Context, assemblyID uuid.UUID, actorID *uuid.UUID) (*models.ConsortiumAssembly, error) {
	var result models.ConsortiumAssembly
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		assembly, err := qtx.GetAssemblyForUpdate(ctx, assemblyID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("assembly %s: %w", assemblyID, models.ErrNotFound)
			}
			return fmt.Errorf("lock assembly: %w", repository.ClassifyError(err))
		}
		if assembly.Status != domain.AssemblyStatusOpenForBids {
			return fmt.Errorf("%s -> FINISHED: %w", assembly.Status, models.ErrInvalidStateTransition)
		}

		winner, err := qtx.GetHighestBid(ctx, assemblyID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAssemblyNoBids
			}
			return fmt.Errorf("load highest bid: %w", err)
		}

		rows, err := qtx.FinishAssembly(ctx, repository.FinishAssemblyParams{
			WinnerMemberID: winner.MemberID,
			ID:             assemblyID,
		})
		if err != nil {
			return fmt.Errorf("finish assembly: %w", err)
		}
		if err := requireExactlyOne(rows, "finish assembly"); err != nil {
			return err
		}

		if err := s.audit.Write(ctx, qtx, "consortium_assembly", assemblyID, actorID, "finished",
			domain.AssemblyStatusOpenForBids, domain.AssemblyStatusFinished, nil); err != nil {
			return err
		}

		result = models.ConsortiumAssembly{
			ID:             assemblyID,
			GroupID:        assembly.GroupID,
			Status:         domain.AssemblyStatusFinished,
			WinnerMemberID: &winner.MemberID,
			CreatedAt:      assembly.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("assembly finished",
		zap.String("assembly_id", assemblyID.String()),
		zap.String("winner_member_id", result.WinnerMemberID.String()),
	)
	return &result, nil
}

// Contemplate pays the finished assembly's winner the full group pool:
// liquidity gate, pool debit, winner credit, contemplation record, all
// atomic. The member's contemplated flag guards against a double payout.
func (s *ConsortiumService) Contemplate(ctx context.Context, assemblyID uuid.UUID, actorID *uuid.UUID) (*models.TransactionRecord, error) {
	var record models.TransactionRecord
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		assembly, err := qtx.GetAssemblyForUpdate(ctx, assemblyID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("assembly %s: %w", assemblyID, models.ErrNotFound)
			}
			return fmt.Errorf("lock assembly: %w", repository.ClassifyError(err))
		}
		if assembly.Status != domain.AssemblyStatusFinished {
			return ErrAssemblyNotFinished
		}
		if assembly.WinnerMemberID == nil {
			return ErrAssemblyNoWinner
		}

		member, err := qtx.GetMemberForUpdate(ctx, *assembly.WinnerMemberID)
		if err != nil {
			return fmt.Errorf("lock winner member: %w", repository.ClassifyError(err))
		}
		if member.Contemplated {
			return ErrMemberContemplated
		}

		group, err := qtx.GetGroupForUpdate(ctx, assembly.GroupID)
		if err != nil {
			return fmt.Errorf("lock group: %w", repository.ClassifyError(err))
		}
		payout := group.CurrentPool
		if payout <= 0 {
			return fmt.Errorf("group pool is empty: %w", models.ErrInsufficientBalance)
		}

		report, err := s.ledger.CheckLiquidity(ctx, qtx, payout)
		if err != nil {
			return err
		}
		if !report.IsLiquid {
			return fmt.Errorf("%s: %w", report.Message, models.ErrInsufficientLiquidity)
		}

		rows, err := qtx.DebitGroupPool(ctx, payout, group.ID)
		if err != nil {
			return fmt.Errorf("debit group pool: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("group pool: %w", models.ErrInsufficientBalance)
		}

		if _, err := s.ledger.LockAccount(ctx, qtx, member.AccountID); err != nil {
			return err
		}
		if _, err := s.ledger.MutateBalance(ctx, qtx, member.AccountID, payout, domain.DirectionCredit); err != nil {
			return err
		}

		rows, err = qtx.MarkMemberContemplated(ctx, member.ID)
		if err != nil {
			return fmt.Errorf("mark member contemplated: %w", err)
		}
		if err := requireExactlyOne(rows, "mark member contemplated"); err != nil {
			return err
		}

		recordID, err := s.ledger.CreateRecord(ctx, qtx, CreateRecordParams{
			AccountID:   member.AccountID,
			Type:        domain.TxTypeContemplation,
			Direction:   domain.DirectionCredit,
			Amount:      payout,
			Description: fmt.Sprintf("contemplation payout for group %s", group.Name),
			Status:      domain.TxStatusApproved,
			Metadata: map[string]any{
				"group_id":    group.ID,
				"assembly_id": assemblyID,
				"member_id":   member.ID,
			},
		})
		if err != nil {
			return err
		}

		if err := s.audit.Write(ctx, qtx, "consortium_member", member.ID, actorID, "contemplated", "", "", nil); err != nil {
			return err
		}

		row, err := qtx.GetTransactionRecord(ctx, recordID)
		if err != nil {
			return fmt.Errorf("load contemplation record: %w", err)
		}
		record = repository.RecordFromRow(row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}
