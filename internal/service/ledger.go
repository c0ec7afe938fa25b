package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/krkn12/cred30-sub003/internal/domain"
	"github.com/krkn12/cred30-sub003/internal/models"
	"github.com/krkn12/cred30-sub003/internal/repository"
)

// LedgerService owns balance mutation. Accounts and the treasury row may only
// be touched through these primitives, from inside an active unit of work
// that has taken the corresponding row lock first.
type LedgerService struct {
	store QueryStore
	audit *AuditService
}

func NewLedgerService(store QueryStore) *LedgerService {
	return &LedgerService{
		store: store,
		audit: NewAuditService(),
	}
}

// LockAccount acquires the exclusive row lock on an account and returns its
// balance as of lock acquisition. Must be the first operation on an account
// inside a unit of work that intends to mutate it.
func (s *LedgerService) LockAccount(ctx context.Context, qtx *repository.Queries, accountID uuid.UUID) (int64, error) {
	row, err := qtx.GetAccountForUpdate(ctx, accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("account %s: %w", accountID, models.ErrNotFound)
		}
		return 0, fmt.Errorf("lock account %s: %w", accountID, repository.ClassifyError(err))
	}
	return row.Balance, nil
}

// MutateBalance applies a single conditional balance update and returns the
// new balance. For a debit the update itself carries the balance guard, so
// two concurrent debits against the same account can never both succeed when
// their sum exceeds the balance.
func (s *LedgerService) MutateBalance(ctx context.Context, qtx *repository.Queries, accountID uuid.UUID, amount int64, direction string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("invalid amount: %d", amount)
	}

	switch direction {
	case domain.DirectionDebit:
		newBalance, err := qtx.DebitAccountBalance(ctx, amount, accountID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, models.ErrInsufficientBalance
			}
			return 0, fmt.Errorf("debit account %s: %w", accountID, repository.ClassifyError(err))
		}
		return newBalance, nil
	case domain.DirectionCredit:
		newBalance, err := qtx.CreditAccountBalance(ctx, amount, accountID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, fmt.Errorf("account %s: %w", accountID, models.ErrNotFound)
			}
			return 0, fmt.Errorf("credit account %s: %w", accountID, repository.ClassifyError(err))
		}
		return newBalance, nil
	default:
		return 0, fmt.Errorf("invalid direction: %q", direction)
	}
}

// MutatePoints applies a conditional points update under the same guard
// discipline as MutateBalance and returns the new points total.
func (s *LedgerService) MutatePoints(ctx context.Context, qtx *repository.Queries, accountID uuid.UUID, amount int64, direction string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("invalid amount: %d", amount)
	}

	switch direction {
	case domain.DirectionDebit:
		newPoints, err := qtx.DebitAccountPoints(ctx, amount, accountID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, models.ErrInsufficientBalance
			}
			return 0, fmt.Errorf("debit points %s: %w", accountID, repository.ClassifyError(err))
		}
		return newPoints, nil
	case domain.DirectionCredit:
		newPoints, err := qtx.CreditAccountPoints(ctx, amount, accountID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, fmt.Errorf("account %s: %w", accountID, models.ErrNotFound)
			}
			return 0, fmt.Errorf("credit points %s: %w", accountID, repository.ClassifyError(err))
		}
		return newPoints, nil
	default:
		return 0, fmt.Errorf("invalid direction: %q", direction)
	}
}

// LockTreasury locks the single treasury row under the same discipline as an
// account row and returns its current snapshot.
func (s *LedgerService) LockTreasury(ctx context.Context, qtx *repository.Queries) (models.SystemTreasury, error) {
	row, err := qtx.GetTreasuryForUpdate(ctx, domain.TreasuryRowID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.SystemTreasury{}, fmt.Errorf("system treasury: %w", models.ErrNotFound)
		}
		return models.SystemTreasury{}, fmt.Errorf("lock treasury: %w", repository.ClassifyError(err))
	}
	return repository.TreasuryFromRow(row), nil
}

// MutateTreasury applies signed bucket deltas to the locked treasury row.
// The update refuses to drive any bucket negative; callers must hold the
// treasury lock.
func (s *LedgerService) MutateTreasury(ctx context.Context, qtx *repository.Queries, deltas repository.AdjustTreasuryParams) error {
	deltas.ID = domain.TreasuryRowID
	rows, err := qtx.AdjustTreasury(ctx, deltas)
	if err != nil {
		return fmt.Errorf("adjust treasury: %w", repository.ClassifyError(err))
	}
	if rows == 0 {
		return fmt.Errorf("treasury adjustment refused: %w", models.ErrInsufficientBalance)
	}
	return requireExactlyOne(rows, "adjust treasury")
}
