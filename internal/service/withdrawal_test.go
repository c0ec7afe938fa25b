package service

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/krkn12/cred30-sub003/internal/domain"
	"github.com/krkn12/cred30-sub003/internal/idempotency"
	"github.com/krkn12/cred30-sub003/internal/models"
	"github.com/krkn12/cred30-sub003/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWithdrawalService(db *pgxpool.Pool) *WithdrawalService {
	store := repository.NewStore(db)
	ledger := NewLedgerService(store)
	idem := idempotency.NewStore(nil, db, time.Hour)
	return NewWithdrawalService(store, ledger, idem)
}

func TestWithdrawalRequest(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	seedTreasury(t, db, 10_000_00, 0, 0)
	svc := newWithdrawalService(db)
	ctx := context.Background()

	acc := createTestAccount(t, db, 500_00, 0)

	record, err := svc.Request(ctx, RequestWithdrawalParams{
		AccountID: acc,
		Amount:    200_00,
		Reference: "wd-req-1",
		PixKey:    "user@pix.example",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusPending, record.Status)
	assert.Equal(t, domain.DirectionDebit, record.Direction)

	// The debit happens at request time.
	balance, _ := accountBalance(t, db, acc)
	assert.Equal(t, int64(300_00), balance)
}

func TestWithdrawalRequestTwoFactorStartsConfirmed(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	seedTreasury(t, db, 10_000_00, 0, 0)
	svc := newWithdrawalService(db)

	acc := createTestAccount(t, db, 500_00, 0)

	record, err := svc.Request(context.Background(), RequestWithdrawalParams{
		AccountID: acc,
		Amount:    100_00,
		Reference: "wd-2fa-1",
		TwoFactor: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusPendingConfirmation, record.Status)
}

func TestWithdrawalLiquidityDenialRollsBack(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	// Raw liquidity: 100.00 - 10.00 buffer = 90.00, below the request.
	seedTreasury(t, db, 100_00, 0, 0)
	svc := newWithdrawalService(db)
	ctx := context.Background()

	acc := createTestAccount(t, db, 500_00, 0)

	_, err := svc.Request(ctx, RequestWithdrawalParams{
		AccountID: acc,
		Amount:    200_00,
		Reference: "wd-illiquid-1",
	})
	require.ErrorIs(t, err, models.ErrInsufficientLiquidity)

	// The whole unit of work rolled back: debit undone, reference released.
	balance, _ := accountBalance(t, db, acc)
	assert.Equal(t, int64(500_00), balance)

	var refs int
	err = db.QueryRow(ctx, "SELECT COUNT(*) FROM workflow_references").Scan(&refs)
	require.NoError(t, err)
	assert.Equal(t, 0, refs)
}

func TestWithdrawalCollateralSkipsLiquidityGate(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	seedTreasury(t, db, 0, 0, 0)
	svc := newWithdrawalService(db)

	acc := createTestAccount(t, db, 500_00, 0)

	record, err := svc.Request(context.Background(), RequestWithdrawalParams{
		AccountID:         acc,
		Amount:            200_00,
		Reference:         "wd-collateral-1",
		CollateralCovered: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusPending, record.Status)
}

func TestWithdrawalInsufficientBalance(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	seedTreasury(t, db, 10_000_00, 0, 0)
	svc := newWithdrawalService(db)

	acc := createTestAccount(t, db, 100_00, 0)

	_, err := svc.Request(context.Background(), RequestWithdrawalParams{
		AccountID: acc,
		Amount:    100_01,
		Reference: "wd-poor-1",
	})
	require.ErrorIs(t, err, models.ErrInsufficientBalance)

	balance, _ := accountBalance(t, db, acc)
	assert.Equal(t, int64(100_00), balance)
}

func TestWithdrawalIdempotentReplay(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	seedTreasury(t, db, 10_000_00, 0, 0)
	svc := newWithdrawalService(db)
	ctx := context.Background()

	acc := createTestAccount(t, db, 500_00, 0)

	params := RequestWithdrawalParams{
		AccountID: acc,
		Amount:    200_00,
		Reference: "wd-replay-1",
	}
	first, err := svc.Request(ctx, params)
	require.NoError(t, err)

	second, err := svc.Request(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Only one debit despite two requests.
	balance, _ := accountBalance(t, db, acc)
	assert.Equal(t, int64(300_00), balance)
}

func TestWithdrawalReferenceReuseWithDifferentRequest(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	seedTreasury(t, db, 10_000_00, 0, 0)
	svc := newWithdrawalService(db)
	ctx := context.Background()

	acc := createTestAccount(t, db, 500_00, 0)

	_, err := svc.Request(ctx, RequestWithdrawalParams{
		AccountID: acc,
		Amount:    200_00,
		Reference: "wd-reuse-1",
	})
	require.NoError(t, err)

	_, err = svc.Request(ctx, RequestWithdrawalParams{
		AccountID: acc,
		Amount:    150_00,
		Reference: "wd-reuse-1",
	})
	require.ErrorIs(t, err, idempotency.ErrHashMismatch)
}

func TestWithdrawalApproveSettlesTreasury(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	seedTreasury(t, db, 10_000_00, 0, 0)
	svc := newWithdrawalService(db)
	ctx := context.Background()

	acc := createTestAccount(t, db, 500_00, 0)

	record, err := svc.Request(ctx, RequestWithdrawalParams{
		AccountID: acc,
		Amount:    200_00,
		Reference: "wd-approve-1",
	})
	require.NoError(t, err)

	confirmed, err := svc.Confirm(ctx, record.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusPendingConfirmation, confirmed.Status)

	approved, err := svc.Approve(ctx, record.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusApproved, approved.Status)

	// Payout left the gross balance; the account stays debited.
	system, _ := treasurySnapshot(t, db, domain.TreasuryRowID)
	assert.Equal(t, int64(9_800_00), system)

	balance, _ := accountBalance(t, db, acc)
	assert.Equal(t, int64(300_00), balance)
}

func TestWithdrawalApproveRefusesNonWithdrawal(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	seedTreasury(t, db, 10_000_00, 0, 0)
	store := repository.NewStore(db)
	ledger := NewLedgerService(store)
	deposits := NewDepositService(store, ledger)
	svc := newWithdrawalService(db)
	ctx := context.Background()

	acc := createTestAccount(t, db, 0, 0)

	deposit, err := deposits.Request(ctx, acc, 200_00, "user@pix.example")
	require.NoError(t, err)

	_, err = svc.Approve(ctx, deposit.ID, nil)
	require.Error(t, err)

	// Rolled back whole: the record stays pending, the treasury never moved.
	got, err := store.Queries().GetTransactionRecord(ctx, deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusPending, got.Status)

	system, _ := treasurySnapshot(t, db, domain.TreasuryRowID)
	assert.Equal(t, int64(10_000_00), system)
}

func TestWithdrawalRejectRefunds(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	seedTreasury(t, db, 10_000_00, 0, 0)
	svc := newWithdrawalService(db)
	ctx := context.Background()

	acc := createTestAccount(t, db, 500_00, 0)

	record, err := svc.Request(ctx, RequestWithdrawalParams{
		AccountID: acc,
		Amount:    200_00,
		Reference: "wd-reject-1",
	})
	require.NoError(t, err)

	rejected, err := svc.Reject(ctx, record.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusRejected, rejected.Status)

	// The compensating credit restored the up-front debit.
	balance, _ := accountBalance(t, db, acc)
	assert.Equal(t, int64(500_00), balance)

	// The treasury never moved.
	system, _ := treasurySnapshot(t, db, domain.TreasuryRowID)
	assert.Equal(t, int64(10_000_00), system)
}

func TestExpireStaleWithdrawals(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	seedTreasury(t, db, 10_000_00, 0, 0)
	svc := newWithdrawalService(db)
	ctx := context.Background()

	acc := createTestAccount(t, db, 500_00, 0)

	record, err := svc.Request(ctx, RequestWithdrawalParams{
		AccountID: acc,
		Amount:    200_00,
		Reference: "wd-stale-1",
	})
	require.NoError(t, err)

	_, err = db.Exec(ctx,
		`UPDATE transaction_records SET created_at = NOW() - INTERVAL '3 days' WHERE id = $1`,
		record.ID,
	)
	require.NoError(t, err)

	expired, err := svc.ExpireStale(ctx, 48*time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := repository.NewStore(db).Queries().GetTransactionRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusCancelled, got.Status)

	balance, _ := accountBalance(t, db, acc)
	assert.Equal(t, int64(500_00), balance)

	// The reference was released, so the same key accepts a fresh request.
	var refs int
	err = db.QueryRow(ctx, "SELECT COUNT(*) FROM workflow_references WHERE reference = $1", "wd-stale-1").Scan(&refs)
	require.NoError(t, err)
	assert.Equal(t, 0, refs)

	retried, err := svc.Request(ctx, RequestWithdrawalParams{
		AccountID: acc,
		Amount:    200_00,
		Reference: "wd-stale-1",
	})
	require.NoError(t, err)
	assert.NotEqual(t, record.ID, retried.ID)
}
