package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/krkn12/cred30-sub003/internal/domain"
	"github.com/krkn12/cred30-sub003/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs a full deposit -> contribute -> contemplate -> withdraw cycle and
// checks that the treasury's gross balance ends exactly at the net external
// cash flow. Internal transfers (fee split, pool payout) must never move
// gross; only deposits and withdrawals cross the system boundary.
func TestTreasuryCashConservation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	seedTreasury(t, db, 0, 0, 0)
	store := repository.NewStore(db)
	ledger := NewLedgerService(store)
	deposits := NewDepositService(store, ledger)
	consortium := newConsortiumService(db)
	withdrawals := newWithdrawalService(db)
	ctx := context.Background()

	aliceAcc := createTestAccount(t, db, 0, 0)
	bobAcc := createTestAccount(t, db, 0, 0)

	// Two deposits of 100.00 each: 200.00 entered the vault.
	for _, acc := range []struct {
		id  uuid.UUID
		pix string
	}{{aliceAcc, "alice@pix.example"}, {bobAcc, "bob@pix.example"}} {
		rec, err := deposits.Request(ctx, acc.id, 100_00, acc.pix)
		require.NoError(t, err)
		_, err = deposits.Approve(ctx, rec.ID, nil)
		require.NoError(t, err)
	}
	system, _ := treasurySnapshot(t, db, domain.TreasuryRowID)
	require.Equal(t, int64(200_00), system)

	// Alice contributes her full deposit; the 5% fee moves into the profit
	// pool slice without creating cash.
	group := createTestGroup(t, db, 100_00, 500, 0)
	alice, err := consortium.Join(ctx, group, aliceAcc, 0)
	require.NoError(t, err)
	_, err = consortium.Contribute(ctx, alice.ID)
	require.NoError(t, err)

	system, profit := treasurySnapshot(t, db, domain.TreasuryRowID)
	assert.Equal(t, int64(200_00), system)
	assert.Equal(t, int64(5_00), profit)

	// Alice wins the assembly and is paid the pool. Still an internal move.
	assembly := createTestAssembly(t, db, group)
	_, err = consortium.PlaceBid(ctx, assembly, alice.ID, 10_00)
	require.NoError(t, err)
	_, err = consortium.FinishAssembly(ctx, assembly, nil)
	require.NoError(t, err)
	_, err = consortium.Contemplate(ctx, assembly, nil)
	require.NoError(t, err)

	system, _ = treasurySnapshot(t, db, domain.TreasuryRowID)
	assert.Equal(t, int64(200_00), system)
	aliceBalance, _ := accountBalance(t, db, aliceAcc)
	require.Equal(t, int64(95_00), aliceBalance)

	// Alice withdraws the payout: 95.00 leaves the vault on approval.
	wd, err := withdrawals.Request(ctx, RequestWithdrawalParams{
		AccountID: aliceAcc,
		Amount:    95_00,
		Reference: "wd-conserve-1",
		TwoFactor: true,
	})
	require.NoError(t, err)
	_, err = withdrawals.Approve(ctx, wd.ID, nil)
	require.NoError(t, err)

	// Gross equals net external flow: 200.00 in - 95.00 out.
	system, profit = treasurySnapshot(t, db, domain.TreasuryRowID)
	assert.Equal(t, int64(105_00), system)
	assert.Equal(t, int64(5_00), profit)

	// Remaining internal liabilities stay covered by gross.
	report, err := NewReconciliationService(store).Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Healthy)
}
