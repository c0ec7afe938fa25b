package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// setupTestDB connects to the local Postgres instance, ensures the ledger
// schema, and resets it to a known state.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	db, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		t.Fatalf("Failed to connect to DB: %v", err)
	}

	ensureSchema(t, db)

	for _, table := range []string{
		"audit_log", "workflow_references", "transaction_records",
		"consortium_bids", "consortium_assemblies", "consortium_members",
		"consortium_groups", "accounts",
	} {
		stmt := fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)
		if _, err := db.Exec(context.Background(), stmt); err != nil {
			if strings.Contains(err.Error(), "does not exist") {
				continue
			}
			t.Fatalf("Failed to truncate %s: %v", table, err)
		}
	}

	seedTreasury(t, db, 0, 0, 0)
	return db
}

func ensureSchema(t *testing.T, db *pgxpool.Pool) {
	t.Helper()

	sql := `
		CREATE TABLE IF NOT EXISTS accounts (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			balance_cents BIGINT NOT NULL DEFAULT 0,
			points BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS system_treasury (
			id INT PRIMARY KEY,
			system_balance_cents BIGINT NOT NULL DEFAULT 0,
			profit_pool_cents BIGINT NOT NULL DEFAULT 0,
			tax_reserve_cents BIGINT NOT NULL DEFAULT 0,
			operational_reserve_cents BIGINT NOT NULL DEFAULT 0,
			owner_profit_cents BIGINT NOT NULL DEFAULT 0,
			investment_reserve_cents BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS transaction_records (
			id UUID PRIMARY KEY,
			account_id UUID NOT NULL,
			type TEXT NOT NULL,
			direction TEXT NOT NULL,
			amount_cents BIGINT NOT NULL,
			status TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS consortium_groups (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			installment_cents BIGINT NOT NULL,
			admin_fee_bps BIGINT NOT NULL DEFAULT 0,
			current_pool_cents BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'ACTIVE',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS consortium_members (
			id UUID PRIMARY KEY,
			group_id UUID NOT NULL,
			account_id UUID NOT NULL,
			contemplated BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS consortium_assemblies (
			id UUID PRIMARY KEY,
			group_id UUID NOT NULL,
			status TEXT NOT NULL DEFAULT 'OPEN_FOR_BIDS',
			winner_member_id UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			finished_at TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS consortium_bids (
			id UUID PRIMARY KEY,
			assembly_id UUID NOT NULL,
			member_id UUID NOT NULL,
			amount_cents BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS workflow_references (
			reference TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			request_hash TEXT NOT NULL,
			in_progress BOOLEAN NOT NULL DEFAULT TRUE,
			response JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			id BIGSERIAL PRIMARY KEY,
			entity_type TEXT NOT NULL,
			entity_id UUID NOT NULL,
			actor_id UUID,
			action TEXT NOT NULL,
			prev_state TEXT,
			next_state TEXT,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	if _, err := db.Exec(context.Background(), sql); err != nil {
		t.Fatalf("failed to ensure schema: %v", err)
	}
}

// seedTreasury upserts the single treasury row with the given bucket values.
func seedTreasury(t *testing.T, db *pgxpool.Pool, systemBalance, reserves, profitPool int64) {
	t.Helper()

	sql := `
		INSERT INTO system_treasury
			(id, system_balance_cents, profit_pool_cents, tax_reserve_cents,
			 operational_reserve_cents, owner_profit_cents, investment_reserve_cents, updated_at)
		VALUES (1, $1, $2, $3, 0, 0, 0, NOW())
		ON CONFLICT (id) DO UPDATE SET
			system_balance_cents = EXCLUDED.system_balance_cents,
			profit_pool_cents = EXCLUDED.profit_pool_cents,
			tax_reserve_cents = EXCLUDED.tax_reserve_cents,
			operational_reserve_cents = 0,
			owner_profit_cents = 0,
			investment_reserve_cents = 0,
			updated_at = NOW()
	`
	if _, err := db.Exec(context.Background(), sql, systemBalance, profitPool, reserves); err != nil {
		t.Fatalf("failed to seed treasury: %v", err)
	}
}

// createTestAccount inserts an account with the given balance and points and
// returns its ID.
func createTestAccount(t *testing.T, db *pgxpool.Pool, balance, points int64) uuid.UUID {
	t.Helper()

	id := uuid.New()
	_, err := db.Exec(context.Background(), `
		INSERT INTO accounts (id, user_id, balance_cents, points, created_at)
		VALUES ($1, $2, $3, $4, NOW())`,
		id, uuid.New(), balance, points,
	)
	if err != nil {
		t.Fatalf("failed to create test account: %v", err)
	}
	return id
}

// createTestGroup inserts an active consortium group and returns its ID.
func createTestGroup(t *testing.T, db *pgxpool.Pool, installment, adminFeeBps, pool int64) uuid.UUID {
	t.Helper()

	id := uuid.New()
	_, err := db.Exec(context.Background(), `
		INSERT INTO consortium_groups (id, name, installment_cents, admin_fee_bps, current_pool_cents, status, created_at)
		VALUES ($1, 'test group', $2, $3, $4, 'ACTIVE', NOW())`,
		id, installment, adminFeeBps, pool,
	)
	if err != nil {
		t.Fatalf("failed to create test group: %v", err)
	}
	return id
}

// createTestAssembly inserts an assembly open for bids and returns its ID.
func createTestAssembly(t *testing.T, db *pgxpool.Pool, groupID uuid.UUID) uuid.UUID {
	t.Helper()

	id := uuid.New()
	_, err := db.Exec(context.Background(), `
		INSERT INTO consortium_assemblies (id, group_id, status, created_at)
		VALUES ($1, $2, 'OPEN_FOR_BIDS', NOW())`,
		id, groupID,
	)
	if err != nil {
		t.Fatalf("failed to create test assembly: %v", err)
	}
	return id
}

// accountBalance reads an account's balance and points outside any lock.
func accountBalance(t *testing.T, db *pgxpool.Pool, id uuid.UUID) (int64, int64) {
	t.Helper()

	var balance, points int64
	err := db.QueryRow(context.Background(),
		`SELECT balance_cents, points FROM accounts WHERE id = $1`, id,
	).Scan(&balance, &points)
	if err != nil {
		t.Fatalf("failed to read account balance: %v", err)
	}
	return balance, points
}

// treasurySnapshot reads the treasury row's gross balance and profit pool.
func treasurySnapshot(t *testing.T, db *pgxpool.Pool, id int) (int64, int64) {
	t.Helper()

	var system, profit int64
	err := db.QueryRow(context.Background(),
		`SELECT system_balance_cents, profit_pool_cents FROM system_treasury WHERE id = $1`, id,
	).Scan(&system, &profit)
	if err != nil {
		t.Fatalf("failed to read treasury: %v", err)
	}
	return system, profit
}
