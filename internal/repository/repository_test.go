package repository

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/krkn12/cred30-sub003/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = godotenv.Load("../../.env") // Load from root
}

func connectTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		t.Fatalf("Failed to connect to DB: %v", err)
	}
	ensureTables(t, pool)
	return pool
}

func ensureTables(t *testing.T, db *pgxpool.Pool) {
	t.Helper()

	sql := `
		CREATE TABLE IF NOT EXISTS accounts (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			balance_cents BIGINT NOT NULL DEFAULT 0,
			points BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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

		CREATE TABLE IF NOT EXISTS workflow_references (
			reference TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			request_hash TEXT NOT NULL,
			in_progress BOOLEAN NOT NULL DEFAULT TRUE,
			response JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	if _, err := db.Exec(context.Background(), sql); err != nil {
		t.Fatalf("failed to ensure tables: %v", err)
	}
}

func TestCreateAndGetAccount(t *testing.T) {
	pool := connectTestDB(t)
	defer pool.Close()

	repo := NewRepository(pool)
	ctx := context.Background()

	account := &models.Account{
		ID:      uuid.New(),
		UserID:  uuid.New(),
		Balance: 250_00,
		Points:  10,
	}
	require.NoError(t, repo.CreateAccount(ctx, account))
	assert.False(t, account.CreatedAt.IsZero())

	got, err := repo.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)
	assert.Equal(t, int64(250_00), got.Balance)
	assert.Equal(t, int64(10), got.Points)
}

func TestGetAccountNotFound(t *testing.T) {
	pool := connectTestDB(t)
	defer pool.Close()

	repo := NewRepository(pool)

	_, err := repo.GetAccount(context.Background(), uuid.New())
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetStatementOrdering(t *testing.T) {
	pool := connectTestDB(t)
	defer pool.Close()

	repo := NewRepository(pool)
	queries := New(pool)
	ctx := context.Background()

	account := &models.Account{ID: uuid.New(), UserID: uuid.New()}
	require.NoError(t, repo.CreateAccount(ctx, account))

	for i, amount := range []int64{10_00, 20_00, 30_00} {
		status := "APPROVED"
		if i == 2 {
			status = "PENDING"
		}
		require.NoError(t, queries.CreateTransactionRecord(ctx, CreateTransactionRecordParams{
			ID:        uuid.New(),
			AccountID: account.ID,
			Type:      "DEPOSIT",
			Direction: "credit",
			Amount:    amount,
			Status:    status,
		}))
	}

	statement, err := repo.GetStatement(ctx, account.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, statement, 3)
	// Newest first.
	assert.Equal(t, int64(30_00), statement[0].Amount)
	assert.Equal(t, "PENDING", statement[0].Status)
}

func TestReserveReferenceFirstCallerWins(t *testing.T) {
	pool := connectTestDB(t)
	defer pool.Close()

	queries := New(pool)
	ctx := context.Background()

	ref := "repo-ref-" + uuid.NewString()[:8]
	params := ReserveReferenceParams{Reference: ref, Kind: "withdrawal", RequestHash: "h1"}

	got, err := queries.ReserveReference(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, ref, got)

	// A second reservation reads zero rows.
	_, err = queries.ReserveReference(ctx, params)
	require.ErrorIs(t, err, pgx.ErrNoRows)

	// Finalizing stores the response for replay.
	row, err := queries.FinalizeReference(ctx, FinalizeReferenceParams{
		Response:    []byte(`{"record_id":"x"}`),
		Reference:   ref,
		RequestHash: "h1",
	})
	require.NoError(t, err)
	assert.False(t, row.InProgress)
}
