package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx so the same query set
// runs inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries is the handwritten query set for the ledger schema.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a query set bound to the given transaction.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

// AccountBalanceRow is the locked snapshot returned by GetAccountForUpdate.
type AccountBalanceRow struct {
	Balance int64
	Points  int64
}

// GetAccountForUpdate acquires the exclusive row lock on an account and
// returns its balance as of lock acquisition. Blocks behind any concurrent
// transaction holding the same lock.
func (q *Queries) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (AccountBalanceRow, error) {
	var row AccountBalanceRow
	err := q.db.QueryRow(ctx,
		`SELECT balance_cents, points FROM accounts WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&row.Balance, &row.Points)
	return row, err
}

// CreditAccountBalance unconditionally adds amount and returns the new
// balance. pgx.ErrNoRows means the account does not exist.
func (q *Queries) CreditAccountBalance(ctx context.Context, amount int64, id uuid.UUID) (int64, error) {
	var balance int64
	err := q.db.QueryRow(ctx,
		`UPDATE accounts SET balance_cents = balance_cents + $1 WHERE id = $2 RETURNING balance_cents`,
		amount, id,
	).Scan(&balance)
	return balance, err
}

// DebitAccountBalance subtracts amount only when the current balance covers
// it, returning the new balance. pgx.ErrNoRows means the conditional update
// matched nothing: the debit would have gone negative.
func (q *Queries) DebitAccountBalance(ctx context.Context, amount int64, id uuid.UUID) (int64, error) {
	var balance int64
	err := q.db.QueryRow(ctx,
		`UPDATE accounts SET balance_cents = balance_cents - $1
		 WHERE id = $2 AND balance_cents >= $1
		 RETURNING balance_cents`,
		amount, id,
	).Scan(&balance)
	return balance, err
}

// DebitAccountPoints conditionally subtracts reward points, failing closed
// like a balance debit.
func (q *Queries) DebitAccountPoints(ctx context.Context, points int64, id uuid.UUID) (int64, error) {
	var remaining int64
	err := q.db.QueryRow(ctx,
		`UPDATE accounts SET points = points - $1 WHERE id = $2 AND points >= $1 RETURNING points`,
		points, id,
	).Scan(&remaining)
	return remaining, err
}

// CreditAccountPoints adds reward points to an account.
func (q *Queries) CreditAccountPoints(ctx context.Context, points int64, id uuid.UUID) (int64, error) {
	var remaining int64
	err := q.db.QueryRow(ctx,
		`UPDATE accounts SET points = points + $1 WHERE id = $2 RETURNING points`,
		points, id,
	).Scan(&remaining)
	return remaining, err
}

// TreasuryRow mirrors the single system_treasury row.
type TreasuryRow struct {
	SystemBalance      int64
	ProfitPool         int64
	TaxReserve         int64
	OperationalReserve int64
	OwnerProfit        int64
	InvestmentReserve  int64
	UpdatedAt          time.Time
}

const treasuryColumns = `system_balance_cents, profit_pool_cents, tax_reserve_cents,
		operational_reserve_cents, owner_profit_cents, investment_reserve_cents, updated_at`

// GetTreasuryForUpdate locks the treasury row like any other account row.
func (q *Queries) GetTreasuryForUpdate(ctx context.Context, id int) (TreasuryRow, error) {
	var row TreasuryRow
	err := q.db.QueryRow(ctx,
		`SELECT `+treasuryColumns+` FROM system_treasury WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&row.SystemBalance, &row.ProfitPool, &row.TaxReserve,
		&row.OperationalReserve, &row.OwnerProfit, &row.InvestmentReserve, &row.UpdatedAt)
	return row, err
}

// GetTreasury reads the treasury row without locking (display / reconciliation).
func (q *Queries) GetTreasury(ctx context.Context, id int) (TreasuryRow, error) {
	var row TreasuryRow
	err := q.db.QueryRow(ctx,
		`SELECT `+treasuryColumns+` FROM system_treasury WHERE id = $1`,
		id,
	).Scan(&row.SystemBalance, &row.ProfitPool, &row.TaxReserve,
		&row.OperationalReserve, &row.OwnerProfit, &row.InvestmentReserve, &row.UpdatedAt)
	return row, err
}

// AdjustTreasuryParams carries signed deltas for each treasury bucket.
type AdjustTreasuryParams struct {
	SystemDelta      int64
	ProfitDelta      int64
	TaxDelta         int64
	OperationalDelta int64
	OwnerDelta       int64
	InvestmentDelta  int64
	ID               int
}

// AdjustTreasury applies bucket deltas in one statement, refusing any update
// that would drive a bucket negative.
func (q *Queries) AdjustTreasury(ctx context.Context, arg AdjustTreasuryParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE system_treasury SET
			system_balance_cents = system_balance_cents + $1,
			profit_pool_cents = profit_pool_cents + $2,
			tax_reserve_cents = tax_reserve_cents + $3,
			operational_reserve_cents = operational_reserve_cents + $4,
			owner_profit_cents = owner_profit_cents + $5,
			investment_reserve_cents = investment_reserve_cents + $6,
			updated_at = NOW()
		WHERE id = $7
			AND system_balance_cents + $1 >= 0
			AND profit_pool_cents + $2 >= 0
			AND tax_reserve_cents + $3 >= 0
			AND operational_reserve_cents + $4 >= 0
			AND owner_profit_cents + $5 >= 0
			AND investment_reserve_cents + $6 >= 0`,
		arg.SystemDelta, arg.ProfitDelta, arg.TaxDelta,
		arg.OperationalDelta, arg.OwnerDelta, arg.InvestmentDelta, arg.ID,
	)
	return tag.RowsAffected(), err
}

// CreateTransactionRecordParams holds the insert arguments for one record.
type CreateTransactionRecordParams struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	Type        string
	Direction   string
	Amount      int64
	Status      string
	Description string
	Metadata    []byte
}

func (q *Queries) CreateTransactionRecord(ctx context.Context, arg CreateTransactionRecordParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO transaction_records
			(id, account_id, type, direction, amount_cents, status, description, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())`,
		arg.ID, arg.AccountID, arg.Type, arg.Direction, arg.Amount,
		arg.Status, arg.Description, arg.Metadata,
	)
	return err
}

// TransactionRecordRow mirrors a transaction_records row.
type TransactionRecordRow struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	Type        string
	Direction   string
	Amount      int64
	Status      string
	Description string
	Metadata    []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const recordColumns = `id, account_id, type, direction, amount_cents, status, description, metadata, created_at, updated_at`

func scanRecord(row pgx.Row) (TransactionRecordRow, error) {
	var r TransactionRecordRow
	err := row.Scan(&r.ID, &r.AccountID, &r.Type, &r.Direction, &r.Amount,
		&r.Status, &r.Description, &r.Metadata, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (q *Queries) GetTransactionRecord(ctx context.Context, id uuid.UUID) (TransactionRecordRow, error) {
	return scanRecord(q.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM transaction_records WHERE id = $1`, id))
}

// GetTransactionRecordForUpdate locks a record row so a status transition can
// validate the current state without racing a concurrent approval.
func (q *Queries) GetTransactionRecordForUpdate(ctx context.Context, id uuid.UUID) (TransactionRecordRow, error) {
	return scanRecord(q.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM transaction_records WHERE id = $1 FOR UPDATE`, id))
}

// UpdateTransactionStatusParams guards the transition with the expected
// pre-state: zero rows affected means the record moved underneath us.
type UpdateTransactionStatusParams struct {
	Status         string
	ExpectedStatus string
	ID             uuid.UUID
}

func (q *Queries) UpdateTransactionStatus(ctx context.Context, arg UpdateTransactionStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE transaction_records SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		arg.Status, arg.ID, arg.ExpectedStatus,
	)
	return tag.RowsAffected(), err
}

// ListRecordsByAccount returns an account's records newest first.
func (q *Queries) ListRecordsByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int32) ([]TransactionRecordRow, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+recordColumns+` FROM transaction_records
		 WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		accountID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransactionRecordRow
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListExpiredPendingWithdrawals returns withdrawal records still awaiting
// confirmation past the cutoff, locked SKIP LOCKED so concurrent expiry
// sweeps never double-claim.
func (q *Queries) ListExpiredPendingWithdrawals(ctx context.Context, cutoff time.Time, limit int32) ([]TransactionRecordRow, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+recordColumns+` FROM transaction_records
		 WHERE type = 'WITHDRAWAL'
		   AND status IN ('PENDING', 'PENDING_CONFIRMATION')
		   AND created_at < $1
		 ORDER BY created_at
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
		cutoff, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransactionRecordRow
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertAuditLogParams mirrors one immutable audit trail entry.
type InsertAuditLogParams struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		arg.EntityType, arg.EntityID, arg.ActorID, arg.Action, arg.PrevState, arg.NextState, arg.Metadata,
	)
	return err
}
