package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GroupRow mirrors a consortium_groups row.
type GroupRow struct {
	ID          uuid.UUID
	Name        string
	Installment int64
	AdminFeeBps int64
	CurrentPool int64
	Status      string
	CreatedAt   time.Time
}

const groupColumns = `id, name, installment_cents, admin_fee_bps, current_pool_cents, status, created_at`

func scanGroup(row pgx.Row) (GroupRow, error) {
	var g GroupRow
	err := row.Scan(&g.ID, &g.Name, &g.Installment, &g.AdminFeeBps, &g.CurrentPool, &g.Status, &g.CreatedAt)
	return g, err
}

func (q *Queries) GetGroup(ctx context.Context, id uuid.UUID) (GroupRow, error) {
	return scanGroup(q.db.QueryRow(ctx,
		`SELECT `+groupColumns+` FROM consortium_groups WHERE id = $1`, id))
}

// GetGroupForUpdate locks the group row; the pool is a ledger-adjacent
// balance and follows the same locking discipline as accounts.
func (q *Queries) GetGroupForUpdate(ctx context.Context, id uuid.UUID) (GroupRow, error) {
	return scanGroup(q.db.QueryRow(ctx,
		`SELECT `+groupColumns+` FROM consortium_groups WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) CreditGroupPool(ctx context.Context, amount int64, id uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE consortium_groups SET current_pool_cents = current_pool_cents + $1 WHERE id = $2`,
		amount, id,
	)
	return tag.RowsAffected(), err
}

func (q *Queries) DebitGroupPool(ctx context.Context, amount int64, id uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE consortium_groups SET current_pool_cents = current_pool_cents - $1
		 WHERE id = $2 AND current_pool_cents >= $1`,
		amount, id,
	)
	return tag.RowsAffected(), err
}

// MemberRow mirrors a consortium_members row.
type MemberRow struct {
	ID           uuid.UUID
	GroupID      uuid.UUID
	AccountID    uuid.UUID
	Contemplated bool
	CreatedAt    time.Time
}

func scanMember(row pgx.Row) (MemberRow, error) {
	var m MemberRow
	err := row.Scan(&m.ID, &m.GroupID, &m.AccountID, &m.Contemplated, &m.CreatedAt)
	return m, err
}

const memberColumns = `id, group_id, account_id, contemplated, created_at`

func (q *Queries) GetMember(ctx context.Context, id uuid.UUID) (MemberRow, error) {
	return scanMember(q.db.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM consortium_members WHERE id = $1`, id))
}

func (q *Queries) GetMemberForUpdate(ctx context.Context, id uuid.UUID) (MemberRow, error) {
	return scanMember(q.db.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM consortium_members WHERE id = $1 FOR UPDATE`, id))
}

// CreateMemberParams holds the insert arguments for one group member.
type CreateMemberParams struct {
	ID        uuid.UUID
	GroupID   uuid.UUID
	AccountID uuid.UUID
}

func (q *Queries) CreateMember(ctx context.Context, arg CreateMemberParams) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO consortium_members (id, group_id, account_id, contemplated, created_at)
		 VALUES ($1, $2, $3, FALSE, NOW())`,
		arg.ID, arg.GroupID, arg.AccountID,
	)
	return err
}

// MarkMemberContemplated flips the flag only once; zero rows affected means
// the member was already contemplated.
func (q *Queries) MarkMemberContemplated(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE consortium_members SET contemplated = TRUE WHERE id = $1 AND NOT contemplated`,
		id,
	)
	return tag.RowsAffected(), err
}

// AssemblyRow mirrors a consortium_assemblies row.
type AssemblyRow struct {
	ID             uuid.UUID
	GroupID        uuid.UUID
	Status         string
	WinnerMemberID *uuid.UUID
	CreatedAt      time.Time
	FinishedAt     *time.Time
}

const assemblyColumns = `id, group_id, status, winner_member_id, created_at, finished_at`

func scanAssembly(row pgx.Row) (AssemblyRow, error) {
	var a AssemblyRow
	err := row.Scan(&a.ID, &a.GroupID, &a.Status, &a.WinnerMemberID, &a.CreatedAt, &a.FinishedAt)
	return a, err
}

func (q *Queries) GetAssembly(ctx context.Context, id uuid.UUID) (AssemblyRow, error) {
	return scanAssembly(q.db.QueryRow(ctx,
		`SELECT `+assemblyColumns+` FROM consortium_assemblies WHERE id = $1`, id))
}

func (q *Queries) GetAssemblyForUpdate(ctx context.Context, id uuid.UUID) (AssemblyRow, error) {
	return scanAssembly(q.db.QueryRow(ctx,
		`SELECT `+assemblyColumns+` FROM consortium_assemblies WHERE id = $1 FOR UPDATE`, id))
}

// FinishAssemblyParams records the winner; the status guard makes the
// OPEN_FOR_BIDS -> FINISHED transition happen exactly once.
type FinishAssemblyParams struct {
	WinnerMemberID uuid.UUID
	ID             uuid.UUID
}

func (q *Queries) FinishAssembly(ctx context.Context, arg FinishAssemblyParams) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE consortium_assemblies
		 SET status = 'FINISHED', winner_member_id = $1, finished_at = NOW()
		 WHERE id = $2 AND status = 'OPEN_FOR_BIDS'`,
		arg.WinnerMemberID, arg.ID,
	)
	return tag.RowsAffected(), err
}

// CreateBidParams holds the insert arguments for one assembly bid.
type CreateBidParams struct {
	ID         uuid.UUID
	AssemblyID uuid.UUID
	MemberID   uuid.UUID
	Amount     int64
}

func (q *Queries) CreateBid(ctx context.Context, arg CreateBidParams) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO consortium_bids (id, assembly_id, member_id, amount_cents, created_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		arg.ID, arg.AssemblyID, arg.MemberID, arg.Amount,
	)
	return err
}

// BidRow mirrors a consortium_bids row.
type BidRow struct {
	ID         uuid.UUID
	AssemblyID uuid.UUID
	MemberID   uuid.UUID
	Amount     int64
	CreatedAt  time.Time
}

// GetHighestBid returns the winning bid for an assembly. Ties break on
// earliest placement.
func (q *Queries) GetHighestBid(ctx context.Context, assemblyID uuid.UUID) (BidRow, error) {
	var b BidRow
	err := q.db.QueryRow(ctx,
		`SELECT id, assembly_id, member_id, amount_cents, created_at
		 FROM consortium_bids
		 WHERE assembly_id = $1
		 ORDER BY amount_cents DESC, created_at ASC
		 LIMIT 1`,
		assemblyID,
	).Scan(&b.ID, &b.AssemblyID, &b.MemberID, &b.Amount, &b.CreatedAt)
	return b, err
}
