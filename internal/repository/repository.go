package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/krkn12/cred30-sub003/internal/models"
)

// Repository holds plain non-transactional CRUD used outside units of work.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `INSERT INTO accounts (id, user_id, balance_cents, points, created_at) VALUES ($1, $2, $3, $4, NOW()) RETURNING created_at`
	err := r.db.QueryRow(ctx, query, account.ID, account.UserID, account.Balance, account.Points).Scan(&account.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetAccount is a non-locking, eventually-consistent read for display only.
// Never use its balance as the basis for a mutation decision.
func (r *Repository) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	account := &models.Account{}
	query := `SELECT id, user_id, balance_cents, points, created_at FROM accounts WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(&account.ID, &account.UserID, &account.Balance, &account.Points, &account.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", ClassifyError(err))
	}
	return account, nil
}

func (r *Repository) CreateConsortiumGroup(ctx context.Context, group *models.ConsortiumGroup) error {
	query := `INSERT INTO consortium_groups (id, name, installment_cents, admin_fee_bps, current_pool_cents, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW()) RETURNING created_at`
	err := r.db.QueryRow(ctx, query, group.ID, group.Name, group.Installment, group.AdminFeeBps, group.CurrentPool, group.Status).Scan(&group.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create consortium group: %w", err)
	}
	return nil
}

func (r *Repository) CreateConsortiumMember(ctx context.Context, member *models.ConsortiumMember) error {
	query := `INSERT INTO consortium_members (id, group_id, account_id, contemplated, created_at)
		VALUES ($1, $2, $3, $4, NOW()) RETURNING created_at`
	err := r.db.QueryRow(ctx, query, member.ID, member.GroupID, member.AccountID, member.Contemplated).Scan(&member.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create consortium member: %w", err)
	}
	return nil
}

func (r *Repository) CreateConsortiumAssembly(ctx context.Context, assembly *models.ConsortiumAssembly) error {
	query := `INSERT INTO consortium_assemblies (id, group_id, status, created_at)
		VALUES ($1, $2, $3, NOW()) RETURNING created_at`
	err := r.db.QueryRow(ctx, query, assembly.ID, assembly.GroupID, assembly.Status).Scan(&assembly.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create consortium assembly: %w", err)
	}
	return nil
}

// GetStatement returns an account's transaction records, newest first.
func (r *Repository) GetStatement(ctx context.Context, accountID uuid.UUID, limit, offset int32) ([]models.TransactionRecord, error) {
	rows, err := New(r.db).ListRecordsByAccount(ctx, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	out := make([]models.TransactionRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, RecordFromRow(row))
	}
	return out, nil
}
