package models

import (
	"time"

	"github.com/google/uuid"
)

type Account struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Balance   int64     `json:"balance"` // centavos
	Points    int64     `json:"points"`
	CreatedAt time.Time `json:"created_at"`
}

// SystemTreasury is the single process-wide treasury row. The named reserve
// buckets are disjoint accounting slices of SystemBalance; disposable
// liquidity is always computed net of them.
type SystemTreasury struct {
	SystemBalance      int64     `json:"system_balance"`
	ProfitPool         int64     `json:"profit_pool"`
	TaxReserve         int64     `json:"tax_reserve"`
	OperationalReserve int64     `json:"operational_reserve"`
	OwnerProfit        int64     `json:"owner_profit"`
	InvestmentReserve  int64     `json:"investment_reserve"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Reserves returns the sum of all named reserve buckets.
func (t SystemTreasury) Reserves() int64 {
	return t.TaxReserve + t.OperationalReserve + t.OwnerProfit + t.InvestmentReserve
}

// TransactionRecord is the append-style log entry for one monetary event.
// Amount is always positive; Direction states whether the owning account was
// debited or credited. Only Status and Metadata ever change after insert.
type TransactionRecord struct {
	ID          uuid.UUID      `json:"id"`
	AccountID   uuid.UUID      `json:"account_id"`
	Type        string         `json:"type"`
	Direction   string         `json:"direction"`
	Amount      int64          `json:"amount"` // centavos, always positive
	Status      string         `json:"status"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type ConsortiumGroup struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Installment int64     `json:"installment"` // centavos per contribution
	AdminFeeBps int64     `json:"admin_fee_bps"`
	CurrentPool int64     `json:"current_pool"` // centavos
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

type ConsortiumMember struct {
	ID           uuid.UUID `json:"id"`
	GroupID      uuid.UUID `json:"group_id"`
	AccountID    uuid.UUID `json:"account_id"`
	Contemplated bool      `json:"contemplated"`
	CreatedAt    time.Time `json:"created_at"`
}

type ConsortiumAssembly struct {
	ID             uuid.UUID  `json:"id"`
	GroupID        uuid.UUID  `json:"group_id"`
	Status         string     `json:"status"`
	WinnerMemberID *uuid.UUID `json:"winner_member_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

type ConsortiumBid struct {
	ID         uuid.UUID `json:"id"`
	AssemblyID uuid.UUID `json:"assembly_id"`
	MemberID   uuid.UUID `json:"member_id"`
	Amount     int64     `json:"amount"` // centavos
	CreatedAt  time.Time `json:"created_at"`
}
