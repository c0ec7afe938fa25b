package repository

import (
	"encoding/json"

	"github.com/krkn12/cred30-sub003/internal/models"
)

// RecordFromRow converts a raw record row into the domain model, decoding the
// schema-less metadata blob. Undecodable metadata is dropped rather than
// failing the read.
func RecordFromRow(row TransactionRecordRow) models.TransactionRecord {
	rec := models.TransactionRecord{
		ID:          row.ID,
		AccountID:   row.AccountID,
		Type:        row.Type,
		Direction:   row.Direction,
		Amount:      row.Amount,
		Status:      row.Status,
		Description: row.Description,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if len(row.Metadata) > 0 {
		var meta map[string]any
		if json.Unmarshal(row.Metadata, &meta) == nil {
			rec.Metadata = meta
		}
	}
	return rec
}

// TreasuryFromRow converts a treasury row into the domain model.
func TreasuryFromRow(row TreasuryRow) models.SystemTreasury {
	return models.SystemTreasury{
		SystemBalance:      row.SystemBalance,
		ProfitPool:         row.ProfitPool,
		TaxReserve:         row.TaxReserve,
		OperationalReserve: row.OperationalReserve,
		OwnerProfit:        row.OwnerProfit,
		InvestmentReserve:  row.InvestmentReserve,
		UpdatedAt:          row.UpdatedAt,
	}
}
