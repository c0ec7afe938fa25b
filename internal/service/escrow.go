package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/krkn12/cred30-sub003/internal/domain"
	"github.com/krkn12/cred30-sub003/internal/idempotency"
	"github.com/krkn12/cred30-sub003/internal/models"
	"github.com/krkn12/cred30-sub003/internal/repository"
	"go.uber.org/zap"
)

// EscrowService releases funds held by the platform for a completed order,
// crediting the seller and the courier in one unit of work. The buyer's cash
// never left the vault at purchase time, so a release moves the escrowed
// liability to the payees without touching the treasury's gross balance.
type EscrowService struct {
	store  QueryStore
	ledger *LedgerService
	idem   *idempotency.Store
	audit  *AuditService
}

func NewEscrowService(store QueryStore, ledger *LedgerService, idem *idempotency.Store) *EscrowService {
	return &EscrowService{
		store:  store,
		ledger: ledger,
		idem:   idem,
		audit:  NewAuditService(),
	}
}

// ReleaseEscrowParams identifies one order settlement. OrderReference is the
// idempotency key; re-sending the same release is a no-op replay.
type ReleaseEscrowParams struct {
	OrderReference   string
	SellerAccountID  uuid.UUID
	SellerAmount     int64 // centavos
	CourierAccountID uuid.UUID
	CourierAmount    int64 // centavos, zero when the buyer picked up
}

// EscrowRelease reports the records written for one settled order.
type EscrowRelease struct {
	SellerRecord  models.TransactionRecord
	CourierRecord *models.TransactionRecord
}

// Release pays out a settled order. Each party's account is credited the
// escrowed share, with both payouts recorded as already-approved credits.
func (s *EscrowService) Release(ctx context.Context, req ReleaseEscrowParams) (*EscrowRelease, error) {
	if req.OrderReference == "" {
		return nil, errors.New("order reference is required")
	}
	if req.SellerAmount <= 0 {
		return nil, fmt.Errorf("invalid seller amount: %d", req.SellerAmount)
	}
	if req.CourierAmount < 0 {
		return nil, fmt.Errorf("invalid courier amount: %d", req.CourierAmount)
	}
	if req.CourierAmount > 0 && req.CourierAccountID == req.SellerAccountID {
		return nil, errors.New("seller and courier accounts must differ")
	}

	requestHash := idempotency.HashRequest("escrow_release", req.OrderReference,
		req.SellerAccountID.String(), fmt.Sprint(req.SellerAmount),
		req.CourierAccountID.String(), fmt.Sprint(req.CourierAmount))
	if existing, err := s.replayExisting(ctx, req.OrderReference, requestHash); existing != nil || err != nil {
		return existing, err
	}

	var release EscrowRelease
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if _, err := qtx.ReserveReference(ctx, repository.ReserveReferenceParams{
			Reference:   req.OrderReference,
			Kind:        "escrow_release",
			RequestHash: requestHash,
		}); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return idempotency.ErrInProgress
			}
			return fmt.Errorf("reserve reference: %w", err)
		}

		// Lock both payees in a fixed order so two releases sharing a courier
		// cannot deadlock each other.
		for _, id := range lockOrder(req.SellerAccountID, req.CourierAccountID, req.CourierAmount > 0) {
			if _, err := s.ledger.LockAccount(ctx, qtx, id); err != nil {
				return err
			}
		}

		sellerRecord, err := s.payOut(ctx, qtx, req.SellerAccountID, req.SellerAmount,
			domain.TxTypeEscrowSeller, "escrow release: seller payout", req.OrderReference)
		if err != nil {
			return err
		}
		release.SellerRecord = sellerRecord

		if req.CourierAmount > 0 {
			courierRecord, err := s.payOut(ctx, qtx, req.CourierAccountID, req.CourierAmount,
				domain.TxTypeEscrowCourier, "escrow release: courier payout", req.OrderReference)
			if err != nil {
				return err
			}
			release.CourierRecord = &courierRecord
		}

		return finalizeWorkflowReference(ctx, qtx, req.OrderReference, requestHash, release.SellerRecord.ID)
	})
	if err != nil {
		return nil, err
	}

	if s.idem != nil {
		s.idem.CacheReference(ctx, req.OrderReference, requestHash, release.SellerRecord.ID)
	}

	zap.L().Info("escrow released",
		zap.String("order_reference", req.OrderReference),
		zap.Int64("seller_cents", req.SellerAmount),
		zap.Int64("courier_cents", req.CourierAmount),
	)
	return &release, nil
}

func (s *EscrowService) payOut(ctx context.Context, qtx *repository.Queries, accountID uuid.UUID, amount int64, txType, description, orderReference string) (models.TransactionRecord, error) {
	if _, err := s.ledger.MutateBalance(ctx, qtx, accountID, amount, domain.DirectionCredit); err != nil {
		return models.TransactionRecord{}, err
	}
	recordID, err := s.ledger.CreateRecord(ctx, qtx, CreateRecordParams{
		AccountID:   accountID,
		Type:        txType,
		Direction:   domain.DirectionCredit,
		Amount:      amount,
		Description: description,
		Status:      domain.TxStatusApproved,
		Metadata: map[string]any{
			"order_reference": orderReference,
		},
	})
	if err != nil {
		return models.TransactionRecord{}, err
	}
	row, err := qtx.GetTransactionRecord(ctx, recordID)
	if err != nil {
		return models.TransactionRecord{}, fmt.Errorf("load payout record: %w", err)
	}
	return repository.RecordFromRow(row), nil
}

// lockOrder returns the payee IDs sorted lexicographically, the same order any
// other workflow touching these accounts uses.
func lockOrder(seller, courier uuid.UUID, includeCourier bool) []uuid.UUID {
	if !includeCourier {
		return []uuid.UUID{seller}
	}
	if seller.String() < courier.String() {
		return []uuid.UUID{seller, courier}
	}
	return []uuid.UUID{courier, seller}
}

func (s *EscrowService) replayExisting(ctx context.Context, reference, requestHash string) (*EscrowRelease, error) {
	if s.idem == nil {
		return nil, nil
	}
	rec, err := s.idem.Lookup(ctx, reference, requestHash)
	if err != nil {
		if errors.Is(err, idempotency.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var stored struct {
		RecordID uuid.UUID `json:"record_id"`
	}
	if err := decodeReferenceResponse(rec.Response, &stored); err != nil {
		return nil, err
	}
	sellerRecord, err := s.ledger.GetRecord(ctx, stored.RecordID)
	if err != nil {
		return nil, err
	}
	return &EscrowRelease{SellerRecord: sellerRecord}, nil
}
