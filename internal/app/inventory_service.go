package app

import (
	"context"

	"github.com/cimillas/ticket-inventory/internal/domain"
	"github.com/cimillas/ticket-inventory/internal/ledger"
)

// InventoryService answers read-only inventory queries.
type InventoryService struct {
	ledger *ledger.Ledger
}

func NewInventoryService(src ledger.Source) *InventoryService {
	return &InventoryService{ledger: ledger.New(src)}
}

func (s *InventoryService) GetRemaining(ctx context.Context, eventID string) (int, error) {
	snap, err := s.Snapshot(ctx, eventID)
	if err != nil {
		return 0, err
	}
	return snap.Remaining, nil
}

func (s *InventoryService) Snapshot(ctx context.Context, eventID string) (ledger.Snapshot, error) {
	if eventID == "" {
		return ledger.Snapshot{}, domain.ErrInvalidID
	}
	snap, err := s.ledger.Snapshot(ctx, eventID)
	if err != nil {
		return ledger.Snapshot{}, classify(err)
	}
	return snap, nil
}
