// Package allocator selects batches for a sale using First-Expiry-First-Out
// ordering. It is pure: callers fetch (and lock) the candidate batches, the
// allocator decides, and the caller applies the decrements in the same
// transaction so eligibility is always judged against live rows.
package allocator

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"pharmaledger/backend/internal/domain"
	"pharmaledger/backend/internal/store"
)

// BatchAllocation is one (batch, quantity) pair of a satisfied request, with
// the price/GST snapshot needed to build the invoice item.
type BatchAllocation struct {
	BatchID     string
	MedicineID  string
	BatchNumber string
	Quantity    int
	UnitPrice   decimal.Decimal
	MRP         decimal.Decimal
	GSTPercent  decimal.Decimal
}

// Eligible reports whether a batch may serve a sale at the given instant:
// it must hold stock and must not yet be expired. The boundary is strict —
// a batch whose expiry equals now is already out.
func Eligible(batch domain.Batch, now time.Time) bool {
	return batch.Quantity > 0 && batch.ExpiryDate.After(now)
}

// Allocate satisfies requested units of one medicine from the given batches,
// consuming soonest-expiring stock first. Ties on expiry break by creation
// time, then id, for determinism. It returns allocations summing exactly to
// requested, or an InsufficientStockError carrying the shortfall — never a
// partial allocation.
func Allocate(batches []domain.Batch, medicineID string, requested int, now time.Time) ([]BatchAllocation, error) {
	if requested <= 0 {
		return nil, store.ErrValidation
	}

	eligible := make([]domain.Batch, 0, len(batches))
	available := 0
	for _, batch := range batches {
		if batch.MedicineID != medicineID || !Eligible(batch, now) {
			continue
		}
		eligible = append(eligible, batch)
		available += batch.Quantity
	}

	if available < requested {
		return nil, &store.InsufficientStockError{
			MedicineID: medicineID,
			Requested:  requested,
			Available:  available,
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if !eligible[i].ExpiryDate.Equal(eligible[j].ExpiryDate) {
			return eligible[i].ExpiryDate.Before(eligible[j].ExpiryDate)
		}
		if !eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
		}
		return eligible[i].ID < eligible[j].ID
	})

	allocations := make([]BatchAllocation, 0, 2)
	remaining := requested
	for _, batch := range eligible {
		if remaining == 0 {
			break
		}
		take := remaining
		if take > batch.Quantity {
			take = batch.Quantity
		}
		allocations = append(allocations, BatchAllocation{
			BatchID:     batch.ID,
			MedicineID:  batch.MedicineID,
			BatchNumber: batch.BatchNumber,
			Quantity:    take,
			UnitPrice:   batch.SellingPrice,
			MRP:         batch.MRP,
			GSTPercent:  batch.GSTPercent,
		})
		remaining -= take
	}

	return allocations, nil
}
