package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pharmaledger/backend/internal/domain"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrForeignKey = errors.New("referenced entity does not exist")
	ErrValidation = errors.New("invalid input")
	// ErrConcurrency marks a lock or serialization conflict. The whole
	// operation is safe to retry from the start; nothing was committed.
	ErrConcurrency = errors.New("concurrent update conflict")
)

// InsufficientStockError reports an allocation that cannot be satisfied,
// carrying the shortfall so the caller can adjust the cart.
type InsufficientStockError struct {
	MedicineID string
	Requested  int
	Available  int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for medicine %s: requested %d, available %d", e.MedicineID, e.Requested, e.Available)
}

// IsInsufficientStock reports whether err wraps an InsufficientStockError.
func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}

// Repository is the ledger: the sole owner of persisted state. All mutations
// that touch batch quantities happen inside a single transaction (or the
// in-memory equivalent) on the implementation side.
type Repository interface {
	// Catalog.
	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	DeleteCategory(ctx context.Context, id string) error
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	DeleteSupplier(ctx context.Context, id string) error
	CreateMedicine(ctx context.Context, medicine domain.Medicine) (*domain.Medicine, error)
	GetMedicine(ctx context.Context, id string) (*domain.Medicine, error)
	UpdateMedicine(ctx context.Context, medicine domain.Medicine) (*domain.Medicine, error)
	ListMedicines(ctx context.Context, includeInactive bool) ([]domain.Medicine, error)

	// Batches.
	CreateBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error)
	GetBatch(ctx context.Context, id string) (*domain.Batch, error)
	ListBatchesByMedicine(ctx context.Context, medicineID string) ([]domain.Batch, error)

	// Invoicing. CreateInvoice re-validates stock against live batch rows,
	// allocates FEFO, assigns the day-scoped invoice number and persists the
	// invoice, its items and the batch decrements as one atomic unit.
	CreateInvoice(ctx context.Context, draft domain.InvoiceDraft) (*domain.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	GetInvoiceByNumber(ctx context.Context, number string) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Invoice, error)

	// Stock adjustments. ApplyStockAdjustment records the adjustment and
	// mutates the batch quantity in one atomic unit, flooring at zero.
	ApplyStockAdjustment(ctx context.Context, adj domain.StockAdjustment) (*domain.StockAdjustment, error)
	ListStockAdjustments(ctx context.Context, batchID string, limit int) ([]domain.StockAdjustment, error)

	// Purchase orders.
	CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error)
	GetPurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, status string, limit int) ([]domain.PurchaseOrder, error)
	MarkPurchaseOrderReceived(ctx context.Context, id string, receivedBy string, receivedAt time.Time) (*domain.PurchaseOrder, error)

	// Read projections.
	LowStock(ctx context.Context) ([]domain.LowStockRow, error)
	ExpiringBatches(ctx context.Context, now time.Time, horizonDays int) ([]domain.ExpiringBatchRow, error)
	SalesSummary(ctx context.Context, from time.Time, to time.Time) (domain.SalesSummary, error)
	ListCustomers(ctx context.Context, limit int) ([]domain.CustomerView, error)

	// Audit trail.
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	// Users.
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
