// Package memory implements the ledger in process memory. It backs the test
// suites and the demo mode used when no DATABASE_URL is configured. A single
// mutex serializes mutations, which gives it the same observable atomicity as
// the postgres implementation's transactions.
package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"pharmaledger/backend/internal/allocator"
	"pharmaledger/backend/internal/domain"
	"pharmaledger/backend/internal/store"
)

type Store struct {
	mu               sync.RWMutex
	categories       map[string]domain.Category
	suppliers        map[string]domain.Supplier
	medicines        map[string]domain.Medicine
	batches          map[string]domain.Batch
	invoicesByID     map[string]domain.Invoice
	invoicesByNumber map[string]string
	adjustments      []domain.StockAdjustment
	purchaseOrders   map[string]domain.PurchaseOrder
	auditLogs        []domain.AuditLog
	users            map[string]domain.UserAccount
	invoiceSeqByDay  map[string]int64
}

func New() *Store {
	return &Store{
		categories:       make(map[string]domain.Category),
		suppliers:        make(map[string]domain.Supplier),
		medicines:        make(map[string]domain.Medicine),
		batches:          make(map[string]domain.Batch),
		invoicesByID:     make(map[string]domain.Invoice),
		invoicesByNumber: make(map[string]string),
		purchaseOrders:   make(map[string]domain.PurchaseOrder),
		users:            make(map[string]domain.UserAccount),
		invoiceSeqByDay:  make(map[string]int64),
	}
}

// NewSeeded returns a store preloaded with demo catalog data and dev users.
// Seed credentials come from SEED_ADMIN_PASSWORD / SEED_PHARMACIST_PASSWORD;
// hardcoded dev defaults are used (with a warning) when unset.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for username, role := range map[string]string{"admin": domain.RoleAdmin, "pharmacist": domain.RolePharmacist} {
		plain := envOr("SEED_"+strings.ToUpper(username)+"_PASSWORD", username+"123")
		if os.Getenv("SEED_"+strings.ToUpper(username)+"_PASSWORD") == "" {
			log.Printf("[memory-store] WARNING: using default dev credentials for %q. Set SEED_%s_PASSWORD to override.", username, strings.ToUpper(username))
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", username, err)
		}
		s.users[username] = domain.UserAccount{
			Username:  username,
			Password:  string(hash),
			Role:      role,
			Active:    true,
			CreatedAt: now,
		}
	}

	category := domain.Category{ID: uuid.NewString(), Name: "Analgesic", CreatedAt: now}
	s.categories[category.ID] = category

	supplier := domain.Supplier{ID: uuid.NewString(), Name: "MediSupply Co", Phone: "555-0100", CreatedAt: now}
	s.suppliers[supplier.ID] = supplier

	paracetamol := domain.Medicine{
		ID:           uuid.NewString(),
		Name:         "Paracetamol 500mg",
		GenericName:  "Paracetamol",
		Brand:        "Calpol",
		CategoryID:   category.ID,
		PackSize:     "10x10",
		ReorderLevel: 30,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.medicines[paracetamol.ID] = paracetamol

	for i, seed := range []struct {
		qty    int
		expiry time.Time
	}{
		{120, now.AddDate(0, 4, 0)},
		{80, now.AddDate(1, 0, 0)},
	} {
		batch := domain.Batch{
			ID:              uuid.NewString(),
			MedicineID:      paracetamol.ID,
			BatchNumber:     "SEED-" + strings.ToUpper(uuid.NewString()[:8]),
			ExpiryDate:      seed.expiry,
			SupplierID:      supplier.ID,
			PurchasePrice:   decimal.NewFromFloat(8.00),
			MRP:             decimal.NewFromFloat(14.00),
			SellingPrice:    decimal.NewFromFloat(12.00),
			GSTPercent:      decimal.NewFromInt(5),
			Quantity:        seed.qty,
			InitialQuantity: seed.qty,
			CreatedAt:       now.Add(time.Duration(i) * time.Second),
			UpdatedAt:       now,
		}
		s.batches[batch.ID] = batch
	}

	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	if strings.TrimSpace(category.Name) == "" {
		return nil, store.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.categories {
		if strings.EqualFold(existing.Name, category.Name) {
			return nil, store.ErrConflict
		}
	}
	if category.ID == "" {
		category.ID = uuid.NewString()
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}
	s.categories[category.ID] = category
	created := category
	return &created, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeleteCategory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.categories, id)
	return nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if strings.TrimSpace(supplier.Name) == "" {
		return nil, store.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if supplier.ID == "" {
		supplier.ID = uuid.NewString()
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	s.suppliers[supplier.ID] = supplier
	created := supplier
	return &created, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Supplier, 0, len(s.suppliers))
	for _, sup := range s.suppliers {
		out = append(out, sup)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeleteSupplier(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.suppliers[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.suppliers, id)
	return nil
}

func (s *Store) CreateMedicine(_ context.Context, medicine domain.Medicine) (*domain.Medicine, error) {
	if strings.TrimSpace(medicine.Name) == "" || medicine.ReorderLevel < 0 {
		return nil, store.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if medicine.CategoryID != "" {
		if _, ok := s.categories[medicine.CategoryID]; !ok {
			return nil, store.ErrForeignKey
		}
	}
	if medicine.Barcode != "" {
		for _, existing := range s.medicines {
			if existing.Barcode == medicine.Barcode {
				return nil, store.ErrConflict
			}
		}
	}
	if medicine.ID == "" {
		medicine.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if medicine.CreatedAt.IsZero() {
		medicine.CreatedAt = now
	}
	medicine.UpdatedAt = now
	medicine.Active = true
	s.medicines[medicine.ID] = medicine
	created := medicine
	return &created, nil
}

func (s *Store) GetMedicine(_ context.Context, id string) (*domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	medicine, ok := s.medicines[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := medicine
	return &found, nil
}

func (s *Store) UpdateMedicine(_ context.Context, medicine domain.Medicine) (*domain.Medicine, error) {
	if strings.TrimSpace(medicine.Name) == "" || medicine.ReorderLevel < 0 {
		return nil, store.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.medicines[medicine.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if medicine.Barcode != "" {
		for id, other := range s.medicines {
			if id != medicine.ID && other.Barcode == medicine.Barcode {
				return nil, store.ErrConflict
			}
		}
	}
	medicine.CreatedAt = existing.CreatedAt
	medicine.UpdatedAt = time.Now().UTC()
	s.medicines[medicine.ID] = medicine
	updated := medicine
	return &updated, nil
}

func (s *Store) ListMedicines(_ context.Context, includeInactive bool) ([]domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Medicine, 0, len(s.medicines))
	for _, m := range s.medicines {
		if !includeInactive && !m.Active {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) CreateBatch(_ context.Context, batch domain.Batch) (*domain.Batch, error) {
	if strings.TrimSpace(batch.BatchNumber) == "" || batch.Quantity < 0 {
		return nil, store.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.medicines[batch.MedicineID]; !ok {
		return nil, store.ErrForeignKey
	}
	if batch.SupplierID != "" {
		if _, ok := s.suppliers[batch.SupplierID]; !ok {
			return nil, store.ErrForeignKey
		}
	}
	for _, existing := range s.batches {
		if existing.MedicineID == batch.MedicineID && existing.BatchNumber == batch.BatchNumber {
			return nil, store.ErrConflict
		}
	}
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}
	batch.UpdatedAt = now
	if batch.InitialQuantity == 0 {
		batch.InitialQuantity = batch.Quantity
	}
	s.batches[batch.ID] = batch
	created := batch
	return &created, nil
}

func (s *Store) GetBatch(_ context.Context, id string) (*domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, ok := s.batches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := batch
	return &found, nil
}

func (s *Store) ListBatchesByMedicine(_ context.Context, medicineID string) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.batchesForMedicineLocked(medicineID), nil
}

func (s *Store) batchesForMedicineLocked(medicineID string) []domain.Batch {
	out := make([]domain.Batch, 0, 8)
	for _, b := range s.batches {
		if b.MedicineID == medicineID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiryDate.Equal(out[j].ExpiryDate) {
			return out[i].ExpiryDate.Before(out[j].ExpiryDate)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CreateInvoice allocates FEFO, assigns the day-scoped invoice number and
// applies all batch decrements under one lock, so it either commits the whole
// sale or none of it.
func (s *Store) CreateInvoice(_ context.Context, draft domain.InvoiceDraft) (*domain.Invoice, error) {
	if len(draft.Lines) == 0 {
		return nil, store.ErrValidation
	}
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	invoiceID := uuid.NewString()
	items := make([]domain.InvoiceItem, 0, len(draft.Lines))
	decrements := make(map[string]int)

	for _, line := range draft.Lines {
		medicine, ok := s.medicines[line.MedicineID]
		if !ok {
			return nil, store.ErrNotFound
		}
		if !medicine.Active {
			return nil, store.ErrValidation
		}

		// Overlay decrements pending from earlier lines of this cart so a
		// medicine appearing twice cannot double-sell the same units.
		candidates := s.batchesForMedicineLocked(line.MedicineID)
		for i := range candidates {
			candidates[i].Quantity -= decrements[candidates[i].ID]
		}

		allocs, err := allocator.Allocate(candidates, line.MedicineID, line.Quantity, now)
		if err != nil {
			return nil, err
		}
		for _, alloc := range allocs {
			decrements[alloc.BatchID] += alloc.Quantity
			items = append(items, domain.InvoiceItem{
				ID:              uuid.NewString(),
				InvoiceID:       invoiceID,
				MedicineID:      alloc.MedicineID,
				BatchID:         alloc.BatchID,
				Quantity:        alloc.Quantity,
				UnitPrice:       alloc.UnitPrice,
				DiscountPercent: draft.DiscountPercent,
				GSTPercent:      alloc.GSTPercent,
				TotalPrice:      domain.LineTotal(alloc.UnitPrice, alloc.Quantity, alloc.GSTPercent),
			})
		}
	}

	totals := domain.ComputeInvoiceTotals(items, draft.DiscountPercent, draft.DiscountOverride)

	day := now.Format("20060102")
	s.invoiceSeqByDay[day]++
	number := domain.FormatInvoiceNumber(now, s.invoiceSeqByDay[day])
	if _, exists := s.invoicesByNumber[number]; exists {
		return nil, store.ErrConflict
	}

	for batchID, qty := range decrements {
		batch := s.batches[batchID]
		batch.Quantity -= qty
		batch.UpdatedAt = now
		s.batches[batchID] = batch
	}

	paymentStatus := draft.PaymentStatus
	if paymentStatus == "" {
		paymentStatus = domain.PaymentStatusPaid
	}
	invoice := domain.Invoice{
		ID:              invoiceID,
		InvoiceNumber:   number,
		CustomerName:    strings.TrimSpace(draft.CustomerName),
		CustomerPhone:   strings.TrimSpace(draft.CustomerPhone),
		Subtotal:        totals.Subtotal,
		DiscountPercent: draft.DiscountPercent,
		DiscountAmount:  totals.DiscountAmount,
		TaxAmount:       totals.TaxAmount,
		TotalAmount:     totals.TotalAmount,
		PaymentMethod:   draft.PaymentMethod,
		PaymentStatus:   paymentStatus,
		CreatedBy:       draft.CreatedBy,
		CreatedAt:       now,
		Items:           items,
	}
	s.invoicesByID[invoice.ID] = invoice
	s.invoicesByNumber[number] = invoice.ID

	created := invoice
	return &created, nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoice, ok := s.invoicesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := invoice
	return &found, nil
}

func (s *Store) GetInvoiceByNumber(_ context.Context, number string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.invoicesByNumber[number]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := s.invoicesByID[id]
	return &found, nil
}

func (s *Store) ListInvoices(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.Invoice, error) {
	if limit < 1 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Invoice, 0, limit)
	for _, inv := range s.invoicesByID {
		if inv.CreatedAt.Before(from) || !inv.CreatedAt.Before(to) {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].InvoiceNumber > out[j].InvoiceNumber
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ApplyStockAdjustment(_ context.Context, adj domain.StockAdjustment) (*domain.StockAdjustment, error) {
	if !domain.ValidAdjustmentType(adj.Type) || adj.Quantity <= 0 {
		return nil, store.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[adj.BatchID]
	if !ok {
		return nil, store.ErrNotFound
	}

	applied := adj.Quantity
	clamped := false
	if domain.AdjustmentIncreases(adj.Type) {
		batch.Quantity += applied
	} else {
		if applied > batch.Quantity {
			applied = batch.Quantity
			clamped = true
		}
		batch.Quantity -= applied
	}
	batch.UpdatedAt = time.Now().UTC()
	s.batches[adj.BatchID] = batch

	if adj.ID == "" {
		adj.ID = uuid.NewString()
	}
	adj.MedicineID = batch.MedicineID
	adj.AppliedQuantity = applied
	adj.Clamped = clamped
	if adj.CreatedAt.IsZero() {
		adj.CreatedAt = time.Now().UTC()
	}
	s.adjustments = append(s.adjustments, adj)

	created := adj
	return &created, nil
}

func (s *Store) ListStockAdjustments(_ context.Context, batchID string, limit int) ([]domain.StockAdjustment, error) {
	if limit < 1 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StockAdjustment, 0, limit)
	for i := len(s.adjustments) - 1; i >= 0 && len(out) < limit; i-- {
		if batchID != "" && s.adjustments[i].BatchID != batchID {
			continue
		}
		out = append(out, s.adjustments[i])
	}
	return out, nil
}

func (s *Store) CreatePurchaseOrder(_ context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if len(po.Items) == 0 {
		return nil, store.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.suppliers[po.SupplierID]; !ok {
		return nil, store.ErrForeignKey
	}
	for _, item := range po.Items {
		if _, ok := s.medicines[item.MedicineID]; !ok {
			return nil, store.ErrForeignKey
		}
	}
	if po.ID == "" {
		po.ID = uuid.NewString()
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now().UTC()
	}
	if po.PONumber == "" {
		po.PONumber = domain.FormatPONumber(po.CreatedAt)
	}
	po.Status = domain.POStatusOrdered
	s.purchaseOrders[po.ID] = po
	created := po
	return &created, nil
}

func (s *Store) GetPurchaseOrder(_ context.Context, id string) (*domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	po, ok := s.purchaseOrders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := po
	return &found, nil
}

func (s *Store) ListPurchaseOrders(_ context.Context, status string, limit int) ([]domain.PurchaseOrder, error) {
	if limit < 1 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PurchaseOrder, 0, limit)
	for _, po := range s.purchaseOrders {
		if status != "" && po.Status != status {
			continue
		}
		out = append(out, po)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkPurchaseOrderReceived(_ context.Context, id string, receivedBy string, receivedAt time.Time) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, ok := s.purchaseOrders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if po.Status == domain.POStatusReceived {
		return nil, store.ErrConflict
	}
	po.Status = domain.POStatusReceived
	po.ReceivedBy = receivedBy
	at := receivedAt.UTC()
	po.ReceivedAt = &at
	s.purchaseOrders[id] = po
	updated := po
	return &updated, nil
}

func (s *Store) LowStock(_ context.Context) ([]domain.LowStockRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]int, len(s.medicines))
	for _, b := range s.batches {
		totals[b.MedicineID] += b.Quantity
	}

	out := make([]domain.LowStockRow, 0, 8)
	for _, m := range s.medicines {
		if !m.Active {
			continue
		}
		if totals[m.ID] <= m.ReorderLevel {
			out = append(out, domain.LowStockRow{
				MedicineID:   m.ID,
				Name:         m.Name,
				ReorderLevel: m.ReorderLevel,
				TotalStock:   totals[m.ID],
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalStock != out[j].TotalStock {
			return out[i].TotalStock < out[j].TotalStock
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) ExpiringBatches(_ context.Context, now time.Time, horizonDays int) ([]domain.ExpiringBatchRow, error) {
	if horizonDays < 1 {
		horizonDays = 30
	}
	cutoff := now.AddDate(0, 0, horizonDays)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ExpiringBatchRow, 0, 8)
	for _, b := range s.batches {
		if b.Quantity <= 0 {
			continue
		}
		if !b.ExpiryDate.After(now) || b.ExpiryDate.After(cutoff) {
			continue
		}
		out = append(out, domain.ExpiringBatchRow{
			BatchID:     b.ID,
			MedicineID:  b.MedicineID,
			Medicine:    s.medicines[b.MedicineID].Name,
			BatchNumber: b.BatchNumber,
			ExpiryDate:  b.ExpiryDate,
			Quantity:    b.Quantity,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiryDate.Equal(out[j].ExpiryDate) {
			return out[i].ExpiryDate.Before(out[j].ExpiryDate)
		}
		return out[i].BatchID < out[j].BatchID
	})
	return out, nil
}

func (s *Store) SalesSummary(_ context.Context, from time.Time, to time.Time) (domain.SalesSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := domain.SalesSummary{
		From:          from,
		To:            to,
		GrossSales:    decimal.Zero,
		TotalDiscount: decimal.Zero,
		TotalTax:      decimal.Zero,
		NetSales:      decimal.Zero,
	}
	for _, inv := range s.invoicesByID {
		if inv.CreatedAt.Before(from) || !inv.CreatedAt.Before(to) {
			continue
		}
		summary.InvoiceCount++
		summary.GrossSales = summary.GrossSales.Add(inv.Subtotal)
		summary.TotalDiscount = summary.TotalDiscount.Add(inv.DiscountAmount)
		summary.TotalTax = summary.TotalTax.Add(inv.TaxAmount)
		summary.NetSales = summary.NetSales.Add(inv.TotalAmount)
	}
	return summary, nil
}

func (s *Store) ListCustomers(_ context.Context, limit int) ([]domain.CustomerView, error) {
	if limit < 1 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	byKey := make(map[string]*domain.CustomerView)
	for _, inv := range s.invoicesByID {
		if inv.CustomerName == "" && inv.CustomerPhone == "" {
			continue
		}
		key := inv.CustomerName + "\x00" + inv.CustomerPhone
		view, ok := byKey[key]
		if !ok {
			view = &domain.CustomerView{Name: inv.CustomerName, Phone: inv.CustomerPhone, TotalSpent: decimal.Zero}
			byKey[key] = view
		}
		view.InvoiceCount++
		view.TotalSpent = view.TotalSpent.Add(inv.TotalAmount)
		if inv.CreatedAt.After(view.LastPurchase) {
			view.LastPurchase = inv.CreatedAt
		}
	}

	out := make([]domain.CustomerView, 0, len(byKey))
	for _, view := range byKey {
		out = append(out, *view)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastPurchase.After(out[j].LastPurchase) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(out) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return store.ErrConflict
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UserAccount, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}
