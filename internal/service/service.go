package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"pharmaledger/backend/internal/cache"
	"pharmaledger/backend/internal/domain"
	"pharmaledger/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// invoiceRetryAttempts bounds automatic retries on lock/serialization
// conflicts. Each retry restarts from allocation against live batch state.
const invoiceRetryAttempts = 3

type Service struct {
	repo              store.Repository
	reports           cache.ReportCache
	log               *logrus.Logger
	reportTTL         time.Duration
	expiryHorizonDays int
}

func New(repo store.Repository, reports cache.ReportCache, log *logrus.Logger, reportTTL time.Duration, expiryHorizonDays int) *Service {
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	if log == nil {
		log = logrus.New()
	}
	if expiryHorizonDays < 1 {
		expiryHorizonDays = 30
	}

	return &Service{
		repo:              repo,
		reports:           reports,
		log:               log,
		reportTTL:         reportTTL,
		expiryHorizonDays: expiryHorizonDays,
	}
}

func (s *Service) CreateCategory(ctx context.Context, name string, description string) (domain.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Category{}, store.ErrValidation
	}
	created, err := s.repo.CreateCategory(ctx, domain.Category{Name: name, Description: strings.TrimSpace(description)})
	if err != nil {
		return domain.Category{}, err
	}
	s.logAudit(ctx, "category_create", "category", created.ID, created.Name)
	return *created, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	if err := s.repo.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "category_delete", "category", id, "")
	return nil
}

func (s *Service) CreateSupplier(ctx context.Context, supplier domain.Supplier) (domain.Supplier, error) {
	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.Name == "" {
		return domain.Supplier{}, store.ErrValidation
	}
	created, err := s.repo.CreateSupplier(ctx, supplier)
	if err != nil {
		return domain.Supplier{}, err
	}
	s.logAudit(ctx, "supplier_create", "supplier", created.ID, created.Name)
	return *created, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) DeleteSupplier(ctx context.Context, id string) error {
	if err := s.repo.DeleteSupplier(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "supplier_delete", "supplier", id, "")
	return nil
}

func (s *Service) CreateMedicine(ctx context.Context, req domain.MedicineCreateRequest) (domain.Medicine, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.ReorderLevel < 0 {
		return domain.Medicine{}, store.ErrValidation
	}

	medicine := domain.Medicine{
		Name:         req.Name,
		GenericName:  strings.TrimSpace(req.GenericName),
		Brand:        strings.TrimSpace(req.Brand),
		CategoryID:   req.CategoryID,
		PackSize:     strings.TrimSpace(req.PackSize),
		Barcode:      strings.TrimSpace(req.Barcode),
		ReorderLevel: req.ReorderLevel,
		Active:       true,
	}
	created, err := s.repo.CreateMedicine(ctx, medicine)
	if err != nil {
		return domain.Medicine{}, err
	}
	s.logAudit(ctx, "medicine_create", "medicine", created.ID, created.Name)
	return *created, nil
}

func (s *Service) UpdateMedicine(ctx context.Context, id string, req domain.MedicineUpdateRequest) (domain.Medicine, error) {
	existing, err := s.repo.GetMedicine(ctx, id)
	if err != nil {
		return domain.Medicine{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Medicine{}, store.ErrValidation
		}
		updated.Name = name
	}
	if req.GenericName != nil {
		updated.GenericName = strings.TrimSpace(*req.GenericName)
	}
	if req.Brand != nil {
		updated.Brand = strings.TrimSpace(*req.Brand)
	}
	if req.CategoryID != nil {
		updated.CategoryID = *req.CategoryID
	}
	if req.PackSize != nil {
		updated.PackSize = strings.TrimSpace(*req.PackSize)
	}
	if req.Barcode != nil {
		updated.Barcode = strings.TrimSpace(*req.Barcode)
	}
	if req.ReorderLevel != nil {
		if *req.ReorderLevel < 0 {
			return domain.Medicine{}, store.ErrValidation
		}
		updated.ReorderLevel = *req.ReorderLevel
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateMedicine(ctx, updated)
	if err != nil {
		return domain.Medicine{}, err
	}
	s.logAudit(ctx, "medicine_update", "medicine", saved.ID, fmt.Sprintf("active=%t,reorder_level=%d", saved.Active, saved.ReorderLevel))
	return *saved, nil
}

func (s *Service) GetMedicine(ctx context.Context, id string) (domain.Medicine, error) {
	medicine, err := s.repo.GetMedicine(ctx, id)
	if err != nil {
		return domain.Medicine{}, err
	}
	return *medicine, nil
}

func (s *Service) ListMedicines(ctx context.Context, includeInactive bool) ([]domain.Medicine, error) {
	return s.repo.ListMedicines(ctx, includeInactive)
}

// ReceiveBatch records a newly received lot of stock.
func (s *Service) ReceiveBatch(ctx context.Context, req domain.BatchReceiveRequest) (domain.Batch, error) {
	batch, err := batchFromReceiveRequest(req)
	if err != nil {
		return domain.Batch{}, err
	}

	created, err := s.repo.CreateBatch(ctx, batch)
	if err != nil {
		return domain.Batch{}, err
	}
	s.logAudit(ctx, "batch_receive", "batch", created.ID,
		fmt.Sprintf("medicine=%s,batch_number=%s,qty=%d", created.MedicineID, created.BatchNumber, created.Quantity))
	return *created, nil
}

func batchFromReceiveRequest(req domain.BatchReceiveRequest) (domain.Batch, error) {
	req.BatchNumber = strings.TrimSpace(req.BatchNumber)
	if req.MedicineID == "" || req.BatchNumber == "" || req.Quantity <= 0 {
		return domain.Batch{}, store.ErrValidation
	}
	if req.PurchasePrice.IsNegative() || req.MRP.IsNegative() || req.SellingPrice.IsNegative() {
		return domain.Batch{}, store.ErrValidation
	}
	if req.GSTPercent.IsNegative() || req.GSTPercent.GreaterThan(decimal.NewFromInt(100)) {
		return domain.Batch{}, store.ErrValidation
	}

	expiry, err := time.Parse("2006-01-02", req.ExpiryDate)
	if err != nil {
		return domain.Batch{}, store.ErrValidation
	}
	var manufacture *time.Time
	if req.ManufactureDate != "" {
		m, err := time.Parse("2006-01-02", req.ManufactureDate)
		if err != nil {
			return domain.Batch{}, store.ErrValidation
		}
		if m.After(expiry) {
			return domain.Batch{}, store.ErrValidation
		}
		manufacture = &m
	}

	return domain.Batch{
		MedicineID:      req.MedicineID,
		BatchNumber:     req.BatchNumber,
		ExpiryDate:      expiry,
		ManufactureDate: manufacture,
		SupplierID:      req.SupplierID,
		PurchasePrice:   req.PurchasePrice.Round(2),
		MRP:             req.MRP.Round(2),
		SellingPrice:    req.SellingPrice.Round(2),
		GSTPercent:      req.GSTPercent.Round(2),
		Quantity:        req.Quantity,
		InitialQuantity: req.Quantity,
	}, nil
}

func (s *Service) GetBatch(ctx context.Context, id string) (domain.Batch, error) {
	batch, err := s.repo.GetBatch(ctx, id)
	if err != nil {
		return domain.Batch{}, err
	}
	return *batch, nil
}

func (s *Service) ListBatches(ctx context.Context, medicineID string) ([]domain.Batch, error) {
	if medicineID == "" {
		return nil, store.ErrValidation
	}
	return s.repo.ListBatchesByMedicine(ctx, medicineID)
}

// CreateInvoice turns a validated cart into a persisted invoice. The ledger
// does allocation, numbering and decrements atomically; this layer validates
// input, retries transient concurrency conflicts from scratch, and writes the
// audit entry.
func (s *Service) CreateInvoice(ctx context.Context, req domain.InvoiceCreateRequest) (domain.Invoice, error) {
	if len(req.Lines) == 0 {
		return domain.Invoice{}, store.ErrValidation
	}
	for _, line := range req.Lines {
		if line.MedicineID == "" || line.Quantity <= 0 {
			return domain.Invoice{}, store.ErrValidation
		}
	}
	if req.DiscountPercent.IsNegative() || req.DiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
		return domain.Invoice{}, store.ErrValidation
	}
	if req.DiscountOverride != nil && req.DiscountOverride.IsNegative() {
		return domain.Invoice{}, store.ErrValidation
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = "cash"
	}
	if !isSupportedPaymentMethod(req.PaymentMethod) {
		return domain.Invoice{}, store.ErrValidation
	}

	actor, _ := ActorFromContext(ctx)
	draft := domain.InvoiceDraft{
		CustomerName:     req.CustomerName,
		CustomerPhone:    req.CustomerPhone,
		DiscountPercent:  req.DiscountPercent.Round(2),
		DiscountOverride: req.DiscountOverride,
		PaymentMethod:    req.PaymentMethod,
		PaymentStatus:    domain.PaymentStatusPaid,
		CreatedBy:        actor.Username,
		Lines:            req.Lines,
	}

	var invoice *domain.Invoice
	var err error
	for attempt := 1; attempt <= invoiceRetryAttempts; attempt++ {
		invoice, err = s.repo.CreateInvoice(ctx, draft)
		if err == nil || !errors.Is(err, store.ErrConcurrency) {
			break
		}
		s.log.WithFields(logrus.Fields{
			"module":  "service",
			"action":  "invoice_create",
			"attempt": attempt,
		}).Warn("concurrency conflict, retrying invoice from allocation")
	}
	if err != nil {
		return domain.Invoice{}, err
	}

	s.logAudit(ctx, "invoice_create", "invoice", invoice.ID,
		fmt.Sprintf("number=%s,total=%s,items=%d", invoice.InvoiceNumber, invoice.TotalAmount.StringFixed(2), len(invoice.Items)))
	return *invoice, nil
}

func (s *Service) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	invoice, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *invoice, nil
}

func (s *Service) GetInvoiceByNumber(ctx context.Context, number string) (domain.Invoice, error) {
	invoice, err := s.repo.GetInvoiceByNumber(ctx, number)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *invoice, nil
}

func (s *Service) ListInvoices(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Invoice, error) {
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Minute)
	}
	return s.repo.ListInvoices(ctx, from, to, limit)
}

// AdjustStock applies an out-of-band quantity change. A decrement that would
// go below zero is floored; the floored outcome is recorded on the adjustment
// and logged rather than silently absorbed.
func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustmentRequest) (domain.StockAdjustment, error) {
	if req.BatchID == "" || req.Quantity <= 0 || !domain.ValidAdjustmentType(req.Type) {
		return domain.StockAdjustment{}, store.ErrValidation
	}

	actor, _ := ActorFromContext(ctx)
	adj := domain.StockAdjustment{
		BatchID:    req.BatchID,
		Type:       req.Type,
		Quantity:   req.Quantity,
		Reason:     strings.TrimSpace(req.Reason),
		AdjustedBy: actor.Username,
	}
	created, err := s.repo.ApplyStockAdjustment(ctx, adj)
	if err != nil {
		return domain.StockAdjustment{}, err
	}

	if created.Clamped {
		s.log.WithFields(logrus.Fields{
			"module":    "service",
			"action":    "stock_adjust",
			"batch_id":  created.BatchID,
			"requested": created.Quantity,
			"applied":   created.AppliedQuantity,
		}).Warn("deduction exceeded batch quantity, clamped at zero")
	}

	s.logAudit(ctx, "stock_adjust", "batch", created.BatchID,
		fmt.Sprintf("type=%s,qty=%d,applied=%d,clamped=%t,reason=%s",
			created.Type, created.Quantity, created.AppliedQuantity, created.Clamped, created.Reason))
	return *created, nil
}

func (s *Service) ListStockAdjustments(ctx context.Context, batchID string, limit int) ([]domain.StockAdjustment, error) {
	return s.repo.ListStockAdjustments(ctx, batchID, limit)
}

func (s *Service) CreatePurchaseOrder(ctx context.Context, req domain.PurchaseOrderCreateRequest) (domain.PurchaseOrder, error) {
	if req.SupplierID == "" || len(req.Items) == 0 {
		return domain.PurchaseOrder{}, store.ErrValidation
	}
	for _, item := range req.Items {
		if item.MedicineID == "" || item.Quantity <= 0 || item.UnitCost.IsNegative() {
			return domain.PurchaseOrder{}, store.ErrValidation
		}
	}

	created, err := s.repo.CreatePurchaseOrder(ctx, domain.PurchaseOrder{
		SupplierID: req.SupplierID,
		Items:      req.Items,
	})
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	s.logAudit(ctx, "purchase_order_create", "purchase_order", created.ID, created.PONumber)
	return *created, nil
}

func (s *Service) ListPurchaseOrders(ctx context.Context, status string, limit int) ([]domain.PurchaseOrder, error) {
	return s.repo.ListPurchaseOrders(ctx, status, limit)
}

func (s *Service) GetPurchaseOrder(ctx context.Context, id string) (domain.PurchaseOrder, error) {
	po, err := s.repo.GetPurchaseOrder(ctx, id)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	return *po, nil
}

// ReceivePurchaseOrder marks the PO received and books one batch per supplied
// lot. Batch creation happens after the status flip; a failed batch aborts
// with the already-created batches intact and surfaces the error, so the
// caller can re-submit the missing lots as plain batch receipts.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, id string, req domain.PurchaseOrderReceiveRequest) (domain.PurchaseOrder, []domain.Batch, error) {
	if len(req.Batches) == 0 {
		return domain.PurchaseOrder{}, nil, store.ErrValidation
	}

	po, err := s.repo.GetPurchaseOrder(ctx, id)
	if err != nil {
		return domain.PurchaseOrder{}, nil, err
	}
	ordered := make(map[string]int, len(po.Items))
	for _, item := range po.Items {
		ordered[item.MedicineID] += item.Quantity
	}
	for _, b := range req.Batches {
		if ordered[b.MedicineID] == 0 {
			return domain.PurchaseOrder{}, nil, store.ErrValidation
		}
	}

	actor, _ := ActorFromContext(ctx)
	updated, err := s.repo.MarkPurchaseOrderReceived(ctx, id, actor.Username, time.Now().UTC())
	if err != nil {
		return domain.PurchaseOrder{}, nil, err
	}

	batches := make([]domain.Batch, 0, len(req.Batches))
	for _, b := range req.Batches {
		if b.SupplierID == "" {
			b.SupplierID = updated.SupplierID
		}
		batch, err := s.ReceiveBatch(ctx, b)
		if err != nil {
			return *updated, batches, err
		}
		batches = append(batches, batch)
	}

	s.logAudit(ctx, "purchase_order_receive", "purchase_order", updated.ID,
		fmt.Sprintf("number=%s,batches=%d", updated.PONumber, len(batches)))
	return *updated, batches, nil
}

func (s *Service) LowStockReport(ctx context.Context) ([]domain.LowStockRow, error) {
	var cached []domain.LowStockRow
	if ok := s.cachedReport(ctx, "reports:low-stock", &cached); ok {
		return cached, nil
	}

	rows, err := s.repo.LowStock(ctx)
	if err != nil {
		return nil, err
	}
	s.storeReport(ctx, "reports:low-stock", rows)
	return rows, nil
}

func (s *Service) ExpiringBatchesReport(ctx context.Context, horizonDays int) ([]domain.ExpiringBatchRow, error) {
	if horizonDays < 1 {
		horizonDays = s.expiryHorizonDays
	}
	key := fmt.Sprintf("reports:expiring:%d", horizonDays)

	var cached []domain.ExpiringBatchRow
	if ok := s.cachedReport(ctx, key, &cached); ok {
		return cached, nil
	}

	rows, err := s.repo.ExpiringBatches(ctx, time.Now().UTC(), horizonDays)
	if err != nil {
		return nil, err
	}
	s.storeReport(ctx, key, rows)
	return rows, nil
}

func (s *Service) SalesSummaryReport(ctx context.Context, from time.Time, to time.Time) (domain.SalesSummary, error) {
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Minute)
	}
	if !from.Before(to) {
		return domain.SalesSummary{}, store.ErrValidation
	}
	return s.repo.SalesSummary(ctx, from, to)
}

func (s *Service) ListCustomers(ctx context.Context, limit int) ([]domain.CustomerView, error) {
	return s.repo.ListCustomers(ctx, limit)
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Minute)
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

// AuditLogin records a successful authentication.
func (s *Service) AuditLogin(ctx context.Context, username string) {
	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		Username:   username,
		Action:     "login",
		EntityType: "user",
		EntityID:   username,
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{"module": "service", "action": "login"}).
			WithError(err).Warn("failed to write login audit entry")
	}
}

func (s *Service) cachedReport(ctx context.Context, key string, out any) bool {
	payload, found, err := s.reports.Get(ctx, key)
	if err != nil || !found {
		return false
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return false
	}
	return true
}

func (s *Service) storeReport(ctx context.Context, key string, value any) {
	if s.reportTTL <= 0 {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.reports.Set(ctx, key, payload, s.reportTTL); err != nil {
		s.log.WithFields(logrus.Fields{"module": "service", "key": key}).
			WithError(err).Debug("report cache write failed")
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		Username:   actor.Username,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{"module": "service", "action": action}).
			WithError(err).Warn("failed to write audit entry")
	}
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case "cash", "card", "upi":
		return true
	}
	return false
}
