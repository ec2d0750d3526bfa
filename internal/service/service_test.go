package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"pharmaledger/backend/internal/cache"
	"pharmaledger/backend/internal/domain"
	"pharmaledger/backend/internal/store"
	"pharmaledger/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.New()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(repo, cache.NoopReportCache{}, logger, 5*time.Second, 30), repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func seedMedicine(t *testing.T, svc *Service, ctx context.Context, name string, reorder int) domain.Medicine {
	t.Helper()
	medicine, err := svc.CreateMedicine(ctx, domain.MedicineCreateRequest{Name: name, ReorderLevel: reorder})
	if err != nil {
		t.Fatalf("create medicine %s: %v", name, err)
	}
	return medicine
}

func seedBatch(t *testing.T, svc *Service, ctx context.Context, medicineID, number string, qty int, expiry time.Time, price float64, gst int64) domain.Batch {
	t.Helper()
	batch, err := svc.ReceiveBatch(ctx, domain.BatchReceiveRequest{
		MedicineID:   medicineID,
		BatchNumber:  number,
		ExpiryDate:   expiry.Format("2006-01-02"),
		SellingPrice: decimal.NewFromFloat(price),
		MRP:          decimal.NewFromFloat(price),
		GSTPercent:   decimal.NewFromInt(gst),
		Quantity:     qty,
	})
	if err != nil {
		t.Fatalf("receive batch %s: %v", number, err)
	}
	return batch
}

func TestCreateInvoiceAllocatesEarliestExpiryFirst(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	medicine := seedMedicine(t, svc, ctx, "Paracetamol 500mg", 10)
	later := seedBatch(t, svc, ctx, medicine.ID, "LATE", 100, time.Now().AddDate(1, 0, 0), 12.00, 5)
	sooner := seedBatch(t, svc, ctx, medicine.ID, "SOON", 5, time.Now().AddDate(0, 2, 0), 12.00, 5)

	invoice, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		PaymentMethod: "cash",
		Lines:         []domain.CartLine{{MedicineID: medicine.ID, Quantity: 8}},
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}

	if len(invoice.Items) != 2 {
		t.Fatalf("expected 2 items across batches, got %d", len(invoice.Items))
	}
	if invoice.Items[0].BatchID != sooner.ID || invoice.Items[0].Quantity != 5 {
		t.Fatalf("expected 5 units from soon-expiring batch first, got %d from %s", invoice.Items[0].Quantity, invoice.Items[0].BatchID)
	}
	if invoice.Items[1].BatchID != later.ID || invoice.Items[1].Quantity != 3 {
		t.Fatalf("expected 3 units from later batch, got %d from %s", invoice.Items[1].Quantity, invoice.Items[1].BatchID)
	}
}

func TestCreateInvoiceTotalsInvariant(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	medicine := seedMedicine(t, svc, ctx, "Ibuprofen 400mg", 10)
	seedBatch(t, svc, ctx, medicine.ID, "B1", 50, time.Now().AddDate(0, 6, 0), 9.50, 12)

	invoice, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		DiscountPercent: decimal.NewFromInt(10),
		PaymentMethod:   "card",
		Lines:           []domain.CartLine{{MedicineID: medicine.ID, Quantity: 4}},
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}

	// subtotal 38.00, discount 3.80, tax 4.56, total 38.76
	if got := invoice.Subtotal.StringFixed(2); got != "38.00" {
		t.Fatalf("subtotal = %s, want 38.00", got)
	}
	if got := invoice.DiscountAmount.StringFixed(2); got != "3.80" {
		t.Fatalf("discount = %s, want 3.80", got)
	}
	if got := invoice.TaxAmount.StringFixed(2); got != "4.56" {
		t.Fatalf("tax = %s, want 4.56", got)
	}
	want := invoice.Subtotal.Sub(invoice.DiscountAmount).Add(invoice.TaxAmount)
	if !invoice.TotalAmount.Equal(want) {
		t.Fatalf("total = %s, want %s", invoice.TotalAmount, want)
	}
}

func TestCreateInvoiceDiscountOverrideWins(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	medicine := seedMedicine(t, svc, ctx, "Cetirizine 10mg", 5)
	seedBatch(t, svc, ctx, medicine.ID, "B1", 30, time.Now().AddDate(0, 6, 0), 5.00, 0)

	override := decimal.NewFromFloat(7.25)
	invoice, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		DiscountPercent:  decimal.NewFromInt(50),
		DiscountOverride: &override,
		PaymentMethod:    "cash",
		Lines:            []domain.CartLine{{MedicineID: medicine.ID, Quantity: 10}},
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if got := invoice.DiscountAmount.StringFixed(2); got != "7.25" {
		t.Fatalf("discount = %s, want override 7.25", got)
	}
}

func TestCreateInvoiceAbortsAtomicallyOnInsufficientLine(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminCtx()

	good := seedMedicine(t, svc, ctx, "Amoxicillin 250mg", 10)
	goodBatch := seedBatch(t, svc, ctx, good.ID, "G1", 40, time.Now().AddDate(0, 6, 0), 15.00, 5)
	short := seedMedicine(t, svc, ctx, "Azithromycin 500mg", 10)
	seedBatch(t, svc, ctx, short.ID, "S1", 2, time.Now().AddDate(0, 6, 0), 30.00, 5)

	_, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		PaymentMethod: "cash",
		Lines: []domain.CartLine{
			{MedicineID: good.ID, Quantity: 10},
			{MedicineID: short.ID, Quantity: 5},
		},
	})
	if !store.IsInsufficientStock(err) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	var stockErr *store.InsufficientStockError
	if errors.As(err, &stockErr) {
		if stockErr.Requested != 5 || stockErr.Available != 2 {
			t.Fatalf("shortfall = requested %d available %d, want 5/2", stockErr.Requested, stockErr.Available)
		}
	}

	// The passing line must not have been decremented.
	after, err := repo.GetBatch(context.Background(), goodBatch.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if after.Quantity != 40 {
		t.Fatalf("batch quantity = %d after aborted invoice, want 40", after.Quantity)
	}
}

func TestCreateInvoiceDuplicateLinesShareStock(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	medicine := seedMedicine(t, svc, ctx, "Omeprazole 20mg", 5)
	seedBatch(t, svc, ctx, medicine.ID, "B1", 6, time.Now().AddDate(0, 6, 0), 8.00, 5)

	// 4 + 4 across two lines exceeds the 6 on hand even though each line fits.
	_, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		PaymentMethod: "cash",
		Lines: []domain.CartLine{
			{MedicineID: medicine.ID, Quantity: 4},
			{MedicineID: medicine.ID, Quantity: 4},
		},
	})
	if !store.IsInsufficientStock(err) {
		t.Fatalf("expected insufficient stock for duplicate lines, got %v", err)
	}
}

func TestInvoiceNumbersAreSequentialPerDay(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	medicine := seedMedicine(t, svc, ctx, "Vitamin C 500mg", 5)
	seedBatch(t, svc, ctx, medicine.ID, "B1", 100, time.Now().AddDate(0, 6, 0), 3.00, 0)

	day := time.Now().UTC().Format("20060102")
	for i := 1; i <= 3; i++ {
		invoice, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
			PaymentMethod: "cash",
			Lines:         []domain.CartLine{{MedicineID: medicine.ID, Quantity: 1}},
		})
		if err != nil {
			t.Fatalf("create invoice %d: %v", i, err)
		}
		want := fmt.Sprintf("INV%s%04d", day, i)
		if invoice.InvoiceNumber != want {
			t.Fatalf("invoice number = %s, want %s", invoice.InvoiceNumber, want)
		}
	}
}

func TestConcurrentCheckoutsGetDistinctNumbers(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	medicine := seedMedicine(t, svc, ctx, "Metformin 500mg", 5)
	seedBatch(t, svc, ctx, medicine.ID, "B1", 500, time.Now().AddDate(0, 6, 0), 4.00, 5)

	const n = 20
	numbers := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			invoice, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
				PaymentMethod: "cash",
				Lines:         []domain.CartLine{{MedicineID: medicine.ID, Quantity: 2}},
			})
			if err != nil {
				t.Errorf("concurrent invoice: %v", err)
				return
			}
			numbers <- invoice.InvoiceNumber
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[string]bool, n)
	for number := range numbers {
		if seen[number] {
			t.Fatalf("duplicate invoice number %s", number)
		}
		seen[number] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d distinct numbers, want %d", len(seen), n)
	}
}

func TestConcurrentSaleOfLastUnits(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminCtx()

	medicine := seedMedicine(t, svc, ctx, "Insulin Glargine", 2)
	batch := seedBatch(t, svc, ctx, medicine.ID, "B1", 3, time.Now().AddDate(0, 6, 0), 450.00, 5)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
				PaymentMethod: "cash",
				Lines:         []domain.CartLine{{MedicineID: medicine.ID, Quantity: 3}},
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, shortfalls int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case store.IsInsufficientStock(err):
			shortfalls++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || shortfalls != 1 {
		t.Fatalf("successes=%d shortfalls=%d, want exactly one of each", successes, shortfalls)
	}

	after, err := repo.GetBatch(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if after.Quantity != 0 {
		t.Fatalf("batch quantity = %d, want 0 and never negative", after.Quantity)
	}
}

func TestCreateInvoiceRejectsExpiredOnlyStock(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	medicine := seedMedicine(t, svc, ctx, "Aspirin 75mg", 5)
	seedBatch(t, svc, ctx, medicine.ID, "OLD", 50, time.Now().AddDate(0, 0, -1), 2.00, 0)

	_, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		PaymentMethod: "cash",
		Lines:         []domain.CartLine{{MedicineID: medicine.ID, Quantity: 1}},
	})
	if !store.IsInsufficientStock(err) {
		t.Fatalf("expected expired stock to be unsellable, got %v", err)
	}
}

func TestCreateInvoiceRejectsInactiveMedicine(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	medicine := seedMedicine(t, svc, ctx, "Codeine 30mg", 5)
	seedBatch(t, svc, ctx, medicine.ID, "B1", 50, time.Now().AddDate(0, 6, 0), 20.00, 5)

	inactive := false
	if _, err := svc.UpdateMedicine(ctx, medicine.ID, domain.MedicineUpdateRequest{Active: &inactive}); err != nil {
		t.Fatalf("deactivate medicine: %v", err)
	}

	_, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		PaymentMethod: "cash",
		Lines:         []domain.CartLine{{MedicineID: medicine.ID, Quantity: 1}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for inactive medicine, got %v", err)
	}
}

func TestAdjustStockClampsDeductionAtZero(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminCtx()

	medicine := seedMedicine(t, svc, ctx, "Salbutamol Inhaler", 5)
	batch := seedBatch(t, svc, ctx, medicine.ID, "B1", 4, time.Now().AddDate(0, 6, 0), 120.00, 12)

	adj, err := svc.AdjustStock(ctx, domain.StockAdjustmentRequest{
		BatchID:  batch.ID,
		Type:     domain.AdjustmentDamage,
		Quantity: 10,
		Reason:   "water damage in storage",
	})
	if err != nil {
		t.Fatalf("adjust stock: %v", err)
	}
	if !adj.Clamped || adj.AppliedQuantity != 4 || adj.Quantity != 10 {
		t.Fatalf("adjustment = applied %d clamped %t (requested %d), want applied 4 clamped true", adj.AppliedQuantity, adj.Clamped, adj.Quantity)
	}

	after, err := repo.GetBatch(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if after.Quantity != 0 {
		t.Fatalf("batch quantity = %d, want 0", after.Quantity)
	}
}

func TestAdjustStockReturnCanExceedInitialQuantity(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminCtx()

	medicine := seedMedicine(t, svc, ctx, "ORS Sachet", 5)
	batch := seedBatch(t, svc, ctx, medicine.ID, "B1", 10, time.Now().AddDate(0, 6, 0), 1.50, 0)

	adj, err := svc.AdjustStock(ctx, domain.StockAdjustmentRequest{
		BatchID:  batch.ID,
		Type:     domain.AdjustmentReturn,
		Quantity: 5,
		Reason:   "customer return",
	})
	if err != nil {
		t.Fatalf("adjust stock: %v", err)
	}
	if adj.Clamped {
		t.Fatal("increments must never clamp")
	}

	after, _ := repo.GetBatch(context.Background(), batch.ID)
	if after.Quantity != 15 {
		t.Fatalf("batch quantity = %d, want 15", after.Quantity)
	}
	if after.InitialQuantity != 10 {
		t.Fatalf("initial quantity = %d, must stay 10", after.InitialQuantity)
	}
}

func TestAdjustStockRejectsUnknownType(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	medicine := seedMedicine(t, svc, ctx, "Gauze Roll", 5)
	batch := seedBatch(t, svc, ctx, medicine.ID, "B1", 10, time.Now().AddDate(0, 6, 0), 2.00, 0)

	_, err := svc.AdjustStock(ctx, domain.StockAdjustmentRequest{
		BatchID:  batch.ID,
		Type:     "shrinkage",
		Quantity: 1,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLowStockReportThresholdIsInclusive(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	atLevel := seedMedicine(t, svc, ctx, "At Level", 10)
	seedBatch(t, svc, ctx, atLevel.ID, "B1", 10, time.Now().AddDate(0, 6, 0), 1.00, 0)
	above := seedMedicine(t, svc, ctx, "Above Level", 10)
	seedBatch(t, svc, ctx, above.ID, "B1", 11, time.Now().AddDate(0, 6, 0), 1.00, 0)
	zero := seedMedicine(t, svc, ctx, "Zero Stock", 10)

	rows, err := svc.LowStockReport(ctx)
	if err != nil {
		t.Fatalf("low stock report: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	// Sorted ascending by total stock.
	if rows[0].MedicineID != zero.ID || rows[1].MedicineID != atLevel.ID {
		t.Fatalf("unexpected order: %s then %s", rows[0].Name, rows[1].Name)
	}
}

func TestExpiringBatchesHonorsHorizonAndExcludesExpired(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	medicine := seedMedicine(t, svc, ctx, "Cough Syrup", 5)
	seedBatch(t, svc, ctx, medicine.ID, "IN", 10, time.Now().AddDate(0, 0, 10), 6.00, 5)
	seedBatch(t, svc, ctx, medicine.ID, "OUT", 10, time.Now().AddDate(0, 0, 60), 6.00, 5)
	seedBatch(t, svc, ctx, medicine.ID, "GONE", 10, time.Now().AddDate(0, 0, -2), 6.00, 5)

	rows, err := svc.ExpiringBatchesReport(ctx, 30)
	if err != nil {
		t.Fatalf("expiring report: %v", err)
	}
	if len(rows) != 1 || rows[0].BatchNumber != "IN" {
		t.Fatalf("expected only the batch inside the horizon, got %+v", rows)
	}
}

func TestPurchaseOrderLifecycle(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	supplier, err := svc.CreateSupplier(ctx, domain.Supplier{Name: "MediSupply Co"})
	if err != nil {
		t.Fatalf("create supplier: %v", err)
	}
	medicine := seedMedicine(t, svc, ctx, "Dolo 650", 20)

	po, err := svc.CreatePurchaseOrder(ctx, domain.PurchaseOrderCreateRequest{
		SupplierID: supplier.ID,
		Items: []domain.PurchaseOrderItem{
			{MedicineID: medicine.ID, Quantity: 200, UnitCost: decimal.NewFromFloat(6.50)},
		},
	})
	if err != nil {
		t.Fatalf("create purchase order: %v", err)
	}
	if po.Status != domain.POStatusOrdered || !strings.HasPrefix(po.PONumber, "PO") {
		t.Fatalf("po = status %s number %s", po.Status, po.PONumber)
	}

	received, batches, err := svc.ReceivePurchaseOrder(ctx, po.ID, domain.PurchaseOrderReceiveRequest{
		Batches: []domain.BatchReceiveRequest{{
			MedicineID:   medicine.ID,
			BatchNumber:  "PO-LOT-1",
			ExpiryDate:   time.Now().AddDate(1, 0, 0).Format("2006-01-02"),
			SellingPrice: decimal.NewFromFloat(9.00),
			MRP:          decimal.NewFromFloat(10.00),
			GSTPercent:   decimal.NewFromInt(12),
			Quantity:     200,
		}},
	})
	if err != nil {
		t.Fatalf("receive purchase order: %v", err)
	}
	if received.Status != domain.POStatusReceived || received.ReceivedAt == nil {
		t.Fatalf("po not marked received: %+v", received)
	}
	if len(batches) != 1 || batches[0].Quantity != 200 || batches[0].SupplierID != supplier.ID {
		t.Fatalf("unexpected received batches: %+v", batches)
	}

	// Receiving twice must conflict.
	_, _, err = svc.ReceivePurchaseOrder(ctx, po.ID, domain.PurchaseOrderReceiveRequest{
		Batches: []domain.BatchReceiveRequest{{
			MedicineID:  medicine.ID,
			BatchNumber: "PO-LOT-2",
			ExpiryDate:  time.Now().AddDate(1, 0, 0).Format("2006-01-02"),
			Quantity:    10,
		}},
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on double receive, got %v", err)
	}
}

func TestCustomersDerivedFromInvoiceHistory(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	medicine := seedMedicine(t, svc, ctx, "Band-Aid", 5)
	seedBatch(t, svc, ctx, medicine.ID, "B1", 100, time.Now().AddDate(0, 6, 0), 0.50, 0)

	for i := 0; i < 2; i++ {
		_, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
			CustomerName:  "Asha Rao",
			CustomerPhone: "555-0101",
			PaymentMethod: "cash",
			Lines:         []domain.CartLine{{MedicineID: medicine.ID, Quantity: 2}},
		})
		if err != nil {
			t.Fatalf("create invoice: %v", err)
		}
	}
	// Walk-in with no details must not create a customer row.
	if _, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		PaymentMethod: "cash",
		Lines:         []domain.CartLine{{MedicineID: medicine.ID, Quantity: 1}},
	}); err != nil {
		t.Fatalf("create invoice: %v", err)
	}

	customers, err := svc.ListCustomers(ctx, 10)
	if err != nil {
		t.Fatalf("list customers: %v", err)
	}
	if len(customers) != 1 {
		t.Fatalf("got %d customers, want 1", len(customers))
	}
	if customers[0].InvoiceCount != 2 || customers[0].Name != "Asha Rao" {
		t.Fatalf("unexpected customer view: %+v", customers[0])
	}
}

func TestSalesSummaryAggregatesWindow(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	medicine := seedMedicine(t, svc, ctx, "Thermometer", 5)
	seedBatch(t, svc, ctx, medicine.ID, "B1", 100, time.Now().AddDate(0, 6, 0), 25.00, 18)

	for i := 0; i < 3; i++ {
		if _, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
			PaymentMethod: "cash",
			Lines:         []domain.CartLine{{MedicineID: medicine.ID, Quantity: 1}},
		}); err != nil {
			t.Fatalf("create invoice: %v", err)
		}
	}

	summary, err := svc.SalesSummaryReport(ctx, time.Now().Add(-time.Hour), time.Time{})
	if err != nil {
		t.Fatalf("sales summary: %v", err)
	}
	if summary.InvoiceCount != 3 {
		t.Fatalf("invoice count = %d, want 3", summary.InvoiceCount)
	}
	if got := summary.GrossSales.StringFixed(2); got != "75.00" {
		t.Fatalf("gross sales = %s, want 75.00", got)
	}
	want := summary.GrossSales.Sub(summary.TotalDiscount).Add(summary.TotalTax)
	if !summary.NetSales.Equal(want) {
		t.Fatalf("net sales = %s, want %s", summary.NetSales, want)
	}
}

func TestMutationsWriteAuditTrail(t *testing.T) {
	svc, _ := newTestService()
	ctx := WithActor(context.Background(), domain.Actor{Username: "priya", Role: domain.RoleAdmin})

	medicine := seedMedicine(t, svc, ctx, "Eye Drops", 5)
	batch := seedBatch(t, svc, ctx, medicine.ID, "B1", 20, time.Now().AddDate(0, 6, 0), 40.00, 12)
	if _, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		PaymentMethod: "cash",
		Lines:         []domain.CartLine{{MedicineID: medicine.ID, Quantity: 1}},
	}); err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if _, err := svc.AdjustStock(ctx, domain.StockAdjustmentRequest{
		BatchID: batch.ID, Type: domain.AdjustmentExpired, Quantity: 1, Reason: "spot check",
	}); err != nil {
		t.Fatalf("adjust stock: %v", err)
	}

	entries, err := svc.ListAuditLogs(ctx, time.Now().Add(-time.Hour), time.Time{}, 50)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}

	actions := make(map[string]int)
	for _, entry := range entries {
		if entry.Username != "priya" {
			t.Fatalf("audit entry attributed to %q, want priya", entry.Username)
		}
		actions[entry.Action]++
	}
	for _, want := range []string{"medicine_create", "batch_receive", "invoice_create", "stock_adjust"} {
		if actions[want] == 0 {
			t.Fatalf("missing audit action %s in %v", want, actions)
		}
	}
}

func TestCreateInvoiceValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	cases := []struct {
		name string
		req  domain.InvoiceCreateRequest
	}{
		{"empty cart", domain.InvoiceCreateRequest{PaymentMethod: "cash"}},
		{"zero quantity", domain.InvoiceCreateRequest{
			PaymentMethod: "cash",
			Lines:         []domain.CartLine{{MedicineID: "m1", Quantity: 0}},
		}},
		{"discount above 100", domain.InvoiceCreateRequest{
			DiscountPercent: decimal.NewFromInt(120),
			PaymentMethod:   "cash",
			Lines:           []domain.CartLine{{MedicineID: "m1", Quantity: 1}},
		}},
		{"unknown payment method", domain.InvoiceCreateRequest{
			PaymentMethod: "cheque",
			Lines:         []domain.CartLine{{MedicineID: "m1", Quantity: 1}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateInvoice(ctx, tc.req); !errors.Is(err, store.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestReceiveBatchRejectsBadDates(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()
	medicine := seedMedicine(t, svc, ctx, "Zinc Tablets", 5)

	_, err := svc.ReceiveBatch(ctx, domain.BatchReceiveRequest{
		MedicineID:  medicine.ID,
		BatchNumber: "B1",
		ExpiryDate:  "31-12-2027",
		Quantity:    10,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for bad date format, got %v", err)
	}

	_, err = svc.ReceiveBatch(ctx, domain.BatchReceiveRequest{
		MedicineID:      medicine.ID,
		BatchNumber:     "B2",
		ExpiryDate:      "2027-01-01",
		ManufactureDate: "2027-06-01",
		Quantity:        10,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for manufacture after expiry, got %v", err)
	}
}

// Re-reading an invoice must return its items in the order the stock was
// consumed, earliest-expiring batch first.
func TestGetInvoicePreservesAllocationOrder(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	medicine := seedMedicine(t, svc, ctx, "Amoxicillin 250mg", 10)
	later := seedBatch(t, svc, ctx, medicine.ID, "LATE", 50, time.Now().AddDate(1, 0, 0), 8.00, 12)
	sooner := seedBatch(t, svc, ctx, medicine.ID, "SOON", 6, time.Now().AddDate(0, 1, 0), 8.00, 12)

	created, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		PaymentMethod: "cash",
		Lines:         []domain.CartLine{{MedicineID: medicine.ID, Quantity: 10}},
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}

	fetched, err := svc.GetInvoice(ctx, created.ID)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if len(fetched.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(fetched.Items))
	}
	if fetched.Items[0].BatchID != sooner.ID || fetched.Items[0].Quantity != 6 {
		t.Fatalf("first item = (%s,%d), want soonest batch with 6", fetched.Items[0].BatchID, fetched.Items[0].Quantity)
	}
	if fetched.Items[1].BatchID != later.ID || fetched.Items[1].Quantity != 4 {
		t.Fatalf("second item = (%s,%d), want later batch with 4", fetched.Items[1].BatchID, fetched.Items[1].Quantity)
	}
}

func TestListInvoicesNewestFirst(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	medicine := seedMedicine(t, svc, ctx, "Cetirizine 10mg", 5)
	seedBatch(t, svc, ctx, medicine.ID, "B1", 100, time.Now().AddDate(1, 0, 0), 4.00, 5)

	var ids []string
	for i := 0; i < 3; i++ {
		invoice, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
			PaymentMethod: "cash",
			Lines:         []domain.CartLine{{MedicineID: medicine.ID, Quantity: 1}},
		})
		if err != nil {
			t.Fatalf("create invoice %d: %v", i, err)
		}
		ids = append(ids, invoice.ID)
	}

	listed, err := svc.ListInvoices(ctx, time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("list invoices: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 invoices, got %d", len(listed))
	}
	for i := range listed {
		if want := ids[len(ids)-1-i]; listed[i].ID != want {
			t.Fatalf("listed[%d] = %s, want %s (most recent first)", i, listed[i].ID, want)
		}
		if i > 0 && listed[i].CreatedAt.After(listed[i-1].CreatedAt) {
			t.Fatalf("listed[%d] created after listed[%d]", i, i-1)
		}
	}
}
