// Package postgres implements the ledger on PostgreSQL. Every operation that
// moves batch stock runs in a single transaction with row-level locks on the
// touched batches, and invoice numbers come from a per-day counter row
// incremented in the same transaction, so numbering stays gap-free and
// strictly monotonic under concurrent checkouts.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"pharmaledger/backend/internal/allocator"
	"pharmaledger/backend/internal/domain"
	"pharmaledger/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	if strings.TrimSpace(category.Name) == "" {
		return nil, store.ErrValidation
	}
	if category.ID == "" {
		category.ID = uuid.NewString()
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, description, created_at)
		VALUES ($1,$2,$3,$4)
	`, category.ID, strings.TrimSpace(category.Name), category.Description, category.CreatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	created := category
	return &created, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at
		FROM categories
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return mapPgError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if strings.TrimSpace(supplier.Name) == "" {
		return nil, store.ErrValidation
	}
	if supplier.ID == "" {
		supplier.ID = uuid.NewString()
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, email, address, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, supplier.ID, strings.TrimSpace(supplier.Name), supplier.Phone, supplier.Email, supplier.Address, supplier.CreatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	created := supplier
	return &created, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, email, address, created_at
		FROM suppliers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 16)
	for rows.Next() {
		var sup domain.Supplier
		if err := rows.Scan(&sup.ID, &sup.Name, &sup.Phone, &sup.Email, &sup.Address, &sup.CreatedAt); err != nil {
			return nil, err
		}
		sup.CreatedAt = sup.CreatedAt.UTC()
		suppliers = append(suppliers, sup)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

func (s *Store) DeleteSupplier(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM suppliers WHERE id = $1`, id)
	if err != nil {
		return mapPgError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateMedicine(ctx context.Context, medicine domain.Medicine) (*domain.Medicine, error) {
	if strings.TrimSpace(medicine.Name) == "" || medicine.ReorderLevel < 0 {
		return nil, store.ErrValidation
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO medicines (
			id, name, generic_name, brand, category_id, pack_size, barcode,
			reorder_level, active, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, medicine.ID, strings.TrimSpace(medicine.Name), medicine.GenericName, medicine.Brand,
		nullIfEmpty(medicine.CategoryID), medicine.PackSize, nullIfEmpty(medicine.Barcode),
		medicine.ReorderLevel, medicine.Active, medicine.CreatedAt, medicine.UpdatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	created := medicine
	return &created, nil
}

func (s *Store) GetMedicine(ctx context.Context, id string) (*domain.Medicine, error) {
	var m domain.Medicine
	var categoryID, barcode sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, generic_name, brand, category_id, pack_size, barcode,
			reorder_level, active, created_at, updated_at
		FROM medicines
		WHERE id = $1
	`, id).Scan(&m.ID, &m.Name, &m.GenericName, &m.Brand, &categoryID, &m.PackSize, &barcode,
		&m.ReorderLevel, &m.Active, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	m.CategoryID = categoryID.String
	m.Barcode = barcode.String
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

func (s *Store) UpdateMedicine(ctx context.Context, medicine domain.Medicine) (*domain.Medicine, error) {
	if strings.TrimSpace(medicine.Name) == "" || medicine.ReorderLevel < 0 {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE medicines
		SET name = $2, generic_name = $3, brand = $4, category_id = $5, pack_size = $6,
			barcode = $7, reorder_level = $8, active = $9, updated_at = now()
		WHERE id = $1
	`, medicine.ID, strings.TrimSpace(medicine.Name), medicine.GenericName, medicine.Brand,
		nullIfEmpty(medicine.CategoryID), medicine.PackSize, nullIfEmpty(medicine.Barcode),
		medicine.ReorderLevel, medicine.Active)
	if err != nil {
		return nil, mapPgError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetMedicine(ctx, medicine.ID)
}

func (s *Store) ListMedicines(ctx context.Context, includeInactive bool) ([]domain.Medicine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, generic_name, brand, category_id, pack_size, barcode,
			reorder_level, active, created_at, updated_at
		FROM medicines
		WHERE $1 OR active = true
		ORDER BY name
	`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	medicines := make([]domain.Medicine, 0, 64)
	for rows.Next() {
		var m domain.Medicine
		var categoryID, barcode sql.NullString
		if err := rows.Scan(&m.ID, &m.Name, &m.GenericName, &m.Brand, &categoryID, &m.PackSize, &barcode,
			&m.ReorderLevel, &m.Active, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.CategoryID = categoryID.String
		m.Barcode = barcode.String
		m.CreatedAt = m.CreatedAt.UTC()
		m.UpdatedAt = m.UpdatedAt.UTC()
		medicines = append(medicines, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return medicines, nil
}

func (s *Store) CreateBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error) {
	if strings.TrimSpace(batch.BatchNumber) == "" || batch.Quantity < 0 {
		return nil, store.ErrValidation
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (
			id, medicine_id, batch_number, expiry_date, manufacture_date, supplier_id,
			purchase_price, mrp, selling_price, gst_percent, quantity, initial_quantity,
			created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, batch.ID, batch.MedicineID, strings.TrimSpace(batch.BatchNumber), batch.ExpiryDate,
		nullTime(batch.ManufactureDate), nullIfEmpty(batch.SupplierID),
		batch.PurchasePrice, batch.MRP, batch.SellingPrice, batch.GSTPercent,
		batch.Quantity, batch.InitialQuantity, batch.CreatedAt, batch.UpdatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	created := batch
	return &created, nil
}

const batchColumns = `id, medicine_id, batch_number, expiry_date, manufacture_date, supplier_id,
	purchase_price, mrp, selling_price, gst_percent, quantity, initial_quantity, created_at, updated_at`

func scanBatch(scanner interface{ Scan(...any) error }) (domain.Batch, error) {
	var b domain.Batch
	var manufacture sql.NullTime
	var supplierID sql.NullString
	err := scanner.Scan(&b.ID, &b.MedicineID, &b.BatchNumber, &b.ExpiryDate, &manufacture, &supplierID,
		&b.PurchasePrice, &b.MRP, &b.SellingPrice, &b.GSTPercent, &b.Quantity, &b.InitialQuantity,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return b, err
	}
	if manufacture.Valid {
		t := manufacture.Time.UTC()
		b.ManufactureDate = &t
	}
	b.SupplierID = supplierID.String
	b.ExpiryDate = b.ExpiryDate.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

func (s *Store) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, id)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &batch, nil
}

func (s *Store) ListBatchesByMedicine(ctx context.Context, medicineID string) ([]domain.Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM batches
		WHERE medicine_id = $1
		ORDER BY expiry_date ASC, created_at ASC, id ASC
	`, medicineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.Batch, 0, 8)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

// CreateInvoice runs the whole sale in one serializable transaction: batch
// rows are locked FOR UPDATE before allocation, decrements are guarded by a
// quantity check, and the invoice number comes from the per-day counter row
// inside the same transaction. A serialization failure maps to
// ErrConcurrency; the caller retries from allocation.
func (s *Store) CreateInvoice(ctx context.Context, draft domain.InvoiceDraft) (*domain.Invoice, error) {
	if len(draft.Lines) == 0 {
		return nil, store.ErrValidation
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	invoiceID := uuid.NewString()
	items := make([]domain.InvoiceItem, 0, len(draft.Lines))
	decrements := make(map[string]int)

	for _, line := range draft.Lines {
		var active bool
		err := tx.QueryRowContext(ctx, `SELECT active FROM medicines WHERE id = $1`, line.MedicineID).Scan(&active)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, mapPgError(err)
		}
		if !active {
			return nil, store.ErrValidation
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT `+batchColumns+`
			FROM batches
			WHERE medicine_id = $1 AND quantity > 0
			ORDER BY expiry_date ASC, created_at ASC, id ASC
			FOR UPDATE
		`, line.MedicineID)
		if err != nil {
			return nil, mapPgError(err)
		}
		candidates := make([]domain.Batch, 0, 8)
		for rows.Next() {
			batch, err := scanBatch(rows)
			if err != nil {
				_ = rows.Close()
				return nil, err
			}
			candidates = append(candidates, batch)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()

		// Overlay decrements pending from earlier lines of the same cart.
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

	for batchID, qty := range decrements {
		res, err := tx.ExecContext(ctx, `
			UPDATE batches
			SET quantity = quantity - $1, updated_at = now()
			WHERE id = $2 AND quantity >= $1
		`, qty, batchID)
		if err != nil {
			return nil, mapPgError(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			// The row was locked, so this means another transaction slipped a
			// decrement between our read and write. Treat as retryable.
			return nil, store.ErrConcurrency
		}
	}

	totals := domain.ComputeInvoiceTotals(items, draft.DiscountPercent, draft.DiscountOverride)

	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO invoice_counters (day, last_seq)
		VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET last_seq = invoice_counters.last_seq + 1
		RETURNING last_seq
	`, now.Format("2006-01-02")).Scan(&seq)
	if err != nil {
		return nil, mapPgError(err)
	}
	number := domain.FormatInvoiceNumber(now, seq)

	paymentStatus := draft.PaymentStatus
	if paymentStatus == "" {
		paymentStatus = domain.PaymentStatusPaid
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (
			id, invoice_number, customer_name, customer_phone, subtotal,
			discount_percent, discount_amount, tax_amount, total_amount,
			payment_method, payment_status, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, invoiceID, number, strings.TrimSpace(draft.CustomerName), strings.TrimSpace(draft.CustomerPhone),
		totals.Subtotal, draft.DiscountPercent, totals.DiscountAmount, totals.TaxAmount, totals.TotalAmount,
		draft.PaymentMethod, paymentStatus, draft.CreatedBy, now)
	if err != nil {
		return nil, mapPgError(err)
	}

	for i, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO invoice_items (
				id, invoice_id, medicine_id, batch_id, position, quantity, unit_price,
				discount_percent, gst_percent, total_price
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, item.ID, item.InvoiceID, item.MedicineID, item.BatchID, i, item.Quantity,
			item.UnitPrice, item.DiscountPercent, item.GSTPercent, item.TotalPrice)
		if err != nil {
			return nil, mapPgError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapPgError(err)
	}

	return &domain.Invoice{
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
	}, nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	return s.findInvoice(ctx, "id", id)
}

func (s *Store) GetInvoiceByNumber(ctx context.Context, number string) (*domain.Invoice, error) {
	return s.findInvoice(ctx, "invoice_number", number)
}

func (s *Store) findInvoice(ctx context.Context, column string, value string) (*domain.Invoice, error) {
	if column != "id" && column != "invoice_number" {
		return nil, store.ErrValidation
	}

	var inv domain.Invoice
	err := s.db.QueryRowContext(ctx, `
		SELECT id, invoice_number, customer_name, customer_phone, subtotal,
			discount_percent, discount_amount, tax_amount, total_amount,
			payment_method, payment_status, created_by, created_at
		FROM invoices
		WHERE `+column+` = $1
	`, value).Scan(&inv.ID, &inv.InvoiceNumber, &inv.CustomerName, &inv.CustomerPhone, &inv.Subtotal,
		&inv.DiscountPercent, &inv.DiscountAmount, &inv.TaxAmount, &inv.TotalAmount,
		&inv.PaymentMethod, &inv.PaymentStatus, &inv.CreatedBy, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	inv.CreatedAt = inv.CreatedAt.UTC()

	items, err := s.invoiceItems(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.Items = items
	return &inv, nil
}

func (s *Store) invoiceItems(ctx context.Context, invoiceID string) ([]domain.InvoiceItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, medicine_id, batch_id, quantity, unit_price,
			discount_percent, gst_percent, total_price
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY position ASC
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InvoiceItem, 0, 8)
	for rows.Next() {
		var item domain.InvoiceItem
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.MedicineID, &item.BatchID, &item.Quantity,
			&item.UnitPrice, &item.DiscountPercent, &item.GSTPercent, &item.TotalPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListInvoices(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Invoice, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_number, customer_name, customer_phone, subtotal,
			discount_percent, discount_amount, tax_amount, total_amount,
			payment_method, payment_status, created_by, created_at
		FROM invoices
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, invoice_number DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, limit)
	for rows.Next() {
		var inv domain.Invoice
		if err := rows.Scan(&inv.ID, &inv.InvoiceNumber, &inv.CustomerName, &inv.CustomerPhone, &inv.Subtotal,
			&inv.DiscountPercent, &inv.DiscountAmount, &inv.TaxAmount, &inv.TotalAmount,
			&inv.PaymentMethod, &inv.PaymentStatus, &inv.CreatedBy, &inv.CreatedAt); err != nil {
			return nil, err
		}
		inv.CreatedAt = inv.CreatedAt.UTC()
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

// ApplyStockAdjustment locks the batch row, applies the signed delta with a
// zero floor, and records the adjustment (including the clamp) atomically.
func (s *Store) ApplyStockAdjustment(ctx context.Context, adj domain.StockAdjustment) (*domain.StockAdjustment, error) {
	if !domain.ValidAdjustmentType(adj.Type) || adj.Quantity <= 0 {
		return nil, store.ErrValidation
	}
	if adj.ID == "" {
		adj.ID = uuid.NewString()
	}
	if adj.CreatedAt.IsZero() {
		adj.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	var medicineID string
	err = tx.QueryRowContext(ctx, `
		SELECT quantity, medicine_id
		FROM batches
		WHERE id = $1
		FOR UPDATE
	`, adj.BatchID).Scan(&current, &medicineID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapPgError(err)
	}

	applied := adj.Quantity
	clamped := false
	next := current
	if domain.AdjustmentIncreases(adj.Type) {
		next = current + applied
	} else {
		if applied > current {
			applied = current
			clamped = true
		}
		next = current - applied
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE batches SET quantity = $2, updated_at = now() WHERE id = $1
	`, adj.BatchID, next)
	if err != nil {
		return nil, mapPgError(err)
	}

	adj.MedicineID = medicineID
	adj.AppliedQuantity = applied
	adj.Clamped = clamped
	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_adjustments (
			id, batch_id, medicine_id, adjustment_type, quantity, applied_quantity,
			clamped, reason, adjusted_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, adj.ID, adj.BatchID, adj.MedicineID, adj.Type, adj.Quantity, adj.AppliedQuantity,
		adj.Clamped, adj.Reason, adj.AdjustedBy, adj.CreatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapPgError(err)
	}
	created := adj
	return &created, nil
}

func (s *Store) ListStockAdjustments(ctx context.Context, batchID string, limit int) ([]domain.StockAdjustment, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, medicine_id, adjustment_type, quantity, applied_quantity,
			clamped, reason, adjusted_by, created_at
		FROM stock_adjustments
		WHERE ($1 = '' OR batch_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, batchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	adjustments := make([]domain.StockAdjustment, 0, limit)
	for rows.Next() {
		var adj domain.StockAdjustment
		if err := rows.Scan(&adj.ID, &adj.BatchID, &adj.MedicineID, &adj.Type, &adj.Quantity,
			&adj.AppliedQuantity, &adj.Clamped, &adj.Reason, &adj.AdjustedBy, &adj.CreatedAt); err != nil {
			return nil, err
		}
		adj.CreatedAt = adj.CreatedAt.UTC()
		adjustments = append(adjustments, adj)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return adjustments, nil
}

func (s *Store) CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if len(po.Items) == 0 {
		return nil, store.ErrValidation
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

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchase_orders (id, po_number, supplier_id, status, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, po.ID, po.PONumber, po.SupplierID, po.Status, po.CreatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	for _, item := range po.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO purchase_order_items (purchase_order_id, medicine_id, quantity, unit_cost)
			VALUES ($1,$2,$3,$4)
		`, po.ID, item.MedicineID, item.Quantity, item.UnitCost)
		if err != nil {
			return nil, mapPgError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, mapPgError(err)
	}
	created := po
	return &created, nil
}

func (s *Store) GetPurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error) {
	var po domain.PurchaseOrder
	var receivedAt sql.NullTime
	var receivedBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, po_number, supplier_id, status, created_at, received_at, received_by
		FROM purchase_orders
		WHERE id = $1
	`, id).Scan(&po.ID, &po.PONumber, &po.SupplierID, &po.Status, &po.CreatedAt, &receivedAt, &receivedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if receivedAt.Valid {
		t := receivedAt.Time.UTC()
		po.ReceivedAt = &t
	}
	po.ReceivedBy = receivedBy.String
	po.CreatedAt = po.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT medicine_id, quantity, unit_cost
		FROM purchase_order_items
		WHERE purchase_order_id = $1
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.PurchaseOrderItem
		if err := rows.Scan(&item.MedicineID, &item.Quantity, &item.UnitCost); err != nil {
			return nil, err
		}
		po.Items = append(po.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &po, nil
}

func (s *Store) ListPurchaseOrders(ctx context.Context, status string, limit int) ([]domain.PurchaseOrder, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, po_number, supplier_id, status, created_at, received_at, received_by
		FROM purchase_orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.PurchaseOrder, 0, limit)
	for rows.Next() {
		var po domain.PurchaseOrder
		var receivedAt sql.NullTime
		var receivedBy sql.NullString
		if err := rows.Scan(&po.ID, &po.PONumber, &po.SupplierID, &po.Status, &po.CreatedAt, &receivedAt, &receivedBy); err != nil {
			return nil, err
		}
		if receivedAt.Valid {
			t := receivedAt.Time.UTC()
			po.ReceivedAt = &t
		}
		po.ReceivedBy = receivedBy.String
		po.CreatedAt = po.CreatedAt.UTC()
		orders = append(orders, po)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) MarkPurchaseOrderReceived(ctx context.Context, id string, receivedBy string, receivedAt time.Time) (*domain.PurchaseOrder, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE purchase_orders
		SET status = $2, received_by = $3, received_at = $4
		WHERE id = $1 AND status = $5
	`, id, domain.POStatusReceived, receivedBy, receivedAt.UTC(), domain.POStatusOrdered)
	if err != nil {
		return nil, mapPgError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, getErr := s.GetPurchaseOrder(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, store.ErrConflict
	}
	return s.GetPurchaseOrder(ctx, id)
}

func (s *Store) LowStock(ctx context.Context) ([]domain.LowStockRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.name, m.reorder_level, COALESCE(SUM(b.quantity), 0)::int AS total_stock
		FROM medicines m
		LEFT JOIN batches b ON b.medicine_id = m.id
		WHERE m.active = true
		GROUP BY m.id, m.name, m.reorder_level
		HAVING COALESCE(SUM(b.quantity), 0) <= m.reorder_level
		ORDER BY total_stock ASC, m.name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.LowStockRow, 0, 16)
	for rows.Next() {
		var row domain.LowStockRow
		if err := rows.Scan(&row.MedicineID, &row.Name, &row.ReorderLevel, &row.TotalStock); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ExpiringBatches(ctx context.Context, now time.Time, horizonDays int) ([]domain.ExpiringBatchRow, error) {
	if horizonDays < 1 {
		horizonDays = 30
	}
	cutoff := now.AddDate(0, 0, horizonDays)

	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.medicine_id, m.name, b.batch_number, b.expiry_date, b.quantity
		FROM batches b
		JOIN medicines m ON m.id = b.medicine_id
		WHERE b.quantity > 0 AND b.expiry_date > $1 AND b.expiry_date <= $2
		ORDER BY b.expiry_date ASC, b.id ASC
	`, now, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ExpiringBatchRow, 0, 16)
	for rows.Next() {
		var row domain.ExpiringBatchRow
		if err := rows.Scan(&row.BatchID, &row.MedicineID, &row.Medicine, &row.BatchNumber, &row.ExpiryDate, &row.Quantity); err != nil {
			return nil, err
		}
		row.ExpiryDate = row.ExpiryDate.UTC()
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SalesSummary(ctx context.Context, from time.Time, to time.Time) (domain.SalesSummary, error) {
	summary := domain.SalesSummary{
		From:          from,
		To:            to,
		GrossSales:    decimal.Zero,
		TotalDiscount: decimal.Zero,
		TotalTax:      decimal.Zero,
		NetSales:      decimal.Zero,
	}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::bigint,
			COALESCE(SUM(subtotal), 0),
			COALESCE(SUM(discount_amount), 0),
			COALESCE(SUM(tax_amount), 0),
			COALESCE(SUM(total_amount), 0)
		FROM invoices
		WHERE created_at >= $1 AND created_at < $2
	`, from, to).Scan(&summary.InvoiceCount, &summary.GrossSales, &summary.TotalDiscount, &summary.TotalTax, &summary.NetSales)
	if err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *Store) ListCustomers(ctx context.Context, limit int) ([]domain.CustomerView, error) {
	if limit < 1 {
		limit = 100
	}
	// Customers have no identity of their own; grouping is a best-effort
	// exact match on (name, phone) over invoice history.
	rows, err := s.db.QueryContext(ctx, `
		SELECT customer_name, customer_phone, COUNT(*)::int,
			COALESCE(SUM(total_amount), 0), MAX(created_at)
		FROM invoices
		WHERE customer_name <> '' OR customer_phone <> ''
		GROUP BY customer_name, customer_phone
		ORDER BY MAX(created_at) DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CustomerView, 0, limit)
	for rows.Next() {
		var view domain.CustomerView
		if err := rows.Scan(&view.Name, &view.Phone, &view.InvoiceCount, &view.TotalSpent, &view.LastPurchase); err != nil {
			return nil, err
		}
		view.LastPurchase = view.LastPurchase.UTC()
		out = append(out, view)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, username, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.Username, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.Username, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,true,$4,$4)
	`, user.Username, user.Password, user.Role, user.CreatedAt)
	return mapPgError(err)
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users SET password = $2, updated_at = now() WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// mapPgError translates driver errors into the store taxonomy.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return store.ErrConflict
		case "23503":
			return store.ErrForeignKey
		case "40001", "40P01":
			return store.ErrConcurrency
		}
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
