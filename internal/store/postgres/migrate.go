package postgres

import "context"

// Migrate creates the ledger schema if it does not exist. Statements are
// idempotent so the server can run this at startup.
func (s *Store) Migrate(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS categories (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS suppliers (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS medicines (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			generic_name TEXT NOT NULL DEFAULT '',
			brand TEXT NOT NULL DEFAULT '',
			category_id UUID REFERENCES categories(id) ON DELETE SET NULL,
			pack_size TEXT NOT NULL DEFAULT '',
			barcode TEXT UNIQUE,
			reorder_level INT NOT NULL DEFAULT 0 CHECK (reorder_level >= 0),
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS batches (
			id UUID PRIMARY KEY,
			medicine_id UUID NOT NULL REFERENCES medicines(id),
			batch_number TEXT NOT NULL,
			expiry_date TIMESTAMPTZ NOT NULL,
			manufacture_date TIMESTAMPTZ,
			supplier_id UUID REFERENCES suppliers(id) ON DELETE SET NULL,
			purchase_price NUMERIC(12,2) NOT NULL DEFAULT 0,
			mrp NUMERIC(12,2) NOT NULL DEFAULT 0,
			selling_price NUMERIC(12,2) NOT NULL DEFAULT 0,
			gst_percent NUMERIC(5,2) NOT NULL DEFAULT 0,
			quantity INT NOT NULL CHECK (quantity >= 0),
			initial_quantity INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (medicine_id, batch_number)
		)`,
		`CREATE TABLE IF NOT EXISTS invoice_counters (
			day DATE PRIMARY KEY,
			last_seq BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS invoices (
			id UUID PRIMARY KEY,
			invoice_number TEXT NOT NULL UNIQUE,
			customer_name TEXT NOT NULL DEFAULT '',
			customer_phone TEXT NOT NULL DEFAULT '',
			subtotal NUMERIC(12,2) NOT NULL,
			discount_percent NUMERIC(5,2) NOT NULL DEFAULT 0,
			discount_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			tax_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			total_amount NUMERIC(12,2) NOT NULL,
			payment_method TEXT NOT NULL DEFAULT 'cash',
			payment_status TEXT NOT NULL DEFAULT 'paid',
			created_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS invoice_items (
			id UUID PRIMARY KEY,
			invoice_id UUID NOT NULL REFERENCES invoices(id),
			medicine_id UUID NOT NULL REFERENCES medicines(id),
			batch_id UUID NOT NULL REFERENCES batches(id),
			position INT NOT NULL DEFAULT 0,
			quantity INT NOT NULL CHECK (quantity > 0),
			unit_price NUMERIC(12,2) NOT NULL,
			discount_percent NUMERIC(5,2) NOT NULL DEFAULT 0,
			gst_percent NUMERIC(5,2) NOT NULL DEFAULT 0,
			total_price NUMERIC(12,2) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS stock_adjustments (
			id UUID PRIMARY KEY,
			batch_id UUID NOT NULL REFERENCES batches(id),
			medicine_id UUID NOT NULL REFERENCES medicines(id),
			adjustment_type TEXT NOT NULL,
			quantity INT NOT NULL CHECK (quantity > 0),
			applied_quantity INT NOT NULL CHECK (applied_quantity >= 0),
			clamped BOOLEAN NOT NULL DEFAULT false,
			reason TEXT NOT NULL DEFAULT '',
			adjusted_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS purchase_orders (
			id UUID PRIMARY KEY,
			po_number TEXT NOT NULL UNIQUE,
			supplier_id UUID NOT NULL REFERENCES suppliers(id),
			status TEXT NOT NULL DEFAULT 'ordered',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			received_at TIMESTAMPTZ,
			received_by TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS purchase_order_items (
			id BIGSERIAL PRIMARY KEY,
			purchase_order_id UUID NOT NULL REFERENCES purchase_orders(id),
			medicine_id UUID NOT NULL REFERENCES medicines(id),
			quantity INT NOT NULL CHECK (quantity > 0),
			unit_cost NUMERIC(12,2) NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id UUID PRIMARY KEY,
			username TEXT NOT NULL,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS app_users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_batches_medicine_expiry ON batches (medicine_id, expiry_date)`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_created_at ON invoices (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs (created_at)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
