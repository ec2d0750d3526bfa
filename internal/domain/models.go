package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Medicine is a catalog entry. Medicines are never hard-deleted because
// invoice items reference them permanently; deactivation flips Active.
type Medicine struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	GenericName  string    `json:"generic_name,omitempty"`
	Brand        string    `json:"brand,omitempty"`
	CategoryID   string    `json:"category_id,omitempty"`
	PackSize     string    `json:"pack_size,omitempty"`
	Barcode      string    `json:"barcode,omitempty"`
	ReorderLevel int       `json:"reorder_level"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type MedicineCreateRequest struct {
	Name         string `json:"name" validate:"required"`
	GenericName  string `json:"generic_name"`
	Brand        string `json:"brand"`
	CategoryID   string `json:"category_id"`
	PackSize     string `json:"pack_size"`
	Barcode      string `json:"barcode"`
	ReorderLevel int    `json:"reorder_level" validate:"gte=0"`
}

type MedicineUpdateRequest struct {
	Name         *string `json:"name,omitempty"`
	GenericName  *string `json:"generic_name,omitempty"`
	Brand        *string `json:"brand,omitempty"`
	CategoryID   *string `json:"category_id,omitempty"`
	PackSize     *string `json:"pack_size,omitempty"`
	Barcode      *string `json:"barcode,omitempty"`
	ReorderLevel *int    `json:"reorder_level,omitempty"`
	Active       *bool   `json:"active,omitempty"`
}

// Batch is a priced, dated lot of one medicine. Quantity is mutated only by
// invoicing (decrement) and stock adjustments; it never goes below zero.
// InitialQuantity is an immutable snapshot taken at receipt. Returns may push
// Quantity above InitialQuantity. Batches are never deleted.
type Batch struct {
	ID              string          `json:"id"`
	MedicineID      string          `json:"medicine_id"`
	BatchNumber     string          `json:"batch_number"`
	ExpiryDate      time.Time       `json:"expiry_date"`
	ManufactureDate *time.Time      `json:"manufacture_date,omitempty"`
	SupplierID      string          `json:"supplier_id,omitempty"`
	PurchasePrice   decimal.Decimal `json:"purchase_price"`
	MRP             decimal.Decimal `json:"mrp"`
	SellingPrice    decimal.Decimal `json:"selling_price"`
	GSTPercent      decimal.Decimal `json:"gst_percent"`
	Quantity        int             `json:"quantity"`
	InitialQuantity int             `json:"initial_quantity"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type BatchReceiveRequest struct {
	MedicineID      string          `json:"medicine_id" validate:"required"`
	BatchNumber     string          `json:"batch_number" validate:"required"`
	ExpiryDate      string          `json:"expiry_date" validate:"required"`
	ManufactureDate string          `json:"manufacture_date"`
	SupplierID      string          `json:"supplier_id"`
	PurchasePrice   decimal.Decimal `json:"purchase_price"`
	MRP             decimal.Decimal `json:"mrp"`
	SellingPrice    decimal.Decimal `json:"selling_price"`
	GSTPercent      decimal.Decimal `json:"gst_percent"`
	Quantity        int             `json:"quantity" validate:"gt=0"`
}

// CartLine is one requested sale line before allocation.
type CartLine struct {
	MedicineID string `json:"medicine_id" validate:"required"`
	Quantity   int    `json:"quantity" validate:"gt=0"`
}

// InvoiceItem references the exact batch stock was drawn from. Prices and GST
// are captured at sale time and stay fixed even if the batch is repriced later.
type InvoiceItem struct {
	ID              string          `json:"id"`
	InvoiceID       string          `json:"invoice_id"`
	MedicineID      string          `json:"medicine_id"`
	BatchID         string          `json:"batch_id"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	GSTPercent      decimal.Decimal `json:"gst_percent"`
	TotalPrice      decimal.Decimal `json:"total_price"`
}

// Invoice is a financial record: created atomically with its items and the
// corresponding batch decrements, never mutated or deleted afterwards.
type Invoice struct {
	ID              string          `json:"id"`
	InvoiceNumber   string          `json:"invoice_number"`
	CustomerName    string          `json:"customer_name,omitempty"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentStatus   string          `json:"payment_status"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	Items           []InvoiceItem   `json:"items"`
}

// InvoiceDraft is the validated input handed to the ledger for atomic
// allocation and persistence. DiscountOverride, when set, replaces the
// percent-derived discount amount.
type InvoiceDraft struct {
	CustomerName     string
	CustomerPhone    string
	DiscountPercent  decimal.Decimal
	DiscountOverride *decimal.Decimal
	PaymentMethod    string
	PaymentStatus    string
	CreatedBy        string
	Lines            []CartLine
}

type InvoiceCreateRequest struct {
	CustomerName     string           `json:"customer_name"`
	CustomerPhone    string           `json:"customer_phone"`
	DiscountPercent  decimal.Decimal  `json:"discount_percent"`
	DiscountOverride *decimal.Decimal `json:"discount_override,omitempty"`
	PaymentMethod    string           `json:"payment_method"`
	Lines            []CartLine       `json:"lines" validate:"required,min=1,dive"`
}

// StockAdjustment is an append-only out-of-band quantity change. Quantity is
// the requested magnitude; AppliedQuantity is what actually landed on the
// batch after the zero floor. Clamped marks a decrement that hit the floor.
type StockAdjustment struct {
	ID              string    `json:"id"`
	BatchID         string    `json:"batch_id"`
	MedicineID      string    `json:"medicine_id"`
	Type            string    `json:"type"`
	Quantity        int       `json:"quantity"`
	AppliedQuantity int       `json:"applied_quantity"`
	Clamped         bool      `json:"clamped"`
	Reason          string    `json:"reason,omitempty"`
	AdjustedBy      string    `json:"adjusted_by"`
	CreatedAt       time.Time `json:"created_at"`
}

type StockAdjustmentRequest struct {
	BatchID  string `json:"batch_id" validate:"required"`
	Type     string `json:"type" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0"`
	Reason   string `json:"reason"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type PurchaseOrderItem struct {
	MedicineID string          `json:"medicine_id" validate:"required"`
	Quantity   int             `json:"quantity" validate:"gt=0"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
}

type PurchaseOrder struct {
	ID         string              `json:"id"`
	PONumber   string              `json:"po_number"`
	SupplierID string              `json:"supplier_id"`
	Status     string              `json:"status"`
	Items      []PurchaseOrderItem `json:"items"`
	CreatedAt  time.Time           `json:"created_at"`
	ReceivedAt *time.Time          `json:"received_at,omitempty"`
	ReceivedBy string              `json:"received_by,omitempty"`
}

type PurchaseOrderCreateRequest struct {
	SupplierID string              `json:"supplier_id" validate:"required"`
	Items      []PurchaseOrderItem `json:"items" validate:"required,min=1,dive"`
}

// PurchaseOrderReceiveRequest carries the batch details needed to turn each
// PO line into a received batch.
type PurchaseOrderReceiveRequest struct {
	Batches []BatchReceiveRequest `json:"batches" validate:"required,min=1,dive"`
}

// CustomerView is derived from invoice history by exact (name, phone) match.
// Customers have no stable identity of their own; this is a best-effort
// text grouping, not a foreign key.
type CustomerView struct {
	Name         string          `json:"name"`
	Phone        string          `json:"phone"`
	InvoiceCount int             `json:"invoice_count"`
	TotalSpent   decimal.Decimal `json:"total_spent"`
	LastPurchase time.Time       `json:"last_purchase"`
}

type LowStockRow struct {
	MedicineID   string `json:"medicine_id"`
	Name         string `json:"name"`
	ReorderLevel int    `json:"reorder_level"`
	TotalStock   int    `json:"total_stock"`
}

type ExpiringBatchRow struct {
	BatchID     string    `json:"batch_id"`
	MedicineID  string    `json:"medicine_id"`
	Medicine    string    `json:"medicine"`
	BatchNumber string    `json:"batch_number"`
	ExpiryDate  time.Time `json:"expiry_date"`
	Quantity    int       `json:"quantity"`
}

type SalesSummary struct {
	From          time.Time       `json:"from"`
	To            time.Time       `json:"to"`
	InvoiceCount  int64           `json:"invoice_count"`
	GrossSales    decimal.Decimal `json:"gross_sales"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
	TotalTax      decimal.Decimal `json:"total_tax"`
	NetSales      decimal.Decimal `json:"net_sales"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

// UserView is UserAccount without the credential hash, safe to serialize.
type UserView struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type UserCreateRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"required,oneof=admin pharmacist"`
}

const (
	AdjustmentAddition  = "addition"
	AdjustmentReturn    = "return"
	AdjustmentDeduction = "deduction"
	AdjustmentDamage    = "damage"
	AdjustmentExpired   = "expired"
	AdjustmentTransfer  = "transfer"
)

const (
	PaymentStatusPaid    = "paid"
	PaymentStatusPending = "pending"
)

const (
	POStatusOrdered  = "ordered"
	POStatusReceived = "received"
)

const (
	RoleAdmin      = "admin"
	RolePharmacist = "pharmacist"
)

// AdjustmentIncreases reports whether the adjustment type adds stock back to
// the batch; every other known type removes stock.
func AdjustmentIncreases(adjType string) bool {
	return adjType == AdjustmentAddition || adjType == AdjustmentReturn
}

// ValidAdjustmentType reports whether adjType is one of the known kinds.
func ValidAdjustmentType(adjType string) bool {
	switch adjType {
	case AdjustmentAddition, AdjustmentReturn, AdjustmentDeduction,
		AdjustmentDamage, AdjustmentExpired, AdjustmentTransfer:
		return true
	}
	return false
}
