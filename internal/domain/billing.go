package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// InvoiceTotals is the computed money summary for a set of invoice items.
type InvoiceTotals struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	TotalAmount    decimal.Decimal
}

// ComputeInvoiceTotals derives the invoice money fields from its items.
// Tax is computed per item because different items carry different GST rates:
// each line contributes round2(unitPrice*qty*gst/100). The discount applies at
// invoice level: round2(subtotal*discountPercent/100), unless an explicit
// override amount is supplied. The invariant
// total == subtotal - discount + tax holds exactly in 2dp decimal arithmetic.
func ComputeInvoiceTotals(items []InvoiceItem, discountPercent decimal.Decimal, override *decimal.Decimal) InvoiceTotals {
	subtotal := decimal.Zero
	tax := decimal.Zero
	for _, item := range items {
		lineSubtotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(lineSubtotal.Round(2))
		tax = tax.Add(lineSubtotal.Mul(item.GSTPercent).Div(oneHundred).Round(2))
	}

	discount := subtotal.Mul(discountPercent).Div(oneHundred).Round(2)
	if override != nil {
		discount = override.Round(2)
	}

	return InvoiceTotals{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TaxAmount:      tax,
		TotalAmount:    subtotal.Sub(discount).Add(tax),
	}
}

// LineTotal is the captured per-item total: the line subtotal plus its GST
// share, in 2dp.
func LineTotal(unitPrice decimal.Decimal, quantity int, gstPercent decimal.Decimal) decimal.Decimal {
	lineSubtotal := unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	return lineSubtotal.Round(2).Add(lineSubtotal.Mul(gstPercent).Div(oneHundred).Round(2))
}

// FormatInvoiceNumber renders the day-scoped sequential invoice identifier,
// e.g. INV202401150007 for the 7th invoice on 2024-01-15.
func FormatInvoiceNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("INV%s%04d", day.UTC().Format("20060102"), seq)
}

// FormatPONumber renders a purchase order identifier from a creation instant.
// Millisecond epoch keeps it unique enough for PO volume; it is deliberately
// a weaker guarantee than invoice numbering.
func FormatPONumber(at time.Time) string {
	return fmt.Sprintf("PO%d", at.UnixMilli())
}
