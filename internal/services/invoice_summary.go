package services

import (
	"time"

	"drivingschool/server/internal/models"

	"github.com/shopspring/decimal"
)

// InvoiceSummary is the open/paid/overdue view of a set of invoices
type InvoiceSummary struct {
	OpenAmount   decimal.Decimal `json:"open_amount"`
	PaidAmount   decimal.Decimal `json:"paid_amount"`
	OverdueCount int             `json:"overdue_count"`
	InvoiceCount int             `json:"invoice_count"`
}

// Summarize folds invoices into totals. It does not depend on input order.
//
// Paid invoices contribute their gross amount to PaidAmount. Every other
// invoice that is neither cancelled nor refunded contributes its unpaid rest
// to OpenAmount. OverdueCount uses Invoice.IsOverdue, the same rule as the
// overdue filter and the effective status, so an unsent draft is never overdue.
// Deleted invoices are ignored.
func Summarize(invoices []models.Invoice, now time.Time) InvoiceSummary {
	sum := InvoiceSummary{OpenAmount: decimal.Zero, PaidAmount: decimal.Zero}
	for i := range invoices {
		inv := &invoices[i]
		if inv.IsDeleted {
			continue
		}
		sum.InvoiceCount++
		switch inv.Status {
		case models.InvoiceStatusPaid:
			sum.PaidAmount = sum.PaidAmount.Add(inv.GrossAmount)
			continue
		case models.InvoiceStatusCancelled, models.InvoiceStatusRefunded:
			continue
		}
		sum.OpenAmount = sum.OpenAmount.Add(inv.OpenAmount())
		if inv.IsOverdue(now) {
			sum.OverdueCount++
		}
	}
	return sum
}
