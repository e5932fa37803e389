package export

import (
	"bytes"
	"encoding/csv"

	"drivingschool/server/internal/models"
)

var csvHeader = []string{
	"invoice_number", "invoice_date", "due_date", "recipient_name", "recipient_email",
	"owner_id", "status", "net_amount", "vat_amount", "gross_amount", "paid_amount",
	"payment_method", "cancellation_reason",
}

// ToCSV writes one row per invoice with dot decimals, for spreadsheets and scripts.
// The stored status is exported; overdue depends on the export time and is left out.
func ToCSV(invoices []models.Invoice) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return "", err
	}
	for i := range invoices {
		inv := &invoices[i]
		row := []string{
			inv.InvoiceNumber,
			isoDate(&inv.InvoiceDate),
			isoDate(inv.DueDate),
			inv.Recipient.Name,
			inv.Recipient.Email,
			ownerID(inv),
			string(inv.Status),
			inv.NetAmount.StringFixed(2),
			inv.VatAmount.StringFixed(2),
			inv.GrossAmount.StringFixed(2),
			inv.PaidAmount.StringFixed(2),
			string(inv.PaymentMethod),
			inv.CancellationReason,
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
