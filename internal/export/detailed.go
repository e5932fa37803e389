package export

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"

	"drivingschool/server/internal/models"
)

// ToDetailed renders a human-readable listing including every line item
func ToDetailed(invoices []models.Invoice) string {
	var buf bytes.Buffer
	for i := range invoices {
		if i > 0 {
			buf.WriteString("\n")
		}
		writeDetailed(&buf, &invoices[i])
	}
	return buf.String()
}

func writeDetailed(buf *bytes.Buffer, inv *models.Invoice) {
	fmt.Fprintf(buf, "Rechnung %s vom %s\n", inv.InvoiceNumber, germanDate(inv.InvoiceDate))
	fmt.Fprintf(buf, "Empfänger: %s\n", recipientLine(inv.Recipient))
	fmt.Fprintf(buf, "Status: %s\n", inv.Status)
	if inv.DueDate != nil {
		fmt.Fprintf(buf, "Fällig: %s\n", germanDate(*inv.DueDate))
	}
	if inv.CancellationReason != "" {
		fmt.Fprintf(buf, "Storniert: %s\n", inv.CancellationReason)
	}

	tw := tabwriter.NewWriter(buf, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Pos\tBeschreibung\tMenge\tEinzelpreis\tUSt %\tNetto\tUSt\tBrutto\t")
	for _, li := range inv.LineItems {
		quantity := li.Quantity.String()
		if li.Unit != "" {
			quantity += " " + li.Unit
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			li.Position,
			li.Description,
			quantity,
			germanAmount(li.UnitPrice),
			li.VatRate.String(),
			germanAmount(li.NetAmount),
			germanAmount(li.VatAmount),
			germanAmount(li.GrossAmount),
		)
	}
	tw.Flush()

	fmt.Fprintf(buf, "Netto: %s EUR  USt: %s EUR  Brutto: %s EUR  Bezahlt: %s EUR\n",
		germanAmount(inv.NetAmount),
		germanAmount(inv.VatAmount),
		germanAmount(inv.GrossAmount),
		germanAmount(inv.PaidAmount),
	)
}

func recipientLine(r models.Recipient) string {
	parts := []string{r.Name}
	if r.Address != "" {
		parts = append(parts, r.Address)
	}
	if city := strings.TrimSpace(r.ZipCode + " " + r.City); city != "" {
		parts = append(parts, city)
	}
	return strings.Join(parts, ", ")
}
