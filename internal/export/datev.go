package export

import (
	"bytes"
	"encoding/csv"
	"sort"

	"drivingschool/server/internal/config"
	"drivingschool/server/internal/models"

	"github.com/shopspring/decimal"
)

// DATEV booking stack columns (Buchungsstapel, reduced set)
var datevHeader = []string{
	"Umsatz (ohne Soll/Haben-Kz)",
	"Soll/Haben-Kennzeichen",
	"WKZ Umsatz",
	"Konto",
	"Gegenkonto (ohne BU-Schlüssel)",
	"BU-Schlüssel",
	"Belegdatum",
	"Belegfeld 1",
	"Buchungstext",
}

const datevTextLimit = 60

// ToDATEV writes the revenue bookings of issued invoices: one row per VAT
// rate of an invoice, debiting the debitor account against the SKR03 revenue
// account of that rate. Cancelled and refunded invoices get their bookings
// reversed with H rows directly after the originals. Drafts and deleted
// invoices are skipped.
func ToDATEV(invoices []models.Invoice, accounts config.DatevConfig) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ';'
	if err := w.Write(datevHeader); err != nil {
		return "", err
	}

	for i := range invoices {
		inv := &invoices[i]
		if inv.IsDeleted || inv.Status == models.InvoiceStatusDraft {
			continue
		}
		groups := grossByRate(inv)
		sides := []string{"S"}
		if inv.Status.IsTerminal() {
			sides = append(sides, "H")
		}
		for _, side := range sides {
			for _, g := range groups {
				row := []string{
					germanAmount(g.gross),
					side,
					"EUR",
					accounts.DebitorAccount,
					revenueAccount(accounts, g.rate),
					taxKey(g.rate),
					inv.InvoiceDate.Format("0201"),
					inv.InvoiceNumber,
					bookingText(inv, side),
				}
				if err := w.Write(row); err != nil {
					return "", err
				}
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type rateGroup struct {
	rate  decimal.Decimal
	gross decimal.Decimal
}

// grossByRate groups line gross amounts by VAT rate, highest rate first
func grossByRate(inv *models.Invoice) []rateGroup {
	var groups []rateGroup
	for _, li := range inv.LineItems {
		found := false
		for j := range groups {
			if groups[j].rate.Equal(li.VatRate) {
				groups[j].gross = groups[j].gross.Add(li.GrossAmount)
				found = true
				break
			}
		}
		if !found {
			groups = append(groups, rateGroup{rate: li.VatRate, gross: li.GrossAmount})
		}
	}
	if len(groups) == 0 {
		groups = append(groups, rateGroup{rate: inv.VatRate, gross: inv.GrossAmount})
	}
	sort.SliceStable(groups, func(a, b int) bool { return groups[a].rate.GreaterThan(groups[b].rate) })
	return groups
}

func revenueAccount(accounts config.DatevConfig, rate decimal.Decimal) string {
	switch {
	case rate.Equal(decimal.NewFromInt(19)):
		return accounts.RevenueAccount19
	case rate.Equal(decimal.NewFromInt(7)):
		return accounts.RevenueAccount7
	default:
		return accounts.RevenueAccount0
	}
}

// taxKey is the SKR03 BU key for output VAT: 3 for 19%, 2 for 7%
func taxKey(rate decimal.Decimal) string {
	switch {
	case rate.Equal(decimal.NewFromInt(19)):
		return "3"
	case rate.Equal(decimal.NewFromInt(7)):
		return "2"
	}
	return ""
}

func bookingText(inv *models.Invoice, side string) string {
	text := inv.Recipient.Name
	if side == "H" {
		if inv.Status == models.InvoiceStatusRefunded {
			text = "Erstattung " + text
		} else {
			text = "Storno " + text
		}
	}
	r := []rune(text)
	if len(r) > datevTextLimit {
		r = r[:datevTextLimit]
	}
	return string(r)
}
