package export

import (
	"fmt"

	"drivingschool/server/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	sheetInvoices  = "Rechnungen"
	sheetLineItems = "Positionen"
)

// ToXLSX builds a workbook with one sheet of invoice headers and one of line items
func ToXLSX(invoices []models.Invoice) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetInvoices); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(sheetLineItems); err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	if err != nil {
		return nil, fmt.Errorf("create style: %w", err)
	}

	if err := f.SetSheetRow(sheetInvoices, "A1", &[]interface{}{
		"Rechnungsnummer", "Rechnungsdatum", "Fällig", "Empfänger", "Status", "Netto", "USt", "Brutto", "Bezahlt",
	}); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(sheetLineItems, "A1", &[]interface{}{
		"Rechnungsnummer", "Pos", "Beschreibung", "Menge", "Einheit", "Einzelpreis", "USt %", "Netto", "USt", "Brutto",
	}); err != nil {
		return nil, err
	}

	lineRow := 2
	for i := range invoices {
		inv := &invoices[i]
		row := i + 2
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheetInvoices, cell, &[]interface{}{
			inv.InvoiceNumber,
			isoDate(&inv.InvoiceDate),
			isoDate(inv.DueDate),
			inv.Recipient.Name,
			string(inv.Status),
			inv.NetAmount.InexactFloat64(),
			inv.VatAmount.InexactFloat64(),
			inv.GrossAmount.InexactFloat64(),
			inv.PaidAmount.InexactFloat64(),
		}); err != nil {
			return nil, err
		}

		for _, li := range inv.LineItems {
			cell, _ := excelize.CoordinatesToCellName(1, lineRow)
			if err := f.SetSheetRow(sheetLineItems, cell, &[]interface{}{
				inv.InvoiceNumber,
				li.Position,
				li.Description,
				li.Quantity.InexactFloat64(),
				li.Unit,
				li.UnitPrice.InexactFloat64(),
				li.VatRate.InexactFloat64(),
				li.NetAmount.InexactFloat64(),
				li.VatAmount.InexactFloat64(),
				li.GrossAmount.InexactFloat64(),
			}); err != nil {
				return nil, err
			}
			lineRow++
		}
	}

	if len(invoices) > 0 {
		if err := f.SetCellStyle(sheetInvoices, "F2", fmt.Sprintf("I%d", len(invoices)+1), money); err != nil {
			return nil, err
		}
	}
	if lineRow > 2 {
		last := lineRow - 1
		if err := f.SetCellStyle(sheetLineItems, "F2", fmt.Sprintf("F%d", last), money); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(sheetLineItems, "H2", fmt.Sprintf("J%d", last), money); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
