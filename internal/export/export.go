// Package export serializes invoice lists for accounting and reporting.
// Every serializer is a pure function of its input and input order.
package export

import (
	"fmt"
	"strings"
	"time"

	"drivingschool/server/internal/config"
	"drivingschool/server/internal/models"

	"github.com/shopspring/decimal"
)

// Format names an export serializer
type Format string

const (
	FormatCSV      Format = "csv"
	FormatDATEV    Format = "datev"
	FormatDetailed Format = "detailed"
	FormatXLSX     Format = "xlsx"
)

// ParseFormat accepts a format name case-insensitively
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatDATEV, FormatDetailed, FormatXLSX:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// Result is a serialized export ready to be written or downloaded
type Result struct {
	Content     []byte
	ContentType string
	Extension   string
}

// Export runs the serializer named by format
func Export(format Format, invoices []models.Invoice, accounts config.DatevConfig) (*Result, error) {
	switch format {
	case FormatCSV:
		out, err := ToCSV(invoices)
		if err != nil {
			return nil, err
		}
		return &Result{Content: []byte(out), ContentType: "text/csv; charset=utf-8", Extension: "csv"}, nil
	case FormatDATEV:
		out, err := ToDATEV(invoices, accounts)
		if err != nil {
			return nil, err
		}
		return &Result{Content: []byte(out), ContentType: "text/csv; charset=utf-8", Extension: "csv"}, nil
	case FormatDetailed:
		return &Result{Content: []byte(ToDetailed(invoices)), ContentType: "text/plain; charset=utf-8", Extension: "txt"}, nil
	case FormatXLSX:
		out, err := ToXLSX(invoices)
		if err != nil {
			return nil, err
		}
		return &Result{
			Content:     out,
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Extension:   "xlsx",
		}, nil
	}
	return nil, fmt.Errorf("unknown export format %q", format)
}

// germanAmount renders 1234.5 as "1234,50"
func germanAmount(d decimal.Decimal) string {
	return strings.Replace(d.StringFixed(2), ".", ",", 1)
}

func germanDate(t time.Time) string {
	return t.Format("02.01.2006")
}

func isoDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func ownerID(inv *models.Invoice) string {
	if inv.ParticipantID != nil {
		return *inv.ParticipantID
	}
	if inv.RegistrationID != nil {
		return *inv.RegistrationID
	}
	return ""
}
