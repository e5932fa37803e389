// Package render produces the print-ready invoice document. The invoice is
// laid out as Markdown and converted to a standalone HTML page.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"drivingschool/server/internal/config"
	"drivingschool/server/internal/models"

	"github.com/shopspring/decimal"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	markdownOnce     sync.Once
	markdownInstance goldmark.Markdown
)

func markdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownInstance = goldmark.New(goldmark.WithExtensions(extension.Table))
	})
	return markdownInstance
}

const bodyTemplate = `**{{ md .Company.Name }}**{{ if .Company.Address }} · {{ md .Company.Address }}{{ end }}

{{ md .Invoice.Recipient.Name }}  
{{ if .Invoice.Recipient.Address }}{{ md .Invoice.Recipient.Address }}  
{{ end }}{{ md .Invoice.Recipient.ZipCode }} {{ md .Invoice.Recipient.City }}

# {{ .Title }} {{ .Invoice.InvoiceNumber }}

| | |
|---|---|
| Rechnungsdatum | {{ date .Invoice.InvoiceDate }} |
{{- if .Invoice.ServiceDate }}
| Leistungsdatum | {{ date .Invoice.ServiceDate }} |
{{- end }}
{{- if and .Invoice.ServicePeriodStart .Invoice.ServicePeriodEnd }}
| Leistungszeitraum | {{ date .Invoice.ServicePeriodStart }} – {{ date .Invoice.ServicePeriodEnd }} |
{{- end }}
{{- if .Invoice.DueDate }}
| Zahlbar bis | {{ date .Invoice.DueDate }} |
{{- end }}

| Pos. | Beschreibung | Menge | Einzelpreis | USt. | Netto |
|---:|---|---:|---:|---:|---:|
{{- range .Invoice.LineItems }}
| {{ .Position }} | {{ md .Description }} | {{ .Quantity }}{{ if .Unit }} {{ md .Unit }}{{ end }} | {{ eur .UnitPrice }} | {{ .VatRate }} % | {{ eur .NetAmount }} |
{{- end }}

| | |
|---|---:|
| Nettobetrag | {{ eur .Invoice.NetAmount }} |
| Umsatzsteuer | {{ eur .Invoice.VatAmount }} |
| **Gesamtbetrag** | **{{ eur .Invoice.GrossAmount }}** |
{{- if .Invoice.PaidAmount.IsPositive }}
| Bereits bezahlt | {{ eur .Invoice.PaidAmount }} |
{{- end }}
{{ if .Cancelled }}
**Storniert:** {{ md .Invoice.CancellationReason }}
{{ end }}
{{- if .Invoice.Notes }}
{{ md .Invoice.Notes }}
{{ end }}
{{- if .Company.IBAN }}
Bitte überweisen Sie den Betrag unter Angabe der Rechnungsnummer auf das Konto IBAN {{ md .Company.IBAN }}.
{{ end }}
{{- if .Company.TaxID }}
Steuernummer: {{ md .Company.TaxID }}
{{ end }}`

const pageTemplate = `<!DOCTYPE html>
<html lang="de">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
@page { size: A4; margin: 20mm; }
body { font-family: Helvetica, Arial, sans-serif; font-size: 10pt; }
table { border-collapse: collapse; width: 100%%; margin: 1em 0; }
td, th { padding: 2px 6px; }
</style>
</head>
<body>
%s</body>
</html>
`

var body = template.Must(template.New("invoice").Funcs(template.FuncMap{
	"md":   escapeMarkdown,
	"eur":  formatEuro,
	"date": formatDate,
}).Parse(bodyTemplate))

// DocumentRenderer renders invoices as print-ready HTML
type DocumentRenderer struct {
	company config.CompanyConfig
}

func NewDocumentRenderer(company config.CompanyConfig) *DocumentRenderer {
	return &DocumentRenderer{company: company}
}

func (r *DocumentRenderer) Format() string      { return "html" }
func (r *DocumentRenderer) ContentType() string { return "text/html; charset=utf-8" }

// Markdown returns the intermediate Markdown of the document
func (r *DocumentRenderer) Markdown(inv *models.Invoice) ([]byte, error) {
	title := "Rechnung"
	if inv.Status == models.InvoiceStatusDraft {
		title = "Rechnungsentwurf"
	}
	var buf bytes.Buffer
	err := body.Execute(&buf, struct {
		Title     string
		Company   config.CompanyConfig
		Invoice   *models.Invoice
		Cancelled bool
	}{
		Title:     title,
		Company:   r.company,
		Invoice:   inv,
		Cancelled: inv.Status == models.InvoiceStatusCancelled,
	})
	if err != nil {
		return nil, fmt.Errorf("execute invoice template: %w", err)
	}
	return buf.Bytes(), nil
}

// Render produces a standalone HTML page for inv
func (r *DocumentRenderer) Render(inv *models.Invoice) ([]byte, error) {
	source, err := r.Markdown(inv)
	if err != nil {
		return nil, err
	}
	var html bytes.Buffer
	if err := markdown().Convert(source, &html); err != nil {
		return nil, fmt.Errorf("convert invoice markdown: %w", err)
	}
	title := "Rechnung " + inv.InvoiceNumber
	return []byte(fmt.Sprintf(pageTemplate, escapeHTML(title), html.String())), nil
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, `*`, `\*`, `_`, `\_`, "`", "\\`", `[`, `\[`, `]`, `\]`,
	`|`, `\|`, `<`, `&lt;`, `>`, `&gt;`, `#`, `\#`, "\n", " ",
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

var htmlEscaper = strings.NewReplacer(`&`, `&amp;`, `<`, `&lt;`, `>`, `&gt;`, `"`, `&quot;`)

func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// formatEuro renders 1234.5 as "1.234,50 €"
func formatEuro(d decimal.Decimal) string {
	fixed := d.Abs().StringFixed(2)
	intPart, frac := fixed[:len(fixed)-3], fixed[len(fixed)-2:]

	var grouped strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(c)
	}
	sign := ""
	if d.IsNegative() {
		sign = "-"
	}
	return sign + grouped.String() + "," + frac + " €"
}

func formatDate(v interface{}) string {
	switch t := v.(type) {
	case time.Time:
		return t.Format("02.01.2006")
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.Format("02.01.2006")
	}
	return ""
}
