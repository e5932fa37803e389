package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"drivingschool/server/internal/config"
	"drivingschool/server/internal/export"
	"drivingschool/server/internal/models"
	"drivingschool/server/internal/services"
	"drivingschool/server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// InvoiceController exposes the invoice lifecycle over HTTP
type InvoiceController struct {
	service *services.InvoiceService
	datev   config.DatevConfig
	now     func() time.Time
}

func NewInvoiceController(service *services.InvoiceService, datev config.DatevConfig) *InvoiceController {
	return &InvoiceController{service: service, datev: datev, now: time.Now}
}

type invoiceResponse struct {
	*models.Invoice
	EffectiveStatus models.InvoiceStatus `json:"effective_status"`
	OpenAmount      decimal.Decimal      `json:"open_amount"`
}

func (ic *InvoiceController) present(inv *models.Invoice) invoiceResponse {
	return invoiceResponse{
		Invoice:         inv,
		EffectiveStatus: inv.EffectiveStatus(ic.now()),
		OpenAmount:      inv.OpenAmount(),
	}
}

// performer identifies the operator; authentication happens in front of this service
func performer(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader("X-User"))
}

type createInvoiceBody struct {
	Recipient          models.Recipient         `json:"recipient"`
	RegistrationID     *string                  `json:"registration_id"`
	ParticipantID      *string                  `json:"participant_id"`
	InvoiceDate        string                   `json:"invoice_date"`
	ServiceDate        string                   `json:"service_date"`
	ServicePeriodStart string                   `json:"service_period_start"`
	ServicePeriodEnd   string                   `json:"service_period_end"`
	DueDate            string                   `json:"due_date"`
	CancelledInvoiceID *string                  `json:"cancelled_invoice_id"`
	Notes              string                   `json:"notes"`
	LineItems          []services.LineItemInput `json:"line_items"`
}

// CreateInvoice drafts a new invoice
// POST /api/v1/invoices
func (ic *InvoiceController) CreateInvoice(c *gin.Context) {
	var body createInvoiceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, "invalid invoice payload", err)
		return
	}

	req := services.CreateInvoiceRequest{
		Recipient:          body.Recipient,
		RegistrationID:     emptyToNil(body.RegistrationID),
		ParticipantID:      emptyToNil(body.ParticipantID),
		CancelledInvoiceID: emptyToNil(body.CancelledInvoiceID),
		Notes:              body.Notes,
		LineItems:          body.LineItems,
		PerformedBy:        performer(c),
	}
	var invoiceDate *time.Time
	if err := parseDates([]dateField{
		{"invoice_date", body.InvoiceDate, &invoiceDate},
		{"service_date", body.ServiceDate, &req.ServiceDate},
		{"service_period_start", body.ServicePeriodStart, &req.ServicePeriodStart},
		{"service_period_end", body.ServicePeriodEnd, &req.ServicePeriodEnd},
		{"due_date", body.DueDate, &req.DueDate},
	}); err != nil {
		respondBadRequest(c, err.Error(), nil)
		return
	}
	if invoiceDate != nil {
		req.InvoiceDate = *invoiceDate
	}

	inv, err := ic.service.CreateInvoice(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ic.present(inv))
}

// ListInvoices lists invoices
// GET /api/v1/invoices?participant_id=&registration_id=&status=&from=&to=&include_deleted=
func (ic *InvoiceController) ListInvoices(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		respondBadRequest(c, err.Error(), nil)
		return
	}
	invoices, err := ic.service.ListInvoices(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]invoiceResponse, len(invoices))
	for i := range invoices {
		out[i] = ic.present(&invoices[i])
	}
	c.JSON(http.StatusOK, gin.H{
		"invoices": out,
		"count":    len(out),
	})
}

// GetInvoice returns one invoice with its line items
// GET /api/v1/invoices/:id
func (ic *InvoiceController) GetInvoice(c *gin.Context) {
	inv, err := ic.service.GetInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ic.present(inv))
}

type updateDraftBody struct {
	Recipient          *models.Recipient        `json:"recipient"`
	InvoiceDate        string                   `json:"invoice_date"`
	ServiceDate        string                   `json:"service_date"`
	ServicePeriodStart string                   `json:"service_period_start"`
	ServicePeriodEnd   string                   `json:"service_period_end"`
	DueDate            string                   `json:"due_date"`
	Notes              *string                  `json:"notes"`
	LineItems          []services.LineItemInput `json:"line_items"`
	Version            int                      `json:"version"`
}

// UpdateDraft edits an unsent invoice
// PUT /api/v1/invoices/:id
func (ic *InvoiceController) UpdateDraft(c *gin.Context) {
	var body updateDraftBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, "invalid invoice payload", err)
		return
	}
	req := services.UpdateDraftRequest{
		Recipient:   body.Recipient,
		Notes:       body.Notes,
		LineItems:   body.LineItems,
		Version:     body.Version,
		PerformedBy: performer(c),
	}
	if err := parseDates([]dateField{
		{"invoice_date", body.InvoiceDate, &req.InvoiceDate},
		{"service_date", body.ServiceDate, &req.ServiceDate},
		{"service_period_start", body.ServicePeriodStart, &req.ServicePeriodStart},
		{"service_period_end", body.ServicePeriodEnd, &req.ServicePeriodEnd},
		{"due_date", body.DueDate, &req.DueDate},
	}); err != nil {
		respondBadRequest(c, err.Error(), nil)
		return
	}

	inv, err := ic.service.UpdateDraft(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ic.present(inv))
}

// MarkSent locks the invoice without sending an email
// POST /api/v1/invoices/:id/mark-sent
func (ic *InvoiceController) MarkSent(c *gin.Context) {
	inv, err := ic.service.MarkSent(c.Request.Context(), c.Param("id"), performer(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ic.present(inv))
}

type sendBody struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

// SendInvoice marks the invoice sent and requests the email. A failed email
// still answers 200: the invoice is sent, notification_error says what failed.
// POST /api/v1/invoices/:id/send
func (ic *InvoiceController) SendInvoice(c *gin.Context) {
	var body sendBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			respondBadRequest(c, "invalid send payload", err)
			return
		}
	}
	result, err := ic.service.Send(c.Request.Context(), c.Param("id"), services.SendRequest{
		Email:       body.Email,
		Message:     body.Message,
		PerformedBy: performer(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{
		"invoice":           ic.present(result.Invoice),
		"notification_sent": result.NotificationErr == nil,
	}
	if result.NotificationErr != nil {
		resp["notification_error"] = "email could not be queued, the invoice stays sent"
	}
	c.JSON(http.StatusOK, resp)
}

type paymentBody struct {
	Amount    decimal.Decimal      `json:"amount"`
	Method    models.PaymentMethod `json:"method"`
	Reference string               `json:"reference"`
	PaidAt    string               `json:"paid_at"`
}

// RecordPayment books money received
// POST /api/v1/invoices/:id/payments
func (ic *InvoiceController) RecordPayment(c *gin.Context) {
	var body paymentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, "invalid payment payload", err)
		return
	}
	paidAt, err := parseOptionalDate("paid_at", body.PaidAt)
	if err != nil {
		respondBadRequest(c, err.Error(), nil)
		return
	}
	inv, err := ic.service.RecordPayment(c.Request.Context(), c.Param("id"), services.PaymentRequest{
		Amount:      body.Amount,
		Method:      body.Method,
		Reference:   body.Reference,
		PaidAt:      paidAt,
		PerformedBy: performer(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ic.present(inv))
}

type reasonBody struct {
	Reason string `json:"reason"`
}

// CancelInvoice voids a sent or partially paid invoice
// POST /api/v1/invoices/:id/cancel
func (ic *InvoiceController) CancelInvoice(c *gin.Context) {
	var body reasonBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, "invalid cancellation payload", err)
		return
	}
	inv, err := ic.service.Cancel(c.Request.Context(), c.Param("id"), body.Reason, performer(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ic.present(inv))
}

// RefundInvoice closes a paid invoice whose money was returned
// POST /api/v1/invoices/:id/refund
func (ic *InvoiceController) RefundInvoice(c *gin.Context) {
	var body reasonBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, "invalid refund payload", err)
		return
	}
	inv, err := ic.service.Refund(c.Request.Context(), c.Param("id"), body.Reason, performer(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ic.present(inv))
}

// DeleteInvoice soft-deletes an invoice entered by mistake
// DELETE /api/v1/invoices/:id
func (ic *InvoiceController) DeleteInvoice(c *gin.Context) {
	inv, err := ic.service.SoftDelete(c.Request.Context(), c.Param("id"), performer(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ic.present(inv))
}

// GetHistory returns the audit trail
// GET /api/v1/invoices/:id/history
func (ic *InvoiceController) GetHistory(c *gin.Context) {
	entries, err := ic.service.GetHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"history": entries,
		"count":   len(entries),
	})
}

// GetDocument renders the print document
// GET /api/v1/invoices/:id/document
func (ic *InvoiceController) GetDocument(c *gin.Context) {
	doc, err := ic.service.RenderDocument(c.Request.Context(), c.Param("id"), performer(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", doc.FileName))
	c.Data(http.StatusOK, doc.ContentType, doc.Content)
}

// ExportInvoices serializes the filtered list
// GET /api/v1/invoices/export?format=csv|datev|detailed|xlsx&<list filters>
func (ic *InvoiceController) ExportInvoices(c *gin.Context) {
	format, err := export.ParseFormat(c.DefaultQuery("format", string(export.FormatCSV)))
	if err != nil {
		respondBadRequest(c, err.Error(), nil)
		return
	}
	filter, err := parseFilter(c)
	if err != nil {
		respondBadRequest(c, err.Error(), nil)
		return
	}
	invoices, err := ic.service.ListInvoices(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	result, err := export.Export(format, invoices, ic.datev)
	if err != nil {
		respondError(c, err)
		return
	}
	name := fmt.Sprintf("rechnungen-%s-%s.%s", format, ic.now().Format("20060102"), result.Extension)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, result.ContentType, result.Content)
}

// NextNumber previews the next invoice number without consuming it
// GET /api/v1/invoices/next-number
func (ic *InvoiceController) NextNumber(c *gin.Context) {
	number, err := ic.service.PeekNextInvoiceNumber(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"next_invoice_number": number})
}

// ParticipantSummary returns open, paid and overdue figures of a participant
// GET /api/v1/participants/:id/invoice-summary
func (ic *InvoiceController) ParticipantSummary(c *gin.Context) {
	summary, err := ic.service.ParticipantSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func parseFilter(c *gin.Context) (store.InvoiceFilter, error) {
	filter := store.InvoiceFilter{
		ParticipantID:  c.Query("participant_id"),
		RegistrationID: c.Query("registration_id"),
		Status:         models.InvoiceStatus(c.Query("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() && filter.Status != models.InvoiceStatusOverdue {
		return filter, fmt.Errorf("unknown status %q", filter.Status)
	}
	var err error
	if filter.From, err = parseOptionalDate("from", c.Query("from")); err != nil {
		return filter, err
	}
	if filter.To, err = parseOptionalDate("to", c.Query("to")); err != nil {
		return filter, err
	}
	if raw := c.Query("include_deleted"); raw != "" {
		if filter.IncludeDeleted, err = strconv.ParseBool(raw); err != nil {
			return filter, fmt.Errorf("include_deleted must be a boolean")
		}
	}
	return filter, nil
}

type dateField struct {
	name string
	raw  string
	dst  **time.Time
}

func parseDates(fields []dateField) error {
	for _, f := range fields {
		parsed, err := parseOptionalDate(f.name, f.raw)
		if err != nil {
			return err
		}
		*f.dst = parsed
	}
	return nil
}

// parseOptionalDate accepts 2006-01-02 or RFC 3339; empty gives nil
func parseOptionalDate(field, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be a date (YYYY-MM-DD), got %q", field, raw)
	}
	t = t.UTC()
	return &t, nil
}

func emptyToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
