package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"drivingschool/server/internal/config"
	"drivingschool/server/internal/logger"
	"drivingschool/server/internal/models"
	"drivingschool/server/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// LineItemInput is one requested position; amounts are computed, never accepted
type LineItemInput struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        string          `json:"unit,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VatRate     decimal.Decimal `json:"vat_rate"`
}

// CreateInvoiceRequest is everything needed to draft an invoice
type CreateInvoiceRequest struct {
	Recipient      models.Recipient `json:"recipient"`
	RegistrationID *string          `json:"registration_id,omitempty"`
	ParticipantID  *string          `json:"participant_id,omitempty"`

	InvoiceDate        time.Time  `json:"invoice_date"` // zero means today
	ServiceDate        *time.Time `json:"service_date,omitempty"`
	ServicePeriodStart *time.Time `json:"service_period_start,omitempty"`
	ServicePeriodEnd   *time.Time `json:"service_period_end,omitempty"`
	DueDate            *time.Time `json:"due_date,omitempty"` // nil means invoice date + payment term

	// CancelledInvoiceID names the cancelled invoice this one replaces
	CancelledInvoiceID *string `json:"cancelled_invoice_id,omitempty"`

	Notes     string          `json:"notes,omitempty"`
	LineItems []LineItemInput `json:"line_items"`

	PerformedBy string `json:"-"`
}

// UpdateDraftRequest edits a draft. Nil fields are left unchanged.
type UpdateDraftRequest struct {
	Recipient          *models.Recipient `json:"recipient,omitempty"`
	InvoiceDate        *time.Time        `json:"invoice_date,omitempty"`
	ServiceDate        *time.Time        `json:"service_date,omitempty"`
	ServicePeriodStart *time.Time        `json:"service_period_start,omitempty"`
	ServicePeriodEnd   *time.Time        `json:"service_period_end,omitempty"`
	DueDate            *time.Time        `json:"due_date,omitempty"`
	Notes              *string           `json:"notes,omitempty"`
	LineItems          []LineItemInput   `json:"line_items,omitempty"`

	// Version, when set, must equal the stored version
	Version int `json:"version,omitempty"`

	PerformedBy string `json:"-"`
}

// InvoiceServiceDeps are the collaborators of InvoiceService. Notifier, Events
// and Renderer are optional.
type InvoiceServiceDeps struct {
	Store     store.InvoiceStore
	Sequencer InvoiceNumberSequencer
	Notifier  Notifier
	Events    EventPublisher
	Renderer  DocumentRenderer
	Clock     func() time.Time
}

// InvoiceService owns the invoice aggregate: creation, draft edits and the
// status state machine. Every write runs in one store transaction together
// with its audit entry.
type InvoiceService struct {
	store     store.InvoiceStore
	sequencer InvoiceNumberSequencer
	notifier  Notifier
	events    EventPublisher
	renderer  DocumentRenderer
	history   *HistoryRecorder
	now       func() time.Time
	cfg       config.InvoiceConfig
	log       zerolog.Logger
}

func NewInvoiceService(deps InvoiceServiceDeps, cfg config.InvoiceConfig) *InvoiceService {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &InvoiceService{
		store:     deps.Store,
		sequencer: deps.Sequencer,
		notifier:  deps.Notifier,
		events:    deps.Events,
		renderer:  deps.Renderer,
		history:   NewHistoryRecorder(now),
		now:       now,
		cfg:       cfg,
		log:       logger.WithComponent("invoice-service"),
	}
}

// CreateInvoice validates the request, computes totals, assigns a number and
// stores the draft with its line items and a created entry, all or nothing.
func (s *InvoiceService) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*models.Invoice, error) {
	if err := validateOwner(req.RegistrationID, req.ParticipantID); err != nil {
		return nil, err
	}
	if err := validateRecipient(req.Recipient); err != nil {
		return nil, err
	}
	items, totals, vatRate, err := s.buildLineItems(req.LineItems)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	invoiceDate := req.InvoiceDate
	if invoiceDate.IsZero() {
		invoiceDate = startOfDay(now)
	}
	dueDate := req.DueDate
	if dueDate == nil {
		d := invoiceDate.AddDate(0, 0, s.cfg.PaymentTermDays)
		dueDate = &d
	}
	if err := validateDates(invoiceDate, req.ServicePeriodStart, req.ServicePeriodEnd, dueDate); err != nil {
		return nil, err
	}

	inv := &models.Invoice{
		ID:                 uuid.New().String(),
		Recipient:          trimRecipient(req.Recipient),
		RegistrationID:     req.RegistrationID,
		ParticipantID:      req.ParticipantID,
		InvoiceDate:        invoiceDate,
		ServiceDate:        req.ServiceDate,
		ServicePeriodStart: req.ServicePeriodStart,
		ServicePeriodEnd:   req.ServicePeriodEnd,
		DueDate:            dueDate,
		NetAmount:          totals.Net,
		VatAmount:          totals.Vat,
		GrossAmount:        totals.Gross,
		VatRate:            vatRate,
		Status:             models.InvoiceStatusDraft,
		PaidAmount:         decimal.Zero,
		CancelledInvoiceID: req.CancelledInvoiceID,
		Notes:              req.Notes,
		Version:            1,
		CreatedBy:          req.PerformedBy,
		CreatedAt:          now,
		UpdatedAt:          now,
		LineItems:          items,
	}

	err = s.store.RunInTx(ctx, func(tx store.InvoiceTx) error {
		if inv.CancelledInvoiceID != nil {
			if err := checkSuperseded(ctx, tx, *inv.CancelledInvoiceID); err != nil {
				return err
			}
		}
		number, err := s.sequencer.NextInvoiceNumber(ctx, tx, inv.InvoiceDate)
		if err != nil {
			return err
		}
		inv.InvoiceNumber = number
		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}
		_, err = s.history.Record(ctx, tx, inv.ID, models.HistoryActionCreated, nil, models.CreatedPayload{
			InvoiceNumber: inv.InvoiceNumber,
			Status:        inv.Status,
			NetAmount:     inv.NetAmount,
			VatAmount:     inv.VatAmount,
			GrossAmount:   inv.GrossAmount,
			LineCount:     len(inv.LineItems),
		}, "", req.PerformedBy)
		return err
	})
	if err != nil {
		return nil, s.storeError("create invoice", err)
	}

	s.log.Info().
		Str("invoice_id", inv.ID).
		Str("invoice_number", inv.InvoiceNumber).
		Str("gross", inv.GrossAmount.StringFixed(2)).
		Msg("Invoice created")
	s.publish(EventInvoiceCreated, inv)
	return inv, nil
}

// UpdateDraft edits an invoice that has not been sent yet
func (s *InvoiceService) UpdateDraft(ctx context.Context, id string, req UpdateDraftRequest) (*models.Invoice, error) {
	var (
		items   []models.InvoiceLineItem
		totals  InvoiceTotals
		vatRate decimal.Decimal
	)
	if req.LineItems != nil {
		var err error
		if items, totals, vatRate, err = s.buildLineItems(req.LineItems); err != nil {
			return nil, err
		}
	}
	if req.Recipient != nil {
		if err := validateRecipient(*req.Recipient); err != nil {
			return nil, err
		}
	}

	return s.mutate(ctx, id, EventInvoiceUpdated, func(tx store.InvoiceTx, inv *models.Invoice, now time.Time) (*historyChange, error) {
		if inv.IsLocked || inv.Status != models.InvoiceStatusDraft {
			return nil, fmt.Errorf("%w: %s is %s", ErrInvoiceLocked, inv.InvoiceNumber, inv.Status)
		}
		if req.Version != 0 && req.Version != inv.Version {
			return nil, fmt.Errorf("%w: expected version %d, stored %d", ErrConcurrentModification, req.Version, inv.Version)
		}
		before := updatedSnapshot(inv)

		if req.Recipient != nil {
			inv.Recipient = trimRecipient(*req.Recipient)
		}
		if req.InvoiceDate != nil {
			if req.InvoiceDate.Year() != inv.InvoiceDate.Year() {
				return nil, fmt.Errorf("%w: invoice date must stay in %d, the year of %s", ErrInvalidInvoice, inv.InvoiceDate.Year(), inv.InvoiceNumber)
			}
			inv.InvoiceDate = *req.InvoiceDate
		}
		if req.ServiceDate != nil {
			inv.ServiceDate = req.ServiceDate
		}
		if req.ServicePeriodStart != nil {
			inv.ServicePeriodStart = req.ServicePeriodStart
		}
		if req.ServicePeriodEnd != nil {
			inv.ServicePeriodEnd = req.ServicePeriodEnd
		}
		if req.DueDate != nil {
			inv.DueDate = req.DueDate
		}
		if req.Notes != nil {
			inv.Notes = *req.Notes
		}
		if err := validateDates(inv.InvoiceDate, inv.ServicePeriodStart, inv.ServicePeriodEnd, inv.DueDate); err != nil {
			return nil, err
		}

		if items != nil {
			if err := tx.ReplaceLineItems(ctx, inv.ID, items); err != nil {
				return nil, err
			}
			inv.LineItems = items
			inv.NetAmount = totals.Net
			inv.VatAmount = totals.Vat
			inv.GrossAmount = totals.Gross
			inv.VatRate = vatRate
		}

		after := updatedSnapshot(inv)
		after.Version = inv.Version + 1
		return &historyChange{
			action:      models.HistoryActionUpdated,
			oldData:     before,
			newData:     after,
			performedBy: req.PerformedBy,
		}, nil
	})
}

// GetInvoice returns the invoice with its line items
func (s *InvoiceService) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	inv, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, s.storeError("get invoice", err)
	}
	return inv, nil
}

// ListInvoices returns invoices matching filter ordered by date and number
func (s *InvoiceService) ListInvoices(ctx context.Context, filter store.InvoiceFilter) ([]models.Invoice, error) {
	if filter.Status == models.InvoiceStatusOverdue {
		return s.listOverdue(ctx, filter)
	}
	invoices, err := s.store.ListInvoices(ctx, filter)
	if err != nil {
		return nil, s.storeError("list invoices", err)
	}
	return invoices, nil
}

// overdue is derived, so it is filtered after loading
func (s *InvoiceService) listOverdue(ctx context.Context, filter store.InvoiceFilter) ([]models.Invoice, error) {
	filter.Status = ""
	all, err := s.store.ListInvoices(ctx, filter)
	if err != nil {
		return nil, s.storeError("list invoices", err)
	}
	now := s.now()
	out := make([]models.Invoice, 0, len(all))
	for i := range all {
		if all[i].IsOverdue(now) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// GetHistory returns the audit trail of an invoice in write order
func (s *InvoiceService) GetHistory(ctx context.Context, id string) ([]models.InvoiceHistory, error) {
	if _, err := s.store.GetInvoice(ctx, id); err != nil {
		return nil, s.storeError("get invoice", err)
	}
	entries, err := s.store.ListHistory(ctx, id)
	if err != nil {
		return nil, s.storeError("list history", err)
	}
	return entries, nil
}

// ParticipantSummary folds the participant's invoices into open, paid and overdue figures
func (s *InvoiceService) ParticipantSummary(ctx context.Context, participantID string) (InvoiceSummary, error) {
	invoices, err := s.store.ListInvoices(ctx, store.InvoiceFilter{ParticipantID: participantID})
	if err != nil {
		return InvoiceSummary{}, s.storeError("list invoices", err)
	}
	return Summarize(invoices, s.now()), nil
}

// PeekNextInvoiceNumber previews the number the next invoice dated today would get
func (s *InvoiceService) PeekNextInvoiceNumber(ctx context.Context) (string, error) {
	number, err := s.sequencer.PeekNextInvoiceNumber(ctx, s.now().UTC())
	if err != nil {
		return "", fmt.Errorf("%w: peek invoice number: %w", ErrPersistenceFailure, err)
	}
	return number, nil
}

// buildLineItems validates and prices the requested positions
func (s *InvoiceService) buildLineItems(inputs []LineItemInput) ([]models.InvoiceLineItem, InvoiceTotals, decimal.Decimal, error) {
	if len(inputs) == 0 {
		return nil, InvoiceTotals{}, decimal.Zero, fmt.Errorf("%w: at least one line item is required", ErrInvalidInvoice)
	}
	items := make([]models.InvoiceLineItem, 0, len(inputs))
	lines := make([]LineTotals, 0, len(inputs))
	for i, in := range inputs {
		description := strings.TrimSpace(in.Description)
		if description == "" {
			return nil, InvoiceTotals{}, decimal.Zero, fmt.Errorf("%w: position %d has no description", ErrInvalidLineItem, i+1)
		}
		lt, err := ComputeLineTotals(in.Quantity, in.UnitPrice, in.VatRate)
		if err != nil {
			return nil, InvoiceTotals{}, decimal.Zero, fmt.Errorf("position %d: %w", i+1, err)
		}
		lines = append(lines, lt)
		items = append(items, models.InvoiceLineItem{
			ID:          uuid.New().String(),
			Position:    i + 1,
			Description: description,
			Quantity:    in.Quantity,
			Unit:        in.Unit,
			UnitPrice:   in.UnitPrice,
			VatRate:     in.VatRate,
			NetAmount:   lt.Net,
			VatAmount:   lt.Vat,
			GrossAmount: lt.Gross,
		})
	}
	return items, ComputeInvoiceTotals(lines), DominantVatRate(lines, s.cfg.DefaultVatRate), nil
}

// storeError translates store failures into the service taxonomy
func (s *InvoiceService) storeError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isDomainError(err):
		return err
	case errors.Is(err, store.ErrNotFound):
		return ErrInvoiceNotFound
	case errors.Is(err, store.ErrVersionConflict):
		return ErrConcurrentModification
	}
	s.log.Error().Err(err).Str("op", op).Msg("Invoice store failure")
	return fmt.Errorf("%w: %s: %w", ErrPersistenceFailure, op, err)
}

var domainErrors = []error{
	ErrInvoiceNotFound,
	ErrInvalidTransition,
	ErrInvalidLineItem,
	ErrInvalidInvoice,
	ErrMissingCancellationReason,
	ErrInvalidPaymentAmount,
	ErrInvoiceLocked,
	ErrConcurrentModification,
	ErrPersistenceFailure,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func checkSuperseded(ctx context.Context, tx store.InvoiceTx, id string) error {
	prev, err := tx.GetInvoice(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: replaced invoice %s does not exist", ErrInvalidInvoice, id)
	}
	if err != nil {
		return err
	}
	if prev.Status != models.InvoiceStatusCancelled {
		return fmt.Errorf("%w: replaced invoice %s is %s, not cancelled", ErrInvalidInvoice, prev.InvoiceNumber, prev.Status)
	}
	return nil
}

func validateOwner(registrationID, participantID *string) error {
	if registrationID != nil && *registrationID != "" && participantID != nil && *participantID != "" {
		return fmt.Errorf("%w: an invoice belongs to a registration or a participant, not both", ErrInvalidInvoice)
	}
	return nil
}

func validateRecipient(r models.Recipient) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: recipient name is required", ErrInvalidInvoice)
	}
	return nil
}

func validateDates(invoiceDate time.Time, periodStart, periodEnd, due *time.Time) error {
	if periodStart != nil && periodEnd != nil && periodEnd.Before(*periodStart) {
		return fmt.Errorf("%w: service period ends before it starts", ErrInvalidInvoice)
	}
	if due != nil && due.Before(invoiceDate) {
		return fmt.Errorf("%w: due date before invoice date", ErrInvalidInvoice)
	}
	return nil
}

func trimRecipient(r models.Recipient) models.Recipient {
	return models.Recipient{
		Name:    strings.TrimSpace(r.Name),
		Address: strings.TrimSpace(r.Address),
		ZipCode: strings.TrimSpace(r.ZipCode),
		City:    strings.TrimSpace(r.City),
		Email:   strings.TrimSpace(r.Email),
	}
}

func updatedSnapshot(inv *models.Invoice) models.UpdatedPayload {
	return models.UpdatedPayload{
		Version:     inv.Version,
		NetAmount:   inv.NetAmount,
		VatAmount:   inv.VatAmount,
		GrossAmount: inv.GrossAmount,
		LineCount:   len(inv.LineItems),
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
