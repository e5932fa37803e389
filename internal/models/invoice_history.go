package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// HistoryAction is the kind of mutation an audit entry documents
type HistoryAction string

const (
	HistoryActionCreated       HistoryAction = "created"
	HistoryActionUpdated       HistoryAction = "updated"
	HistoryActionStatusChanged HistoryAction = "status_changed"
	HistoryActionSent          HistoryAction = "sent"
	HistoryActionPaid          HistoryAction = "paid"
	HistoryActionCancelled     HistoryAction = "cancelled"
	HistoryActionPDFGenerated  HistoryAction = "pdf_generated"
)

// HistoryPayload is one variant of the snapshot union stored in OldData/NewData.
// Each variant belongs to exactly one action.
type HistoryPayload interface {
	HistoryAction() HistoryAction
}

// CreatedPayload documents the state an invoice was created with
type CreatedPayload struct {
	InvoiceNumber string          `json:"invoice_number"`
	Status        InvoiceStatus   `json:"status"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	VatAmount     decimal.Decimal `json:"vat_amount"`
	GrossAmount   decimal.Decimal `json:"gross_amount"`
	LineCount     int             `json:"line_count"`
}

func (CreatedPayload) HistoryAction() HistoryAction { return HistoryActionCreated }

// UpdatedPayload documents a draft edit
type UpdatedPayload struct {
	Version     int             `json:"version"`
	NetAmount   decimal.Decimal `json:"net_amount"`
	VatAmount   decimal.Decimal `json:"vat_amount"`
	GrossAmount decimal.Decimal `json:"gross_amount"`
	LineCount   int             `json:"line_count"`
}

func (UpdatedPayload) HistoryAction() HistoryAction { return HistoryActionUpdated }

// SentPayload documents the draft -> sent transition
type SentPayload struct {
	Status   InvoiceStatus `json:"status"`
	IsLocked bool          `json:"is_locked"`
}

func (SentPayload) HistoryAction() HistoryAction { return HistoryActionSent }

// StatusChangedPayload documents payment and refund transitions
type StatusChangedPayload struct {
	Status           InvoiceStatus   `json:"status"`
	PaidAmount       decimal.Decimal `json:"paid_amount"`
	PaymentMethod    PaymentMethod   `json:"payment_method,omitempty"`
	PaymentReference string          `json:"payment_reference,omitempty"`
}

func (StatusChangedPayload) HistoryAction() HistoryAction { return HistoryActionStatusChanged }

// PaidPayload belongs to the paid action of the audit vocabulary. It is decoded
// but not written: payments are recorded as status_changed.
type PaidPayload struct {
	PaidAmount decimal.Decimal `json:"paid_amount"`
	PaidAt     time.Time       `json:"paid_at"`
}

func (PaidPayload) HistoryAction() HistoryAction { return HistoryActionPaid }

// CancelledPayload documents a cancellation
type CancelledPayload struct {
	Status InvoiceStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
}

func (CancelledPayload) HistoryAction() HistoryAction { return HistoryActionCancelled }

// DocumentPayload documents a rendered print document
type DocumentPayload struct {
	Format string `json:"format"`
	Size   int    `json:"size"`
}

func (DocumentPayload) HistoryAction() HistoryAction { return HistoryActionPDFGenerated }

// InvoiceHistory is an append-only audit entry (GoBD trail). Rows are never updated or deleted.
type InvoiceHistory struct {
	ID           string         `json:"id" gorm:"type:uuid;primaryKey"`
	InvoiceID    string         `json:"invoice_id" gorm:"type:uuid;not null;uniqueIndex:idx_invoice_history_seq"`
	Sequence     int            `json:"sequence" gorm:"not null;uniqueIndex:idx_invoice_history_seq"` // 1-based order within the invoice
	Action       HistoryAction  `json:"action" gorm:"type:varchar(30);not null;index"`
	OldData      datatypes.JSON `json:"old_data,omitempty" gorm:"type:jsonb"`
	NewData      datatypes.JSON `json:"new_data,omitempty" gorm:"type:jsonb"`
	ChangeReason string         `json:"change_reason,omitempty" gorm:"type:text"`
	PerformedBy  string         `json:"performed_by,omitempty" gorm:"type:varchar(255)"`
	PerformedAt  time.Time      `json:"performed_at" gorm:"not null;index"`
}

// TableName returns the table name
func (InvoiceHistory) TableName() string {
	return "invoice_history"
}

// BeforeCreate generates the UUID
func (h *InvoiceHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	return nil
}

// NewInvoiceHistory builds an entry whose snapshots match its action.
// Either snapshot may be nil.
func NewInvoiceHistory(invoiceID string, action HistoryAction, oldData, newData HistoryPayload, reason, performedBy string, at time.Time) (*InvoiceHistory, error) {
	entry := &InvoiceHistory{
		ID:           uuid.New().String(),
		InvoiceID:    invoiceID,
		Action:       action,
		ChangeReason: reason,
		PerformedBy:  performedBy,
		PerformedAt:  at,
	}
	var err error
	if entry.OldData, err = encodePayload(action, oldData); err != nil {
		return nil, err
	}
	if entry.NewData, err = encodePayload(action, newData); err != nil {
		return nil, err
	}
	return entry, nil
}

// DecodeOld returns the typed snapshot before the mutation, or nil
func (h *InvoiceHistory) DecodeOld() (HistoryPayload, error) {
	return decodePayload(h.Action, h.OldData)
}

// DecodeNew returns the typed snapshot after the mutation, or nil
func (h *InvoiceHistory) DecodeNew() (HistoryPayload, error) {
	return decodePayload(h.Action, h.NewData)
}

func encodePayload(action HistoryAction, p HistoryPayload) (datatypes.JSON, error) {
	if p == nil {
		return nil, nil
	}
	if p.HistoryAction() != action {
		return nil, fmt.Errorf("history payload for %q used with action %q", p.HistoryAction(), action)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode history payload: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func decodePayload(action HistoryAction, raw datatypes.JSON) (HistoryPayload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var target HistoryPayload
	switch action {
	case HistoryActionCreated:
		target = &CreatedPayload{}
	case HistoryActionUpdated:
		target = &UpdatedPayload{}
	case HistoryActionSent:
		target = &SentPayload{}
	case HistoryActionStatusChanged:
		target = &StatusChangedPayload{}
	case HistoryActionPaid:
		target = &PaidPayload{}
	case HistoryActionCancelled:
		target = &CancelledPayload{}
	case HistoryActionPDFGenerated:
		target = &DocumentPayload{}
	default:
		return nil, fmt.Errorf("unknown history action %q", action)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", action, err)
	}
	return target, nil
}
