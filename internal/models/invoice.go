package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InvoiceStatus is the stored lifecycle state of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"     // Entwurf
	InvoiceStatusSent      InvoiceStatus = "sent"      // Versendet
	InvoiceStatusPartial   InvoiceStatus = "partial"   // Teilweise bezahlt
	InvoiceStatusPaid      InvoiceStatus = "paid"      // Bezahlt
	InvoiceStatusCancelled InvoiceStatus = "cancelled" // Storniert
	InvoiceStatusRefunded  InvoiceStatus = "refunded"  // Erstattet

	// InvoiceStatusOverdue is never stored. EffectiveStatus derives it from the due date.
	InvoiceStatusOverdue InvoiceStatus = "overdue"
)

// IsTerminal reports whether no further fiscal transition may leave this status
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusCancelled || s == InvoiceStatusRefunded
}

// Valid reports whether s is a status that may be persisted
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPartial,
		InvoiceStatusPaid, InvoiceStatusCancelled, InvoiceStatusRefunded:
		return true
	}
	return false
}

// PaymentMethod names how money was received
type PaymentMethod string

const (
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodDirectDebit  PaymentMethod = "direct_debit"
	PaymentMethodVoucher      PaymentMethod = "voucher" // Bildungsgutschein
)

// Valid reports whether m is a known payment method
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodBankTransfer, PaymentMethodCash, PaymentMethodCard,
		PaymentMethodDirectDebit, PaymentMethodVoucher:
		return true
	}
	return false
}

// Recipient is the address snapshot copied onto the invoice at creation time.
// It is not a reference to the participant record.
type Recipient struct {
	Name    string `json:"name" gorm:"column:recipient_name;type:varchar(255);not null"`
	Address string `json:"address" gorm:"column:recipient_address;type:varchar(255)"`
	ZipCode string `json:"zip_code" gorm:"column:recipient_zip;type:varchar(20)"`
	City    string `json:"city" gorm:"column:recipient_city;type:varchar(120)"`
	Email   string `json:"email" gorm:"column:recipient_email;type:varchar(255)"`
}

// Invoice is the aggregate root of an issued or drafted invoice
type Invoice struct {
	ID            string `json:"id" gorm:"type:uuid;primaryKey"`
	InvoiceNumber string `json:"invoice_number" gorm:"type:varchar(50);not null;uniqueIndex"`

	Recipient Recipient `json:"recipient" gorm:"embedded"`

	// Owner: at most one of the two is set
	RegistrationID *string `json:"registration_id,omitempty" gorm:"type:uuid;index"`
	ParticipantID  *string `json:"participant_id,omitempty" gorm:"type:uuid;index"`

	InvoiceDate        time.Time  `json:"invoice_date" gorm:"not null;index"`
	ServiceDate        *time.Time `json:"service_date,omitempty"`
	ServicePeriodStart *time.Time `json:"service_period_start,omitempty"`
	ServicePeriodEnd   *time.Time `json:"service_period_end,omitempty"`
	DueDate            *time.Time `json:"due_date,omitempty" gorm:"index"`

	NetAmount   decimal.Decimal `json:"net_amount" gorm:"type:decimal(15,2);not null"`
	VatAmount   decimal.Decimal `json:"vat_amount" gorm:"type:decimal(15,2);not null"`
	GrossAmount decimal.Decimal `json:"gross_amount" gorm:"type:decimal(15,2);not null"`
	VatRate     decimal.Decimal `json:"vat_rate" gorm:"type:decimal(5,2);not null"` // Anzeige: dominanter Steuersatz

	Status           InvoiceStatus   `json:"status" gorm:"type:varchar(20);default:'draft';index"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	PaidAmount       decimal.Decimal `json:"paid_amount" gorm:"type:decimal(15,2);not null;default:0"`
	PaymentMethod    PaymentMethod   `json:"payment_method,omitempty" gorm:"type:varchar(30)"`
	PaymentReference string          `json:"payment_reference,omitempty" gorm:"type:varchar(255)"`

	CancelledInvoiceID *string    `json:"cancelled_invoice_id,omitempty" gorm:"type:uuid;index"` // Rechnung, die diese ersetzt
	CancellationReason string     `json:"cancellation_reason,omitempty" gorm:"type:text"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy        string     `json:"cancelled_by,omitempty" gorm:"type:varchar(255)"`

	Notes string `json:"notes,omitempty" gorm:"type:text"`

	Version   int        `json:"version" gorm:"not null;default:1"`
	IsLocked  bool       `json:"is_locked" gorm:"default:false"`
	IsDeleted bool       `json:"is_deleted" gorm:"default:false;index"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	CreatedBy string    `json:"created_by,omitempty" gorm:"type:varchar(255)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	LineItems []InvoiceLineItem `json:"line_items" gorm:"foreignKey:InvoiceID;constraint:OnDelete:RESTRICT"`
}

// TableName returns the table name
func (Invoice) TableName() string {
	return "invoices"
}

// BeforeCreate fills the identity and default status
func (i *Invoice) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	if i.Status == "" {
		i.Status = InvoiceStatusDraft
	}
	if i.Version == 0 {
		i.Version = 1
	}
	return nil
}

// OpenAmount is the part of the gross amount not yet paid
func (i *Invoice) OpenAmount() decimal.Decimal {
	return i.GrossAmount.Sub(i.PaidAmount)
}

// IsOverdue reports whether the invoice is awaiting payment past its due date
func (i *Invoice) IsOverdue(now time.Time) bool {
	if i.DueDate == nil {
		return false
	}
	if i.Status != InvoiceStatusSent && i.Status != InvoiceStatusPartial {
		return false
	}
	return i.DueDate.Before(now)
}

// EffectiveStatus is the status shown to readers: the stored one, or overdue
func (i *Invoice) EffectiveStatus(now time.Time) InvoiceStatus {
	if i.IsOverdue(now) {
		return InvoiceStatusOverdue
	}
	return i.Status
}

// Clone returns a deep copy so callers can mutate without touching the original
func (i *Invoice) Clone() *Invoice {
	c := *i
	c.RegistrationID = cloneString(i.RegistrationID)
	c.ParticipantID = cloneString(i.ParticipantID)
	c.CancelledInvoiceID = cloneString(i.CancelledInvoiceID)
	c.ServiceDate = cloneTime(i.ServiceDate)
	c.ServicePeriodStart = cloneTime(i.ServicePeriodStart)
	c.ServicePeriodEnd = cloneTime(i.ServicePeriodEnd)
	c.DueDate = cloneTime(i.DueDate)
	c.PaidAt = cloneTime(i.PaidAt)
	c.CancelledAt = cloneTime(i.CancelledAt)
	c.DeletedAt = cloneTime(i.DeletedAt)
	if i.LineItems != nil {
		c.LineItems = make([]InvoiceLineItem, len(i.LineItems))
		copy(c.LineItems, i.LineItems)
	}
	return &c
}

// InvoiceLineItem is one position of an invoice. Amounts are derived by the calculator.
type InvoiceLineItem struct {
	ID          string          `json:"id" gorm:"type:uuid;primaryKey"`
	InvoiceID   string          `json:"invoice_id" gorm:"type:uuid;not null;uniqueIndex:idx_invoice_line_position"`
	Position    int             `json:"position" gorm:"not null;uniqueIndex:idx_invoice_line_position"`
	Description string          `json:"description" gorm:"type:text;not null"`
	Quantity    decimal.Decimal `json:"quantity" gorm:"type:decimal(12,3);not null"`
	Unit        string          `json:"unit,omitempty" gorm:"type:varchar(20)"` // Std., Stk., pauschal
	UnitPrice   decimal.Decimal `json:"unit_price" gorm:"type:decimal(15,2);not null"`
	VatRate     decimal.Decimal `json:"vat_rate" gorm:"type:decimal(5,2);not null"`
	NetAmount   decimal.Decimal `json:"net_amount" gorm:"type:decimal(15,2);not null"`
	VatAmount   decimal.Decimal `json:"vat_amount" gorm:"type:decimal(15,2);not null"`
	GrossAmount decimal.Decimal `json:"gross_amount" gorm:"type:decimal(15,2);not null"`
	CreatedAt   time.Time       `json:"created_at" gorm:"autoCreateTime"`
}

// TableName returns the table name
func (InvoiceLineItem) TableName() string {
	return "invoice_line_items"
}

// BeforeCreate generates the UUID
func (li *InvoiceLineItem) BeforeCreate(tx *gorm.DB) error {
	if li.ID == "" {
		li.ID = uuid.New().String()
	}
	return nil
}

// InvoiceSequence holds the last issued number per numbering epoch
type InvoiceSequence struct {
	Epoch     string    `json:"epoch" gorm:"type:varchar(20);primaryKey"`
	LastValue int64     `json:"last_value" gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName returns the table name
func (InvoiceSequence) TableName() string {
	return "invoice_sequences"
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
