// Package store is the persistence boundary of the invoicing core. Services
// receive an InvoiceStore explicitly; GormStore backs it with Postgres and
// MemoryStore with process memory for tests and local tooling.
package store

import (
	"context"
	"errors"
	"time"

	"drivingschool/server/internal/models"
)

var (
	// ErrNotFound is returned when no row matches the requested id
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned by a conditional update whose expected version no longer matches
	ErrVersionConflict = errors.New("version conflict")
)

// InvoiceFilter narrows ListInvoices. Zero values do not filter.
type InvoiceFilter struct {
	ParticipantID  string
	RegistrationID string
	Status         models.InvoiceStatus
	From           *time.Time // invoice_date >= From
	To             *time.Time // invoice_date < To
	IncludeDeleted bool
}

// InvoiceStore exposes the reads and the transactional unit used by the invoice service
type InvoiceStore interface {
	// RunInTx runs fn in one atomic unit. Nothing fn wrote is visible if it returns an error.
	RunInTx(ctx context.Context, fn func(tx InvoiceTx) error) error

	GetInvoice(ctx context.Context, id string) (*models.Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]models.Invoice, error)
	ListHistory(ctx context.Context, invoiceID string) ([]models.InvoiceHistory, error)

	// PeekSequence returns the last value issued for epoch without consuming one
	PeekSequence(ctx context.Context, epoch string) (int64, error)

	Ping(ctx context.Context) error
}

// InvoiceTx is the write capability available inside RunInTx
type InvoiceTx interface {
	GetInvoice(ctx context.Context, id string) (*models.Invoice, error)

	// NextSequenceValue increments and returns the counter of epoch (fetch-and-increment)
	NextSequenceValue(ctx context.Context, epoch string) (int64, error)

	// InsertInvoice stores the header and all line items
	InsertInvoice(ctx context.Context, inv *models.Invoice) error

	// UpdateInvoice writes the header only if the stored version equals expectedVersion
	UpdateInvoice(ctx context.Context, inv *models.Invoice, expectedVersion int) error

	// ReplaceLineItems swaps every line item of a draft invoice
	ReplaceLineItems(ctx context.Context, invoiceID string, items []models.InvoiceLineItem) error

	// AppendHistory inserts an audit entry and assigns its per-invoice sequence
	AppendHistory(ctx context.Context, entry *models.InvoiceHistory) error
}
