package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"drivingschool/server/internal/models"
	"drivingschool/server/internal/store"
)

// InvoiceEventType names a committed invoice mutation
type InvoiceEventType string

const (
	EventInvoiceCreated   InvoiceEventType = "invoice.created"
	EventInvoiceUpdated   InvoiceEventType = "invoice.updated"
	EventInvoiceSent      InvoiceEventType = "invoice.sent"
	EventInvoicePaid      InvoiceEventType = "invoice.payment_recorded"
	EventInvoiceCancelled InvoiceEventType = "invoice.cancelled"
	EventInvoiceRefunded  InvoiceEventType = "invoice.refunded"
	EventInvoiceDeleted   InvoiceEventType = "invoice.deleted"
)

// InvoiceEvent is broadcast after a mutation has been committed
type InvoiceEvent struct {
	Type          InvoiceEventType     `json:"type"`
	InvoiceID     string               `json:"invoice_id"`
	InvoiceNumber string               `json:"invoice_number"`
	Status        models.InvoiceStatus `json:"status"`
	Version       int                  `json:"version"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// EventPublisher receives committed invoice events. Publishing is best effort.
type EventPublisher interface {
	Publish(event InvoiceEvent)
}

// NotificationRequest asks the mail collaborator to deliver an invoice
type NotificationRequest struct {
	InvoiceID      string `json:"invoiceId"`
	InvoiceNumber  string `json:"invoiceNumber"`
	RecipientEmail string `json:"recipientEmail"`
	Message        string `json:"message,omitempty"`
}

// Notifier hands invoice emails to the delivery system
type Notifier interface {
	NotifyInvoice(ctx context.Context, req NotificationRequest) error
}

// DocumentRenderer turns an invoice into a print-ready document
type DocumentRenderer interface {
	Render(inv *models.Invoice) ([]byte, error)
	Format() string
	ContentType() string
}

// SendRequest is the on-demand "send invoice by email" action
type SendRequest struct {
	Email       string `json:"email,omitempty"` // empty means the recipient email
	Message     string `json:"message,omitempty"`
	PerformedBy string `json:"-"`
}

// SendResult carries the committed invoice and, separately, the outcome of
// the notification. A failed notification does not undo the transition.
type SendResult struct {
	Invoice         *models.Invoice
	NotificationErr error
}

// Document is a rendered invoice
type Document struct {
	FileName    string
	ContentType string
	Content     []byte
}

// Send commits markSent when the invoice is still a draft, then asks the
// notifier to deliver it. Sent and partially paid invoices can be sent again.
func (s *InvoiceService) Send(ctx context.Context, id string, req SendRequest) (*SendResult, error) {
	inv, err := s.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status.IsTerminal() || inv.IsDeleted {
		return nil, invalidTransition(inv, "send")
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = inv.Recipient.Email
	}
	if email == "" {
		return nil, fmt.Errorf("%w: no recipient email for %s", ErrInvalidInvoice, inv.InvoiceNumber)
	}

	if inv.Status == models.InvoiceStatusDraft {
		if inv, err = s.MarkSent(ctx, id, req.PerformedBy); err != nil {
			return nil, err
		}
	}

	result := &SendResult{Invoice: inv}
	if s.notifier == nil {
		result.NotificationErr = fmt.Errorf("%w: no notifier configured", ErrNotificationFailed)
		return result, nil
	}
	err = s.notifier.NotifyInvoice(ctx, NotificationRequest{
		InvoiceID:      inv.ID,
		InvoiceNumber:  inv.InvoiceNumber,
		RecipientEmail: email,
		Message:        req.Message,
	})
	if err != nil {
		s.log.Warn().Err(err).
			Str("invoice_id", inv.ID).
			Str("invoice_number", inv.InvoiceNumber).
			Msg("Invoice notification failed, status stays committed")
		result.NotificationErr = fmt.Errorf("%w: %w", ErrNotificationFailed, err)
	}
	return result, nil
}

// RenderDocument produces the print document and logs its generation in the audit trail
func (s *InvoiceService) RenderDocument(ctx context.Context, id, performedBy string) (*Document, error) {
	if s.renderer == nil {
		return nil, fmt.Errorf("%w: no document renderer configured", ErrPersistenceFailure)
	}
	var doc *Document
	err := s.store.RunInTx(ctx, func(tx store.InvoiceTx) error {
		inv, err := tx.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		content, err := s.renderer.Render(inv)
		if err != nil {
			return fmt.Errorf("render %s: %w", inv.InvoiceNumber, err)
		}
		if _, err := s.history.Record(ctx, tx, inv.ID, models.HistoryActionPDFGenerated, nil, models.DocumentPayload{
			Format: s.renderer.Format(),
			Size:   len(content),
		}, "", performedBy); err != nil {
			return err
		}
		doc = &Document{
			FileName:    fmt.Sprintf("%s.%s", inv.InvoiceNumber, s.renderer.Format()),
			ContentType: s.renderer.ContentType(),
			Content:     content,
		}
		return nil
	})
	if err != nil {
		return nil, s.storeError("render document", err)
	}
	return doc, nil
}

func (s *InvoiceService) publish(eventType InvoiceEventType, inv *models.Invoice) {
	if s.events == nil {
		return
	}
	s.events.Publish(InvoiceEvent{
		Type:          eventType,
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		Status:        inv.Status,
		Version:       inv.Version,
		OccurredAt:    s.now().UTC(),
	})
}
