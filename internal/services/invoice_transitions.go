package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"drivingschool/server/internal/models"
	"drivingschool/server/internal/store"

	"github.com/shopspring/decimal"
)

// PaymentRequest records money received for an invoice
type PaymentRequest struct {
	Amount      decimal.Decimal      `json:"amount"`
	Method      models.PaymentMethod `json:"method"`
	Reference   string               `json:"reference,omitempty"`
	PaidAt      *time.Time           `json:"paid_at,omitempty"` // nil means now
	PerformedBy string               `json:"-"`
}

// historyChange is the audit entry a mutation wants written with it
type historyChange struct {
	action           models.HistoryAction
	oldData, newData models.HistoryPayload
	reason           string
	performedBy      string
}

// mutation changes inv in place. A nil change writes no audit entry.
type mutation func(tx store.InvoiceTx, inv *models.Invoice, now time.Time) (*historyChange, error)

// mutate loads the invoice, applies fn and writes the header conditioned on
// the version read, together with the audit entry, in one transaction.
func (s *InvoiceService) mutate(ctx context.Context, id string, event InvoiceEventType, fn mutation) (*models.Invoice, error) {
	var result *models.Invoice
	err := s.store.RunInTx(ctx, func(tx store.InvoiceTx) error {
		inv, err := tx.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.IsDeleted {
			return fmt.Errorf("%w: %s is deleted", ErrInvalidTransition, inv.InvoiceNumber)
		}
		now := s.now().UTC()
		expected := inv.Version

		change, err := fn(tx, inv, now)
		if err != nil {
			return err
		}
		inv.Version = expected + 1
		inv.UpdatedAt = now
		if err := tx.UpdateInvoice(ctx, inv, expected); err != nil {
			return err
		}
		if change != nil {
			if _, err := s.history.Record(ctx, tx, inv.ID, change.action, change.oldData, change.newData, change.reason, change.performedBy); err != nil {
				return err
			}
		}
		result = inv
		return nil
	})
	if err != nil {
		return nil, s.storeError(string(event), err)
	}

	s.log.Info().
		Str("invoice_id", result.ID).
		Str("invoice_number", result.InvoiceNumber).
		Str("status", string(result.Status)).
		Int("version", result.Version).
		Msgf("Invoice %s", event)
	s.publish(event, result)
	return result, nil
}

func invalidTransition(inv *models.Invoice, event string) error {
	return fmt.Errorf("%w: cannot %s invoice %s in status %s", ErrInvalidTransition, event, inv.InvoiceNumber, inv.Status)
}

// MarkSent moves a draft to sent and locks it against edits
func (s *InvoiceService) MarkSent(ctx context.Context, id, performedBy string) (*models.Invoice, error) {
	return s.mutate(ctx, id, EventInvoiceSent, func(_ store.InvoiceTx, inv *models.Invoice, _ time.Time) (*historyChange, error) {
		if inv.Status != models.InvoiceStatusDraft {
			return nil, invalidTransition(inv, "send")
		}
		before := models.SentPayload{Status: inv.Status, IsLocked: inv.IsLocked}
		inv.Status = models.InvoiceStatusSent
		inv.IsLocked = true
		return &historyChange{
			action:      models.HistoryActionSent,
			oldData:     before,
			newData:     models.SentPayload{Status: inv.Status, IsLocked: inv.IsLocked},
			performedBy: performedBy,
		}, nil
	})
}

// RecordPayment adds a payment to a sent or partially paid invoice. The
// invoice becomes paid once the accumulated amount reaches the gross amount.
func (s *InvoiceService) RecordPayment(ctx context.Context, id string, req PaymentRequest) (*models.Invoice, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidPaymentAmount, req.Amount)
	}
	if !req.Amount.Equal(RoundMoney(req.Amount)) {
		return nil, fmt.Errorf("%w: %s has more than two decimals", ErrInvalidPaymentAmount, req.Amount)
	}
	if req.Method != "" && !req.Method.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidInvoice, req.Method)
	}

	return s.mutate(ctx, id, EventInvoicePaid, func(_ store.InvoiceTx, inv *models.Invoice, now time.Time) (*historyChange, error) {
		if inv.Status != models.InvoiceStatusSent && inv.Status != models.InvoiceStatusPartial {
			return nil, invalidTransition(inv, "record a payment for")
		}
		before := models.StatusChangedPayload{
			Status:           inv.Status,
			PaidAmount:       inv.PaidAmount,
			PaymentMethod:    inv.PaymentMethod,
			PaymentReference: inv.PaymentReference,
		}

		paidAt := now
		if req.PaidAt != nil {
			paidAt = req.PaidAt.UTC()
		}
		inv.PaidAmount = inv.PaidAmount.Add(req.Amount)
		inv.PaidAt = &paidAt
		if req.Method != "" {
			inv.PaymentMethod = req.Method
		}
		if req.Reference != "" {
			inv.PaymentReference = req.Reference
		}
		if inv.PaidAmount.GreaterThanOrEqual(inv.GrossAmount) {
			inv.Status = models.InvoiceStatusPaid
		} else {
			inv.Status = models.InvoiceStatusPartial
		}

		return &historyChange{
			action:  models.HistoryActionStatusChanged,
			oldData: before,
			newData: models.StatusChangedPayload{
				Status:           inv.Status,
				PaidAmount:       inv.PaidAmount,
				PaymentMethod:    inv.PaymentMethod,
				PaymentReference: inv.PaymentReference,
			},
			performedBy: req.PerformedBy,
		}, nil
	})
}

// Cancel voids a sent or partially paid invoice. Paid invoices are refunded instead.
func (s *InvoiceService) Cancel(ctx context.Context, id, reason, performedBy string) (*models.Invoice, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrMissingCancellationReason
	}
	return s.mutate(ctx, id, EventInvoiceCancelled, func(_ store.InvoiceTx, inv *models.Invoice, now time.Time) (*historyChange, error) {
		if inv.Status != models.InvoiceStatusSent && inv.Status != models.InvoiceStatusPartial {
			return nil, invalidTransition(inv, "cancel")
		}
		before := models.CancelledPayload{Status: inv.Status}
		inv.Status = models.InvoiceStatusCancelled
		inv.CancellationReason = reason
		inv.CancelledAt = &now
		inv.CancelledBy = performedBy
		return &historyChange{
			action:      models.HistoryActionCancelled,
			oldData:     before,
			newData:     models.CancelledPayload{Status: inv.Status, Reason: reason},
			reason:      reason,
			performedBy: performedBy,
		}, nil
	})
}

// Refund closes a paid or partially paid invoice whose money was returned
func (s *InvoiceService) Refund(ctx context.Context, id, reason, performedBy string) (*models.Invoice, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrMissingCancellationReason
	}
	return s.mutate(ctx, id, EventInvoiceRefunded, func(_ store.InvoiceTx, inv *models.Invoice, _ time.Time) (*historyChange, error) {
		if inv.Status != models.InvoiceStatusPaid && inv.Status != models.InvoiceStatusPartial {
			return nil, invalidTransition(inv, "refund")
		}
		before := models.StatusChangedPayload{Status: inv.Status, PaidAmount: inv.PaidAmount, PaymentMethod: inv.PaymentMethod}
		inv.Status = models.InvoiceStatusRefunded
		return &historyChange{
			action:      models.HistoryActionStatusChanged,
			oldData:     before,
			newData:     models.StatusChangedPayload{Status: inv.Status, PaidAmount: inv.PaidAmount, PaymentMethod: inv.PaymentMethod},
			reason:      reason,
			performedBy: performedBy,
		}, nil
	})
}

// SoftDelete hides an invoice entered by mistake. It is an administrative
// correction, not a fiscal transition, and writes no audit entry.
func (s *InvoiceService) SoftDelete(ctx context.Context, id, performedBy string) (*models.Invoice, error) {
	inv, err := s.mutate(ctx, id, EventInvoiceDeleted, func(_ store.InvoiceTx, inv *models.Invoice, now time.Time) (*historyChange, error) {
		if inv.Status.IsTerminal() {
			return nil, invalidTransition(inv, "delete")
		}
		inv.IsDeleted = true
		inv.DeletedAt = &now
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Warn().Str("invoice_id", inv.ID).Str("performed_by", performedBy).Msg("Invoice soft-deleted")
	return inv, nil
}
