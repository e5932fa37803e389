package services

import (
	"context"
	"time"

	"drivingschool/server/internal/models"
	"drivingschool/server/internal/store"
)

// HistoryRecorder appends audit entries. It has no update or delete operation;
// callers hand it the transaction of the state change it documents.
type HistoryRecorder struct {
	now func() time.Time
}

func NewHistoryRecorder(now func() time.Time) *HistoryRecorder {
	if now == nil {
		now = time.Now
	}
	return &HistoryRecorder{now: now}
}

// Record writes one entry inside tx and returns it with its sequence assigned
func (r *HistoryRecorder) Record(
	ctx context.Context,
	tx store.InvoiceTx,
	invoiceID string,
	action models.HistoryAction,
	oldData, newData models.HistoryPayload,
	reason, performedBy string,
) (*models.InvoiceHistory, error) {
	entry, err := models.NewInvoiceHistory(invoiceID, action, oldData, newData, reason, performedBy, r.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := tx.AppendHistory(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
