package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"drivingschool/server/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInvoice(number string, date time.Time) *models.Invoice {
	return &models.Invoice{
		InvoiceNumber: number,
		Recipient:     models.Recipient{Name: "Max Mustermann"},
		InvoiceDate:   date,
		Status:        models.InvoiceStatusDraft,
		GrossAmount:   decimal.RequireFromString("119.00"),
		LineItems: []models.InvoiceLineItem{
			{Position: 1, Description: "Fahrstunde", Quantity: decimal.NewFromInt(1)},
		},
	}
}

func TestMemoryStoreRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	boom := errors.New("boom")

	var id string
	err := s.RunInTx(ctx, func(tx InvoiceTx) error {
		if _, err := tx.NextSequenceValue(ctx, "2026"); err != nil {
			return err
		}
		inv := newInvoice("RE-2026-00001", time.Now())
		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}
		id = inv.ID
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetInvoice(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	seq, err := s.PeekSequence(ctx, "2026")
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)
}

func TestMemoryStoreConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	inv := newInvoice("RE-2026-00001", time.Now())
	require.NoError(t, s.RunInTx(ctx, func(tx InvoiceTx) error { return tx.InsertInvoice(ctx, inv) }))

	stored, err := s.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	stored.Status = models.InvoiceStatusSent
	stored.Version = 2

	require.NoError(t, s.RunInTx(ctx, func(tx InvoiceTx) error { return tx.UpdateInvoice(ctx, stored, 1) }))

	err = s.RunInTx(ctx, func(tx InvoiceTx) error { return tx.UpdateInvoice(ctx, stored, 1) })
	assert.ErrorIs(t, err, ErrVersionConflict)

	err = s.RunInTx(ctx, func(tx InvoiceTx) error {
		missing := stored.Clone()
		missing.ID = "missing"
		return tx.UpdateInvoice(ctx, missing, 2)
	})
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusSent, got.Status)
	assert.Len(t, got.LineItems, 1)
}

func TestMemoryStoreRejectsDuplicateNumber(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.RunInTx(ctx, func(tx InvoiceTx) error {
		return tx.InsertInvoice(ctx, newInvoice("RE-2026-00001", time.Now()))
	}))
	err := s.RunInTx(ctx, func(tx InvoiceTx) error {
		return tx.InsertInvoice(ctx, newInvoice("RE-2026-00001", time.Now()))
	})
	require.Error(t, err)
}

func TestMemoryStoreSequenceIsUniqueUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const n = 50
	values := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.RunInTx(ctx, func(tx InvoiceTx) error {
				v, err := tx.NextSequenceValue(ctx, "2026")
				values <- v
				return err
			})
		}()
	}
	wg.Wait()
	close(values)

	seen := make(map[int64]bool)
	for v := range values {
		assert.False(t, seen[v], "duplicate value %d", v)
		seen[v] = true
	}
	assert.Len(t, seen, n)
}

func TestMemoryStoreHistorySequenceAndFilter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	pid := "participant-1"
	jan := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC)

	a := newInvoice("RE-2026-00002", feb)
	a.ParticipantID = &pid
	b := newInvoice("RE-2026-00001", jan)
	b.ParticipantID = &pid
	c := newInvoice("RE-2026-00003", jan)
	c.IsDeleted = true

	require.NoError(t, s.RunInTx(ctx, func(tx InvoiceTx) error {
		for _, inv := range []*models.Invoice{a, b, c} {
			if err := tx.InsertInvoice(ctx, inv); err != nil {
				return err
			}
		}
		for i := 0; i < 2; i++ {
			entry, err := models.NewInvoiceHistory(a.ID, models.HistoryActionUpdated, nil, nil, "", "", time.Now())
			if err != nil {
				return err
			}
			if err := tx.AppendHistory(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	}))

	list, err := s.ListInvoices(ctx, InvoiceFilter{ParticipantID: pid})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "RE-2026-00001", list[0].InvoiceNumber)

	all, err := s.ListInvoices(ctx, InvoiceFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	history, err := s.ListHistory(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Sequence)
	assert.Equal(t, 2, history[1].Sequence)
}

func TestMemoryStoreFailNext(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	boom := errors.New("disk full")
	s.FailNext("InsertInvoice", boom)

	err := s.RunInTx(ctx, func(tx InvoiceTx) error {
		return tx.InsertInvoice(ctx, newInvoice("RE-2026-00001", time.Now()))
	})
	assert.ErrorIs(t, err, boom)

	// one-shot
	err = s.RunInTx(ctx, func(tx InvoiceTx) error {
		return tx.InsertInvoice(ctx, newInvoice("RE-2026-00001", time.Now()))
	})
	assert.NoError(t, err)
}

func TestMemoryStoreHistoryCannotBeRewrittenByCallers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	inv := newInvoice("RE-2026-00001", time.Now())

	var written *models.InvoiceHistory
	require.NoError(t, s.RunInTx(ctx, func(tx InvoiceTx) error {
		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}
		entry, err := models.NewInvoiceHistory(inv.ID, models.HistoryActionCancelled, nil,
			models.CancelledPayload{Status: models.InvoiceStatusCancelled, Reason: "Doppelt erfasst"}, "Doppelt erfasst", "", time.Now())
		if err != nil {
			return err
		}
		written = entry
		return tx.AppendHistory(ctx, entry)
	}))
	original := string(written.NewData)

	written.NewData[2] = 'X'
	got, err := s.ListHistory(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, original, string(got[0].NewData))

	got[0].NewData[2] = 'X'
	again, err := s.ListHistory(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, original, string(again[0].NewData))
	assert.Contains(t, string(again[0].NewData), `"status":"cancelled"`)
}
