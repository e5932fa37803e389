package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"drivingschool/server/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements InvoiceStore on Postgres through GORM
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open connection
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// RunInTx runs fn inside a database transaction
func (s *GormStore) RunInTx(ctx context.Context, fn func(tx InvoiceTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

// GetInvoice loads an invoice with its line items ordered by position
func (s *GormStore) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	return getInvoice(s.db.WithContext(ctx), id)
}

// ListInvoices returns invoices matching filter ordered by invoice date and number
func (s *GormStore) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]models.Invoice, error) {
	query := s.db.WithContext(ctx).Model(&models.Invoice{}).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		})

	if filter.ParticipantID != "" {
		query = query.Where("participant_id = ?", filter.ParticipantID)
	}
	if filter.RegistrationID != "" {
		query = query.Where("registration_id = ?", filter.RegistrationID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.From != nil {
		query = query.Where("invoice_date >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("invoice_date < ?", *filter.To)
	}
	if !filter.IncludeDeleted {
		query = query.Where("is_deleted = ?", false)
	}

	var invoices []models.Invoice
	if err := query.Order("invoice_date ASC, invoice_number ASC").Find(&invoices).Error; err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return invoices, nil
}

// ListHistory returns the audit trail of an invoice in the order it was written
func (s *GormStore) ListHistory(ctx context.Context, invoiceID string) ([]models.InvoiceHistory, error) {
	var entries []models.InvoiceHistory
	err := s.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("sequence ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list invoice history: %w", err)
	}
	return entries, nil
}

// PeekSequence reads the counter of epoch without changing it
func (s *GormStore) PeekSequence(ctx context.Context, epoch string) (int64, error) {
	var seq models.InvoiceSequence
	err := s.db.WithContext(ctx).First(&seq, "epoch = ?", epoch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("peek invoice sequence: %w", err)
	}
	return seq.LastValue, nil
}

// Ping checks the underlying connection
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	return getInvoice(t.db.WithContext(ctx), id)
}

// Row-level lock of the upsert serializes concurrent callers of the same epoch
const nextSequenceSQL = `
INSERT INTO invoice_sequences (epoch, last_value, updated_at)
VALUES (?, 1, ?)
ON CONFLICT (epoch) DO UPDATE
	SET last_value = invoice_sequences.last_value + 1,
	    updated_at = EXCLUDED.updated_at
RETURNING last_value`

func (t *gormTx) NextSequenceValue(ctx context.Context, epoch string) (int64, error) {
	var value int64
	if err := t.db.WithContext(ctx).Raw(nextSequenceSQL, epoch, time.Now().UTC()).Scan(&value).Error; err != nil {
		return 0, fmt.Errorf("next invoice sequence: %w", err)
	}
	if value == 0 {
		return 0, fmt.Errorf("next invoice sequence: no value returned for epoch %s", epoch)
	}
	return value, nil
}

func (t *gormTx) InsertInvoice(ctx context.Context, inv *models.Invoice) error {
	if err := t.db.WithContext(ctx).Create(inv).Error; err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

func (t *gormTx) UpdateInvoice(ctx context.Context, inv *models.Invoice, expectedVersion int) error {
	db := t.db.WithContext(ctx)
	result := db.Model(&models.Invoice{}).
		Where("id = ? AND version = ?", inv.ID, expectedVersion).
		Updates(headerColumns(inv))
	if result.Error != nil {
		return fmt.Errorf("update invoice: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := db.Model(&models.Invoice{}).Where("id = ?", inv.ID).Count(&count).Error; err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func (t *gormTx) ReplaceLineItems(ctx context.Context, invoiceID string, items []models.InvoiceLineItem) error {
	db := t.db.WithContext(ctx)
	if err := db.Where("invoice_id = ?", invoiceID).Delete(&models.InvoiceLineItem{}).Error; err != nil {
		return fmt.Errorf("delete line items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].InvoiceID = invoiceID
	}
	if err := db.Create(&items).Error; err != nil {
		return fmt.Errorf("insert line items: %w", err)
	}
	return nil
}

// AppendHistory locks the invoice row before reading the last sequence, so
// writers that do not update the invoice (document generation) queue behind
// a concurrent transition instead of racing it for the same sequence.
func (t *gormTx) AppendHistory(ctx context.Context, entry *models.InvoiceHistory) error {
	db := t.db.WithContext(ctx)
	var owner models.Invoice
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Take(&owner, "id = ?", entry.InvoiceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock invoice for history: %w", err)
	}

	var last int
	err = db.Model(&models.InvoiceHistory{}).
		Where("invoice_id = ?", entry.InvoiceID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&last).Error
	if err != nil {
		return fmt.Errorf("read history sequence: %w", err)
	}
	entry.Sequence = last + 1
	if err := db.Create(entry).Error; err != nil {
		return fmt.Errorf("append invoice history: %w", err)
	}
	return nil
}

func getInvoice(db *gorm.DB, id string) (*models.Invoice, error) {
	var inv models.Invoice
	err := db.Preload("LineItems", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).First(&inv, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return &inv, nil
}

// headerColumns lists every mutable header column; identity, number and creation data are left out
func headerColumns(inv *models.Invoice) map[string]interface{} {
	updatedAt := inv.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	return map[string]interface{}{
		"recipient_name":       inv.Recipient.Name,
		"recipient_address":    inv.Recipient.Address,
		"recipient_zip":        inv.Recipient.ZipCode,
		"recipient_city":       inv.Recipient.City,
		"recipient_email":      inv.Recipient.Email,
		"invoice_date":         inv.InvoiceDate,
		"service_date":         inv.ServiceDate,
		"service_period_start": inv.ServicePeriodStart,
		"service_period_end":   inv.ServicePeriodEnd,
		"due_date":             inv.DueDate,
		"net_amount":           inv.NetAmount,
		"vat_amount":           inv.VatAmount,
		"gross_amount":         inv.GrossAmount,
		"vat_rate":             inv.VatRate,
		"status":               inv.Status,
		"paid_at":              inv.PaidAt,
		"paid_amount":          inv.PaidAmount,
		"payment_method":       inv.PaymentMethod,
		"payment_reference":    inv.PaymentReference,
		"cancellation_reason":  inv.CancellationReason,
		"cancelled_at":         inv.CancelledAt,
		"cancelled_by":         inv.CancelledBy,
		"notes":                inv.Notes,
		"version":              inv.Version,
		"is_locked":            inv.IsLocked,
		"is_deleted":           inv.IsDeleted,
		"deleted_at":           inv.DeletedAt,
		"updated_at":           updatedAt,
	}
}
