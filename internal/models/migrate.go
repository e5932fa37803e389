package models

import (
	"fmt"

	"gorm.io/gorm"
)

// AutoMigrate creates or updates the invoicing tables
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&InvoiceSequence{},
		&Invoice{},
		&InvoiceLineItem{},
		&InvoiceHistory{},
	); err != nil {
		return fmt.Errorf("auto-migrate invoicing tables: %w", err)
	}

	// The audit trail is append-only at the database level as well
	if err := db.Exec(historyGuardSQL).Error; err != nil {
		return fmt.Errorf("install invoice_history guard: %w", err)
	}
	return nil
}

const historyGuardSQL = `
CREATE OR REPLACE FUNCTION invoice_history_immutable() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'invoice_history is append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS invoice_history_no_update ON invoice_history;
CREATE TRIGGER invoice_history_no_update
	BEFORE UPDATE OR DELETE ON invoice_history
	FOR EACH ROW EXECUTE FUNCTION invoice_history_immutable();
`
