package services

import "errors"

var (
	// ErrInvoiceNotFound is returned when the id matches no invoice
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrInvalidTransition protects the state machine, e.g. cancelling a paid or cancelled invoice
	ErrInvalidTransition = errors.New("invalid invoice status transition")

	// ErrInvalidLineItem covers non-positive quantity, negative price, rate outside 0..100, empty description
	ErrInvalidLineItem = errors.New("invalid invoice line item")

	// ErrInvalidInvoice covers request-level problems: no recipient, no lines, two owners
	ErrInvalidInvoice = errors.New("invalid invoice")

	// ErrMissingCancellationReason is returned by Cancel and Refund without a reason
	ErrMissingCancellationReason = errors.New("cancellation reason is required")

	// ErrInvalidPaymentAmount is returned for payments <= 0
	ErrInvalidPaymentAmount = errors.New("payment amount must be positive")

	// ErrInvoiceLocked is returned when editing an invoice that has been sent
	ErrInvoiceLocked = errors.New("invoice is locked")

	// ErrConcurrentModification is returned when another writer changed the invoice first
	ErrConcurrentModification = errors.New("invoice was modified concurrently")

	// ErrPersistenceFailure wraps every store failure; nothing of the atomic unit was written
	ErrPersistenceFailure = errors.New("invoice persistence failed")

	// ErrNotificationFailed reports a failed email request; the fiscal transition stays committed
	ErrNotificationFailed = errors.New("invoice notification failed")
)
