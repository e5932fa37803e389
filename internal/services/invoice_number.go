package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"drivingschool/server/internal/store"
)

// InvoiceNumberSequencer issues unique, monotonically increasing invoice numbers.
// The numbering epoch is the calendar year of the invoice date.
type InvoiceNumberSequencer interface {
	// NextInvoiceNumber consumes one number. tx is the creation transaction;
	// a sequencer backed by the store increments inside it.
	NextInvoiceNumber(ctx context.Context, tx store.InvoiceTx, issuedAt time.Time) (string, error)

	// PeekNextInvoiceNumber returns the number the next call would issue, without consuming it
	PeekNextInvoiceNumber(ctx context.Context, issuedAt time.Time) (string, error)
}

// FormatInvoiceNumber renders PREFIX-YYYY-NNNNN
func FormatInvoiceNumber(prefix string, year int, n int64) string {
	return fmt.Sprintf("%s-%d-%05d", prefix, year, n)
}

func epochOf(t time.Time) string {
	return strconv.Itoa(t.Year())
}

// StoreSequencer increments the invoice_sequences row inside the creation
// transaction. A failed creation rolls the counter back, so numbers are gap-free.
type StoreSequencer struct {
	store  store.InvoiceStore
	prefix string
}

func NewStoreSequencer(s store.InvoiceStore, prefix string) *StoreSequencer {
	return &StoreSequencer{store: s, prefix: prefix}
}

func (q *StoreSequencer) NextInvoiceNumber(ctx context.Context, tx store.InvoiceTx, issuedAt time.Time) (string, error) {
	n, err := tx.NextSequenceValue(ctx, epochOf(issuedAt))
	if err != nil {
		return "", err
	}
	return FormatInvoiceNumber(q.prefix, issuedAt.Year(), n), nil
}

func (q *StoreSequencer) PeekNextInvoiceNumber(ctx context.Context, issuedAt time.Time) (string, error) {
	last, err := q.store.PeekSequence(ctx, epochOf(issuedAt))
	if err != nil {
		return "", err
	}
	return FormatInvoiceNumber(q.prefix, issuedAt.Year(), last+1), nil
}

// SequenceCounter is the atomic counter RedisSequencer needs
type SequenceCounter interface {
	Increment(ctx context.Context, key string) (int64, error)
	GetInt(ctx context.Context, key string) (int64, error)
}

// RedisSequencer uses INCR on invoice:seq:<year>. Numbers stay unique and
// increasing, but one consumed by a creation that later fails is skipped.
type RedisSequencer struct {
	counter   SequenceCounter
	prefix    string
	keyPrefix string
}

func NewRedisSequencer(counter SequenceCounter, prefix string) *RedisSequencer {
	return &RedisSequencer{counter: counter, prefix: prefix, keyPrefix: "invoice:seq:"}
}

func (q *RedisSequencer) NextInvoiceNumber(ctx context.Context, _ store.InvoiceTx, issuedAt time.Time) (string, error) {
	n, err := q.counter.Increment(ctx, q.keyPrefix+epochOf(issuedAt))
	if err != nil {
		return "", fmt.Errorf("redis invoice counter: %w", err)
	}
	return FormatInvoiceNumber(q.prefix, issuedAt.Year(), n), nil
}

func (q *RedisSequencer) PeekNextInvoiceNumber(ctx context.Context, issuedAt time.Time) (string, error) {
	last, err := q.counter.GetInt(ctx, q.keyPrefix+epochOf(issuedAt))
	if err != nil {
		return "", fmt.Errorf("redis invoice counter: %w", err)
	}
	return FormatInvoiceNumber(q.prefix, issuedAt.Year(), last+1), nil
}
