package store

import (
	"context"
	"sort"
	"sync"

	"drivingschool/server/internal/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MemoryStore is an InvoiceStore kept in process memory. Transactions are
// serialized and applied only when fn succeeds, so it honours the same
// all-or-nothing contract as GormStore.
type MemoryStore struct {
	mu        sync.RWMutex
	invoices  map[string]*models.Invoice
	history   map[string][]models.InvoiceHistory
	sequences map[string]int64
	numbers   map[string]string // invoice number -> id

	failures map[string]error
}

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices:  make(map[string]*models.Invoice),
		history:   make(map[string][]models.InvoiceHistory),
		sequences: make(map[string]int64),
		numbers:   make(map[string]string),
		failures:  make(map[string]error),
	}
}

// FailNext makes the next call of the named tx operation return err.
// Names match the InvoiceTx methods, e.g. "AppendHistory".
func (s *MemoryStore) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// RunInTx applies everything fn wrote when it returns nil and nothing otherwise
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx InvoiceTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:     s,
		invoices:  make(map[string]*models.Invoice),
		history:   make(map[string][]models.InvoiceHistory),
		sequences: make(map[string]int64),
		numbers:   make(map[string]string),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for id, inv := range tx.invoices {
		s.invoices[id] = inv
	}
	for id, entries := range tx.history {
		s.history[id] = append(s.history[id], entries...)
	}
	for epoch, v := range tx.sequences {
		s.sequences[epoch] = v
	}
	for number, id := range tx.numbers {
		s.numbers[number] = id
	}
	return nil
}

// GetInvoice returns a copy of the stored invoice
func (s *MemoryStore) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return inv.Clone(), nil
}

// ListInvoices returns copies of the invoices matching filter
func (s *MemoryStore) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Invoice
	for _, inv := range s.invoices {
		if !matches(inv, filter) {
			continue
		}
		out = append(out, *inv.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InvoiceDate.Equal(out[j].InvoiceDate) {
			return out[i].InvoiceDate.Before(out[j].InvoiceDate)
		}
		return out[i].InvoiceNumber < out[j].InvoiceNumber
	})
	return out, nil
}

// ListHistory returns a copy of the audit trail of an invoice
func (s *MemoryStore) ListHistory(ctx context.Context, invoiceID string) ([]models.InvoiceHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[invoiceID]
	out := make([]models.InvoiceHistory, len(entries))
	for i := range entries {
		out[i] = cloneHistory(entries[i])
	}
	return out, nil
}

// PeekSequence returns the last value issued for epoch
func (s *MemoryStore) PeekSequence(ctx context.Context, epoch string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sequences[epoch], nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func matches(inv *models.Invoice, f InvoiceFilter) bool {
	if !f.IncludeDeleted && inv.IsDeleted {
		return false
	}
	if f.ParticipantID != "" && (inv.ParticipantID == nil || *inv.ParticipantID != f.ParticipantID) {
		return false
	}
	if f.RegistrationID != "" && (inv.RegistrationID == nil || *inv.RegistrationID != f.RegistrationID) {
		return false
	}
	if f.Status != "" && inv.Status != f.Status {
		return false
	}
	if f.From != nil && inv.InvoiceDate.Before(*f.From) {
		return false
	}
	if f.To != nil && !inv.InvoiceDate.Before(*f.To) {
		return false
	}
	return true
}

// memoryTx stages writes; the store lock is held for its whole lifetime
type memoryTx struct {
	store     *MemoryStore
	invoices  map[string]*models.Invoice
	history   map[string][]models.InvoiceHistory
	sequences map[string]int64
	numbers   map[string]string
}

func (t *memoryTx) fail(op string) error {
	if err, ok := t.store.failures[op]; ok {
		delete(t.store.failures, op)
		return err
	}
	return nil
}

func (t *memoryTx) lookup(id string) (*models.Invoice, bool) {
	if inv, ok := t.invoices[id]; ok {
		return inv, true
	}
	inv, ok := t.store.invoices[id]
	return inv, ok
}

func (t *memoryTx) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	if err := t.fail("GetInvoice"); err != nil {
		return nil, err
	}
	inv, ok := t.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	return inv.Clone(), nil
}

func (t *memoryTx) NextSequenceValue(ctx context.Context, epoch string) (int64, error) {
	if err := t.fail("NextSequenceValue"); err != nil {
		return 0, err
	}
	current, ok := t.sequences[epoch]
	if !ok {
		current = t.store.sequences[epoch]
	}
	current++
	t.sequences[epoch] = current
	return current, nil
}

func (t *memoryTx) InsertInvoice(ctx context.Context, inv *models.Invoice) error {
	if err := t.fail("InsertInvoice"); err != nil {
		return err
	}
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if _, exists := t.lookup(inv.ID); exists {
		return errDuplicate("invoice id " + inv.ID)
	}
	if _, exists := t.numbers[inv.InvoiceNumber]; exists {
		return errDuplicate("invoice number " + inv.InvoiceNumber)
	}
	if _, exists := t.store.numbers[inv.InvoiceNumber]; exists {
		return errDuplicate("invoice number " + inv.InvoiceNumber)
	}
	if inv.Version == 0 {
		inv.Version = 1
	}
	for i := range inv.LineItems {
		if inv.LineItems[i].ID == "" {
			inv.LineItems[i].ID = uuid.New().String()
		}
		inv.LineItems[i].InvoiceID = inv.ID
	}
	t.invoices[inv.ID] = inv.Clone()
	t.numbers[inv.InvoiceNumber] = inv.ID
	return nil
}

func (t *memoryTx) UpdateInvoice(ctx context.Context, inv *models.Invoice, expectedVersion int) error {
	if err := t.fail("UpdateInvoice"); err != nil {
		return err
	}
	current, ok := t.lookup(inv.ID)
	if !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	next := inv.Clone()
	next.LineItems = current.Clone().LineItems
	next.InvoiceNumber = current.InvoiceNumber
	next.CreatedAt = current.CreatedAt
	t.invoices[inv.ID] = next
	return nil
}

func (t *memoryTx) ReplaceLineItems(ctx context.Context, invoiceID string, items []models.InvoiceLineItem) error {
	if err := t.fail("ReplaceLineItems"); err != nil {
		return err
	}
	current, ok := t.lookup(invoiceID)
	if !ok {
		return ErrNotFound
	}
	next := current.Clone()
	next.LineItems = make([]models.InvoiceLineItem, len(items))
	for i, item := range items {
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.InvoiceID = invoiceID
		next.LineItems[i] = item
	}
	t.invoices[invoiceID] = next
	return nil
}

func (t *memoryTx) AppendHistory(ctx context.Context, entry *models.InvoiceHistory) error {
	if err := t.fail("AppendHistory"); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.Sequence = len(t.store.history[entry.InvoiceID]) + len(t.history[entry.InvoiceID]) + 1
	t.history[entry.InvoiceID] = append(t.history[entry.InvoiceID], cloneHistory(*entry))
	return nil
}

// cloneHistory copies the JSON payloads so no caller shares bytes with the stored trail
func cloneHistory(e models.InvoiceHistory) models.InvoiceHistory {
	if e.OldData != nil {
		e.OldData = append(datatypes.JSON(nil), e.OldData...)
	}
	if e.NewData != nil {
		e.NewData = append(datatypes.JSON(nil), e.NewData...)
	}
	return e
}

type duplicateError string

func (e duplicateError) Error() string { return "duplicate " + string(e) }

func errDuplicate(what string) error { return duplicateError(what) }
