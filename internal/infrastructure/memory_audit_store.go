package infrastructure

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"paymesh/internal/domain"
)

// MemoryAuditStore keeps entries in insertion order behind one mutex, so an
// append is never partially visible to readers.
type MemoryAuditStore struct {
	mu        sync.RWMutex
	sequence  int64
	entries   []domain.AuditLogEntry
	byPayment map[string][]int
	confirmed map[string]struct{}
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{
		byPayment: make(map[string][]int),
		confirmed: make(map[string]struct{}),
	}
}

func (s *MemoryAuditStore) Append(_ context.Context, entry domain.AuditLogEntry) (domain.AuditLogEntry, error) {
	if err := checkEntry(entry); err != nil {
		return domain.AuditLogEntry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Kind == domain.EntryDispatch {
		for _, i := range s.byPayment[entry.PaymentID] {
			if s.entries[i].Kind == domain.EntryDispatch {
				return s.entries[i].Clone(), nil
			}
		}
	}
	if entry.Kind == domain.EntryConfirmation {
		if len(s.byPayment[entry.PaymentID]) == 0 {
			return domain.AuditLogEntry{}, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, entry.PaymentID)
		}
		if _, ok := s.confirmed[entry.PaymentID]; ok {
			return domain.AuditLogEntry{}, fmt.Errorf("%w: %s", domain.ErrAlreadyConfirmed, entry.PaymentID)
		}
	}

	s.sequence++
	entry = ownIDs(entry.Clone())
	if entry.Kind == domain.EntryConfirmation {
		s.confirmed[entry.PaymentID] = struct{}{}
	}
	entry.Sequence = s.sequence
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	s.entries = append(s.entries, entry)
	s.byPayment[entry.PaymentID] = append(s.byPayment[entry.PaymentID], len(s.entries)-1)
	return entry.Clone(), nil
}

// Query walks newest first and stops at the limit.
func (s *MemoryAuditStore) Query(_ context.Context, filter domain.AuditFilter) ([]domain.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.AuditLogEntry{}
	take := func(e domain.AuditLogEntry) bool {
		if filter.Matches(e) {
			out = append(out, e.Clone())
		}
		return filter.Limit <= 0 || len(out) < filter.Limit
	}

	if filter.PaymentID != "" {
		idx := s.byPayment[filter.PaymentID]
		for i := len(idx) - 1; i >= 0; i-- {
			if !take(s.entries[idx[i]]) {
				break
			}
		}
		return out, nil
	}

	for i := len(s.entries) - 1; i >= 0; i-- {
		if !take(s.entries[i]) {
			break
		}
	}
	return out, nil
}

func (s *MemoryAuditStore) Latest(_ context.Context, paymentID string) (domain.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.byPayment[paymentID]
	if len(idx) == 0 {
		return domain.AuditLogEntry{}, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, paymentID)
	}
	return s.entries[idx[len(idx)-1]].Clone(), nil
}

// ownIDs copies the id strings used as map keys. Callers may hand in
// strings backed by buffers that are reused after the call returns.
func ownIDs(e domain.AuditLogEntry) domain.AuditLogEntry {
	e.PaymentID = strings.Clone(e.PaymentID)
	e.GatewayID = strings.Clone(e.GatewayID)
	e.ReferencesPaymentID = strings.Clone(e.ReferencesPaymentID)
	e.Response.PaymentID = strings.Clone(e.Response.PaymentID)
	return e
}

func checkEntry(entry domain.AuditLogEntry) error {
	if entry.PaymentID == "" {
		return fmt.Errorf("%w: audit entry without payment id", domain.ErrValidation)
	}
	if entry.GatewayID == "" {
		return fmt.Errorf("%w: audit entry without gateway id", domain.ErrValidation)
	}
	switch entry.Kind {
	case domain.EntryDispatch, domain.EntryConfirmation:
	default:
		return fmt.Errorf("%w: unknown entry kind %q", domain.ErrValidation, entry.Kind)
	}
	return nil
}
