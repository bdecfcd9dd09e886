// Package store keeps the transactions an agent is tracking, keyed by name.
package store

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/deepaksharma/apm-agent-core/core/events"
)

var (
	// ErrDuplicateTransactionName is matched by errors returned when a name is
	// registered twice.
	ErrDuplicateTransactionName = errors.New("duplicate transaction name")

	// ErrNilTransaction is returned when registering a nil transaction.
	ErrNilTransaction = errors.New("transaction must not be nil")
)

// DuplicateNameError names the transaction that was already registered.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%s: %q", ErrDuplicateTransactionName, e.Name)
}

// Is matches ErrDuplicateTransactionName.
func (e *DuplicateNameError) Is(target error) bool {
	return target == ErrDuplicateTransactionName
}

// TransactionsStore maps transaction names to transactions and remembers
// insertion order. Names are unique; a registered entry is never replaced.
type TransactionsStore struct {
	mu    sync.RWMutex
	byKey map[string]*events.Transaction
	order []string
}

// New creates an empty store.
func New() *TransactionsStore {
	return &TransactionsStore{
		byKey: make(map[string]*events.Transaction),
	}
}

// Register adds tx under its name. A second registration of the same name
// fails and leaves the first entry in place.
func (s *TransactionsStore) Register(tx *events.Transaction) error {
	if tx == nil {
		return ErrNilTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := tx.Name()
	if _, exists := s.byKey[name]; exists {
		return &DuplicateNameError{Name: name}
	}

	s.byKey[name] = tx
	s.order = append(s.order, name)
	return nil
}

// Fetch returns the transaction registered under name.
func (s *TransactionsStore) Fetch(name string) (*events.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.byKey[name]
	return tx, ok
}

// IsEmpty reports whether nothing is registered.
func (s *TransactionsStore) IsEmpty() bool {
	return s.Len() == 0
}

// Len returns the number of registered transactions.
func (s *TransactionsStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Serialize returns the registered transactions in registration order. Each
// call builds a new slice.
func (s *TransactionsStore) Serialize() []*events.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*events.Transaction, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.byKey[name])
	}
	return out
}

// Delete removes the named transaction and reports whether it was present.
// The name may be registered again afterwards.
func (s *TransactionsStore) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byKey[name]; !ok {
		return false
	}
	delete(s.byKey, name)
	if i := slices.Index(s.order, name); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	return true
}

// Reset removes every transaction.
func (s *TransactionsStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey = make(map[string]*events.Transaction)
	s.order = nil
}
