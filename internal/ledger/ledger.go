// Package ledger holds the session's expense records in memory.
//
// Records are ordered newest first. The ledger never persists anything; it
// lives as long as the process.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"ledgerlens/internal/core"
)

var ErrDuplicateID = errors.New("duplicate expense id")

type Ledger struct {
	mu    sync.RWMutex
	items []core.Expense
	ids   map[string]struct{}
}

func New() *Ledger {
	return &Ledger{ids: make(map[string]struct{})}
}

// Append validates e and inserts it at the head of the ledger.
func (l *Ledger) Append(e core.Expense) error {
	if err := e.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ids[e.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
	}
	l.items = append([]core.Expense{e}, l.items...)
	l.ids[e.ID] = struct{}{}
	return nil
}

// AppendAll inserts a batch ahead of the existing records, keeping the batch
// order. Either every expense is inserted or none is.
func (l *Ledger) AppendAll(es []core.Expense) error {
	if len(es) == 0 {
		return nil
	}
	batch := make(map[string]struct{}, len(es))
	for _, e := range es {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("expense %s: %w", e.ID, err)
		}
		if _, ok := batch[e.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
		}
		batch[e.ID] = struct{}{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for id := range batch {
		if _, ok := l.ids[id]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
	}
	items := make([]core.Expense, 0, len(es)+len(l.items))
	items = append(items, es...)
	l.items = append(items, l.items...)
	for id := range batch {
		l.ids[id] = struct{}{}
	}
	return nil
}

// Remove deletes the record with the given id. It returns the removed
// expense and false when nothing matched.
func (l *Ledger) Remove(id string) (core.Expense, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ids[id]; !ok {
		return core.Expense{}, false
	}
	for i, e := range l.items {
		if e.ID == id {
			l.items = append(l.items[:i], l.items[i+1:]...)
			delete(l.ids, id)
			return e, true
		}
	}
	return core.Expense{}, false
}

// Get returns the record with the given id.
func (l *Ledger) Get(id string) (core.Expense, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.items {
		if e.ID == id {
			return e, true
		}
	}
	return core.Expense{}, false
}

// All returns a copy of the records, newest first.
func (l *Ledger) All() []core.Expense {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]core.Expense(nil), l.items...)
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}
