package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Table tracks live sessions by id.
type Table struct {
	sync.RWMutex
	conns map[uuid.UUID]*Conn
}

func NewTable() *Table {
	return &Table{conns: make(map[uuid.UUID]*Conn)}
}

// Add registers c. It reports false, leaving the table untouched, if a session with the same
// id is already registered.
func (t *Table) Add(c *Conn) bool {
	t.Lock()
	defer t.Unlock()

	if _, exists := t.conns[c.ID()]; exists {
		return false
	}
	t.conns[c.ID()] = c
	return true
}

func (t *Table) Get(id uuid.UUID) (*Conn, bool) {
	t.RLock()
	defer t.RUnlock()
	c, exists := t.conns[id]
	return c, exists
}

// Remove deregisters and returns the session with the given id, or nil.
func (t *Table) Remove(id uuid.UUID) *Conn {
	t.Lock()
	defer t.Unlock()

	c, exists := t.conns[id]
	if !exists {
		return nil
	}
	delete(t.conns, id)
	return c
}

func (t *Table) Len() int {
	t.RLock()
	defer t.RUnlock()
	return len(t.conns)
}

// Range calls fn for each session until fn returns false. fn runs without the table locked.
func (t *Table) Range(fn func(*Conn) bool) {
	t.RLock()
	conns := make([]*Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.RUnlock()

	for _, c := range conns {
		if !fn(c) {
			return
		}
	}
}

// CloseAll removes every session and closes it.
func (t *Table) CloseAll() error {
	t.Lock()
	conns := t.conns
	t.conns = make(map[uuid.UUID]*Conn)
	t.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
