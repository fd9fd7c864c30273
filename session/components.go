package session

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

var ErrLookup = errors.New("session: component not found")

// Components holds at most one value per type. The lock covers only the map access, never
// the caller's use of a retrieved value.
type Components struct {
	mu    sync.Mutex
	slots map[reflect.Type]any
}

func typeOf[T any]() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }

// Put stores v in T's slot, replacing any previous value.
func Put[T any](c *Components, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.slots == nil {
		c.slots = make(map[reflect.Type]any)
	}
	c.slots[typeOf[T]()] = v
}

// Get returns the value in T's slot, or T's zero value and false if the slot is empty.
func Get[T any](c *Components) (T, bool) {
	c.mu.Lock()
	v, ok := c.slots[typeOf[T]()]
	c.mu.Unlock()

	if !ok {
		var zero T
		return zero, false
	}
	// A nil stored for an interface T comes back as T's zero value.
	t, _ := v.(T)
	return t, true
}

// MustGet is Get for callers that require the slot to be filled.
func MustGet[T any](c *Components) (T, error) {
	v, ok := Get[T](c)
	if !ok {
		return v, fmt.Errorf("%w: %s", ErrLookup, typeOf[T]())
	}
	return v, nil
}

// GetOrCreate returns the value in T's slot, filling the slot with create() first if it is
// empty. create runs without the lock held and may use c. If another caller fills the slot
// while create runs, that value wins and is returned instead.
func GetOrCreate[T any](c *Components, create func() T) T {
	if v, ok := Get[T](c); ok {
		return v
	}

	v := create()

	c.mu.Lock()
	defer c.mu.Unlock()

	key := typeOf[T]()
	if existing, ok := c.slots[key]; ok {
		t, _ := existing.(T)
		return t
	}
	if c.slots == nil {
		c.slots = make(map[reflect.Type]any)
	}
	c.slots[key] = v
	return v
}

func Has[T any](c *Components) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.slots[typeOf[T]()]
	return ok
}

// Remove empties T's slot and reports whether it held a value.
func Remove[T any](c *Components) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := typeOf[T]()
	if _, ok := c.slots[key]; !ok {
		return false
	}
	delete(c.slots, key)
	return true
}

// Types lists the types of all filled slots, sorted by name.
func (c *Components) Types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.slots))
	for typ := range c.slots {
		names = append(names, typ.String())
	}
	sort.Strings(names)
	return names
}
