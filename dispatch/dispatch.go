// Package dispatch routes decoded messages to handlers keyed by a discriminant read from the
// message header.
package dispatch

import (
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/TheSmallBoat/wirenet/codec"
)

// Verdict tells a receive loop whether to keep going after a message was handled.
type Verdict uint8

const (
	Continue Verdict = iota
	Disconnect
)

func (v Verdict) String() string {
	switch v {
	case Continue:
		return "continue"
	case Disconnect:
		return "disconnect"
	}
	return fmt.Sprintf("verdict(%d)", uint8(v))
}

// Schema is a message body bound to a fixed discriminant. Discriminant must not depend on the
// receiver's contents; it is called on the zero value.
type Schema[ID comparable] interface {
	Discriminant() ID
}

type handlerFunc[S, H any] func(state S, header H, r *codec.ReadStream) (Verdict, error)

type entry[S, H any] struct {
	schema string
	fn     handlerFunc[S, H]
}

// Registry maps discriminants to handlers. S is the per-connection state handed to every
// handler and H is the header type that precedes each body on the wire.
type Registry[S, H any, ID comparable] struct {
	headerID func(H) ID
	log      *zap.Logger

	mu       sync.RWMutex
	handlers map[ID]entry[S, H]
}

// New returns an empty registry. headerID extracts the discriminant from a decoded header.
func New[S, H any, ID comparable](headerID func(H) ID, log *zap.Logger) *Registry[S, H, ID] {
	if log == nil {
		log = zap.L()
	}
	return &Registry[S, H, ID]{
		headerID: headerID,
		log:      log.Named("dispatch"),
		handlers: make(map[ID]entry[S, H]),
	}
}

// Register binds M's discriminant to handler. If the discriminant is already bound, the first
// registration is kept and Register reports false.
func Register[S, H any, ID comparable, M Schema[ID]](reg *Registry[S, H, ID], handler func(S, H, M) (Verdict, error)) bool {
	var zero M
	id := zero.Discriminant()
	schema := reflect.TypeOf(&zero).Elem().String()

	fn := func(state S, header H, r *codec.ReadStream) (Verdict, error) {
		var body M
		if err := codec.Read(r, &body); err != nil {
			return Disconnect, err
		}
		return handler(state, header, body)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if prev, exists := reg.handlers[id]; exists {
		reg.log.Warn("discriminant already registered, keeping the first handler",
			zap.Any("discriminant", id),
			zap.String("registered", prev.schema),
			zap.String("ignored", schema),
		)
		return false
	}
	reg.handlers[id] = entry[S, H]{schema: schema, fn: fn}
	return true
}

// Registered reports whether a handler is bound to id.
func (reg *Registry[S, H, ID]) Registered(id ID) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	_, exists := reg.handlers[id]
	return exists
}

func (reg *Registry[S, H, ID]) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.handlers)
}

// Dispatch decodes the header at the start of buf and dispatches the rest of buf as the body.
func (reg *Registry[S, H, ID]) Dispatch(state S, buf []byte) (Verdict, error) {
	r := codec.NewReadStream(buf)

	var header H
	if err := codec.Read(r, &header); err != nil {
		return Disconnect, err
	}
	return reg.DispatchHeader(state, header, r)
}

// DispatchHeader decodes the body that follows header from r and hands it to the handler bound
// to the header's discriminant. Messages with an unknown discriminant are ignored and yield
// Continue. Decode and handler errors are returned as is.
func (reg *Registry[S, H, ID]) DispatchHeader(state S, header H, r *codec.ReadStream) (Verdict, error) {
	id := reg.headerID(header)

	reg.mu.RLock()
	e, exists := reg.handlers[id]
	reg.mu.RUnlock()

	if !exists {
		reg.log.Debug("ignoring message with unknown discriminant", zap.Any("discriminant", id))
		return Continue, nil
	}
	return e.fn(state, header, r)
}
