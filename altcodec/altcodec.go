// Package altcodec encodes the same composites as package codec in self-describing formats,
// JSON and CBOR, keyed by field name.
//
// Fields are enumerated exactly as the binary codec enumerates them. What happens to a field
// that is missing from the input is decided by a Presence policy.
package altcodec

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/TheSmallBoat/wirenet/codec"
)

// Presence decides how Unmarshal treats a field that is missing from the input.
type Presence uint8

const (
	// Ignore leaves the field's current value untouched.
	Ignore Presence = iota
	// DefaultFill resets the field to its zero value.
	DefaultFill
	// Error fails with ErrMissingField. Optionals and pointers are never required; they are
	// reset to absent.
	Error
)

func (p Presence) String() string {
	switch p {
	case Ignore:
		return "ignore"
	case DefaultFill:
		return "default-fill"
	case Error:
		return "error"
	}
	return fmt.Sprintf("presence(%d)", uint8(p))
}

var ErrMissingField = errors.New("altcodec: missing field")

var (
	maybeType     = reflect.TypeOf((*codec.Maybe)(nil)).Elem()
	validatorType = reflect.TypeOf((*codec.Validator)(nil)).Elem()
)

type format struct {
	name      string
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte, any) error
	members   func([]byte) (map[string][]byte, error)
	elements  func([]byte) ([][]byte, error)
	isNull    func([]byte) bool
}

// Codec is a format paired with a presence policy.
type Codec struct {
	Presence Presence
	f        format
}

func (c *Codec) Name() string { return c.f.name }

// Marshal encodes v. A top-level pointer is dereferenced once.
func (c *Codec) Marshal(v any) ([]byte, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("%w: nil %s", codec.ErrUnsupported, rv.Type())
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil, fmt.Errorf("%w: nil value", codec.ErrUnsupported)
	}

	tree, err := c.encode(addressable(rv), nil)
	if err != nil {
		return nil, err
	}
	b, err := c.f.marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", codec.ErrEncode, err)
	}
	return b, nil
}

// Unmarshal decodes data into ptr, which must be a non-nil pointer.
func (c *Codec) Unmarshal(data []byte, ptr any) error {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: unmarshal target must be a non-nil pointer, got %T", codec.ErrUnsupported, ptr)
	}
	return c.decode(data, rv.Elem(), nil)
}

func addressable(rv reflect.Value) reflect.Value {
	if rv.CanAddr() {
		return rv
	}
	p := reflect.New(rv.Type())
	p.Elem().Set(rv)
	return p.Elem()
}

func isMaybe(t reflect.Type) bool { return reflect.PointerTo(t).Implements(maybeType) }

func isOptional(t reflect.Type) bool { return t.Kind() == reflect.Pointer || isMaybe(t) }

// walks reports whether values of t are converted piecewise rather than handed to the format.
func walks(t reflect.Type) bool {
	switch {
	case isOptional(t), codec.IsComposite(t):
		return true
	case t.Kind() == reflect.Slice || t.Kind() == reflect.Array:
		return t.Elem().Kind() != reflect.Uint8 && walks(t.Elem())
	}
	return false
}

func withPath(path []string, err error) error {
	var pe *codec.PathError
	if errors.As(err, &pe) {
		return err
	}
	return &codec.PathError{Path: append([]string(nil), path...), Err: err}
}

// encode turns an addressable rv into a tree of maps, slices and leaf values.
func (c *Codec) encode(rv reflect.Value, path []string) (any, error) {
	t := rv.Type()

	switch {
	case isMaybe(t):
		m := rv.Addr().Interface().(codec.Maybe)
		if !m.Present() {
			return nil, nil
		}
		return c.encode(reflect.ValueOf(m.ValuePtr()).Elem(), path)

	case t.Kind() == reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return c.encode(rv.Elem(), path)

	case codec.IsComposite(t):
		name, fields, err := codec.FieldsOf(rv.Addr().Interface())
		if err != nil {
			return nil, withPath(path, err)
		}
		obj := make(map[string]any, len(fields))
		for _, f := range fields {
			fv := reflect.ValueOf(f.Value)
			if fv.Kind() != reflect.Pointer || fv.IsNil() {
				return nil, withPath(append(path, name, f.Name), codec.ErrUnsupported)
			}
			v, err := c.encode(fv.Elem(), append(path, name, f.Name))
			if err != nil {
				return nil, err
			}
			obj[f.Name] = v
		}
		return obj, nil

	case walks(t):
		list := make([]any, rv.Len())
		for i := range list {
			v, err := c.encode(rv.Index(i), path)
			if err != nil {
				return nil, err
			}
			list[i] = v
		}
		return list, nil
	}

	if t.Kind() == reflect.Map || t.Kind() == reflect.Chan || t.Kind() == reflect.Func {
		return nil, withPath(path, fmt.Errorf("%w: %s", codec.ErrUnsupported, t))
	}
	return rv.Interface(), nil
}

// decode fills the settable rv from raw.
func (c *Codec) decode(raw []byte, rv reflect.Value, path []string) error {
	if err := c.decodeInto(raw, rv, path); err != nil {
		return err
	}
	if rv.CanAddr() && rv.Addr().Type().Implements(validatorType) {
		if err := rv.Addr().Interface().(codec.Validator).Validate(); err != nil {
			return withPath(path, fmt.Errorf("%w: %w", codec.ErrConstraint, err))
		}
	}
	return nil
}

func (c *Codec) decodeInto(raw []byte, rv reflect.Value, path []string) error {
	t := rv.Type()

	switch {
	case isMaybe(t):
		m := rv.Addr().Interface().(codec.Maybe)
		if c.f.isNull(raw) {
			m.SetPresent(false)
			return nil
		}
		if err := c.decode(raw, reflect.ValueOf(m.ValuePtr()).Elem(), path); err != nil {
			return err
		}
		m.SetPresent(true)
		return nil

	case t.Kind() == reflect.Pointer:
		if c.f.isNull(raw) {
			rv.Set(reflect.Zero(t))
			return nil
		}
		elem := reflect.New(t.Elem())
		if err := c.decode(raw, elem.Elem(), path); err != nil {
			return err
		}
		rv.Set(elem)
		return nil

	case codec.IsComposite(t):
		return c.decodeObject(raw, rv, path)

	case walks(t):
		items, err := c.f.elements(raw)
		if err != nil {
			return withPath(path, fmt.Errorf("%w: %w", codec.ErrDecode, err))
		}
		if t.Kind() == reflect.Array {
			if len(items) != t.Len() {
				return withPath(path, fmt.Errorf("%w: got %d elements for %s", codec.ErrDecode, len(items), t))
			}
			for i, item := range items {
				if err := c.decode(item, rv.Index(i), path); err != nil {
					return err
				}
			}
			return nil
		}
		if len(items) > codec.MaxContainerSize {
			return withPath(path, fmt.Errorf("%w: got %d, limit is %d", codec.ErrContainerTooLarge, len(items), codec.MaxContainerSize))
		}
		s := reflect.MakeSlice(t, len(items), len(items))
		for i, item := range items {
			if err := c.decode(item, s.Index(i), path); err != nil {
				return err
			}
		}
		rv.Set(s)
		return nil
	}

	if err := c.f.unmarshal(raw, rv.Addr().Interface()); err != nil {
		return withPath(path, fmt.Errorf("%w: %w", codec.ErrDecode, err))
	}
	return nil
}

func (c *Codec) decodeObject(raw []byte, rv reflect.Value, path []string) error {
	name, fields, err := codec.FieldsOf(rv.Addr().Interface())
	if err != nil {
		return withPath(path, err)
	}

	members, err := c.f.members(raw)
	if err != nil {
		return withPath(path, fmt.Errorf("%w: %w", codec.ErrDecode, err))
	}

	for _, f := range fields {
		fieldPath := append(path[:len(path):len(path)], name, f.Name)

		fv := reflect.ValueOf(f.Value)
		if fv.Kind() != reflect.Pointer || fv.IsNil() {
			return withPath(fieldPath, codec.ErrUnsupported)
		}
		fv = fv.Elem()

		member, ok := members[f.Name]
		if !ok {
			if err := c.missing(fv, fieldPath); err != nil {
				return err
			}
			continue
		}
		if err := c.decode(member, fv, fieldPath); err != nil {
			return err
		}
	}
	return nil
}

func (c *Codec) missing(fv reflect.Value, path []string) error {
	switch c.Presence {
	case Ignore:
		return nil
	case Error:
		if !isOptional(fv.Type()) {
			return withPath(path, ErrMissingField)
		}
	}
	fv.Set(reflect.Zero(fv.Type()))
	return nil
}
