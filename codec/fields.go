package codec

import (
	"encoding"
	"fmt"
	"reflect"
)

// Field is one named member of a composite. Value must be a non-nil pointer to the member's
// storage so that it can be both encoded and decoded in place.
type Field struct {
	Name  string
	Value any
}

// Reflectable is implemented by composites that enumerate their own fields, in wire order.
// Structs that do not implement it are enumerated by reflection: exported fields in declaration
// order, with `wire:"-"` skipping a field and `wire:"name"` renaming it. An unexported field
// must be skipped explicitly, since its state could not survive the round trip otherwise.
type Reflectable interface {
	Fields() []Field
}

var (
	reflectableType       = reflect.TypeOf((*Reflectable)(nil)).Elem()
	binaryMarshalerType   = reflect.TypeOf((*encoding.BinaryMarshaler)(nil)).Elem()
	binaryUnmarshalerType = reflect.TypeOf((*encoding.BinaryUnmarshaler)(nil)).Elem()
)

// FieldsOf returns the type name and ordered fields of the composite ptr points to.
func FieldsOf(ptr any) (string, []Field, error) {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return "", nil, fmt.Errorf("%w: expected a non-nil pointer, got %T", ErrUnsupported, ptr)
	}
	rv = rv.Elem()
	if !IsComposite(rv.Type()) {
		return "", nil, fmt.Errorf("%w: %s is not a composite", ErrUnsupported, rv.Type())
	}
	fields, err := fieldsOf(rv)
	if err != nil {
		return "", nil, err
	}
	return typeName(rv.Type()), fields, nil
}

// IsComposite reports whether values of t are encoded field by field.
func IsComposite(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer || reflect.PointerTo(t).Implements(marshalerType) {
		return false
	}
	if reflect.PointerTo(t).Implements(reflectableType) {
		return true
	}
	return t.Kind() == reflect.Struct && !isBinary(t)
}

// isBinary reports whether t is sent as its encoding.BinaryMarshaler form, a 32-bit byte count
// followed by the marshaled bytes. Reflectable takes precedence.
func isBinary(t reflect.Type) bool {
	pt := reflect.PointerTo(t)
	return pt.Implements(binaryMarshalerType) && pt.Implements(binaryUnmarshalerType) &&
		!pt.Implements(reflectableType)
}

// fieldsOf expects an addressable composite value.
func fieldsOf(rv reflect.Value) ([]Field, error) {
	if r, ok := rv.Addr().Interface().(Reflectable); ok {
		return r.Fields(), nil
	}

	t := rv.Type()
	fields := make([]Field, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag, tagged := sf.Tag.Lookup("wire")
		if tagged && tag == "-" {
			continue
		}
		if !sf.IsExported() {
			return nil, fmt.Errorf("%w: %s has unexported field %s; tag it `wire:\"-\"` or implement Reflectable",
				ErrUnsupported, typeName(t), sf.Name)
		}
		name := sf.Name
		if tag != "" {
			name = tag
		}
		fields = append(fields, Field{Name: name, Value: rv.Field(i).Addr().Interface()})
	}
	return fields, nil
}

func fieldValue(f Field) (reflect.Value, error) {
	rv := reflect.ValueOf(f.Value)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return reflect.Value{}, fmt.Errorf("%w: field value must be a non-nil pointer, got %T", ErrUnsupported, f.Value)
	}
	return rv.Elem(), nil
}

func typeName(t reflect.Type) string {
	if name := t.Name(); name != "" {
		return name
	}
	return t.String()
}
