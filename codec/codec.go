package codec

import (
	"encoding"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/valyala/bytebufferpool"
)

// MaxContainerSize is the largest element count accepted for a size-prefixed container.
const MaxContainerSize = 65536

// Marshaler is implemented by types that encode themselves.
type Marshaler interface {
	MarshalWire(w *WriteStream) error
}

// Unmarshaler is implemented by types that decode themselves.
type Unmarshaler interface {
	UnmarshalWire(r *ReadStream) error
}

var marshalerType = reflect.TypeOf((*Marshaler)(nil)).Elem()

// Marshal encodes vs back to back and returns a copy of the resulting bytes.
func Marshal(vs ...any) ([]byte, error) {
	w := NewWriteStream()
	defer w.Release()

	for _, v := range vs {
		if err := Write(w, v); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, w.Len())
	copy(buf, w.Bytes())
	return buf, nil
}

// Append encodes vs onto the end of dst and returns the extended slice. On failure dst is
// returned unchanged.
func Append(dst []byte, vs ...any) ([]byte, error) {
	w := &WriteStream{buf: &bytebufferpool.ByteBuffer{B: dst}}
	for _, v := range vs {
		if err := Write(w, v); err != nil {
			return dst, err
		}
	}
	return w.buf.B, nil
}

// Unmarshal decodes buf into ptrs in order. Trailing bytes are not an error.
func Unmarshal(buf []byte, ptrs ...any) error {
	r := NewReadStream(buf)
	for _, ptr := range ptrs {
		if err := Read(r, ptr); err != nil {
			return err
		}
	}
	return nil
}

// Write encodes v onto w. A pointer passed at the top level is dereferenced once; pointers
// nested inside composites are encoded as optionals.
func Write(w *WriteStream, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return fmt.Errorf("%w: nil %s", ErrUnsupported, rv.Type())
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return fmt.Errorf("%w: nil value", ErrUnsupported)
	}
	return encodeValue(w, rv)
}

// Read decodes the next value from r into ptr, which must be a non-nil pointer.
func Read(r *ReadStream, ptr any) error {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: read target must be a non-nil pointer, got %T", ErrUnsupported, ptr)
	}
	return decodeValue(r, rv.Elem())
}

func addressable(rv reflect.Value) reflect.Value {
	if rv.CanAddr() {
		return rv
	}
	p := reflect.New(rv.Type())
	p.Elem().Set(rv)
	return p.Elem()
}

func encodeValue(w *WriteStream, rv reflect.Value) error {
	if rv.Kind() == reflect.Pointer {
		return encodeOptional(w, rv)
	}

	if rv.Type().Implements(marshalerType) {
		return rv.Interface().(Marshaler).MarshalWire(w)
	}
	if reflect.PointerTo(rv.Type()).Implements(marshalerType) {
		return addressable(rv).Addr().Interface().(Marshaler).MarshalWire(w)
	}

	if isBinary(rv.Type()) {
		return encodeBinary(w, addressable(rv))
	}
	if IsComposite(rv.Type()) {
		return encodeObject(w, addressable(rv))
	}

	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			w.WriteUint8(1)
		} else {
			w.WriteUint8(0)
		}
	case reflect.Int8:
		w.WriteUint8(uint8(rv.Int()))
	case reflect.Int16:
		w.WriteUint16(uint16(rv.Int()))
	case reflect.Int32:
		w.WriteUint32(uint32(rv.Int()))
	case reflect.Int64, reflect.Int:
		w.WriteUint64(uint64(rv.Int()))
	case reflect.Uint8:
		w.WriteUint8(uint8(rv.Uint()))
	case reflect.Uint16:
		w.WriteUint16(uint16(rv.Uint()))
	case reflect.Uint32:
		w.WriteUint32(uint32(rv.Uint()))
	case reflect.Uint64, reflect.Uint, reflect.Uintptr:
		w.WriteUint64(rv.Uint())
	case reflect.Float32:
		w.WriteUint32(math.Float32bits(float32(rv.Float())))
	case reflect.Float64:
		w.WriteUint64(math.Float64bits(rv.Float()))
	case reflect.String:
		s := rv.String()
		if strings.IndexByte(s, 0) >= 0 {
			return ErrEmbeddedTerminator
		}
		w.WriteBytes([]byte(s))
		w.WriteUint8(0)
	case reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := encodeValue(w, rv.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Slice:
		if err := writeContainerSize(w, rv.Len()); err != nil {
			return err
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			w.WriteBytes(rv.Bytes())
			return nil
		}
		for i := 0; i < rv.Len(); i++ {
			if err := encodeValue(w, rv.Index(i)); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, rv.Type())
	}

	return nil
}

func encodeOptional(w *WriteStream, rv reflect.Value) error {
	if rv.IsNil() {
		w.WriteUint8(0)
		return nil
	}
	w.WriteUint8(1)
	return encodeValue(w, rv.Elem())
}

func encodeBinary(w *WriteStream, rv reflect.Value) error {
	b, err := rv.Addr().Interface().(encoding.BinaryMarshaler).MarshalBinary()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}
	if err := writeContainerSize(w, len(b)); err != nil {
		return err
	}
	w.WriteBytes(b)
	return nil
}

func encodeObject(w *WriteStream, rv reflect.Value) error {
	name := typeName(rv.Type())
	fields, err := fieldsOf(rv)
	if err != nil {
		return err
	}
	for _, f := range fields {
		fv, err := fieldValue(f)
		if err == nil {
			err = encodeValue(w, fv)
		}
		if err != nil {
			return annotate(err, name, f.Name)
		}
	}
	return nil
}

// decodeValue decodes into rv, which must be settable.
func decodeValue(r *ReadStream, rv reflect.Value) error {
	if err := decodeInto(r, rv); err != nil {
		return err
	}
	if v, ok := rv.Addr().Interface().(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrConstraint, err)
		}
	}
	return nil
}

func decodeInto(r *ReadStream, rv reflect.Value) error {
	if rv.Kind() == reflect.Pointer {
		return decodeOptional(r, rv)
	}

	if u, ok := rv.Addr().Interface().(Unmarshaler); ok {
		return u.UnmarshalWire(r)
	}

	if isBinary(rv.Type()) {
		return decodeBinary(r, rv)
	}
	if IsComposite(rv.Type()) {
		return decodeObject(r, rv)
	}

	switch rv.Kind() {
	case reflect.Bool:
		v, err := r.ReadUint8()
		if err != nil {
			return err
		}
		rv.SetBool(v != 0)
	case reflect.Int8:
		v, err := r.ReadUint8()
		if err != nil {
			return err
		}
		rv.SetInt(int64(int8(v)))
	case reflect.Int16:
		v, err := r.ReadUint16()
		if err != nil {
			return err
		}
		rv.SetInt(int64(int16(v)))
	case reflect.Int32:
		v, err := r.ReadUint32()
		if err != nil {
			return err
		}
		rv.SetInt(int64(int32(v)))
	case reflect.Int64, reflect.Int:
		v, err := r.ReadUint64()
		if err != nil {
			return err
		}
		rv.SetInt(int64(v))
	case reflect.Uint8:
		v, err := r.ReadUint8()
		if err != nil {
			return err
		}
		rv.SetUint(uint64(v))
	case reflect.Uint16:
		v, err := r.ReadUint16()
		if err != nil {
			return err
		}
		rv.SetUint(uint64(v))
	case reflect.Uint32:
		v, err := r.ReadUint32()
		if err != nil {
			return err
		}
		rv.SetUint(uint64(v))
	case reflect.Uint64, reflect.Uint, reflect.Uintptr:
		v, err := r.ReadUint64()
		if err != nil {
			return err
		}
		rv.SetUint(v)
	case reflect.Float32:
		v, err := r.ReadUint32()
		if err != nil {
			return err
		}
		rv.SetFloat(float64(math.Float32frombits(v)))
	case reflect.Float64:
		v, err := r.ReadUint64()
		if err != nil {
			return err
		}
		rv.SetFloat(math.Float64frombits(v))
	case reflect.String:
		b, err := r.ReadTerminated(0)
		if err != nil {
			return err
		}
		rv.SetString(string(b))
	case reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := decodeValue(r, rv.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Slice:
		return decodeSlice(r, rv)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, rv.Type())
	}

	return nil
}

func decodeOptional(r *ReadStream, rv reflect.Value) error {
	// Trailing optionals may be elided entirely by older peers.
	if !r.CanRead(1) {
		rv.Set(reflect.Zero(rv.Type()))
		return nil
	}
	has, err := r.ReadUint8()
	if err != nil {
		return err
	}
	if has == 0 {
		rv.Set(reflect.Zero(rv.Type()))
		return nil
	}
	elem := reflect.New(rv.Type().Elem())
	if err := decodeValue(r, elem.Elem()); err != nil {
		return err
	}
	rv.Set(elem)
	return nil
}

func decodeSlice(r *ReadStream, rv reflect.Value) error {
	size, err := readContainerSize(r)
	if err != nil {
		return err
	}

	if rv.Type().Elem().Kind() == reflect.Uint8 {
		b, err := r.ReadBytes(size)
		if err != nil {
			return err
		}
		s := reflect.MakeSlice(rv.Type(), size, size)
		copy(s.Bytes(), b)
		rv.Set(s)
		return nil
	}

	// Never trust the declared count for allocation: cap it by what the stream could hold.
	capacity := size
	if rem := r.Remaining(); capacity > rem {
		capacity = rem
	}
	s := reflect.MakeSlice(rv.Type(), 0, capacity)
	for i := 0; i < size; i++ {
		elem := reflect.New(rv.Type().Elem()).Elem()
		if err := decodeValue(r, elem); err != nil {
			return err
		}
		s = reflect.Append(s, elem)
	}
	rv.Set(s)
	return nil
}

// writeContainerSize refuses counts a peer would reject on decode.
func writeContainerSize(w *WriteStream, n int) error {
	if n > MaxContainerSize {
		return fmt.Errorf("%w: %d elements exceed the container limit of %d", ErrEncode, n, MaxContainerSize)
	}
	w.WriteUint32(uint32(n))
	return nil
}

func readContainerSize(r *ReadStream) (int, error) {
	size, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	if size > MaxContainerSize {
		return 0, fmt.Errorf("%w: got %d, limit is %d", ErrContainerTooLarge, size, MaxContainerSize)
	}
	return int(size), nil
}

func decodeBinary(r *ReadStream, rv reflect.Value) error {
	size, err := readContainerSize(r)
	if err != nil {
		return err
	}
	b, err := r.ReadBytes(size)
	if err != nil {
		return err
	}
	if err := rv.Addr().Interface().(encoding.BinaryUnmarshaler).UnmarshalBinary(append([]byte(nil), b...)); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}

func decodeObject(r *ReadStream, rv reflect.Value) error {
	name := typeName(rv.Type())
	fields, err := fieldsOf(rv)
	if err != nil {
		return err
	}
	for _, f := range fields {
		fv, err := fieldValue(f)
		if err == nil {
			err = decodeValue(r, fv)
		}
		if err != nil {
			return annotate(err, name, f.Name)
		}
	}
	return nil
}
