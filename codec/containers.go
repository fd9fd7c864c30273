package codec

// SizedString is a string sent with a 32-bit byte count instead of a terminator. It may carry
// any bytes, including zeros.
type SizedString string

func (s SizedString) MarshalWire(w *WriteStream) error {
	if err := writeContainerSize(w, len(s)); err != nil {
		return err
	}
	w.WriteBytes([]byte(s))
	return nil
}

func (s *SizedString) UnmarshalWire(r *ReadStream) error {
	size, err := readContainerSize(r)
	if err != nil {
		return err
	}
	b, err := r.ReadBytes(size)
	if err != nil {
		return err
	}
	*s = SizedString(b)
	return nil
}

// Optional is a value that may be absent. It is encoded as a presence byte followed by the
// value when present.
type Optional[T any] struct {
	Value T
	Valid bool
}

func Some[T any](v T) Optional[T] { return Optional[T]{Value: v, Valid: true} }
func None[T any]() Optional[T]    { return Optional[T]{} }

func (o Optional[T]) Get() (T, bool) { return o.Value, o.Valid }

// Maybe is implemented by *Optional[T] for every T, for encoders that handle optionals without
// knowing T.
type Maybe interface {
	Present() bool
	SetPresent(present bool)
	ValuePtr() any
}

func (o *Optional[T]) Present() bool { return o.Valid }
func (o *Optional[T]) ValuePtr() any { return &o.Value }

// SetPresent marks the value present or absent. Marking it absent also zeroes it.
func (o *Optional[T]) SetPresent(present bool) {
	if !present {
		*o = Optional[T]{}
		return
	}
	o.Valid = true
}

func (o *Optional[T]) MarshalWire(w *WriteStream) error {
	if !o.Valid {
		w.WriteUint8(0)
		return nil
	}
	w.WriteUint8(1)
	return Write(w, &o.Value)
}

// UnmarshalWire treats an exhausted stream as an absent value.
func (o *Optional[T]) UnmarshalWire(r *ReadStream) error {
	*o = Optional[T]{}
	if !r.CanRead(1) {
		return nil
	}
	has, err := r.ReadUint8()
	if err != nil {
		return err
	}
	if has == 0 {
		return nil
	}
	if err := Read(r, &o.Value); err != nil {
		return err
	}
	o.Valid = true
	return nil
}
