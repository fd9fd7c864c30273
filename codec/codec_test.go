package codec

import (
	"errors"
	"math"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type point struct {
	X int32
	Y int32
}

type everything struct {
	Bool  bool
	I8    int8
	I16   int16
	I32   int32
	I64   int64
	Int   int
	U8    uint8
	U16   uint16
	U32   uint32
	U64   uint64
	F32   float32
	F64   float64
	Name  string
	Tags  []string
	Raw   []byte
	Grid  [3]uint16
	Path  []point
	Maybe *point
	Note  Optional[string]
	Sized SizedString

	hidden  int    `wire:"-"`
	Ignored string `wire:"-"`
}

type ping struct {
	Nonce uint64
}

func (p *ping) Fields() []Field { return []Field{{Name: "nonce", Value: &p.Nonce}} }

type nickname string

func (n nickname) Validate() error {
	return Satisfies(len(n), MinSize(1), MaxSize(8))
}

type profile struct {
	ID   uint32
	Nick nickname
}

type account struct {
	Owner profile
}

type pin [4]byte

func (p pin) Validate() error {
	return Satisfies(len(strings.TrimRight(string(p[:]), "\x00")), ExactSize(4))
}

type handle struct {
	Name string
}

func (h *handle) Validate() error { return Satisfies(len(h.Name), SizeRange(2, 4)) }

type opaque struct {
	secret uint64
}

type event struct {
	Name string
	At   time.Time
}

func TestRoundTripEverything(t *testing.T) {
	in := everything{
		Bool:  true,
		I8:    -8,
		I16:   -1600,
		I32:   -320000,
		I64:   math.MinInt64,
		Int:   -42,
		U8:    8,
		U16:   1600,
		U32:   320000,
		U64:   math.MaxUint64,
		F32:   3.25,
		F64:   -1e300,
		Name:  "carlo",
		Tags:  []string{"", "a", "bc"},
		Raw:   []byte{0, 1, 2, 0},
		Grid:  [3]uint16{1, 2, 3},
		Path:  []point{{1, 2}, {-3, -4}},
		Maybe: &point{X: 7, Y: 8},
		Note:  Some("note"),
		Sized: SizedString("with\x00zero"),
	}

	buf, err := Marshal(&in)
	require.NoError(t, err)

	var out everything
	require.NoError(t, Unmarshal(buf, &out))
	require.Equal(t, in, out)

	in.hidden = 1
	in.Ignored = "ignored"
	again, err := Marshal(in)
	require.NoError(t, err)
	require.EqualValues(t, buf, again, "unexported and skipped fields must not reach the wire")
}

func TestReflectableFields(t *testing.T) {
	buf, err := Marshal(&ping{Nonce: 42})
	require.NoError(t, err)
	require.EqualValues(t, []byte{0, 0, 0, 0, 0, 0, 0, 42}, buf)

	var out ping
	require.NoError(t, Unmarshal(buf, &out))
	require.EqualValues(t, 42, out.Nonce)

	name, fields, err := FieldsOf(&out)
	require.NoError(t, err)
	require.Equal(t, "ping", name)
	require.Len(t, fields, 1)
	require.Equal(t, "nonce", fields[0].Name)
}

func TestScalarsAreBigEndian(t *testing.T) {
	buf, err := Marshal(uint32(1), int16(-2), true)
	require.NoError(t, err)
	require.EqualValues(t, []byte{0, 0, 0, 1, 0xFF, 0xFE, 1}, buf)
}

func TestStrings(t *testing.T) {
	buf, err := Marshal("")
	require.NoError(t, err)
	require.EqualValues(t, []byte{0}, buf)

	var s string
	require.NoError(t, Unmarshal(buf, &s))
	require.Equal(t, "", s)

	buf, err = Marshal("hello")
	require.NoError(t, err)
	require.EqualValues(t, []byte("hello\x00"), buf)
	require.NoError(t, Unmarshal(buf, &s))
	require.Equal(t, "hello", s)

	_, err = Marshal("a\x00b")
	require.ErrorIs(t, err, ErrEmbeddedTerminator)
	require.ErrorIs(t, err, ErrEncode)

	err = Unmarshal([]byte("no terminator"), &s)
	require.ErrorIs(t, err, ErrOutOfData)
}

func TestSizedStringHasNoTerminator(t *testing.T) {
	buf, err := Marshal(SizedString("a\x00b"))
	require.NoError(t, err)
	require.EqualValues(t, []byte{0, 0, 0, 3, 'a', 0, 'b'}, buf)

	var out SizedString
	r := NewReadStream(append(buf, 0xEE))
	require.NoError(t, Read(r, &out))
	require.EqualValues(t, "a\x00b", out)
	require.EqualValues(t, 1, r.Remaining(), "exactly the declared bytes are consumed")
}

func TestFixedArrayHasNoCount(t *testing.T) {
	buf, err := Marshal([4]byte{9, 8, 7, 6})
	require.NoError(t, err)
	require.EqualValues(t, []byte{9, 8, 7, 6}, buf)

	var out [2]uint16
	r := NewReadStream([]byte{0, 1, 0, 2, 0, 3})
	require.NoError(t, Read(r, &out))
	require.Equal(t, [2]uint16{1, 2}, out)
	require.EqualValues(t, 2, r.Remaining())
}

func TestContainerSizeCeiling(t *testing.T) {
	w := NewWriteStream()
	defer w.Release()
	w.WriteUint32(MaxContainerSize + 1)
	buf := append([]byte(nil), w.Bytes()...)

	var out []uint64
	err := Unmarshal(buf, &out)
	require.ErrorIs(t, err, ErrContainerTooLarge)
	require.ErrorIs(t, err, ErrDecode)
	require.Nil(t, out)

	allocs := testing.AllocsPerRun(10, func() {
		var out []uint64
		_ = Unmarshal(buf, &out)
	})
	require.Less(t, allocs, float64(16))
}

func TestContainerSizeIsNotTrustedForAllocation(t *testing.T) {
	w := NewWriteStream()
	defer w.Release()
	w.WriteUint32(MaxContainerSize)
	w.WriteUint64(1)
	buf := append([]byte(nil), w.Bytes()...)

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)

	var out []uint64
	err := Unmarshal(buf, &out)

	runtime.ReadMemStats(&after)

	require.ErrorIs(t, err, ErrOutOfData)
	require.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(MaxContainerSize))
}

func TestOptionalAtEndOfStreamIsAbsent(t *testing.T) {
	type message struct {
		ID    uint32
		Ptr   *uint32
		Label Optional[string]
	}

	buf, err := Marshal(uint32(5))
	require.NoError(t, err)

	out := message{Label: Some("stale")}
	require.NoError(t, Unmarshal(buf, &out))
	require.EqualValues(t, 5, out.ID)
	require.Nil(t, out.Ptr)
	require.False(t, out.Label.Valid)

	v := uint32(9)
	in := message{ID: 1, Ptr: &v, Label: Some("x")}
	buf, err = Marshal(&in)
	require.NoError(t, err)

	var round message
	require.NoError(t, Unmarshal(buf, &round))
	require.Equal(t, in, round)

	in = message{ID: 2}
	buf, err = Marshal(&in)
	require.NoError(t, err)
	require.EqualValues(t, []byte{0, 0, 0, 2, 0, 0}, buf)
}

func TestConstraintViolationCarriesFieldPath(t *testing.T) {
	buf, err := Marshal(&account{Owner: profile{ID: 1, Nick: ""}})
	require.NoError(t, err, "encoding never validates")

	var out account
	err = Unmarshal(buf, &out)
	require.ErrorIs(t, err, ErrConstraint)

	var pe *PathError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, []string{"account", "Owner", "profile", "Nick"}, pe.Path)
	require.Contains(t, err.Error(), "account.Owner.profile.Nick")

	buf, err = Marshal(&account{Owner: profile{ID: 1, Nick: "osdever"}})
	require.NoError(t, err)
	require.NoError(t, Unmarshal(buf, &out))
	require.EqualValues(t, "osdever", out.Owner.Nick)

	buf, err = Marshal(&account{Owner: profile{ID: 1, Nick: "far too long"}})
	require.NoError(t, err)
	require.ErrorIs(t, Unmarshal(buf, &out), ErrConstraint)
}

func TestTruncatedFieldCarriesPath(t *testing.T) {
	buf, err := Marshal(&ping{Nonce: 1})
	require.NoError(t, err)

	var out ping
	err = Unmarshal(buf[:5], &out)
	require.ErrorIs(t, err, ErrOutOfData)

	var pe *PathError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, []string{"ping", "nonce"}, pe.Path)
}

func TestUnsupportedTypes(t *testing.T) {
	_, err := Marshal(map[string]int{"a": 1})
	require.ErrorIs(t, err, ErrUnsupported)

	var n int
	require.ErrorIs(t, Unmarshal([]byte{0}, n), ErrUnsupported)

	var p *ping
	_, err = Marshal(p)
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestAppendExtendsDestination(t *testing.T) {
	dst := []byte{0xAA}
	out, err := Append(dst, uint16(7), "x")
	require.NoError(t, err)
	require.EqualValues(t, []byte{0xAA, 0, 7, 'x', 0}, out)

	out, err = Append(dst, "a\x00")
	require.ErrorIs(t, err, ErrEmbeddedTerminator)
	require.EqualValues(t, []byte{0xAA}, out)
}

func TestSizeRules(t *testing.T) {
	var p pin
	require.NoError(t, Unmarshal([]byte("1234"), &p))
	require.ErrorIs(t, Unmarshal([]byte{'1', '2', 0, 0}, &p), ErrConstraint)

	for name, ok := range map[string]bool{"a": false, "ab": true, "abcd": true, "abcde": false} {
		buf, err := Marshal(&handle{Name: name})
		require.NoError(t, err)

		var out handle
		err = Unmarshal(buf, &out)
		if ok {
			require.NoError(t, err, name)
			require.Equal(t, name, out.Name)
		} else {
			require.ErrorIs(t, err, ErrConstraint, name)
			require.Contains(t, err.Error(), "size must be within [2, 4]")
		}
	}
}

func TestUnexportedStateIsNotSilentlyDropped(t *testing.T) {
	_, err := Marshal(opaque{secret: 7})
	require.ErrorIs(t, err, ErrUnsupported)
	require.Contains(t, err.Error(), "secret")

	var out opaque
	require.ErrorIs(t, Unmarshal([]byte{0, 0, 0, 0, 0, 0, 0, 7}, &out), ErrUnsupported)

	_, _, err = FieldsOf(&out)
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestBinaryMarshalerRoundTrip(t *testing.T) {
	in := event{Name: "x", At: time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)}

	buf, err := Marshal(&in)
	require.NoError(t, err)

	at, err := in.At.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, buf, 2+4+len(at))

	var out event
	require.NoError(t, Unmarshal(buf, &out))
	require.Equal(t, in.Name, out.Name)
	require.True(t, in.At.Equal(out.At))

	require.ErrorIs(t, Unmarshal(append(buf[:2:2], 0, 0, 0, 1, 0xFF), &out), ErrDecode)
}

func TestEncodeRefusesOversizedContainers(t *testing.T) {
	_, err := Marshal(make([]uint16, MaxContainerSize+1))
	require.ErrorIs(t, err, ErrEncode)

	_, err = Marshal(make([]byte, MaxContainerSize+1))
	require.ErrorIs(t, err, ErrEncode)

	_, err = Marshal(SizedString(strings.Repeat("a", MaxContainerSize+1)))
	require.ErrorIs(t, err, ErrEncode)

	buf, err := Marshal(make([]uint16, MaxContainerSize))
	require.NoError(t, err)
	var out []uint16
	require.NoError(t, Unmarshal(buf, &out))
	require.Len(t, out, MaxContainerSize)

	buf, err = Marshal(SizedString(strings.Repeat("a", MaxContainerSize)))
	require.NoError(t, err)
	var s SizedString
	require.NoError(t, Unmarshal(buf, &s))
	require.Len(t, s, MaxContainerSize)
}
