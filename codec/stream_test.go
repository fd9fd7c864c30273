package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamRoundTrip(t *testing.T) {
	w := NewWriteStream()
	defer w.Release()

	w.WriteUint8(0xAB)
	w.WriteUint16(0x0102)
	w.WriteUint32(0x03040506)
	w.WriteUint64(0x0708090A0B0C0D0E)
	w.WriteBytes([]byte("xyz"))

	require.EqualValues(t, 1+2+4+8+3, w.Len())
	require.EqualValues(t, []byte{0x01, 0x02}, w.Bytes()[1:3])

	r := NewReadStream(w.Bytes())

	u8, err := r.ReadUint8()
	require.NoError(t, err)
	require.EqualValues(t, 0xAB, u8)

	u16, err := r.ReadUint16()
	require.NoError(t, err)
	require.EqualValues(t, 0x0102, u16)

	u32, err := r.ReadUint32()
	require.NoError(t, err)
	require.EqualValues(t, 0x03040506, u32)

	u64, err := r.ReadUint64()
	require.NoError(t, err)
	require.EqualValues(t, uint64(0x0708090A0B0C0D0E), u64)

	require.True(t, r.CanRead(3))
	require.False(t, r.CanRead(4))

	b, err := r.ReadBytes(3)
	require.NoError(t, err)
	require.EqualValues(t, "xyz", string(b))
	require.Zero(t, r.Remaining())
}

func TestReadStreamOutOfData(t *testing.T) {
	r := NewReadStream([]byte{1, 2, 3})

	_, err := r.ReadUint32()
	require.ErrorIs(t, err, ErrOutOfData)
	require.ErrorIs(t, err, ErrDecode)
	require.Zero(t, r.Position(), "a failed read must not move the cursor")

	_, err = r.ReadUint16()
	require.NoError(t, err)
	require.EqualValues(t, 2, r.Position())

	_, err = r.ReadTerminated(0)
	require.ErrorIs(t, err, ErrOutOfData)
	require.EqualValues(t, 2, r.Position())
}
