package codec

import (
	"bytes"

	"github.com/lithdew/bytesutil"
	"github.com/valyala/bytebufferpool"
)

// WriteStream is an append-only byte accumulator. Bytes come out in the order they were written.
type WriteStream struct {
	buf *bytebufferpool.ByteBuffer
}

func NewWriteStream() *WriteStream {
	return &WriteStream{buf: bytebufferpool.Get()}
}

// Release hands the underlying buffer back to the pool. The stream must not be used afterwards.
func (w *WriteStream) Release() {
	if w.buf == nil {
		return
	}
	bytebufferpool.Put(w.buf)
	w.buf = nil
}

func (w *WriteStream) Bytes() []byte { return w.buf.B }
func (w *WriteStream) Len() int      { return len(w.buf.B) }

func (w *WriteStream) WriteUint8(v uint8)   { w.buf.B = append(w.buf.B, v) }
func (w *WriteStream) WriteUint16(v uint16) { w.buf.B = bytesutil.AppendUint16BE(w.buf.B, v) }
func (w *WriteStream) WriteUint32(v uint32) { w.buf.B = bytesutil.AppendUint32BE(w.buf.B, v) }
func (w *WriteStream) WriteUint64(v uint64) { w.buf.B = bytesutil.AppendUint64BE(w.buf.B, v) }

func (w *WriteStream) WriteBytes(b []byte) { w.buf.B = append(w.buf.B, b...) }

// ReadStream is a forward-only cursor over a fixed byte range.
type ReadStream struct {
	buf []byte
	pos int
}

func NewReadStream(buf []byte) *ReadStream {
	return &ReadStream{buf: buf}
}

func (r *ReadStream) Position() int  { return r.pos }
func (r *ReadStream) Remaining() int { return len(r.buf) - r.pos }

// CanRead reports whether at least n more bytes are available.
func (r *ReadStream) CanRead(n int) bool { return n >= 0 && r.Remaining() >= n }

// ReadBytes consumes exactly n bytes. The returned slice aliases the stream's buffer.
func (r *ReadStream) ReadBytes(n int) ([]byte, error) {
	if !r.CanRead(n) {
		return nil, ErrOutOfData
	}
	b := r.buf[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *ReadStream) ReadUint8() (uint8, error) {
	if !r.CanRead(1) {
		return 0, ErrOutOfData
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *ReadStream) ReadUint16() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return bytesutil.Uint16BE(b), nil
}

func (r *ReadStream) ReadUint32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return bytesutil.Uint32BE(b), nil
}

func (r *ReadStream) ReadUint64() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return bytesutil.Uint64BE(b), nil
}

// ReadTerminated consumes bytes up to and including the first occurrence of term, returning
// everything before it. If the stream runs out before term is found, nothing is consumed.
func (r *ReadStream) ReadTerminated(term byte) ([]byte, error) {
	i := bytes.IndexByte(r.buf[r.pos:], term)
	if i < 0 {
		return nil, ErrOutOfData
	}
	b := r.buf[r.pos : r.pos+i : r.pos+i]
	r.pos += i + 1
	return b, nil
}
