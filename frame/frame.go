// Package frame implements length-prefixed message framing.
//
// A frame is a length prefix of Prefix.Size bytes (big-endian, passed through the prefix's
// transform hooks) followed by exactly that many payload bytes.
package frame

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/lithdew/bytesutil"
)

var (
	ErrTransport = errors.New("frame: transport failure")
	ErrFraming   = fmt.Errorf("%w: invalid length prefix", ErrTransport)
)

// Transform rewrites a length on its way out or in. Returning an error rejects the frame.
type Transform func(n uint64) (uint64, error)

type Prefix struct {
	Size int       // width of the length prefix in bytes: 1, 2, 4 or 8
	Out  Transform // applied before the length is written; nil is identity
	In   Transform // applied after the length is read; nil is identity
}

func DefaultPrefix() Prefix { return Prefix{Size: 4} }

// Limit returns an inbound transform rejecting lengths above max.
func Limit(max uint64) Transform {
	return func(n uint64) (uint64, error) {
		if n > max {
			return 0, fmt.Errorf("length %d exceeds limit of %d bytes", n, max)
		}
		return n, nil
	}
}

func (p Prefix) max() uint64 {
	switch p.Size {
	case 1:
		return math.MaxUint8
	case 2:
		return math.MaxUint16
	case 4:
		return math.MaxUint32
	default:
		return math.MaxUint64
	}
}

func (p Prefix) validate() error {
	switch p.Size {
	case 1, 2, 4, 8:
		return nil
	}
	return fmt.Errorf("%w: unsupported prefix size %d", ErrFraming, p.Size)
}

// AppendLength appends the transformed length prefix for a payload of n bytes.
func (p Prefix) AppendLength(dst []byte, n int) ([]byte, error) {
	if err := p.validate(); err != nil {
		return dst, err
	}

	size := uint64(n)
	if p.Out != nil {
		var err error
		if size, err = p.Out(size); err != nil {
			return dst, fmt.Errorf("%w: %w", ErrFraming, err)
		}
	}
	if size > p.max() {
		return dst, fmt.Errorf("%w: length %d does not fit in %d bytes", ErrFraming, size, p.Size)
	}

	switch p.Size {
	case 1:
		dst = append(dst, uint8(size))
	case 2:
		dst = bytesutil.AppendUint16BE(dst, uint16(size))
	case 4:
		dst = bytesutil.AppendUint32BE(dst, uint32(size))
	case 8:
		dst = bytesutil.AppendUint64BE(dst, size)
	}
	return dst, nil
}

// ParseLength decodes and transforms a length prefix. b must hold exactly Size bytes.
func (p Prefix) ParseLength(b []byte) (int, error) {
	if err := p.validate(); err != nil {
		return 0, err
	}
	if len(b) != p.Size {
		return 0, fmt.Errorf("%w: got %d prefix bytes, want %d", ErrFraming, len(b), p.Size)
	}

	var size uint64
	switch p.Size {
	case 1:
		size = uint64(b[0])
	case 2:
		size = uint64(bytesutil.Uint16BE(b))
	case 4:
		size = uint64(bytesutil.Uint32BE(b))
	case 8:
		size = bytesutil.Uint64BE(b)
	}

	if p.In != nil {
		var err error
		if size, err = p.In(size); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrFraming, err)
		}
	}
	if size > math.MaxInt {
		return 0, fmt.Errorf("%w: length %d is not addressable", ErrFraming, size)
	}
	return int(size), nil
}

// Send writes the length prefix and then the payload. If the prefix cannot be written, the
// payload is not attempted.
func Send(w io.Writer, p Prefix, payload []byte) error {
	var scratch [8]byte
	hdr, err := p.AppendLength(scratch[:0], len(payload))
	if err != nil {
		return err
	}

	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("%w: writing length: %w", ErrTransport, err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("%w: writing payload: %w", ErrTransport, err)
	}
	return nil
}

// Receive reads one frame and returns its payload in a freshly allocated buffer that the
// caller owns.
func Receive(r io.Reader, p Prefix) ([]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	var scratch [8]byte
	if _, err := io.ReadFull(r, scratch[:p.Size]); err != nil {
		return nil, fmt.Errorf("%w: reading length: %w", ErrTransport, err)
	}

	size, err := p.ParseLength(scratch[:p.Size])
	if err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: reading %d byte payload: %w", ErrTransport, size, err)
	}
	return buf, nil
}

// ReceiveLoop receives frames until fn returns false or the reader fails. A failure is handed
// to fn exactly once, with a nil buffer, and ends the loop.
func ReceiveLoop(r io.Reader, p Prefix, fn func(buf []byte, err error) bool) {
	for {
		buf, err := Receive(r, p)
		if err != nil {
			fn(nil, err)
			return
		}
		if !fn(buf, nil) {
			return
		}
	}
}

// AppendFrame appends a whole frame to dst. Datagrams carry their frame in a single packet.
func AppendFrame(dst []byte, p Prefix, payload []byte) ([]byte, error) {
	dst, err := p.AppendLength(dst, len(payload))
	if err != nil {
		return dst, err
	}
	return append(dst, payload...), nil
}

// Unwrap returns the payload of a frame held entirely in packet.
func Unwrap(p Prefix, packet []byte) ([]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if len(packet) < p.Size {
		return nil, fmt.Errorf("%w: packet of %d bytes is shorter than its prefix", ErrFraming, len(packet))
	}
	size, err := p.ParseLength(packet[:p.Size])
	if err != nil {
		return nil, err
	}
	body := packet[p.Size:]
	if size > len(body) {
		return nil, fmt.Errorf("%w: declared %d bytes, packet holds %d", ErrFraming, size, len(body))
	}
	return body[:size], nil
}
