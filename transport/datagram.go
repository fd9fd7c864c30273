package transport

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/TheSmallBoat/wirenet/codec"
	"github.com/TheSmallBoat/wirenet/frame"
	"github.com/TheSmallBoat/wirenet/reactor"
)

// DefaultReadSize fits any UDP payload.
const DefaultReadSize = 65535

type DatagramOptions struct {
	// Prefix frames every datagram. A zero Size selects frame.DefaultPrefix.
	Prefix frame.Prefix

	// OnPacket receives every inbound datagram, prefix included, on a reactor worker. buf is
	// owned by the callee and holds exactly n bytes.
	OnPacket func(from net.Addr, buf []byte, n int)

	// ReadSize bounds the size of a received datagram. Zero selects DefaultReadSize.
	ReadSize int

	Logger *zap.Logger
}

// DatagramConn wraps one bound packet socket shared by any number of remote peers. Sends are
// best effort: each is one datagram, with no ordering or delivery guarantee across sends.
//
// The receive loop runs until the socket is closed. Other read errors are logged and the loop
// keeps going.
type DatagramConn struct {
	pc     net.PacketConn
	r      *reactor.Reactor
	prefix frame.Prefix
	log    *zap.Logger

	onPacket func(net.Addr, []byte, int)
	scratch  []byte

	receiving atomic.Bool
}

func NewDatagramConn(pc net.PacketConn, r *reactor.Reactor, opts DatagramOptions) *DatagramConn {
	if opts.Prefix.Size == 0 {
		opts.Prefix = frame.DefaultPrefix()
	}
	if opts.ReadSize <= 0 {
		opts.ReadSize = DefaultReadSize
	}
	if opts.OnPacket == nil {
		opts.OnPacket = func(net.Addr, []byte, int) {}
	}
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}

	return &DatagramConn{
		pc:       pc,
		r:        r,
		prefix:   opts.Prefix,
		log:      opts.Logger.Named("transport").With(zap.Stringer("local", pc.LocalAddr())),
		onPacket: opts.OnPacket,
		scratch:  make([]byte, opts.ReadSize),
	}
}

// ListenDatagram binds a UDP socket on addr.
func ListenDatagram(addr string, r *reactor.Reactor, opts DatagramOptions) (*DatagramConn, error) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	return NewDatagramConn(pc, r, opts), nil
}

func (c *DatagramConn) LocalAddr() net.Addr  { return c.pc.LocalAddr() }
func (c *DatagramConn) Prefix() frame.Prefix { return c.prefix }
func (c *DatagramConn) Close() error         { return c.pc.Close() }

// Bind pairs the connection with one remote address.
func (c *DatagramConn) Bind(to net.Addr) *DatagramPeer {
	return &DatagramPeer{conn: c, addr: to}
}

// StartReceiveLoop issues the first receive. It may only be started once.
func (c *DatagramConn) StartReceiveLoop() error {
	if !c.receiving.CompareAndSwap(false, true) {
		return fmt.Errorf("transport: datagram receive loop already started")
	}
	return c.receive()
}

func (c *DatagramConn) receive() error {
	return c.r.Async(func() func() {
		n, from, err := c.pc.ReadFrom(c.scratch)

		var buf []byte
		if err == nil {
			buf = make([]byte, n)
			copy(buf, c.scratch[:n])
		}

		return func() {
			switch {
			case errors.Is(err, net.ErrClosed):
				c.log.Debug("datagram socket closed, receive loop stopped")
				return
			case err != nil:
				c.log.Warn("datagram receive failed", zap.Error(err))
			default:
				c.onPacket(from, buf, n)
			}
			if err := c.receive(); err != nil {
				c.log.Debug("datagram receive loop stopped", zap.Error(err))
			}
		}
	})
}

// Send encodes msg and sends it to to as one framed datagram.
func (c *DatagramConn) Send(to net.Addr, msg any) error {
	b := bytebufferpool.Get()

	// Reserve the prefix; patchLength fills it in once the payload size is known.
	b.B = b.B[:0]
	for i := 0; i < c.prefix.Size; i++ {
		b.B = append(b.B, 0)
	}

	var err error
	if b.B, err = codec.Append(b.B, msg); err == nil {
		err = c.patchLength(b.B)
	}
	if err != nil {
		bytebufferpool.Put(b)
		return err
	}
	return c.transmit(to, b)
}

// SendBytes sends payload to to as one framed datagram.
func (c *DatagramConn) SendBytes(to net.Addr, payload []byte) error {
	b := bytebufferpool.Get()

	var err error
	if b.B, err = frame.AppendFrame(b.B[:0], c.prefix, payload); err != nil {
		bytebufferpool.Put(b)
		return err
	}
	return c.transmit(to, b)
}

// patchLength writes the prefix for the payload that follows it in packet.
func (c *DatagramConn) patchLength(packet []byte) error {
	var scratch [8]byte
	hdr, err := c.prefix.AppendLength(scratch[:0], len(packet)-c.prefix.Size)
	if err != nil {
		return err
	}
	copy(packet, hdr)
	return nil
}

func (c *DatagramConn) transmit(to net.Addr, b *bytebufferpool.ByteBuffer) error {
	err := c.r.Async(func() func() {
		defer bytebufferpool.Put(b)
		if _, err := c.pc.WriteTo(b.B, to); err != nil {
			c.log.Debug("datagram send failed", zap.Stringer("to", to), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		bytebufferpool.Put(b)
	}
	return err
}

// DatagramPeer addresses one fixed remote endpoint through a shared DatagramConn.
type DatagramPeer struct {
	conn *DatagramConn
	addr net.Addr
}

func (p *DatagramPeer) Conn() *DatagramConn         { return p.conn }
func (p *DatagramPeer) Addr() net.Addr              { return p.addr }
func (p *DatagramPeer) Send(msg any) error          { return p.conn.Send(p.addr, msg) }
func (p *DatagramPeer) SendBytes(body []byte) error { return p.conn.SendBytes(p.addr, body) }
