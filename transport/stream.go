package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/TheSmallBoat/wirenet/codec"
	"github.com/TheSmallBoat/wirenet/frame"
	"github.com/TheSmallBoat/wirenet/reactor"
)

type StreamOptions struct {
	// Prefix frames every message. A zero Size selects frame.DefaultPrefix.
	Prefix frame.Prefix

	// OnFrame receives every inbound payload on a reactor worker. Returning false stops the
	// receive loop. A nil OnFrame discards payloads and keeps receiving.
	OnFrame func(buf []byte) bool

	// OnDeath fires exactly once, when the transport closes. err is the first transport
	// failure seen by either direction, or ErrClosed if the connection was closed locally.
	OnDeath func(err error)

	Logger *zap.Logger
}

// StreamConn sends and receives length-prefixed frames over a reliable byte stream. At most
// one write and one read are in flight at any time; queued writes go out in the order Send was
// called.
//
// StreamConn is a handle onto state that is shared with every in-flight read and write. The
// transport is closed by Close, by a transport failure, or once the handle has been released
// and the last in-flight operation has completed.
type StreamConn struct {
	s        *streamState
	released atomic.Bool
}

type streamState struct {
	conn   net.Conn
	r      *reactor.Reactor
	prefix frame.Prefix
	log    *zap.Logger

	onFrame func([]byte) bool
	onDeath func(error)

	refs int32

	mu       sync.Mutex
	queue    *queue.Queue // *pendingWrite; the head is in flight while writing is set
	writing  bool
	shutdown bool // Close was requested; monotonic
	closed   bool // transport physically closed; monotonic

	receiving atomic.Bool
	death     sync.Once
}

func NewStreamConn(conn net.Conn, r *reactor.Reactor, opts StreamOptions) *StreamConn {
	if opts.Prefix.Size == 0 {
		opts.Prefix = frame.DefaultPrefix()
	}
	if opts.OnFrame == nil {
		opts.OnFrame = func([]byte) bool { return true }
	}
	if opts.OnDeath == nil {
		opts.OnDeath = func(error) {}
	}
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}

	s := &streamState{
		conn:    conn,
		r:       r,
		prefix:  opts.Prefix,
		log:     opts.Logger.Named("transport").With(zap.Stringer("remote", conn.RemoteAddr())),
		onFrame: opts.OnFrame,
		onDeath: opts.OnDeath,
		refs:    1,
		queue:   queue.New(),
	}
	return &StreamConn{s: s}
}

func (c *StreamConn) RemoteAddr() net.Addr { return c.s.conn.RemoteAddr() }
func (c *StreamConn) LocalAddr() net.Addr  { return c.s.conn.LocalAddr() }

// Closed reports whether the transport has been physically closed.
func (c *StreamConn) Closed() bool {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.s.closed
}

// StartReceiveLoop issues the first receive. Each received frame is handed to OnFrame; the
// next receive is issued only after OnFrame returns true. It may only be started once.
func (c *StreamConn) StartReceiveLoop() error {
	if !c.s.receiving.CompareAndSwap(false, true) {
		return fmt.Errorf("transport: receive loop already started")
	}
	c.s.receive()
	return nil
}

// Send encodes msg and queues it as one frame.
func (c *StreamConn) Send(msg any) error {
	pw := pendingWritePool.acquire()

	var err error
	if pw.buf.B, err = codec.Append(pw.buf.B[:0], msg); err != nil {
		pendingWritePool.release(pw)
		return err
	}
	return c.s.enqueue(pw)
}

// SendBytes queues payload as one frame. payload is copied and may be reused on return.
func (c *StreamConn) SendBytes(payload []byte) error {
	pw := pendingWritePool.acquire()
	pw.buf.B = append(pw.buf.B[:0], payload...)
	return c.s.enqueue(pw)
}

// Close shuts the connection down gracefully. With nothing queued the transport is closed right
// away; otherwise it is closed after the last queued frame has been written. Frames queued after
// Close but before the transport closes are still written.
func (c *StreamConn) Close() error {
	s := c.s

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	if s.writing {
		s.mu.Unlock()
		s.log.Debug("deferring close until the write queue drains")
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.terminate(ErrClosed)
}

// Release drops the handle's reference to the connection state. Calling it more than once has
// no further effect.
func (c *StreamConn) Release() {
	if c.released.CompareAndSwap(false, true) {
		c.s.release()
	}
}

func (s *streamState) acquire() { atomic.AddInt32(&s.refs, 1) }

func (s *streamState) release() {
	if atomic.AddInt32(&s.refs, -1) == 0 {
		if err := s.closeTransport(ErrClosed); err != nil {
			s.log.Debug("closing released connection", zap.Error(err))
		}
	}
}

// receive runs the receive loop. The loop holds one reference for as long as a read is in
// flight or a frame is being handled.
func (s *streamState) receive() {
	s.acquire()
	err := frame.ReceiveLoopAsync(s.r, s.conn, s.prefix, func(buf []byte, err error) bool {
		if err != nil {
			s.fail(err)
			s.release()
			return false
		}
		if !s.onFrame(buf) {
			s.release()
			return false
		}
		return true
	})
	if err != nil {
		s.release()
		s.fail(err)
	}
}

func (s *streamState) enqueue(pw *pendingWrite) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		pendingWritePool.release(pw)
		return ErrClosed
	}
	s.queue.Add(pw)
	start := !s.writing
	s.writing = true
	s.mu.Unlock()

	if start {
		s.write(pw)
	}
	return nil
}

func (s *streamState) write(pw *pendingWrite) {
	s.acquire()
	err := frame.SendAsync(s.r, s.conn, s.prefix, pw.buf.B, func(err error) {
		defer s.release()
		s.written(err)
	})
	if err != nil {
		s.release()
		s.written(err)
	}
}

// written pops the frame at the head of the queue and starts the next one.
func (s *streamState) written(err error) {
	s.mu.Lock()
	pw := s.queue.Remove().(*pendingWrite)
	pendingWritePool.release(pw)

	if err != nil || s.closed {
		s.writing = false
		s.mu.Unlock()
		if err != nil {
			s.fail(err)
		}
		return
	}

	if s.queue.Length() > 0 {
		next := s.queue.Peek().(*pendingWrite)
		s.mu.Unlock()
		s.write(next)
		return
	}

	s.writing = false
	drained := s.shutdown && !s.closed
	s.closed = s.closed || drained
	s.mu.Unlock()

	if drained {
		if err := s.terminate(ErrClosed); err != nil {
			s.log.Debug("closing drained connection", zap.Error(err))
		}
	}
}

// fail tears the connection down after a transport failure: queued frames are dropped and
// the transport is closed.
func (s *streamState) fail(err error) {
	s.mu.Lock()
	var inflight any
	if s.writing {
		inflight = s.queue.Remove()
	}
	for s.queue.Length() > 0 {
		pendingWritePool.release(s.queue.Remove().(*pendingWrite))
	}
	if inflight != nil {
		s.queue.Add(inflight)
	}
	s.mu.Unlock()

	if cerr := s.closeTransport(err); cerr != nil {
		s.log.Debug("closing failed connection", zap.Error(cerr))
	}
}

func (s *streamState) closeTransport(reason error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.shutdown = true
	s.mu.Unlock()

	return s.terminate(reason)
}

// terminate closes the transport, which must already be marked closed, and reports its death.
func (s *streamState) terminate(reason error) error {
	err := s.conn.Close()
	s.death.Do(func() {
		s.log.Debug("connection closed", zap.NamedError("reason", reason))
		s.onDeath(reason)
	})
	return err
}
