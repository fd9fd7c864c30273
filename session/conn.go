// Package session ties a stream connection, an optional datagram binding and a set of
// per-connection components into one session, and feeds inbound frames to a dispatcher.
package session

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TheSmallBoat/wirenet/dispatch"
	"github.com/TheSmallBoat/wirenet/frame"
	"github.com/TheSmallBoat/wirenet/reactor"
	"github.com/TheSmallBoat/wirenet/transport"
)

var (
	ErrNoStream   = errors.New("session: no stream attached")
	ErrNoDatagram = errors.New("session: no datagram peer attached")
	ErrAttached   = errors.New("session: stream already attached")

	// ErrPanic wraps a value recovered from a panicking dispatch.
	ErrPanic = errors.New("session: dispatch panicked")
)

// Dispatcher handles one inbound frame on behalf of a session. A *dispatch.Registry keyed on
// *Conn state satisfies it.
type Dispatcher interface {
	Dispatch(c *Conn, buf []byte) (dispatch.Verdict, error)
}

type StreamOptions struct {
	Prefix frame.Prefix

	// OnHandle observes the verdict for every inbound frame.
	OnHandle func(c *Conn, verdict dispatch.Verdict)

	// OnFault observes errors and panics raised while dispatching a frame.
	OnFault func(c *Conn, err error)

	// OnDeath fires once when the stream transport closes, with the transport failure that
	// caused it or transport.ErrClosed.
	OnDeath func(c *Conn, err error)
}

// Conn is one peer session. Faults raised while dispatching a frame are absorbed: the session
// is marked for disconnect and closed, and no other session is affected.
type Conn struct {
	id  uuid.UUID
	log *zap.Logger

	components Components

	mu       sync.Mutex
	stream   *transport.StreamConn
	datagram *transport.DatagramPeer

	killed atomic.Bool
}

func New(id uuid.UUID, log *zap.Logger) *Conn {
	if log == nil {
		log = zap.L()
	}
	return &Conn{id: id, log: log.Named("session").With(zap.Stringer("session", id))}
}

// NewRandom returns a session with a random id.
func NewRandom(log *zap.Logger) *Conn { return New(uuid.New(), log) }

func (c *Conn) ID() uuid.UUID           { return c.id }
func (c *Conn) Components() *Components { return &c.components }
func (c *Conn) Logger() *zap.Logger     { return c.log }
func (c *Conn) String() string          { return c.id.String() }

// ScheduleDisconnect marks the session for disconnect. It never interrupts a dispatch in
// progress: the receive loop stops after the current frame has been handled.
func (c *Conn) ScheduleDisconnect() { c.killed.Store(true) }
func (c *Conn) Killed() bool        { return c.killed.Load() }

func (c *Conn) Stream() *transport.StreamConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

func (c *Conn) Datagram() *transport.DatagramPeer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.datagram
}

// SetupStreamClient attaches conn as the session's stream. Every inbound frame is dispatched
// through d; the receive loop continues only while the verdict is Continue and the session
// has not been marked for disconnect. Otherwise the session is closed.
func (c *Conn) SetupStreamClient(conn net.Conn, r *reactor.Reactor, d Dispatcher, opts StreamOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return ErrAttached
	}

	c.stream = transport.NewStreamConn(conn, r, transport.StreamOptions{
		Prefix: opts.Prefix,
		Logger: c.log,
		OnFrame: func(buf []byte) bool {
			return c.handle(d, buf, opts)
		},
		OnDeath: func(err error) {
			if opts.OnDeath != nil {
				opts.OnDeath(c, err)
			}
		},
	})
	return nil
}

func (c *Conn) handle(d Dispatcher, buf []byte, opts StreamOptions) bool {
	verdict, err := c.dispatch(d, buf)
	if err != nil {
		c.log.Warn("dropping session after a faulty frame", zap.Error(err))
		if opts.OnFault != nil {
			opts.OnFault(c, err)
		}
		c.ScheduleDisconnect()
		verdict = dispatch.Disconnect
	}

	if opts.OnHandle != nil {
		opts.OnHandle(c, verdict)
	}

	if verdict == dispatch.Continue && !c.Killed() {
		return true
	}

	if err := c.Close(); err != nil {
		c.log.Debug("closing session", zap.Error(err))
	}
	return false
}

func (c *Conn) dispatch(d Dispatcher, buf []byte) (verdict dispatch.Verdict, err error) {
	defer func() {
		if v := recover(); v != nil {
			c.log.Error("dispatch panicked", zap.Any("panic", v), zap.Stack("stack"))
			verdict, err = dispatch.Disconnect, fmt.Errorf("%w: %v", ErrPanic, v)
		}
	}()
	return d.Dispatch(c, buf)
}

// DispatchDatagram unwraps a datagram received on behalf of this session and dispatches its
// payload. Errors and panics are returned; unlike stream faults they do not mark the session
// for disconnect.
func (c *Conn) DispatchDatagram(d Dispatcher, prefix frame.Prefix, packet []byte) (dispatch.Verdict, error) {
	body, err := frame.Unwrap(prefix, packet)
	if err != nil {
		return dispatch.Continue, err
	}
	return c.dispatch(d, body)
}

// StartReceiveLoop starts receiving on the attached stream.
func (c *Conn) StartReceiveLoop() error {
	s := c.Stream()
	if s == nil {
		return ErrNoStream
	}
	return s.StartReceiveLoop()
}

// ConnectDatagram binds the session to a datagram peer, replacing any previous binding.
func (c *Conn) ConnectDatagram(peer *transport.DatagramPeer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.datagram = peer
}

// Send queues msg on the stream.
func (c *Conn) Send(msg any) error {
	s := c.Stream()
	if s == nil {
		return ErrNoStream
	}
	return s.Send(msg)
}

// SendDatagram sends msg to the bound datagram peer.
func (c *Conn) SendDatagram(msg any) error {
	p := c.Datagram()
	if p == nil {
		return ErrNoDatagram
	}
	return p.Send(msg)
}

// Close closes the stream gracefully: frames already queued are written first.
func (c *Conn) Close() error {
	s := c.Stream()
	if s == nil {
		return nil
	}
	err := s.Close()
	s.Release()
	return err
}
