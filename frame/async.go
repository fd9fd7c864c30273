package frame

import (
	"io"

	"github.com/TheSmallBoat/wirenet/reactor"
)

// SendAsync sends a frame off the caller's goroutine and runs done on a reactor worker once
// both writes finished or one failed.
func SendAsync(r *reactor.Reactor, w io.Writer, p Prefix, payload []byte, done func(error)) error {
	return r.Async(func() func() {
		err := Send(w, p, payload)
		if done == nil {
			return nil
		}
		return func() { done(err) }
	})
}

// ReceiveAsync receives one frame and runs done on a reactor worker.
func ReceiveAsync(r *reactor.Reactor, rd io.Reader, p Prefix, done func([]byte, error)) error {
	return r.Async(func() func() {
		buf, err := Receive(rd, p)
		return func() { done(buf, err) }
	})
}

// ReceiveLoopAsync receives frames one after another, handing each to fn on a reactor worker.
// The next receive starts only after fn returned true, so fn calls never overlap. A failure is
// handed to fn once and ends the loop.
func ReceiveLoopAsync(r *reactor.Reactor, rd io.Reader, p Prefix, fn func([]byte, error) bool) error {
	var next func([]byte, error)
	next = func(buf []byte, err error) {
		if !fn(buf, err) || err != nil {
			return
		}
		if err := ReceiveAsync(r, rd, p, next); err != nil {
			fn(nil, err)
		}
	}
	return ReceiveAsync(r, rd, p, next)
}
