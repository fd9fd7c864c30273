package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/TheSmallBoat/wirenet/reactor"
)

var ErrClosed = errors.New("transport: connection closed")

// BindFunc opens a stream listener. It is called when the node starts serving.
type BindFunc func() (net.Listener, error)

// BindTCPAnyPort listens on an ephemeral port on every interface.
func BindTCPAnyPort() BindFunc { return listen("tcp", ":0") }

func BindTCP(addr string) BindFunc   { return listen("tcp", addr) }
func BindTCPv4(addr string) BindFunc { return listen("tcp4", addr) }
func BindTCPv6(addr string) BindFunc { return listen("tcp6", addr) }

func listen(network, addr string) BindFunc {
	return func() (net.Listener, error) {
		ln, err := net.Listen(network, addr)
		if err != nil {
			return nil, fmt.Errorf("transport: bind %s %q: %w", network, addr, err)
		}
		return ln, nil
	}
}

// Bind picks the BindFunc for a stream network: "tcp" (the default), "tcp4" or "tcp6". An
// empty addr on "tcp" binds an ephemeral port on every interface.
func Bind(network, addr string) (BindFunc, error) {
	switch network {
	case "", "tcp":
		if addr == "" {
			return BindTCPAnyPort(), nil
		}
		return BindTCP(addr), nil
	case "tcp4":
		return BindTCPv4(addr), nil
	case "tcp6":
		return BindTCPv6(addr), nil
	}
	return nil, fmt.Errorf("transport: unsupported stream network %q", network)
}

// HostAddr joins host and port into a dialable address. A nil host leaves the host part empty.
func HostAddr(host net.IP, port uint16) string {
	var h string
	if host != nil {
		h = host.String()
	}
	return net.JoinHostPort(h, strconv.Itoa(int(port)))
}

// AcceptLoop accepts connections off the caller's goroutine and hands each one, or the accept
// error, to fn on a reactor worker. The loop ends once fn returns false or the listener is
// closed.
func AcceptLoop(r *reactor.Reactor, ln net.Listener, fn func(net.Conn, error) bool) error {
	var accept func() error
	accept = func() error {
		return r.Async(func() func() {
			conn, err := ln.Accept()
			return func() {
				if !fn(conn, err) || errors.Is(err, net.ErrClosed) {
					return
				}
				if err := accept(); err != nil {
					fn(nil, err)
				}
			}
		})
	}
	return accept()
}
