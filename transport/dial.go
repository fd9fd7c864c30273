package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/TheSmallBoat/wirenet/reactor"
)

type DialOptions struct {
	Network  string // defaults to "tcp"
	Attempts int    // defaults to 8
	Backoff  *backoff.Backoff
	Logger   *zap.Logger
}

func (o DialOptions) withDefaults() DialOptions {
	if o.Network == "" {
		o.Network = "tcp"
	}
	if o.Attempts <= 0 {
		o.Attempts = 8
	}
	if o.Backoff == nil {
		o.Backoff = &backoff.Backoff{
			Factor: 1.25,
			Jitter: true,
			Min:    500 * time.Millisecond,
			Max:    1 * time.Second,
		}
	}
	if o.Logger == nil {
		o.Logger = zap.L()
	}
	return o
}

// DialStream connects to addr, sleeping between failed attempts according to the backoff
// policy. It gives up after the configured number of attempts or when ctx is done.
func DialStream(ctx context.Context, addr string, opts DialOptions) (net.Conn, error) {
	opts = opts.withDefaults()
	log := opts.Logger.Named("transport").With(zap.String("addr", addr))

	var d net.Dialer
	var err error

	for i := 0; i < opts.Attempts; i++ {
		var conn net.Conn
		if conn, err = d.DialContext(ctx, opts.Network, addr); err == nil {
			opts.Backoff.Reset()
			return conn, nil
		}
		if i == opts.Attempts-1 {
			break
		}

		duration := opts.Backoff.Duration()
		log.Debug("dial failed, retrying", zap.Duration("sleep", duration), zap.Error(err))

		timer := time.NewTimer(duration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("tried %d times connecting to %s, giving up: %w", opts.Attempts, addr, err)
}

// DialStreamAsync runs DialStream off the caller's goroutine and hands the outcome to done on a
// reactor worker.
func DialStreamAsync(ctx context.Context, r *reactor.Reactor, addr string, opts DialOptions, done func(net.Conn, error)) error {
	return r.Async(func() func() {
		conn, err := DialStream(ctx, addr, opts)
		return func() { done(conn, err) }
	})
}
