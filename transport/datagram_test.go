package transport

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/TheSmallBoat/wirenet/codec"
	"github.com/TheSmallBoat/wirenet/frame"
)

type packet struct {
	from net.Addr
	buf  []byte
	n    int
}

func TestDatagramRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := newPool(t)
	defer pool.Stop()

	received := make(chan packet, 4)

	server, err := ListenDatagram("127.0.0.1:0", pool.Reactor(), DatagramOptions{
		Logger:   zap.NewNop(),
		OnPacket: func(from net.Addr, buf []byte, n int) { received <- packet{from, buf, n} },
	})
	require.NoError(t, err)
	defer server.Close()

	client, err := ListenDatagram("127.0.0.1:0", pool.Reactor(), DatagramOptions{Logger: zap.NewNop()})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, server.StartReceiveLoop())
	require.Error(t, server.StartReceiveLoop())

	peer := client.Bind(server.LocalAddr())
	require.Equal(t, server.LocalAddr(), peer.Addr())
	require.NoError(t, peer.Send(uint64(42)))

	select {
	case p := <-received:
		require.Equal(t, client.LocalAddr().String(), p.from.String())
		require.Len(t, p.buf, p.n)
		require.Equal(t, 4+8, p.n)

		body, err := frame.Unwrap(server.Prefix(), p.buf)
		require.NoError(t, err)

		var v uint64
		require.NoError(t, codec.Unmarshal(body, &v))
		require.EqualValues(t, 42, v)
	case <-time.After(5 * time.Second):
		t.Fatal("datagram not received")
	}

	require.NoError(t, peer.SendBytes([]byte("raw")))
	select {
	case p := <-received:
		body, err := frame.Unwrap(server.Prefix(), p.buf)
		require.NoError(t, err)
		require.EqualValues(t, "raw", body)
	case <-time.After(5 * time.Second):
		t.Fatal("datagram not received")
	}
}

func TestDatagramSendRejectsUnencodableMessage(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := newPool(t)
	defer pool.Stop()

	conn, err := ListenDatagram("127.0.0.1:0", pool.Reactor(), DatagramOptions{Logger: zap.NewNop()})
	require.NoError(t, err)
	defer conn.Close()

	err = conn.Send(conn.LocalAddr(), map[string]int{})
	require.ErrorIs(t, err, codec.ErrUnsupported)
}

func TestDatagramSendOnlyFramesTheRealLength(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := newPool(t)
	defer pool.Stop()

	nonEmpty := func(n uint64) (uint64, error) {
		if n == 0 {
			return 0, errors.New("empty datagram")
		}
		return n, nil
	}
	prefix := frame.Prefix{Size: 2, Out: nonEmpty}

	received := make(chan []byte, 1)
	server, err := ListenDatagram("127.0.0.1:0", pool.Reactor(), DatagramOptions{
		Prefix:   prefix,
		Logger:   zap.NewNop(),
		OnPacket: func(_ net.Addr, buf []byte, _ int) { received <- buf },
	})
	require.NoError(t, err)
	defer server.Close()
	require.NoError(t, server.StartReceiveLoop())

	client, err := ListenDatagram("127.0.0.1:0", pool.Reactor(), DatagramOptions{Prefix: prefix, Logger: zap.NewNop()})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send(server.LocalAddr(), uint32(7)))

	select {
	case buf := <-received:
		require.EqualValues(t, []byte{0, 4, 0, 0, 0, 7}, buf)
	case <-time.After(5 * time.Second):
		t.Fatal("datagram not received")
	}

	require.ErrorIs(t, client.SendBytes(server.LocalAddr(), nil), frame.ErrFraming)
}
