package frame

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/TheSmallBoat/wirenet/reactor"
)

type failingWriter struct {
	writes int
	failOn int
}

func (w *failingWriter) Write(b []byte) (int, error) {
	w.writes++
	if w.writes == w.failOn {
		return 0, errors.New("broken pipe")
	}
	return len(b), nil
}

func TestSendWritesPrefixThenPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Send(&buf, DefaultPrefix(), []byte("hello")))
	require.EqualValues(t, []byte{0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o'}, buf.Bytes())

	got, err := Receive(&buf, DefaultPrefix())
	require.NoError(t, err)
	require.EqualValues(t, "hello", got)
	require.Zero(t, buf.Len())
}

func TestPrefixWidths(t *testing.T) {
	for _, size := range []int{1, 2, 4, 8} {
		p := Prefix{Size: size}

		var buf bytes.Buffer
		require.NoError(t, Send(&buf, p, []byte{1, 2, 3}))
		require.Equal(t, size+3, buf.Len())
		require.EqualValues(t, 3, buf.Bytes()[size-1])

		got, err := Receive(&buf, p)
		require.NoError(t, err)
		require.EqualValues(t, []byte{1, 2, 3}, got)
	}

	_, err := Prefix{Size: 3}.AppendLength(nil, 1)
	require.ErrorIs(t, err, ErrFraming)

	var buf bytes.Buffer
	require.ErrorIs(t, Send(&buf, Prefix{Size: 1}, make([]byte, 256)), ErrFraming)
	require.Zero(t, buf.Len())
}

func TestEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Send(&buf, DefaultPrefix(), nil))
	require.EqualValues(t, []byte{0, 0, 0, 0}, buf.Bytes())

	got, err := Receive(&buf, DefaultPrefix())
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestSendSkipsPayloadWhenPrefixWriteFails(t *testing.T) {
	w := &failingWriter{failOn: 1}
	err := Send(w, DefaultPrefix(), []byte("payload"))
	require.ErrorIs(t, err, ErrTransport)
	require.Equal(t, 1, w.writes)

	w = &failingWriter{failOn: 2}
	err = Send(w, DefaultPrefix(), []byte("payload"))
	require.ErrorIs(t, err, ErrTransport)
	require.NotErrorIs(t, err, ErrFraming)
	require.Equal(t, 2, w.writes)
}

func TestTransformHooks(t *testing.T) {
	p := Prefix{
		Size: 2,
		Out:  func(n uint64) (uint64, error) { return n + 2, nil },
		In:   func(n uint64) (uint64, error) { return n - 2, nil },
	}

	var buf bytes.Buffer
	require.NoError(t, Send(&buf, p, []byte("abc")))
	require.EqualValues(t, []byte{0, 5, 'a', 'b', 'c'}, buf.Bytes())

	got, err := Receive(&buf, p)
	require.NoError(t, err)
	require.EqualValues(t, "abc", got)
}

func TestLimitRejectsBeforeReadingPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Send(&buf, DefaultPrefix(), make([]byte, 100)))

	p := DefaultPrefix()
	p.In = Limit(64)

	_, err := Receive(&buf, p)
	require.ErrorIs(t, err, ErrFraming)
	require.ErrorIs(t, err, ErrTransport)
	require.Equal(t, 100, buf.Len(), "payload must be left unread")
}

func TestTruncatedFrame(t *testing.T) {
	_, err := Receive(bytes.NewReader([]byte{0, 0}), DefaultPrefix())
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = Receive(bytes.NewReader([]byte{0, 0, 0, 4, 1, 2}), DefaultPrefix())
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = Receive(bytes.NewReader(nil), DefaultPrefix())
	require.ErrorIs(t, err, io.EOF)
}

func TestReceiveLoopStopsOnErrorOrRefusal(t *testing.T) {
	var buf bytes.Buffer
	for _, msg := range []string{"a", "bb", "ccc"} {
		require.NoError(t, Send(&buf, DefaultPrefix(), []byte(msg)))
	}
	stream := buf.Bytes()

	var got []string
	var failures int
	ReceiveLoop(bytes.NewReader(stream), DefaultPrefix(), func(b []byte, err error) bool {
		if err != nil {
			failures++
			require.Nil(t, b)
			return true
		}
		got = append(got, string(b))
		return true
	})
	require.Equal(t, []string{"a", "bb", "ccc"}, got)
	require.Equal(t, 1, failures)

	got = got[:0]
	ReceiveLoop(bytes.NewReader(stream), DefaultPrefix(), func(b []byte, err error) bool {
		require.NoError(t, err)
		got = append(got, string(b))
		return len(got) < 2
	})
	require.Equal(t, []string{"a", "bb"}, got)
}

func TestDatagramFrames(t *testing.T) {
	packet, err := AppendFrame(nil, DefaultPrefix(), []byte("dgram"))
	require.NoError(t, err)
	require.EqualValues(t, []byte{0, 0, 0, 5, 'd', 'g', 'r', 'a', 'm'}, packet)

	body, err := Unwrap(DefaultPrefix(), append(packet, 0xFF))
	require.NoError(t, err)
	require.EqualValues(t, "dgram", body)

	_, err = Unwrap(DefaultPrefix(), packet[:6])
	require.ErrorIs(t, err, ErrFraming)

	_, err = Unwrap(DefaultPrefix(), packet[:2])
	require.ErrorIs(t, err, ErrFraming)
}

func TestReceiveLoopAsync(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := reactor.New(zap.NewNop())
	pool := reactor.NewPool(r, 2)
	defer pool.Stop()

	a, b := net.Pipe()
	defer b.Close()

	received := make(chan string, 8)
	failed := make(chan error, 1)
	require.NoError(t, ReceiveLoopAsync(r, a, DefaultPrefix(), func(buf []byte, err error) bool {
		if err != nil {
			failed <- err
			return false
		}
		received <- string(buf)
		return true
	}))

	sent := make(chan error, 3)
	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, SendAsync(r, b, DefaultPrefix(), []byte(msg), func(err error) { sent <- err }))
		require.NoError(t, <-sent)
	}

	for _, want := range []string{"one", "two", "three"} {
		select {
		case got := <-received:
			require.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	require.NoError(t, a.Close())
	select {
	case err := <-failed:
		require.ErrorIs(t, err, ErrTransport)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not report the closed pipe")
	}
}
