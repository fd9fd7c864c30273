package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stats struct{ Frames int }

type nickname string

func TestComponents(t *testing.T) {
	var c Components

	_, ok := Get[*stats](&c)
	require.False(t, ok)
	require.False(t, Has[*stats](&c))

	_, err := MustGet[*stats](&c)
	require.ErrorIs(t, err, ErrLookup)
	require.Contains(t, err.Error(), "session.stats")

	Put(&c, &stats{Frames: 1})
	Put(&c, nickname("osdever"))

	s, err := MustGet[*stats](&c)
	require.NoError(t, err)
	s.Frames++

	again, ok := Get[*stats](&c)
	require.True(t, ok)
	require.Equal(t, 2, again.Frames, "slots hold the stored value, not a copy of it")

	require.Equal(t, []string{"*session.stats", "session.nickname"}, c.Types())

	created := 0
	n := GetOrCreate(&c, func() nickname { created++; return "unused" })
	require.EqualValues(t, "osdever", n)
	require.Zero(t, created)

	require.True(t, Remove[nickname](&c))
	require.False(t, Remove[nickname](&c))
	require.False(t, Has[nickname](&c))

	n = GetOrCreate(&c, func() nickname { created++; return "fresh" })
	require.EqualValues(t, "fresh", n)
	require.Equal(t, 1, created)
}

func TestGetOrCreateMayUseTheStore(t *testing.T) {
	var c Components
	Put(&c, nickname("osdever"))

	done := make(chan *stats, 1)
	go func() {
		done <- GetOrCreate(&c, func() *stats {
			nick, _ := Get[nickname](&c)
			Put(&c, nickname(string(nick)+"!"))
			return &stats{Frames: len(nick)}
		})
	}()

	select {
	case s := <-done:
		require.Equal(t, 7, s.Frames)
	case <-time.After(5 * time.Second):
		t.Fatal("GetOrCreate did not return")
	}
	require.True(t, Has[*stats](&c))

	n, _ := Get[nickname](&c)
	require.EqualValues(t, "osdever!", n)
}

func TestGetOrCreateKeepsTheFirstValue(t *testing.T) {
	var c Components

	winner := &stats{Frames: 1}
	got := GetOrCreate(&c, func() *stats {
		Put(&c, winner)
		return &stats{Frames: 2}
	})
	require.Same(t, winner, got)

	stored, ok := Get[*stats](&c)
	require.True(t, ok)
	require.Same(t, winner, stored)
}

func TestNilInterfaceComponent(t *testing.T) {
	var c Components
	Put[fmt.Stringer](&c, nil)

	v, ok := Get[fmt.Stringer](&c)
	require.True(t, ok)
	require.Nil(t, v)

	v = GetOrCreate(&c, func() fmt.Stringer { return time.Second })
	require.Nil(t, v)
}
