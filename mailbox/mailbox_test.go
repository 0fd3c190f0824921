package mailbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailboxFIFOOrdering(t *testing.T) {
	b := NewBus(0)
	b.Register("R")

	require.NoError(t, b.Send("R", "a"))
	require.NoError(t, b.Send("R", "b"))
	require.NoError(t, b.Send("R", "c"))

	for _, want := range []string{"a", "b", "c"} {
		got, ok := b.Recv("R")
		require.True(t, ok)
		require.Equal(t, want, got)
	}

	_, ok := b.Recv("R")
	assert.False(t, ok)
}

func TestMailboxSendToUnknownDestinationIsNoOp(t *testing.T) {
	b := NewBus(0)
	assert.NoError(t, b.Send("ghost", "hello"))
	_, ok := b.Recv("ghost")
	assert.False(t, ok)
}

func TestMailboxFullReturnsError(t *testing.T) {
	box := NewMailbox(1)
	require.NoError(t, box.Send("a"))
	require.ErrorIs(t, box.Send("b"), ErrMailboxFull)
}

func TestBusUnregisterRemovesMailbox(t *testing.T) {
	b := NewBus(0)
	b.Register("T")
	require.True(t, b.Has("T"))
	b.Unregister("T")
	assert.False(t, b.Has("T"))
}

func TestBusRegisterReplacesMailbox(t *testing.T) {
	b := NewBus(0)
	b.Register("T")
	require.NoError(t, b.Send("T", "stale"))
	b.Register("T") // supervisor-style replace on restart
	_, ok := b.Recv("T")
	assert.False(t, ok, "replacing the mailbox should drop stale messages")
}
