package transport

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBareSession(t *testing.T) *Session {
	t.Helper()
	h := newTestHub(t, nil)
	return newSession(h, newFakeConn(), "sess-1", "alice", "203.0.113.7")
}

func TestEnqueueAfterDisconnect(t *testing.T) {
	s := newBareSession(t)

	assert.True(t, s.EnqueueText([]byte(`{}`)))
	s.Disconnect()
	assert.False(t, s.EnqueueText([]byte(`{}`)), "closed sessions accept nothing")
	assert.False(t, s.EnqueueBinary([]byte{0x00}))
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	s := newBareSession(t)

	for i := 0; i < outboundQueueSize; i++ {
		require.True(t, s.EnqueueBinary([]byte{byte(i)}))
	}
	assert.False(t, s.EnqueueBinary([]byte{0xff}), "a full queue drops, never blocks")
	assert.False(t, s.EnqueueText([]byte(`{}`)))
}

// TestEnqueueConcurrentWithDisconnect exercises the window between the
// closed-flag check and the channel send. Producers outside the room lock
// (command replies during shutdown) race Disconnect directly; a send on the
// closed channel would panic the process.
func TestEnqueueConcurrentWithDisconnect(t *testing.T) {
	h := newTestHub(t, nil)

	for i := 0; i < 500; i++ {
		s := newSession(h, newFakeConn(), "sess-1", "alice", "203.0.113.7")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				s.EnqueueText([]byte(`{}`))
			}
		}()
		go func() {
			defer wg.Done()
			s.Disconnect()
		}()
		wg.Wait()

		assert.False(t, s.EnqueueText([]byte(`{}`)))
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	s := newBareSession(t)
	s.Disconnect()
	assert.NotPanics(t, s.Disconnect)
}

func TestClearRoomDetachesAssociation(t *testing.T) {
	s := newBareSession(t)
	assert.Nil(t, s.Room())
	s.ClearRoom()
	assert.Nil(t, s.Room())
}
