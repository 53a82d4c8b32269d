package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(c *Client) []string {
	var out []string
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, string(frame))
		default:
			return out
		}
	}
}

func TestClient_HoldDefersLiveFramesUntilRelease(t *testing.T) {
	c := detachedClient("a")

	c.hold()
	require.True(t, c.Deliver([]byte("live-1")))
	require.True(t, c.Deliver([]byte("live-2")))
	assert.Empty(t, drain(c))

	c.release([]byte("snapshot"))
	assert.Equal(t, []string{"snapshot", "live-1", "live-2"}, drain(c))

	require.True(t, c.Deliver([]byte("live-3")))
	assert.Equal(t, []string{"live-3"}, drain(c))
}

func TestClient_FullBufferCloses(t *testing.T) {
	c := detachedClient("a")

	for i := 0; i < cap(c.send); i++ {
		require.True(t, c.Deliver([]byte("x")))
	}
	assert.False(t, c.Deliver([]byte("overflow")))
	assert.False(t, c.Deliver([]byte("after close")))

	frames := drain(c)
	assert.Len(t, frames, cap(c.send))
	_, ok := <-c.send
	assert.False(t, ok, "send channel should be closed")
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	c := detachedClient("a")
	c.Close()
	c.Close()
	assert.False(t, c.Deliver([]byte("x")))

	c.release([]byte("snapshot"))
	assert.Empty(t, drain(c))
}

func TestClient_FullPendingLeavesRoomForSnapshot(t *testing.T) {
	c := detachedClient("a")

	c.hold()
	for i := 0; i < cap(c.send)-1; i++ {
		require.True(t, c.Deliver([]byte("live")))
	}
	c.release([]byte("snapshot"))

	frames := drain(c)
	require.Len(t, frames, cap(c.send))
	assert.Equal(t, "snapshot", frames[0])
	assert.True(t, c.Deliver([]byte("after")), "client should still be open")
}

func TestClient_PendingOverflowCloses(t *testing.T) {
	c := detachedClient("a")

	c.hold()
	for i := 0; i < cap(c.send)-1; i++ {
		require.True(t, c.Deliver([]byte("live")))
	}
	assert.False(t, c.Deliver([]byte("one too many")))

	c.release([]byte("snapshot"))
	assert.Empty(t, drain(c))
}
