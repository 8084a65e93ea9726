package controlplane

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubEmitAssignsMonotonicSeqPerSession(t *testing.T) {
	hub := NewHub()
	conn := &Connection{ID: "c1", SessionID: "sess-1", Send: make(chan Envelope, 4)}
	hub.Register(conn)

	hub.Emit("sess-1", EventPong, nil)
	hub.Emit("sess-1", EventPong, nil)

	first := <-conn.Send
	second := <-conn.Send
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
}

func TestHubOnlyDeliversToObserversOfTheSameSession(t *testing.T) {
	hub := NewHub()
	connA := &Connection{ID: "a", SessionID: "sess-a", Send: make(chan Envelope, 4)}
	connB := &Connection{ID: "b", SessionID: "sess-b", Send: make(chan Envelope, 4)}
	hub.Register(connA)
	hub.Register(connB)

	hub.Emit("sess-a", EventNavigateComplete, nil)

	select {
	case env := <-connA.Send:
		assert.Equal(t, EventNavigateComplete, env.Type)
	case <-time.After(time.Second):
		t.Fatal("expected event on connA")
	}

	select {
	case <-connB.Send:
		t.Fatal("connB should not receive sess-a's events")
	default:
	}
}

func TestHubDropsSlowObserverWhenQueueIsFull(t *testing.T) {
	hub := NewHub()
	conn := &Connection{ID: "slow", SessionID: "sess-1", Send: make(chan Envelope, 1)}
	hub.Register(conn)

	hub.Emit("sess-1", EventPong, nil) // fills the buffer of 1
	hub.Emit("sess-1", EventPong, nil) // queue full -> connection dropped

	hub.mu.RLock()
	_, stillRegistered := hub.connections["slow"]
	hub.mu.RUnlock()
	require.False(t, stillRegistered)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	hub := NewHub()
	conn := &Connection{ID: "c1", SessionID: "sess-1", Send: make(chan Envelope, 1)}
	hub.Register(conn)
	hub.Unregister(conn)
	assert.NotPanics(t, func() { hub.Unregister(conn) })
}
