package controlplane

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchPingEmitsPong(t *testing.T) {
	srv := &Server{hub: NewHub()}
	conn := &Connection{ID: "c1", SessionID: "sess-1", Send: make(chan Envelope, 4)}
	srv.hub.Register(conn)

	srv.dispatch(context.Background(), nil, Inbound{Action: ActionPing, SessionID: "sess-1"})

	env := <-conn.Send
	assert.Equal(t, EventPong, env.Type)
}

func TestDispatchUnknownActionEmitsError(t *testing.T) {
	srv := &Server{hub: NewHub()}
	conn := &Connection{ID: "c1", SessionID: "sess-1", Send: make(chan Envelope, 4)}
	srv.hub.Register(conn)

	srv.dispatch(context.Background(), nil, Inbound{Action: "do_a_barrel_roll", SessionID: "sess-1"})

	env := <-conn.Send
	assert.Equal(t, EventError, env.Type)
}

func TestDispatchActionOnMissingSessionEmitsError(t *testing.T) {
	srv := &Server{hub: NewHub()}
	conn := &Connection{ID: "c1", SessionID: "sess-1", Send: make(chan Envelope, 4)}
	srv.hub.Register(conn)

	srv.dispatch(context.Background(), nil, Inbound{Action: ActionNavigate, SessionID: "sess-1"})

	env := <-conn.Send
	assert.Equal(t, EventError, env.Type)
}

func TestInboundUnmarshalSplitsKnownAndBagFields(t *testing.T) {
	var in Inbound
	raw := []byte(`{"action":"navigate","session_id":"s1","url":"https://example.com"}`)
	require.NoError(t, in.UnmarshalJSON(raw))
	assert.Equal(t, "navigate", in.Action)
	assert.Equal(t, "s1", in.SessionID)
	assert.Equal(t, "https://example.com", in.Fields["url"])
	_, hasAction := in.Fields["action"]
	assert.False(t, hasAction)
}
