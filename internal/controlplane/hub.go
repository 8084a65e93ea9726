package controlplane

import (
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/streamspace/browser-orchestrator/internal/logging"
	"github.com/streamspace/browser-orchestrator/internal/metrics"
)

const outboundQueueSize = 256

// Connection is one observer's WebSocket connection, registered against
// exactly one session at a time (spec.md §4.7 "Streaming channel").
// Grounded directly on the teacher's WebSocketClient
// (api/internal/handlers/websocket_enterprise.go): a buffered Send channel
// decouples the hub's fan-out from the client's actual socket write speed.
type Connection struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan Envelope
	hub       *Hub
}

// Hub is the central per-process observer registry: a hub-and-spoke model
// where every session's events fan out to every connection currently
// watching that session. One Hub instance serves the whole process.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Connection   // connection id -> connection
	bySession   map[string]map[string]bool // session id -> set of connection ids
	seq         map[string]*uint64       // session id -> monotonic seq counter
	log         zerolog.Logger
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		bySession:   make(map[string]map[string]bool),
		seq:         make(map[string]*uint64),
		log:         logging.Component("controlplane.hub"),
	}
}

// Register adds conn to the hub, subscribed to sessionID's event stream.
func (h *Hub) Register(conn *Connection) {
	conn.hub = h
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[conn.ID] = conn
	if h.bySession[conn.SessionID] == nil {
		h.bySession[conn.SessionID] = map[string]bool{}
	}
	h.bySession[conn.SessionID][conn.ID] = true
	if h.seq[conn.SessionID] == nil {
		var z uint64
		h.seq[conn.SessionID] = &z
	}
	metrics.WebsocketConnections.Inc()
	h.log.Debug().Str("connection_id", conn.ID).Str("session_id", conn.SessionID).Msg("observer registered")
}

// Unregister removes conn from the hub and closes its Send channel.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return
	}
	delete(h.connections, conn.ID)
	if set, ok := h.bySession[conn.SessionID]; ok {
		delete(set, conn.ID)
		if len(set) == 0 {
			delete(h.bySession, conn.SessionID)
		}
	}
	close(conn.Send)
	metrics.WebsocketConnections.Dec()
	h.log.Debug().Str("connection_id", conn.ID).Str("session_id", conn.SessionID).Msg("observer unregistered")
}

// Emit assigns the next monotonic seq number for sessionID and fans the
// resulting envelope out to every observer of that session. A slow
// observer whose Send buffer is full is dropped rather than blocking the
// emitting goroutine (spec.md §4.7 "Backpressure"; "runners never block on
// observer I/O").
func (h *Hub) Emit(sessionID, eventType string, data interface{}) {
	seq := h.nextSeq(sessionID)
	env := Envelope{Type: eventType, SessionID: sessionID, Seq: seq, Data: data}
	h.emitEnvelope(sessionID, env)
}

// EmitError is Emit's counterpart for the "error" event type, which also
// sets the envelope's Error string.
func (h *Hub) EmitError(sessionID, message string) {
	seq := h.nextSeq(sessionID)
	env := Envelope{Type: EventError, SessionID: sessionID, Seq: seq, Error: message}
	h.emitEnvelope(sessionID, env)
}

func (h *Hub) emitEnvelope(sessionID string, env Envelope) {
	h.mu.RLock()
	var toDrop []*Connection
	for id := range h.bySession[sessionID] {
		conn := h.connections[id]
		if conn == nil {
			continue
		}
		select {
		case conn.Send <- env:
		default:
			toDrop = append(toDrop, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range toDrop {
		h.log.Warn().Str("connection_id", conn.ID).Str("session_id", sessionID).Msg("observer outbound queue full, dropping connection")
		metrics.WebsocketDroppedSlow.Inc()
		h.Unregister(conn)
		if conn.Conn != nil {
			conn.Conn.Close()
		}
	}
}

func (h *Hub) nextSeq(sessionID string) uint64 {
	h.mu.Lock()
	counter := h.seq[sessionID]
	if counter == nil {
		var z uint64
		counter = &z
		h.seq[sessionID] = counter
	}
	h.mu.Unlock()
	return atomic.AddUint64(counter, 1)
}

// NewConnection constructs a Connection with a bounded outbound queue.
func NewConnection(id, sessionID string, conn *websocket.Conn) *Connection {
	return &Connection{ID: id, SessionID: sessionID, Conn: conn, Send: make(chan Envelope, outboundQueueSize)}
}

// WritePump drains conn.Send to the underlying socket until the channel is
// closed (by Unregister) or a write fails. Intended to run in its own
// goroutine per connection, mirroring the teacher's per-client writePump.
func (c *Connection) WritePump() {
	for env := range c.Send {
		if err := c.Conn.WriteJSON(env); err != nil {
			return
		}
	}
}
