// Package eventbus provides best-effort fan-out of orchestrator lifecycle
// events (session_started, script_complete, ...) to external subscribers
// over NATS, independent of the per-session streaming channel the Control
// Plane serves directly to its own observers. Grounded on the teacher's
// degrade-gracefully publisher (api/internal/events/publisher.go): when no
// NATS URL is configured, or the broker is unreachable, the bus silently
// disables itself rather than failing the process.
package eventbus

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/streamspace/browser-orchestrator/internal/logging"
)

const subjectPrefix = "orchestrator.events."

// Bus publishes orchestrator events to NATS when configured, and is a safe
// no-op otherwise.
type Bus struct {
	conn    *nats.Conn
	enabled bool
	log     zerolog.Logger
}

// Connect dials url. An empty url, or a failed dial, returns a disabled Bus
// instead of an error: the event bus is an observability convenience, never
// a correctness dependency for session/script execution.
func Connect(url string) *Bus {
	log := logging.Component("eventbus")
	if url == "" {
		log.Info().Msg("no NATS URL configured, event bus disabled")
		return &Bus{enabled: false, log: log}
	}

	conn, err := nats.Connect(url,
		nats.Name("browser-orchestrator"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(10),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Warn().Err(err).Msg("nats error")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("failed to connect to nats, event bus disabled")
		return &Bus{enabled: false, log: log}
	}
	log.Info().Str("url", conn.ConnectedUrl()).Msg("connected to nats")
	return &Bus{conn: conn, enabled: true, log: log}
}

// Close drains and closes the NATS connection, if connected.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Drain()
		b.conn.Close()
	}
}

// Enabled reports whether the bus is actually publishing.
func (b *Bus) Enabled() bool { return b.enabled }

// Publish fans event out under subjectPrefix+eventType, keyed additionally
// by sessionID for subscriber-side filtering (e.g. "orchestrator.events.
// script_complete"). A publish failure is logged and swallowed: observers
// on the bus are best-effort, never a blocking dependency of the runner.
func (b *Bus) Publish(eventType, sessionID string, payload interface{}) {
	if !b.enabled {
		return
	}
	data, err := json.Marshal(envelope{EventType: eventType, SessionID: sessionID, Timestamp: time.Now(), Payload: payload})
	if err != nil {
		b.log.Warn().Err(err).Str("event_type", eventType).Msg("failed to marshal event")
		return
	}
	if err := b.conn.Publish(subjectPrefix+eventType, data); err != nil {
		b.log.Warn().Err(err).Str("event_type", eventType).Msg("failed to publish event")
	}
}

type envelope struct {
	EventType string      `json:"event_type"`
	SessionID string      `json:"session_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}
