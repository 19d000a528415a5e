package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medai-health/medai/backend/internal/model/transcription"
)

// Close reasons passed to Conn.Close.
const (
	CloseDisplaced  = "session displaced by a newer connection"
	CloseSendFailed = "send failed"
	CloseShutdown   = "server shutting down"
)

// Conn is the send side of one live client connection.
type Conn interface {
	// Send delivers one message. Implementations serialize concurrent calls.
	Send(msg transcription.Outbound) error
	// Close terminates the connection. It must be safe to call more than once.
	Close(reason string) error
}

type registration struct {
	connID      string
	conn        Conn
	connectedAt time.Time
}

// Stats is an operational summary of live connections.
type Stats struct {
	ActiveCount            int      `json:"active_count"`
	SessionIDs             []string `json:"session_ids"`
	AggregateUptimeSeconds float64  `json:"aggregate_uptime_seconds"`
}

// Registry maps session identifiers to their live connection.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
	now     func() time.Time
	log     zerolog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]registration),
		now:     time.Now,
		log:     logger.With().Str("component", "registry").Logger(),
	}
}

// Register records conn as the live connection for sessionID and returns a
// fresh connection id. A connection already registered under sessionID is
// returned as displaced; the caller is responsible for closing it.
func (r *Registry) Register(sessionID string, conn Conn) (connID string, displaced Conn) {
	connID = uuid.NewString()

	r.mu.Lock()
	if prev, ok := r.entries[sessionID]; ok {
		displaced = prev.conn
	}
	r.entries[sessionID] = registration{connID: connID, conn: conn, connectedAt: r.now()}
	r.mu.Unlock()

	return connID, displaced
}

// Unregister removes the entry for sessionID if it still belongs to connID.
// It reports whether an entry was removed.
func (r *Registry) Unregister(sessionID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.entries[sessionID]
	if !ok || reg.connID != connID {
		return false
	}
	delete(r.entries, sessionID)
	return true
}

// Owner returns the connection id currently registered for sessionID.
func (r *Registry) Owner(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[sessionID]
	return reg.connID, ok
}

// SendConn delivers msg only if connID still owns sessionID. A session loop
// that was displaced therefore can never write to its successor.
func (r *Registry) SendConn(sessionID, connID string, msg transcription.Outbound) bool {
	r.mu.RLock()
	reg, ok := r.entries[sessionID]
	r.mu.RUnlock()
	if !ok || reg.connID != connID {
		return false
	}
	return r.deliver(sessionID, reg, msg)
}

// Broadcast delivers msg to every registered session and returns how many
// deliveries succeeded. One failed peer does not affect the others.
func (r *Registry) Broadcast(msg transcription.Outbound) int {
	r.mu.RLock()
	targets := make(map[string]registration, len(r.entries))
	for id, reg := range r.entries {
		targets[id] = reg
	}
	r.mu.RUnlock()

	delivered := 0
	for id, reg := range targets {
		if r.deliver(id, reg, msg) {
			delivered++
		}
	}
	return delivered
}

// Stats reports live connections. Uptime is summed across connections.
func (r *Registry) Stats() Stats {
	now := r.now()

	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	var uptime float64
	for id, reg := range r.entries {
		ids = append(ids, id)
		uptime += now.Sub(reg.connectedAt).Seconds()
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return Stats{ActiveCount: len(ids), SessionIDs: ids, AggregateUptimeSeconds: uptime}
}

// ConnectedAt returns when the live connection for sessionID was registered.
func (r *Registry) ConnectedAt(sessionID string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[sessionID]
	return reg.connectedAt, ok
}

// Drain removes every entry and returns the connections that were live.
func (r *Registry) Drain() []Conn {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.entries))
	for _, reg := range r.entries {
		conns = append(conns, reg.conn)
	}
	r.entries = make(map[string]registration)
	r.mu.Unlock()
	return conns
}

// deliver writes to the peer. A failed write is treated as a disconnect: the
// connection is closed, which ends its session loop and triggers teardown.
func (r *Registry) deliver(sessionID string, reg registration, msg transcription.Outbound) bool {
	if err := reg.conn.Send(msg); err != nil {
		r.log.Warn().Err(err).
			Str("session_id", sessionID).
			Str("conn_id", reg.connID).
			Str("type", msg.Type).
			Msg("send failed, closing connection")
		_ = reg.conn.Close(CloseSendFailed)
		return false
	}
	return true
}
