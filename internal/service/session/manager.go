package session

import (
	"errors"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/medai-health/medai/backend/internal/model/transcription"
)

// ErrOwnerMismatch is returned by Open when the session is live under a
// different operator.
var ErrOwnerMismatch = errors.New("session belongs to another operator")

const lockStripes = 64

// Lease describes a connection that Open admitted.
type Lease struct {
	SessionID string
	ConnID    string
	// Session is the state at admission time. A non-empty transcript means the
	// session survived from an earlier connection.
	Session   transcription.Session
	Created   bool
	Displaced bool
}

// Manager keeps the Store and Registry in lockstep: a registry entry exists
// exactly when store state exists for the same id. Opening and closing the
// same id are serialized by a striped lock; different ids rarely contend.
type Manager struct {
	store    *Store
	registry *Registry
	locks    [lockStripes]sync.Mutex
	log      zerolog.Logger
}

// NewManager wires a store and registry together.
func NewManager(store *Store, registry *Registry, logger zerolog.Logger) *Manager {
	return &Manager{
		store:    store,
		registry: registry,
		log:      logger.With().Str("component", "session_manager").Logger(),
	}
}

// Store exposes the session store.
func (m *Manager) Store() *Store { return m.store }

// Registry exposes the connection registry.
func (m *Manager) Registry() *Registry { return m.registry }

// Open admits conn as the live connection for sessionID. An earlier live
// connection for the same id is displaced and closed; its stored transcript
// carries over to conn.
func (m *Manager) Open(sessionID, owner string, conn Conn) (Lease, error) {
	mu := m.lockFor(sessionID)
	mu.Lock()

	if existing, ok := m.store.Get(sessionID); ok && existing.OwnerID != owner {
		mu.Unlock()
		return Lease{}, ErrOwnerMismatch
	}

	connID, displaced := m.registry.Register(sessionID, conn)
	sess, created := m.store.CreateOrGet(sessionID, owner)
	if !created {
		m.store.SetStatus(sessionID, transcription.StatusActive)
		sess.Status = transcription.StatusActive
	}
	mu.Unlock()

	if displaced != nil {
		m.log.Info().Str("session_id", sessionID).Str("conn_id", connID).Msg("displacing previous connection")
		_ = displaced.Close(CloseDisplaced)
	}

	return Lease{
		SessionID: sessionID,
		ConnID:    connID,
		Session:   sess,
		Created:   created,
		Displaced: displaced != nil,
	}, nil
}

// Close tears down sessionID if connID still owns it, removing registry and
// store state together. It reports whether teardown happened; a displaced
// connection gets false and leaves its successor untouched.
func (m *Manager) Close(sessionID, connID string) (transcription.Session, bool) {
	mu := m.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	if !m.registry.Unregister(sessionID, connID) {
		return transcription.Session{}, false
	}
	final, _ := m.store.Remove(sessionID)
	final.Status = transcription.StatusCompleted
	return final, true
}

// Mutate runs fn while connID owns sessionID and reports whether it ran.
// Results that arrive after displacement or teardown are dropped here
// instead of touching a successor's state or resurrecting a removed session.
func (m *Manager) Mutate(sessionID, connID string, fn func(*Store)) bool {
	mu := m.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	if owner, ok := m.registry.Owner(sessionID); !ok || owner != connID {
		return false
	}
	fn(m.store)
	return true
}

// Shutdown closes every live connection and drops all session state.
func (m *Manager) Shutdown() {
	for i := range m.locks {
		m.locks[i].Lock()
	}
	conns := m.registry.Drain()
	m.store.Reset()
	for i := range m.locks {
		m.locks[i].Unlock()
	}

	for _, c := range conns {
		_ = c.Close(CloseShutdown)
	}
	m.log.Info().Int("connections", len(conns)).Msg("session state dropped")
}

func (m *Manager) lockFor(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &m.locks[h.Sum32()%lockStripes]
}
