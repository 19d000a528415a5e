// Package session keeps process-local state for live transcription
// sessions: the per-session Store, the Registry of live connections, and the
// Manager that creates and destroys both together.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/medai-health/medai/backend/internal/model/transcription"
)

type storeEntry struct {
	mu      sync.Mutex
	session transcription.Session
}

// Store holds mutable per-session state. The map is guarded by one RWMutex;
// each entry has its own mutex so writers to different sessions never contend.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*storeEntry
	now      func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*storeEntry),
		now:      time.Now,
	}
}

// CreateOrGet returns the existing state for id, preserving its transcript,
// or creates a fresh active session owned by owner. created reports which.
func (s *Store) CreateOrGet(id, owner string) (session transcription.Session, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.sessions[id]; ok {
		return e.snapshot(), false
	}

	e := &storeEntry{session: transcription.Session{
		ID:        id,
		OwnerID:   owner,
		Status:    transcription.StatusActive,
		CreatedAt: s.now().UTC(),
	}}
	s.sessions[id] = e
	return e.snapshot(), true
}

// Get returns a snapshot of the session.
func (s *Store) Get(id string) (transcription.Session, bool) {
	e := s.lookup(id)
	if e == nil {
		return transcription.Session{}, false
	}
	return e.snapshot(), true
}

// AppendTranscript adds text to the transcript, separated by a single space.
// Blank text and unknown sessions are ignored.
func (s *Store) AppendTranscript(id, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.update(id, func(sess *transcription.Session) {
		if sess.Transcript == "" {
			sess.Transcript = text
			return
		}
		sess.Transcript += " " + text
	})
}

// ClearTranscript empties the transcript.
func (s *Store) ClearTranscript(id string) {
	s.update(id, func(sess *transcription.Session) {
		sess.Transcript = ""
	})
}

// UpdatePatientInfo merges the provided fields of info into the session.
func (s *Store) UpdatePatientInfo(id string, info transcription.PatientInfo) {
	s.update(id, func(sess *transcription.Session) {
		sess.Patient = sess.Patient.Merge(info)
	})
}

// SetStatus records an advisory lifecycle status.
func (s *Store) SetStatus(id string, status transcription.Status) {
	s.update(id, func(sess *transcription.Session) {
		sess.Status = status
	})
}

// Remove destroys the session and returns its final snapshot.
func (s *Store) Remove(id string) (transcription.Session, bool) {
	s.mu.Lock()
	e, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return transcription.Session{}, false
	}
	return e.snapshot(), true
}

// Len returns the number of tracked sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Reset drops every session.
func (s *Store) Reset() {
	s.mu.Lock()
	s.sessions = make(map[string]*storeEntry)
	s.mu.Unlock()
}

func (s *Store) lookup(id string) *storeEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

func (s *Store) update(id string, fn func(*transcription.Session)) {
	e := s.lookup(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	fn(&e.session)
	e.mu.Unlock()
}

func (e *storeEntry) snapshot() transcription.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}
