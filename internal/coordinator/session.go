package coordinator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vthunder/budintel/internal/analysis"
	"github.com/vthunder/budintel/internal/types"
)

// ErrSessionNotFound is returned for users without an active session
var ErrSessionNotFound = errors.New("no active intelligence session")

// Session is one user's running intelligence state
type Session struct {
	UserID    string
	StartedAt time.Time

	queue  *UpdateQueue
	active atomic.Bool

	// reconcileMu serializes reconciliation with itself and with Stop
	reconcileMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}

	mu              sync.RWMutex
	knowledge       types.Knowledge
	knowledgeErr    string
	bundles         []analysis.Bundle
	processed       int
	lastReconcileAt *time.Time
	lastAnalysisAt  *time.Time
}

func newSession(userID string, queueSize int, now time.Time) *Session {
	return &Session{
		UserID:    userID,
		StartedAt: now,
		queue:     NewUpdateQueue(queueSize),
		done:      make(chan struct{}),
	}
}

// Active reports whether the session is still running
func (s *Session) Active() bool {
	return s.active.Load()
}

// Queue returns the session's pending updates
func (s *Session) Queue() *UpdateQueue {
	return s.queue
}

// LastAnalysisAt returns when insights were last served, or nil
func (s *Session) LastAnalysisAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyTime(s.lastAnalysisAt)
}

// LastReconcileAt returns when the last reconciliation committed, or nil
func (s *Session) LastReconcileAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyTime(s.lastReconcileAt)
}

func (s *Session) commit(k types.Knowledge, kerr error, bundles []analysis.Bundle, processed int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.knowledge = k
	s.knowledgeErr = ""
	if kerr != nil {
		s.knowledgeErr = kerr.Error()
	}
	s.bundles = bundles
	s.processed += processed
	s.lastReconcileAt = &now
}

func (s *Session) markAnalyzed(now time.Time) {
	s.mu.Lock()
	s.lastAnalysisAt = &now
	s.mu.Unlock()
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// SessionStore owns the per-user session objects
type SessionStore interface {
	// Open returns the user's session, creating it if needed. The bool is
	// true when a new session was created.
	Open(userID string, create func() *Session) (*Session, bool)
	Get(userID string) (*Session, bool)
	// Close removes the user's session and returns it
	Close(userID string) (*Session, bool)
	Users() []string
}

// MemoryStore keeps sessions in a map
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Open(userID string, create func() *Session) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok {
		return s, false
	}
	s := create()
	m.sessions[userID] = s
	return s, true
}

func (m *MemoryStore) Get(userID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[userID]
	return s, ok
}

func (m *MemoryStore) Close(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
	}
	return s, ok
}

func (m *MemoryStore) Users() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}
