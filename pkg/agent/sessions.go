package agent

import (
	"sync"

	"github.com/dotsetgreg/taskmind/pkg/providers"
)

// SessionStore keeps per-session conversation transcripts between turns,
// keyed by session id so one user can hold several conversations. It is
// process-local; long-term knowledge lives in the memory store.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string][]providers.Message
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string][]providers.Message)}
}

// History returns a copy of the transcript for sessionID, or nil.
func (s *SessionStore) History(sessionID string) []providers.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.sessions[sessionID]
	if msgs == nil {
		return nil
	}
	return append([]providers.Message(nil), msgs...)
}

// Replace stores the transcript for sessionID, overwriting any previous one.
func (s *SessionStore) Replace(sessionID string, msgs []providers.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append([]providers.Message(nil), msgs...)
}

// Clear drops the transcript for sessionID.
func (s *SessionStore) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}
