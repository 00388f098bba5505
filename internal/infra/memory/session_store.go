package memory

import (
	"sync"

	"quiz-session-service/internal/app"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*app.Session),
	}
}

// GetOrCreate returns the live session of a quiz or stores the one built by create.
// create runs under the lock so two callers never build competing sessions.
func (s *SessionStore) GetOrCreate(quizID string, create func() (*app.Session, error)) (*app.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[quizID]; ok {
		return session, nil
	}
	session, err := create()
	if err != nil {
		return nil, err
	}
	s.sessions[quizID] = session
	return session, nil
}

func (s *SessionStore) Get(quizID string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[quizID]
	return session, ok
}

// Delete removes and returns the live session of a quiz.
func (s *SessionStore) Delete(quizID string) (*app.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[quizID]
	if ok {
		delete(s.sessions, quizID)
	}
	return session, ok
}

// DeleteIfIdle removes session when it is still registered for quizID and nobody
// is subscribed to it.
func (s *SessionStore) DeleteIfIdle(quizID string, session *app.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[quizID]
	if !ok || current != session || !session.Idle() {
		return false
	}
	delete(s.sessions, quizID)
	return true
}

// Len reports how many sessions are live.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
