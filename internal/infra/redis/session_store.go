package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-session-service/internal/app"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Notes:
//   - Sessions own timers and subscriber channels, so they stay in a local map.
//   - Redis marks which quizzes have a live attempt on some instance, so operators
//     can see them with SCAN quiz:session:*.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		sessions: make(map[string]*app.Session),
	}
}

func (s *SessionStore) GetOrCreate(quizID string, create func() (*app.Session, error)) (*app.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[quizID]; ok {
		s.touch(quizID)
		return session, nil
	}
	session, err := create()
	if err != nil {
		return nil, err
	}
	s.sessions[quizID] = session
	s.touch(quizID)
	return session, nil
}

func (s *SessionStore) Get(quizID string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[quizID]
	return session, ok
}

func (s *SessionStore) Delete(quizID string) (*app.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[quizID]
	if !ok {
		return nil, false
	}
	delete(s.sessions, quizID)
	_ = s.client.Del(context.Background(), s.key(quizID)).Err()
	return session, true
}

// DeleteIfIdle removes session and its liveness marker when it is still registered
// for quizID and has no subscribers.
func (s *SessionStore) DeleteIfIdle(quizID string, session *app.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[quizID]
	if !ok || current != session || !session.Idle() {
		return false
	}
	delete(s.sessions, quizID)
	_ = s.client.Del(context.Background(), s.key(quizID)).Err()
	return true
}

// touch refreshes the best-effort liveness marker.
func (s *SessionStore) touch(quizID string) {
	_ = s.client.Set(context.Background(), s.key(quizID), "1", s.ttl).Err()
}

func (s *SessionStore) key(quizID string) string {
	return "quiz:session:" + quizID
}
