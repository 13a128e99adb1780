package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"quiz-engine/internal/app"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Sessions themselves (timers, locks) live in this process; Redis only carries a
// liveness marker so other instances and operators can see which ids are in play.
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

func (s *SessionStore) Add(session *app.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := session.ID()
	if _, ok := s.sessions[id]; ok {
		return fmt.Errorf("session %s already registered", id)
	}
	s.sessions[id] = session
	// best-effort liveness marker
	if err := s.client.Set(context.Background(), Key(id), session.ServerTime(), s.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("mark session live")
	}
	return nil
}

func (s *SessionStore) Get(sessionID string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	return session, ok
}

func (s *SessionStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return
	}
	delete(s.sessions, sessionID)
	if err := s.client.Del(context.Background(), Key(sessionID)).Err(); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("clear session marker")
	}
}

// Key is the liveness marker of a session.
func Key(sessionID string) string {
	return "quiz:session:" + sessionID
}
