package storage

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/lehigh-university-libraries/cookbook/internal/models"
)

// SessionStore keeps the browsing session of every conversation in memory.
// Nothing is persisted: a restart forgets all sessions.
type SessionStore struct {
	sessions map[int64]*models.Session
	mu       sync.RWMutex
	now      func() time.Time
}

func New() *SessionStore {
	return &SessionStore{
		sessions: make(map[int64]*models.Session),
		now:      time.Now,
	}
}

// Get returns a copy of the session of chatID. Conversations that were never
// seen are reported in the start state.
func (s *SessionStore) Get(chatID int64) models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, exists := s.sessions[chatID]
	if !exists {
		return models.Session{ChatID: chatID, State: models.StateStart}
	}
	return clone(session)
}

// Lookup is like Get but reports whether the conversation is known.
func (s *SessionStore) Lookup(chatID int64) (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, exists := s.sessions[chatID]
	if !exists {
		return models.Session{}, false
	}
	return clone(session), true
}

func (s *SessionStore) Set(session models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session = clone(&session)
	session.UpdatedAt = s.now()
	s.sessions[session.ChatID] = &session
}

// Reset moves the conversation back to the start state.
func (s *SessionStore) Reset(chatID int64) {
	s.Set(models.Session{ChatID: chatID, State: models.StateStart})
}

// GetAll returns every known session ordered by chat id.
func (s *SessionStore) GetAll() []models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Session, 0, len(s.sessions))
	for _, v := range s.sessions {
		result = append(result, clone(v))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ChatID < result[j].ChatID })
	return result
}

func (s *SessionStore) Delete(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, chatID)
}

func clone(session *models.Session) models.Session {
	c := *session
	c.History = slices.Clone(session.History)
	return c
}
