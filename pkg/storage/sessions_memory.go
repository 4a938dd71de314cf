package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/arbor-coach/arbor/pkg/models"
)

// MemorySessionStore is an in-memory SessionStore with version CAS and the
// one-active-session-per-triple uniqueness check.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*models.Session)}
}

func (s *MemorySessionStore) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return ErrAlreadyExists
	}
	if session.Status == models.SessionStatusActive && s.activeLocked(session.TenantID, session.UserID, session.TopicID, session.ID) != nil {
		return ErrAlreadyExists
	}
	session.Version = 1
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(session), nil
}

func (s *MemorySessionStore) Update(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[session.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != session.Version {
		return ErrConflict
	}
	if session.Status == models.SessionStatusActive && stored.Status != models.SessionStatusActive {
		if s.activeLocked(session.TenantID, session.UserID, session.TopicID, session.ID) != nil {
			return ErrAlreadyExists
		}
	}
	session.Version++
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *MemorySessionStore) FindActive(_ context.Context, tenantID, userID, topicID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session := s.activeLocked(tenantID, userID, topicID, ""); session != nil {
		return cloneSession(session), nil
	}
	return nil, ErrNotFound
}

func (s *MemorySessionStore) List(_ context.Context, tenantID, userID string, limit int) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Session
	for _, session := range s.sessions {
		if session.TenantID == tenantID && session.UserID == userID {
			out = append(out, cloneSession(session))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Backdate rewrites a session in place, bypassing the version CAS. Test
// hook for idle-timeout scenarios that need LastActivityAt in the past.
func (s *MemorySessionStore) Backdate(id string, mutate func(*models.Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[id]; ok {
		mutate(session)
	}
}

func (s *MemorySessionStore) activeLocked(tenantID, userID, topicID, excludeID string) *models.Session {
	for _, session := range s.sessions {
		if session.ID == excludeID {
			continue
		}
		if session.Status == models.SessionStatusActive &&
			session.TenantID == tenantID && session.UserID == userID && session.TopicID == topicID {
			return session
		}
	}
	return nil
}

func cloneSession(session *models.Session) *models.Session {
	c := *session
	if session.History != nil {
		c.History = make([]models.ChatMessage, len(session.History))
		copy(c.History, session.History)
	}
	c.InFlightJobID = clonePtr(session.InFlightJobID)
	return &c
}
