package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/agent-crew/backend/internal/model/chat"
)

var (
	ErrRequestRequired = errors.New("request is required")
	ErrSessionNotFound = errors.New("session not found")
)

// Service keeps crew runs and their append-only turn logs in memory.
// Only the driver of a run appends to it; the lock guards concurrent runs
// served by the HTTP layer.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	turns    map[string][]chat.Turn
}

// NewService bootstraps the in-memory store.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]chat.Session),
		turns:    make(map[string][]chat.Turn),
	}
}

// CreateSession provisions a run for the supplied request.
func (s *Service) CreateSession(_ context.Context, request string) (chat.Session, error) {
	if strings.TrimSpace(request) == "" {
		return chat.Session{}, ErrRequestRequired
	}

	session := chat.Session{
		ID:        uuid.NewString(),
		Request:   request,
		State:     chat.StateSeeded,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.turns[session.ID] = make([]chat.Turn, 0, 16)
	s.mu.Unlock()

	return session, nil
}

// AppendTurn appends a turn to the run. Turns are never edited or removed.
func (s *Service) AppendTurn(_ context.Context, sessionID string, turn chat.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}

	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	s.turns[sessionID] = append(s.turns[sessionID], turn)
	return nil
}

// UpdateSession applies fn to the stored session under the write lock.
func (s *Service) UpdateSession(_ context.Context, sessionID string, fn func(*chat.Session)) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	fn(&session)
	session.ID = sessionID
	s.sessions[sessionID] = session
	return session, nil
}

// GetSession retrieves a run by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// ListSessions returns all runs, oldest first.
func (s *Service) ListSessions(_ context.Context) []chat.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]chat.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

// LoadTranscript returns a copy of the run's turns in append order.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns, ok := s.turns[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Turn, len(turns))
	copy(copied, turns)
	return copied, nil
}
