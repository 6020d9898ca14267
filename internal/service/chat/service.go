package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/skychat/backend/internal/model/chat"
)

var ErrSessionNotFound = errors.New("session not found")

type sessionRecord struct {
	session    chat.Session
	controller *Controller
}

// Service encapsulates conversation state management.
type Service struct {
	weather WeatherLooker
	replies ReplyGenerator
	logger  *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*sessionRecord
}

// NewService bootstraps the in-memory session registry. Transcripts live only
// as long as their session.
func NewService(weather WeatherLooker, replies ReplyGenerator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		weather:  weather,
		replies:  replies,
		logger:   logger.Named("chat"),
		sessions: make(map[string]*sessionRecord),
	}
}

// CreateSession provisions an anonymous session with an idle controller.
func (s *Service) CreateSession(_ context.Context) (chat.Session, *Controller) {
	session := chat.Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
	controller := NewController(session.ID, s.weather, s.replies, s.logger)

	s.mu.Lock()
	s.sessions[session.ID] = &sessionRecord{session: session, controller: controller}
	s.mu.Unlock()

	s.logger.Debug("session created", zap.String("session", session.ID))
	return session, controller
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return record.session, nil
}

// Controller returns the controller bound to sessionID.
func (s *Service) Controller(_ context.Context, sessionID string) (*Controller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return record.controller, nil
}

// LoadTranscript returns the entries recorded for the provided session.
func (s *Service) LoadTranscript(ctx context.Context, sessionID string) ([]chat.Entry, error) {
	controller, err := s.Controller(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return controller.Snapshot().Entries, nil
}

// DeleteSession drops a session and its transcript.
func (s *Service) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

// Len reports the number of live sessions.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep removes sessions idle for longer than maxIdle. Sessions with a send
// in flight are kept.
func (s *Service) Sweep(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, record := range s.sessions {
		if record.controller.State() == chat.StateSending {
			continue
		}
		if record.controller.LastActive().Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// RunJanitor sweeps idle sessions every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval, maxIdle time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if removed := s.Sweep(maxIdle); removed > 0 {
				s.logger.Info("expired idle sessions", zap.Int("removed", removed), zap.Int("remaining", s.Len()))
			}
		}
	}
}
