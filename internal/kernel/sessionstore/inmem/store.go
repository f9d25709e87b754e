// Package inmem provides an in-memory implementation of sessionstore.Store.
//
// It is intended for tests and local development. Production deployments
// should use a durable implementation such as sessionstore/mongo.
package inmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agentkernel/core/internal/kernel/id"
	"github.com/agentkernel/core/internal/kernel/sessionstore"
)

// Store is an in-memory implementation of sessionstore.Store. Safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]sessionstore.Session
	runs     map[id.Id]sessionstore.RunMeta
}

var _ sessionstore.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[string]sessionstore.Session),
		runs:     make(map[id.Id]sessionstore.RunMeta),
	}
}

// CreateSession implements sessionstore.Store.
func (s *Store) CreateSession(_ context.Context, sessionID string, createdAt time.Time) (sessionstore.Session, error) {
	if sessionID == "" {
		return sessionstore.Session{}, errors.New("sessionstore: session id is required")
	}
	if createdAt.IsZero() {
		return sessionstore.Session{}, errors.New("sessionstore: created_at is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[sessionID]
	if ok {
		if existing.Status == sessionstore.StatusEnded {
			return sessionstore.Session{}, sessionstore.ErrSessionEnded
		}
		return cloneSession(existing), nil
	}

	out := sessionstore.Session{
		ID:        sessionID,
		Status:    sessionstore.StatusActive,
		CreatedAt: createdAt.UTC(),
	}
	s.sessions[sessionID] = out
	return cloneSession(out), nil
}

// LoadSession implements sessionstore.Store.
func (s *Store) LoadSession(_ context.Context, sessionID string) (sessionstore.Session, error) {
	if sessionID == "" {
		return sessionstore.Session{}, errors.New("sessionstore: session id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing, ok := s.sessions[sessionID]
	if !ok {
		return sessionstore.Session{}, sessionstore.ErrSessionNotFound
	}
	return cloneSession(existing), nil
}

// EndSession implements sessionstore.Store.
func (s *Store) EndSession(_ context.Context, sessionID string, endedAt time.Time) (sessionstore.Session, error) {
	if sessionID == "" {
		return sessionstore.Session{}, errors.New("sessionstore: session id is required")
	}
	if endedAt.IsZero() {
		return sessionstore.Session{}, errors.New("sessionstore: ended_at is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[sessionID]
	if !ok {
		return sessionstore.Session{}, sessionstore.ErrSessionNotFound
	}
	if existing.Status == sessionstore.StatusEnded {
		return cloneSession(existing), nil
	}
	at := endedAt.UTC()
	existing.Status = sessionstore.StatusEnded
	existing.EndedAt = &at
	s.sessions[sessionID] = existing
	return cloneSession(existing), nil
}

// UpsertRun implements sessionstore.Store.
func (s *Store) UpsertRun(_ context.Context, run sessionstore.RunMeta) error {
	if run.AgentID.IsZero() {
		return errors.New("sessionstore: agent id is required")
	}
	if run.SessionID == "" {
		return errors.New("sessionstore: session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := s.runs[run.AgentID]
	if ok && !existing.StartedAt.IsZero() {
		if run.StartedAt.IsZero() {
			run.StartedAt = existing.StartedAt
		} else if !run.StartedAt.Equal(existing.StartedAt) {
			return errors.New("sessionstore: started_at is immutable")
		}
	} else if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	run.UpdatedAt = now

	s.runs[run.AgentID] = cloneRunMeta(run)
	return nil
}

// LoadRun implements sessionstore.Store.
func (s *Store) LoadRun(_ context.Context, agentID id.Id) (sessionstore.RunMeta, error) {
	if agentID.IsZero() {
		return sessionstore.RunMeta{}, errors.New("sessionstore: agent id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[agentID]
	if !ok {
		return sessionstore.RunMeta{}, sessionstore.ErrRunNotFound
	}
	return cloneRunMeta(run), nil
}

// ListRunsBySession implements sessionstore.Store.
func (s *Store) ListRunsBySession(_ context.Context, sessionID string, statuses []sessionstore.RunStatus) ([]sessionstore.RunMeta, error) {
	if sessionID == "" {
		return nil, errors.New("sessionstore: session id is required")
	}
	var allowed map[sessionstore.RunStatus]struct{}
	if len(statuses) > 0 {
		allowed = make(map[sessionstore.RunStatus]struct{}, len(statuses))
		for _, st := range statuses {
			allowed[st] = struct{}{}
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]sessionstore.RunMeta, 0, len(s.runs))
	for _, run := range s.runs {
		if run.SessionID != sessionID {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[run.Status]; !ok {
				continue
			}
		}
		out = append(out, cloneRunMeta(run))
	}
	return out, nil
}

func cloneSession(in sessionstore.Session) sessionstore.Session {
	out := in
	if in.EndedAt != nil {
		at := *in.EndedAt
		out.EndedAt = &at
	}
	return out
}

func cloneRunMeta(in sessionstore.RunMeta) sessionstore.RunMeta {
	out := in
	if len(in.Labels) > 0 {
		out.Labels = make(map[string]string, len(in.Labels))
		for k, v := range in.Labels {
			out.Labels[k] = v
		}
	}
	if len(in.Metadata) > 0 {
		out.Metadata = make(map[string]any, len(in.Metadata))
		for k, v := range in.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
