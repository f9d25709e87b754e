// Package sessionstore defines durable session lifecycle and run metadata
// primitives for agents spawned by the kernel.
//
// A Session is the first-class conversational container an agent run
// belongs to. Session lifecycle is explicit: sessions are created and
// ended independently of the agent run's own lifecycle, so a session can
// outlive any single agent spawned under it.
package sessionstore

import (
	"context"
	"errors"
	"time"

	"github.com/agentkernel/core/internal/kernel/id"
)

type (
	// Session captures durable session lifecycle state.
	//
	// Contract:
	//   - Session IDs are stable and caller-provided (typically owned by
	//     whatever application submitted the originating command).
	//   - Sessions are created explicitly (CreateSession) and ended
	//     explicitly (EndSession).
	//   - Ended sessions are terminal: new runs must not start under an
	//     ended session.
	Session struct {
		ID        string
		Status    SessionStatus
		CreatedAt time.Time
		EndedAt   *time.Time
	}

	// RunMeta captures persistent metadata for one agent run.
	RunMeta struct {
		AgentID   id.Id
		SessionID string
		Status    RunStatus
		StartedAt time.Time
		UpdatedAt time.Time
		Labels    map[string]string
		Metadata  map[string]any
	}

	// Store persists session lifecycle state and agent run metadata.
	//
	// Store implementations must be durable: failures are surfaced to
	// callers so the orchestrator can fail fast when session/run metadata
	// is unavailable rather than silently proceed without it.
	Store interface {
		// CreateSession creates (or returns) an active session.
		//
		// Idempotent for active sessions: returns the existing session.
		// Returns ErrSessionEnded when the session exists but is terminal.
		CreateSession(ctx context.Context, sessionID string, createdAt time.Time) (Session, error)
		// LoadSession loads an existing session. Returns
		// ErrSessionNotFound when the session does not exist.
		LoadSession(ctx context.Context, sessionID string) (Session, error)
		// EndSession ends a session and returns its terminal state.
		// Idempotent: ending an already-ended session returns the stored
		// session unchanged.
		EndSession(ctx context.Context, sessionID string, endedAt time.Time) (Session, error)

		// UpsertRun inserts or updates run metadata.
		UpsertRun(ctx context.Context, run RunMeta) error
		// LoadRun loads run metadata. Returns ErrRunNotFound when missing.
		LoadRun(ctx context.Context, agentID id.Id) (RunMeta, error)
		// ListRunsBySession lists runs for the given session. When
		// statuses is non-empty, only runs whose status matches one of
		// the provided values are returned.
		ListRunsBySession(ctx context.Context, sessionID string, statuses []RunStatus) ([]RunMeta, error)
	}

	// SessionStatus is the lifecycle state of a session.
	SessionStatus string

	// RunStatus is the lifecycle state of an agent run.
	RunStatus string
)

const (
	StatusActive SessionStatus = "active"
	StatusEnded  SessionStatus = "ended"

	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

var (
	ErrSessionNotFound = errors.New("sessionstore: session not found")
	ErrSessionEnded    = errors.New("sessionstore: session ended")
	ErrRunNotFound     = errors.New("sessionstore: run not found")
)
