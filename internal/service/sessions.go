package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/MedOrch/internal/config"
	"github.com/Strob0t/MedOrch/internal/domain"
	"github.com/Strob0t/MedOrch/internal/domain/memory"
)

// DefaultSessionID names the session used when a caller supplies none.
const DefaultSessionID = "default"

const maxSessionIDLen = 128

// SessionInfo summarizes one live session.
type SessionInfo struct {
	ID        string      `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	LastUsed  time.Time   `json:"last_used"`
	Size      memory.Size `json:"size"`
}

type sessionEntry struct {
	orch      *Orchestrator
	createdAt time.Time
	lastUsed  time.Time
}

// Sessions maps session ids to orchestrators, each with its own Memory
// and sharing the router, executor and synthesizer. Idle sessions other
// than the default one expire.
type Sessions struct {
	deps Deps
	cfg  config.Sessions
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// NewSessions creates a registry holding only the default session.
func NewSessions(deps Deps, cfg config.Sessions) *Sessions {
	return newSessions(deps, cfg, time.Now)
}

func newSessions(deps Deps, cfg config.Sessions, now func() time.Time) *Sessions {
	s := &Sessions{
		deps:     deps,
		cfg:      cfg,
		now:      now,
		sessions: make(map[string]*sessionEntry),
	}
	s.sessions[DefaultSessionID] = s.newEntry(DefaultSessionID)
	return s
}

func (s *Sessions) newEntry(id string) *sessionEntry {
	now := s.now()
	return &sessionEntry{
		orch:      NewOrchestrator(id, s.deps, NewMemory()),
		createdAt: now,
		lastUsed:  now,
	}
}

// Default returns the default session's orchestrator.
func (s *Sessions) Default() *Orchestrator {
	o, _ := s.Get(DefaultSessionID)
	return o
}

// Get returns the orchestrator for id and marks the session as used.
func (s *Sessions) Get(id string) (*Orchestrator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastUsed = s.now()
	return e.orch, true
}

// Create starts a session with a fresh uuid.
func (s *Sessions) Create() *Orchestrator {
	o, _ := s.GetOrCreate(uuid.NewString())
	return o
}

// GetOrCreate returns the orchestrator for id, creating the session on
// first use. An empty id selects the default session. When the registry is
// full the least recently used session is evicted.
func (s *Sessions) GetOrCreate(id string) (*Orchestrator, error) {
	if id == "" {
		id = DefaultSessionID
	}
	if len(id) > maxSessionIDLen {
		return nil, fmt.Errorf("session id longer than %d characters: %w", maxSessionIDLen, domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[id]; ok {
		e.lastUsed = s.now()
		return e.orch, nil
	}
	if s.cfg.MaxSessions > 0 && len(s.sessions) >= s.cfg.MaxSessions {
		s.evictOldestLocked()
	}
	e := s.newEntry(id)
	s.sessions[id] = e
	slog.Info("session created", "session_id", id, "sessions", len(s.sessions))
	return e.orch, nil
}

func (s *Sessions) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, e := range s.sessions {
		if id == DefaultSessionID {
			continue
		}
		if oldestID == "" || e.lastUsed.Before(oldest) {
			oldestID, oldest = id, e.lastUsed
		}
	}
	if oldestID != "" {
		delete(s.sessions, oldestID)
		slog.Info("session evicted, registry full", "session_id", oldestID)
	}
}

// Delete ends a session. The default session cannot be deleted.
func (s *Sessions) Delete(id string) error {
	if id == DefaultSessionID {
		return fmt.Errorf("default session cannot be deleted: %w", domain.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("session %q: %w", id, domain.ErrNotFound)
	}
	delete(s.sessions, id)
	return nil
}

// List describes every live session, oldest first.
func (s *Sessions) List() []SessionInfo {
	s.mu.Lock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for id, e := range s.sessions {
		out = append(out, SessionInfo{
			ID:        id,
			CreatedAt: e.createdAt,
			LastUsed:  e.lastUsed,
			Size:      e.orch.Memory().Size(),
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of live sessions, including the default one.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes sessions idle for longer than the configured timeout and
// returns how many were removed.
func (s *Sessions) Sweep() int {
	if s.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.cfg.IdleTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.sessions {
		if id == DefaultSessionID {
			continue
		}
		if e.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("idle sessions expired", "removed", removed, "remaining", len(s.sessions))
	}
	return removed
}

// Run sweeps idle sessions every SweepInterval until ctx is done.
func (s *Sessions) Run(ctx context.Context) {
	if s.cfg.SweepInterval <= 0 || s.cfg.IdleTimeout <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
