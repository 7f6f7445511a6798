// Package storage provides in-memory conversation storage.
//
// Information Hiding:
// - Map storage structure hidden from users
// - Thread-safe access via RWMutex hidden behind interface
// - Suitable for testing and ephemeral sessions

package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/richinex/toolweave/llm"
)

// InMemoryStorage implements Store using in-memory maps.
// Data is lost when process terminates.
type InMemoryStorage struct {
	mu       sync.RWMutex
	sessions map[string][]llm.ChatMessage
	runs     map[string][]Run
}

// NewInMemoryStorage creates a new in-memory storage.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		sessions: make(map[string][]llm.ChatMessage),
		runs:     make(map[string][]Run),
	}
}

// copyMessages copies messages and their tool call slices.
func copyMessages(history []llm.ChatMessage) []llm.ChatMessage {
	copied := make([]llm.ChatMessage, len(history))
	copy(copied, history)
	for i := range copied {
		if copied[i].ToolCalls != nil {
			copied[i].ToolCalls = append([]llm.ToolCall(nil), copied[i].ToolCalls...)
		}
	}
	return copied
}

// Save saves conversation history for a session.
func (s *InMemoryStorage) Save(ctx context.Context, sessionID string, history []llm.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sessionID] = copyMessages(history)
	return nil
}

// Load loads conversation history for a session.
// Returns empty slice if session doesn't exist.
func (s *InMemoryStorage) Load(ctx context.Context, sessionID string) ([]llm.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.sessions[sessionID]
	if !ok {
		return []llm.ChatMessage{}, nil
	}
	return copyMessages(history), nil
}

// Delete deletes conversation history and runs for a session.
func (s *InMemoryStorage) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	delete(s.runs, sessionID)
	return nil
}

// ListSessions lists all session IDs, sorted.
func (s *InMemoryStorage) ListSessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.sessions))
	for sessionID := range s.sessions {
		sessions = append(sessions, sessionID)
	}
	sort.Strings(sessions)
	return sessions, nil
}

// Exists checks if a session exists.
func (s *InMemoryStorage) Exists(ctx context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.sessions[sessionID]
	return ok, nil
}

// RecordRun stores a run.
func (s *InMemoryStorage) RecordRun(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.SessionID] = append(s.runs[run.SessionID], run)
	return nil
}

// Runs returns a session's most recent runs, newest first.
func (s *InMemoryStorage) Runs(ctx context.Context, sessionID string, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.runs[sessionID]
	out := make([]Run, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, stored[i])
	}
	return out, nil
}

// Close is a no-op.
func (s *InMemoryStorage) Close() error { return nil }

// Verify InMemoryStorage implements Store
var _ Store = (*InMemoryStorage)(nil)
