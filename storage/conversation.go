// Package storage provides conversation storage abstraction.
//
// Information Hiding:
// - Storage backend implementation details hidden behind interface
// - Allows swapping between memory and SQLite without API changes
// - Each storage implementation encapsulates its own data structures

package storage

import (
	"context"

	"github.com/richinex/toolweave/llm"
)

// ConversationStorage defines the interface for storing conversation history.
// Messages round-trip with their tool calls, tool call id and tool name.
type ConversationStorage interface {
	// Save replaces the stored history of a session.
	Save(ctx context.Context, sessionID string, history []llm.ChatMessage) error

	// Load loads conversation history for a session.
	// Returns empty slice (not nil) if session doesn't exist.
	// Returns error only for storage failures (I/O errors, etc.), not missing sessions.
	Load(ctx context.Context, sessionID string) ([]llm.ChatMessage, error)

	// Delete deletes conversation history and runs for a session.
	Delete(ctx context.Context, sessionID string) error

	// ListSessions lists all session IDs.
	ListSessions(ctx context.Context) ([]string, error)

	// Exists checks if a session exists.
	Exists(ctx context.Context, sessionID string) (bool, error)
}

// Store is a conversation store that also keeps a run log.
type Store interface {
	ConversationStorage
	RunLog
	Close() error
}

// Open returns the store selected by driver: "memory" (or "") or "sqlite".
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewInMemoryStorage(), nil
	case "sqlite":
		if path == "" {
			return NewSqliteInMemory()
		}
		return OpenSqlite(path)
	default:
		return nil, errUnknownDriver(driver)
	}
}
