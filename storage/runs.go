package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/richinex/toolweave/internal/errs"
)

// Run records the outcome of one processed query.
type Run struct {
	// ID is a unique identifier for this run.
	ID string `json:"id"`
	// SessionID is the session this run belongs to.
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
	Result    string `json:"result"`
	// Outcome is "success", "failure" or "timeout".
	Outcome    string `json:"outcome"`
	Iterations int    `json:"iterations"`
	ToolCalls  int    `json:"tool_calls"`
	DurationMs uint64 `json:"duration_ms"`
	// CreatedAt is the Unix timestamp when recorded.
	CreatedAt int64 `json:"created_at"`
}

// NewRun creates a run with a fresh ID and the current time.
func NewRun(sessionID, query, result, outcome string) Run {
	return Run{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Query:     query,
		Result:    result,
		Outcome:   outcome,
		CreatedAt: time.Now().Unix(),
	}
}

// RunLog stores runs per session.
type RunLog interface {
	// RecordRun stores a run.
	RecordRun(ctx context.Context, run Run) error

	// Runs returns a session's most recent runs, newest first. A limit of
	// zero or less returns all of them.
	Runs(ctx context.Context, sessionID string, limit int) ([]Run, error)
}

func errUnknownDriver(driver string) error {
	return errs.Configuration(fmt.Sprintf("unknown storage driver: %q", driver), nil)
}
