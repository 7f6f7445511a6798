// Session wiring.
//
// Information Hiding:
// - Provider construction hidden
// - Tool server launch and teardown hidden
// - Transcript persistence hidden

package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/richinex/toolweave/config"
	"github.com/richinex/toolweave/llm"
	"github.com/richinex/toolweave/logging"
	"github.com/richinex/toolweave/mcp"
	"github.com/richinex/toolweave/storage"
	"github.com/richinex/toolweave/tools"
)

// Session is one agent session: a provider, a pool of live tool servers and a
// processor owning the conversation. Queries on a session are serialized.
type Session struct {
	settings  *config.Settings
	processor *Processor
	launcher  *mcp.Launcher
	logger    zerolog.Logger

	store     storage.Store
	sessionID string

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

type options struct {
	provider  llm.Provider
	servers   []*mcp.Config
	toolsFile string
	store     storage.Store
	sessionID string
	logger    *zerolog.Logger
}

// Option customizes Open.
type Option func(*options)

// WithProvider uses provider instead of building one from settings.
func WithProvider(provider llm.Provider) Option {
	return func(o *options) { o.provider = provider }
}

// WithServers registers the servers of cfg. It may be given more than once.
func WithServers(cfg *mcp.Config) Option {
	return func(o *options) { o.servers = append(o.servers, cfg) }
}

// WithToolsFile loads servers from a tools file, overriding mcp.tools_file.
func WithToolsFile(path string) Option {
	return func(o *options) { o.toolsFile = path }
}

// WithStorage persists the transcript and a run log under sessionID. An
// existing transcript is restored on Open.
func WithStorage(store storage.Store, sessionID string) Option {
	return func(o *options) {
		o.store = store
		o.sessionID = sessionID
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

// Open builds a session from settings: it creates the provider, launches
// every configured tool server and wires the processor. A server that fails
// to start aborts Open; servers already running are shut down.
func Open(ctx context.Context, settings *config.Settings, opts ...Option) (*Session, error) {
	if settings == nil {
		settings = config.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := logging.Component("session")
	if o.logger != nil {
		logger = *o.logger
	}

	cfg, err := ConfigFromSettings(settings)
	if err != nil {
		return nil, err
	}
	cfg.Logger = o.logger

	provider := o.provider
	if provider == nil {
		caps, err := settings.Capabilities()
		if err != nil {
			return nil, err
		}
		if provider, err = llm.New(caps); err != nil {
			return nil, err
		}
	}

	pool := mcp.NewPool(mcp.PoolOptions{
		StrictToolNames:  settings.MCP.StrictToolNames,
		CallTimeout:      toolTimeout(settings),
		HandshakeTimeout: settings.MCP.HandshakeTimeout.Duration,
		Logger:           o.logger,
	})
	launcher := mcp.NewLauncher(pool, mcp.LauncherOptions{
		Interpreter: settings.MCP.Interpreter,
		Logger:      o.logger,
	})

	if err := registerServers(launcher, settings, o); err != nil {
		return nil, err
	}
	logger.Debug().Strs("servers", launcher.Names()).Msg("Launching tool servers")
	if err := launcher.LaunchAll(ctx); err != nil {
		if shutdownErr := launcher.Shutdown(); shutdownErr != nil {
			logger.Warn().Err(shutdownErr).Msg("Cleanup after failed launch")
		}
		return nil, err
	}

	s := &Session{
		settings:  settings,
		processor: NewProcessor(provider, pool, cfg),
		launcher:  launcher,
		logger:    logger,
		store:     o.store,
		sessionID: o.sessionID,
	}
	if err := s.restore(ctx); err != nil {
		_ = launcher.Shutdown()
		return nil, err
	}

	logger.Info().
		Str("provider", provider.Name()).
		Str("model", provider.Model()).
		Strs("servers", pool.Sessions()).
		Int("tools", len(pool.Catalog())).
		Msg("Session ready")
	return s, nil
}

func registerServers(l *mcp.Launcher, settings *config.Settings, o options) error {
	file := o.toolsFile
	if file == "" {
		file = settings.MCP.ToolsFile
	}
	if file != "" {
		cfg, err := mcp.LoadConfig(file)
		if err != nil {
			return err
		}
		if err := cfg.Register(l); err != nil {
			return err
		}
	}
	for _, cfg := range o.servers {
		if err := cfg.Register(l); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	messages, err := s.store.Load(ctx, s.sessionID)
	if err != nil {
		return fmt.Errorf("restore session %s: %w", s.sessionID, err)
	}
	if len(messages) > 0 {
		s.processor.History().Restore(messages)
		s.logger.Info().Str("session", s.sessionID).Int("messages", len(messages)).Msg("Restored conversation")
	}
	return nil
}

// Process answers one query. With storage configured, the transcript and a
// run entry are saved afterwards; storage failures are logged, not returned.
func (s *Session) Process(ctx context.Context, query string) Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := s.processor.Process(ctx, query)
	s.persist(ctx, query, resp)
	return resp
}

// Answer answers query in a fresh conversation, as a standalone request
// from another agent. Earlier turns are dropped first.
func (s *Session) Answer(ctx context.Context, query string) Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processor.Reset()
	resp := s.processor.Process(ctx, query)
	s.persist(ctx, query, resp)
	return resp
}

func (s *Session) persist(ctx context.Context, query string, resp Response) {
	if s.store == nil {
		return
	}
	// Save even when ctx was cancelled mid-query.
	ctx = context.WithoutCancel(ctx)
	if err := s.store.Save(ctx, s.sessionID, s.processor.History().Messages()); err != nil {
		s.logger.Error().Err(err).Str("session", s.sessionID).Msg("Failed to save conversation")
	}

	run := storage.NewRun(s.sessionID, query, resp.Result, resp.Type.String())
	run.Iterations = resp.Metadata.Iterations
	run.ToolCalls = len(resp.Metadata.ToolCalls)
	run.DurationMs = resp.Metadata.ExecutionTimeMs
	if err := s.store.RecordRun(ctx, run); err != nil {
		s.logger.Error().Err(err).Str("session", s.sessionID).Msg("Failed to record run")
	}
}

// Reset drops the conversation back to the system prompt.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processor.Reset()
	if s.store == nil {
		return nil
	}
	return s.store.Save(ctx, s.sessionID, s.processor.History().Messages())
}

// Processor returns the session's processor.
func (s *Session) Processor() *Processor { return s.processor }

// Tools returns the schemas of every live tool.
func (s *Session) Tools() tools.Catalog { return s.launcher.Pool().Catalog() }

// ToolMapping returns which tools each server provides.
func (s *Session) ToolMapping() []mcp.ServerTools { return s.launcher.Pool().ToolMapping() }

// Settings returns the settings the session was opened with.
func (s *Session) Settings() *config.Settings { return s.settings }

// ID returns the storage session id, or "" without storage.
func (s *Session) ID() string { return s.sessionID }

// Close shuts down every tool server. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.launcher.Shutdown(); err != nil {
			s.closeErr = errors.Join(errors.New("shutdown tool servers"), err)
		}
	})
	return s.closeErr
}
