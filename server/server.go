// Package server exposes an agent session over HTTP.
//
// Information Hiding:
// - Routing and middleware hidden behind Handler
// - Graceful shutdown hidden behind Run
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/richinex/toolweave/agent"
	"github.com/richinex/toolweave/logging"
	"github.com/richinex/toolweave/mcp"
	"github.com/richinex/toolweave/tools"
)

// Agent is what the server needs from a session. *agent.Session implements it.
type Agent interface {
	Process(ctx context.Context, query string) agent.Response
	Tools() tools.Catalog
	ToolMapping() []mcp.ServerTools
}

// Options configure a Server.
type Options struct {
	// Addr is the listen address. Zero means ":8080".
	Addr string
	// QueryTimeout bounds one query. Zero leaves it to the client.
	QueryTimeout time.Duration
	Logger       *zerolog.Logger
}

// Server serves one agent.
type Server struct {
	agent  Agent
	opts   Options
	logger zerolog.Logger
	http   *http.Server
}

// New creates a server for a.
func New(a Agent, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	logger := logging.Component("server")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	s := &Server{agent: a, opts: opts, logger: logger}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("Listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info().Msg("Graceful shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
