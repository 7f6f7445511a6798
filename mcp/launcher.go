package mcp

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/richinex/toolweave/internal/errs"
	"github.com/richinex/toolweave/logging"
)

const defaultInterpreter = "python3"

// LauncherOptions configure a Launcher.
type LauncherOptions struct {
	// Interpreter runs .py servers. Zero means python3.
	Interpreter string
	Logger      *zerolog.Logger
}

type registration struct {
	name string
	spec ServerSpec
}

// Launcher turns configured servers into live pool sessions. Servers launch
// in registration order.
type Launcher struct {
	pool        *Pool
	interpreter string
	logger      zerolog.Logger

	mu      sync.Mutex
	servers []registration
}

// NewLauncher creates a launcher feeding pool.
func NewLauncher(pool *Pool, opts LauncherOptions) *Launcher {
	if opts.Interpreter == "" {
		opts.Interpreter = defaultInterpreter
	}
	logger := logging.Component("launcher")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Launcher{pool: pool, interpreter: opts.Interpreter, logger: logger}
}

// RegisterServer registers a server script. The file must exist; nothing is
// spawned until LaunchAll.
func (l *Launcher) RegisterServer(name, path string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		cause := err
		if cause == nil {
			cause = fs.ErrNotExist
		}
		return errs.Configuration("Server script not found: "+path, cause).With("server", name)
	}
	l.add(name, l.specFor(path))
	l.logger.Info().Str("server", name).Str("path", path).Msg("Registered server")
	return nil
}

// RegisterCommand registers a server started by an explicit command line.
func (l *Launcher) RegisterCommand(name string, spec ServerSpec) error {
	if strings.TrimSpace(spec.Command) == "" {
		return errs.Configurationf("server %s has no command", name)
	}
	l.add(name, spec)
	l.logger.Info().Str("server", name).Str("command", spec.String()).Msg("Registered server")
	return nil
}

func (l *Launcher) add(name string, spec ServerSpec) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, r := range l.servers {
		if r.name == name {
			l.servers[i].spec = spec
			return
		}
	}
	l.servers = append(l.servers, registration{name: name, spec: spec})
}

// specFor picks how to run a script from its extension.
func (l *Launcher) specFor(path string) ServerSpec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return ServerSpec{Command: l.interpreter, Args: []string{path}}
	case ".js", ".mjs":
		return ServerSpec{Command: "node", Args: []string{path}}
	default:
		return ServerSpec{Command: path}
	}
}

// Names returns registered server names in order.
func (l *Launcher) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, len(l.servers))
	for i, r := range l.servers {
		names[i] = r.name
	}
	return names
}

// LaunchAll starts every registered server. The first failure is returned
// as is; servers already launched stay up until Shutdown.
func (l *Launcher) LaunchAll(ctx context.Context) error {
	l.mu.Lock()
	servers := append([]registration(nil), l.servers...)
	l.mu.Unlock()

	for _, r := range servers {
		l.logger.Info().Str("server", r.name).Str("command", r.spec.String()).Msg("Launching server")
		if err := l.pool.AddClient(ctx, r.name, r.spec); err != nil {
			l.logger.Error().Err(err).Str("server", r.name).Msg("Failed to launch server")
			return fmt.Errorf("launch %s: %w", r.name, err)
		}
	}
	return nil
}

// Shutdown releases every launched server.
func (l *Launcher) Shutdown() error {
	return l.pool.Cleanup()
}

// Pool returns the pool this launcher feeds.
func (l *Launcher) Pool() *Pool { return l.pool }
