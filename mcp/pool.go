package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/richinex/toolweave/internal/errs"
	"github.com/richinex/toolweave/logging"
	"github.com/richinex/toolweave/tools"
)

const defaultHandshakeTimeout = 30 * time.Second

// PoolOptions configure a Pool.
type PoolOptions struct {
	// StrictToolNames rejects a session that advertises a tool another
	// session already serves. By default the later session wins.
	StrictToolNames bool
	// CallTimeout bounds each tool call. Zero disables it.
	CallTimeout time.Duration
	// HandshakeTimeout bounds spawn, initialize and tools/list. Zero means 30s.
	HandshakeTimeout time.Duration
	Logger           *zerolog.Logger
}

// ServerTools pairs a session name with the tools it serves.
type ServerTools struct {
	Name  string   `json:"name"`
	Tools []string `json:"tools"`
}

// Pool owns tool server sessions and routes calls to them by tool name.
// Registration is serialized; calls may run concurrently.
type Pool struct {
	opts   PoolOptions
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]Session
	order    []string
	routes   *tools.Registry
}

// NewPool creates an empty pool.
func NewPool(opts PoolOptions) *Pool {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	logger := logging.Component("pool")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Pool{
		opts:     opts,
		logger:   logger,
		sessions: make(map[string]Session),
		routes:   tools.NewRegistry(),
	}
}

// AddClient spawns the server described by spec, lists its tools and
// registers them under name. Spawn and handshake failures are ClientErrors.
func (p *Pool) AddClient(ctx context.Context, name string, spec ServerSpec) error {
	if p.has(name) {
		return errs.Client(fmt.Sprintf("client %s already registered", name), nil)
	}

	hctx, cancel := context.WithTimeout(ctx, p.opts.HandshakeTimeout)
	defer cancel()

	client, err := Start(hctx, name, spec, WithClientLogger(p.logger))
	if err != nil {
		return errs.Client(fmt.Sprintf("failed to start tool server %s", name), err).
			With("command", spec.String())
	}
	if err := p.attach(hctx, name, client); err != nil {
		if cerr := client.Close(); cerr != nil {
			p.logger.Warn().Err(cerr).Str("session", name).Msg("Failed to close rejected session")
		}
		return err
	}
	return nil
}

// Attach registers an already connected session. The pool owns it from now
// on and closes it in Cleanup; on error the caller still owns it.
func (p *Pool) Attach(ctx context.Context, name string, session Session) error {
	if p.has(name) {
		return errs.Client(fmt.Sprintf("client %s already registered", name), nil)
	}
	return p.attach(ctx, name, session)
}

func (p *Pool) attach(ctx context.Context, name string, session Session) error {
	infos, err := session.ListTools(ctx)
	if err != nil {
		return errs.Client(fmt.Sprintf("failed to list tools for %s", name), err)
	}

	schemas := make([]tools.Schema, 0, len(infos))
	for _, info := range infos {
		schema, err := tools.FromInputSchema(info.Name, info.Description, info.InputSchema)
		if err != nil {
			p.logger.Warn().Err(err).Str("session", name).Str("tool", info.Name).Msg("Skipping tool with invalid input schema")
			continue
		}
		schemas = append(schemas, schema)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, dup := p.sessions[name]; dup {
		return errs.Client(fmt.Sprintf("client %s already registered", name), nil)
	}
	if p.opts.StrictToolNames {
		for _, s := range schemas {
			if owner, taken := p.routes.OwnerOf(s.Name()); taken {
				return errs.Client(fmt.Sprintf("tool %s from %s is already served by %s", s.Name(), name, owner), nil).
					With("tool", s.Name())
			}
		}
	}

	for _, s := range schemas {
		if previous, replaced := p.routes.Register(name, s); replaced {
			p.logger.Warn().Str("tool", s.Name()).Str("previous", previous).Str("session", name).
				Msg("Tool name collision, later session wins")
		}
	}
	p.sessions[name] = session
	p.order = append(p.order, name)

	p.logger.Info().Str("session", name).Int("tools", len(schemas)).Msg("Connected to tool server")
	return nil
}

func (p *Pool) has(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.sessions[name]
	return ok
}

// Call routes a tool call to the session that serves it.
func (p *Pool) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	p.mu.RLock()
	owner, ok := p.routes.OwnerOf(name)
	session := p.sessions[owner]
	p.mu.RUnlock()

	if !ok || session == nil {
		return "", errs.Client("Unknown tool: "+name, errs.ErrUnknownTool).With("tool", name)
	}

	callCtx := ctx
	if p.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.opts.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	out, err := session.CallTool(callCtx, name, args)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, errs.ErrClosed) {
			p.dropRoutes(owner)
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", errs.Client(fmt.Sprintf("tool %s timed out after %s", name, p.opts.CallTimeout), errs.ErrTimeout).
				With("tool", name).With("session", owner)
		}
		return "", errs.Client(fmt.Sprintf("Error calling tool %s", name), err).
			With("tool", name).With("session", owner)
	}

	p.logger.Debug().Str("tool", name).Str("session", owner).Dur("elapsed", elapsed).Msg("Tool call completed")
	return out, nil
}

// dropRoutes stops routing to a session whose server has gone away. The
// session itself stays registered so Cleanup still reaps it.
func (p *Pool) dropRoutes(owner string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sessions[owner]; !ok {
		return
	}
	p.routes.RemoveOwner(owner)
	p.logger.Warn().Str("session", owner).Msg("Tool server exited, its tools are no longer available")
}

// Catalog returns the schemas of every routed tool.
func (p *Pool) Catalog() tools.Catalog {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.routes.Catalog()
}

// Get implements tools.SchemaSource.
func (p *Pool) Get(name string) (tools.Schema, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.routes.Get(name)
}

// ToolMapping lists, per session in registration order, the tools it serves.
func (p *Pool) ToolMapping() []ServerTools {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]ServerTools, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, ServerTools{Name: name, Tools: p.routes.ByOwner(name)})
	}
	return out
}

// Sessions returns session names in registration order.
func (p *Pool) Sessions() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.order...)
}

// Cleanup closes every session in reverse registration order. A failing
// close is logged and does not stop the rest; all failures are returned.
func (p *Pool) Cleanup() error {
	p.mu.Lock()
	order := p.order
	sessions := p.sessions
	p.order = nil
	p.sessions = make(map[string]Session)
	p.routes = tools.NewRegistry()
	p.mu.Unlock()

	var failures []error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		if err := sessions[name].Close(); err != nil {
			p.logger.Error().Err(err).Str("session", name).Msg("Error closing session")
			failures = append(failures, fmt.Errorf("%s: %w", name, err))
			continue
		}
		p.logger.Debug().Str("session", name).Msg("Session closed")
	}
	return errors.Join(failures...)
}

var (
	_ tools.Invoker      = (*Pool)(nil)
	_ tools.SchemaSource = (*Pool)(nil)
)
