// Package mcp provides the Model Context Protocol (MCP) client, the session
// pool that routes tool calls, and the launcher that starts tool servers.
//
// MCP servers are subprocesses speaking JSON-RPC 2.0 over stdin/stdout, one
// JSON object per line.
//
// Information Hiding:
// - Process management hidden
// - JSON-RPC framing and request ID tracking hidden
// - Response demultiplexing hidden behind a blocking, ctx-aware call
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/richinex/toolweave/internal/errs"
	"github.com/richinex/toolweave/logging"
)

const (
	protocolVersion = "2024-11-05"
	clientName      = "toolweave"
	clientVersion   = "0.1.0"

	// maxFrameBytes bounds one JSON-RPC line.
	maxFrameBytes = 16 << 20
	// closeGrace is how long Close waits for the server to exit on its own.
	closeGrace = 2 * time.Second
)

// Session is one live connection to a tool server. *Client implements it.
type Session interface {
	ListTools(ctx context.Context) ([]ToolInfo, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	Close() error
}

// Client communicates with an MCP server via JSON-RPC over stdin/stdout.
// Calls may be issued concurrently; responses are matched by request ID.
type Client struct {
	name   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger zerolog.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan rpcResponse
	closed  bool
	readErr error

	done      chan struct{}
	closeOnce sync.Once
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// ToolInfo describes a tool available on the MCP server.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type toolsListResult struct {
	Tools []ToolInfo `json:"tools"`
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type callToolResult struct {
	Content []contentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ServerSpec is how to start one tool server.
type ServerSpec struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// String renders the command line.
func (s ServerSpec) String() string {
	return strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
}

// StartOption configures Start.
type StartOption func(*startOptions)

type startOptions struct {
	logger *zerolog.Logger
}

// WithClientLogger sets the logger the client writes to. The session name is
// added to it.
func WithClientLogger(logger zerolog.Logger) StartOption {
	return func(o *startOptions) { o.logger = &logger }
}

// Start spawns the server and performs the initialize handshake. ctx bounds
// the handshake only; the process lives until Close.
func Start(ctx context.Context, name string, spec ServerSpec, opts ...StartOption) (*Client, error) {
	var so startOptions
	for _, opt := range opts {
		opt(&so)
	}
	base := logging.Component("mcp")
	if so.logger != nil {
		base = *so.logger
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Stderr = os.Stderr // stdout carries JSON-RPC frames only
	if len(spec.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range spec.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to start MCP server %q: %w", spec.String(), err)
	}

	c := &Client{
		name:    name,
		cmd:     cmd,
		stdin:   stdin,
		logger:  base.With().Str("session", name).Logger(),
		pending: make(map[uint64]chan rpcResponse),
		done:    make(chan struct{}),
	}
	go c.readLoop(stdout)

	if err := c.initialize(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize MCP client: %w", err)
	}
	c.logger.Debug().Int("pid", cmd.Process.Pid).Msg("MCP session started")
	return c, nil
}

// Name returns the session name.
func (c *Client) Name() string { return c.name }

func (c *Client) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": clientVersion,
		},
	}
	if _, err := c.call(ctx, "initialize", params); err != nil {
		return err
	}
	return c.notify("notifications/initialized", nil)
}

// ListTools returns all tools available on the MCP server.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	result, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var toolsResult toolsListResult
	if err := json.Unmarshal(result, &toolsResult); err != nil {
		return nil, fmt.Errorf("failed to parse tools list: %w", err)
	}
	return toolsResult.Tools, nil
}

// CallTool calls a tool and returns its text content. A result flagged
// isError is returned as an error carrying that text.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return "", err
	}

	var result callToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("failed to parse tool result: %w", err)
	}
	var parts []string
	for _, item := range result.Content {
		switch item.Type {
		case "text", "":
			parts = append(parts, item.Text)
		default:
			parts = append(parts, fmt.Sprintf("[%s content]", item.Type))
		}
	}
	text := strings.Join(parts, "\n")
	if result.IsError {
		return "", errors.New(text)
	}
	return text, nil
}

// call sends one request and waits for its response, ctx cancellation, or
// the session ending.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := c.nextID.Add(1)
	ch := make(chan rpcResponse, 1)

	c.mu.Lock()
	if c.closed {
		err := c.closedErr()
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case <-c.done:
		c.forget(id)
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.closedErr()
	}
}

func (c *Client) notify(method string, params any) error {
	return c.write(rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *Client) write(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}
	return nil
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// closedErr must be called with c.mu held.
func (c *Client) closedErr() error {
	if c.readErr != nil && !errors.Is(c.readErr, io.EOF) {
		return fmt.Errorf("%w: %v", errs.ErrClosed, c.readErr)
	}
	return errs.ErrClosed
}

// readLoop delivers responses to waiting callers until stdout closes. Lines
// that are not JSON objects (server log noise) are skipped.
func (c *Client) readLoop(stdout io.Reader) {
	defer close(c.done)

	reader := bufio.NewReaderSize(stdout, 64<<10)
	var err error
	for {
		var line []byte
		line, err = readFrame(reader)
		if err != nil {
			break
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] != '{' {
			if len(line) > 0 {
				c.logger.Trace().Bytes("line", line).Msg("Skipping non-JSON output")
			}
			continue
		}

		var resp rpcResponse
		if jerr := json.Unmarshal(line, &resp); jerr != nil || resp.ID == nil {
			// notifications and server-initiated requests are ignored
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[*resp.ID]
		delete(c.pending, *resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}

	c.mu.Lock()
	c.closed = true
	c.readErr = err
	c.pending = make(map[uint64]chan rpcResponse)
	c.mu.Unlock()
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		frag, err := r.ReadSlice('\n')
		buf = append(buf, frag...)
		if len(buf) > maxFrameBytes {
			return nil, fmt.Errorf("mcp: frame too large")
		}
		if err == nil {
			return buf, nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return nil, err
		}
	}
}

// Close stops the MCP server process and releases resources. The server is
// given a short grace period to exit after stdin closes before it is killed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		_ = c.stdin.Close()

		timer := time.NewTimer(closeGrace)
		defer timer.Stop()
		select {
		case <-c.done:
			err = c.cmd.Wait()
		case <-timer.C:
			c.logger.Warn().Msg("MCP server did not exit, killing")
			_ = c.cmd.Process.Kill()
			_ = c.cmd.Wait()
			<-c.done
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// a non-zero exit after stdin closed is not a cleanup failure
			err = nil
		}
	})
	return err
}

var _ Session = (*Client)(nil)
