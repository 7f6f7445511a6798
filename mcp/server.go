package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/richinex/toolweave/logging"
)

// JSON-RPC error codes the server answers with.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// ToolFunc handles one tools/call. A returned error is sent back as a result
// flagged isError, carrying the error text.
type ToolFunc func(ctx context.Context, args map[string]any) (string, error)

// ServerOptions configure a Server.
type ServerOptions struct {
	Name    string
	Version string
	Logger  *zerolog.Logger
}

// Server serves tools over JSON-RPC on a reader/writer pair, one JSON object
// per line, which is the stdio transport the Client speaks.
type Server struct {
	opts   ServerOptions
	logger zerolog.Logger

	mu    sync.RWMutex
	tools map[string]servedTool
}

type servedTool struct {
	info ToolInfo
	fn   ToolFunc
}

type serverRequest struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type serverResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// NewServer creates a server with no tools.
func NewServer(opts ServerOptions) *Server {
	if opts.Name == "" {
		opts.Name = clientName
	}
	if opts.Version == "" {
		opts.Version = clientVersion
	}
	logger := logging.Component("mcp-server")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Server{opts: opts, logger: logger, tools: make(map[string]servedTool)}
}

// AddTool registers fn under info.Name, replacing any tool of that name.
func (s *Server) AddTool(info ToolInfo, fn ToolFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[info.Name] = servedTool{info: info, fn: fn}
}

// Serve answers requests from r on w until r is exhausted or ctx is done.
// Requests are handled concurrently; in-flight calls are waited for before
// Serve returns. A read blocked on r outlives a cancelled Serve until r is
// closed.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writeMu sync.Mutex
	send := func(resp serverResponse) {
		resp.JSONRPC = "2.0"
		data, err := json.Marshal(resp)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to marshal response")
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := w.Write(append(data, '\n')); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to write response")
		}
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		reader := bufio.NewReaderSize(r, 64<<10)
		for {
			line, err := readFrame(reader)
			if len(line) > 0 {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
		}
	}()

	s.logger.Info().Str("name", s.opts.Name).Int("tools", len(s.list())).Msg("Serving MCP on stdio")
	for {
		var line []byte
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			line = bytes.TrimSpace(l)
		}
		if len(line) == 0 {
			continue
		}

		var req serverRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Debug().Err(err).Msg("Skipping unreadable request")
			send(serverResponse{ID: json.RawMessage("null"), Error: &rpcError{Code: codeParseError, Message: err.Error()}})
			continue
		}
		if len(req.ID) == 0 || string(req.ID) == "null" {
			// notification
			continue
		}

		wg.Add(1)
		go func(req serverRequest) {
			defer wg.Done()
			result, rpcErr := s.handle(ctx, req)
			send(serverResponse{ID: req.ID, Result: result, Error: rpcErr})
		}(req)
	}
}

func (s *Server) handle(ctx context.Context, req serverRequest) (any, *rpcError) {
	switch req.Method {
	case "initialize":
		return map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": s.opts.Name, "version": s.opts.Version},
		}, nil
	case "ping":
		return map[string]any{}, nil
	case "tools/list":
		return toolsListResult{Tools: s.list()}, nil
	case "tools/call":
		var p struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
		}
		return s.call(ctx, p.Name, p.Arguments), nil
	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}
	}
}

func (s *Server) call(ctx context.Context, name string, args map[string]any) callToolResult {
	s.mu.RLock()
	tool, ok := s.tools[name]
	s.mu.RUnlock()
	if !ok {
		return textResult(fmt.Sprintf("Unknown tool: %s", name), true)
	}
	if args == nil {
		args = map[string]any{}
	}

	s.logger.Debug().Str("tool", name).Msg("Serving tool call")
	out, err := tool.fn(ctx, args)
	if err != nil {
		s.logger.Warn().Err(err).Str("tool", name).Msg("Tool call failed")
		return textResult(err.Error(), true)
	}
	return textResult(out, false)
}

// list returns the served tools sorted by name.
func (s *Server) list() []ToolInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ToolInfo, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func textResult(text string, isError bool) callToolResult {
	return callToolResult{Content: []contentItem{{Type: "text", Text: text}}, IsError: isError}
}
