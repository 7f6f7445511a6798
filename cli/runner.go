// Command execution for CLI commands.
//
// Information Hiding:
// - Settings layering (file, env, flags) hidden
// - Session setup and teardown hidden
// - Output formatting hidden

package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/richinex/toolweave/agent"
	"github.com/richinex/toolweave/config"
	"github.com/richinex/toolweave/internal/errs"
	"github.com/richinex/toolweave/llm"
	"github.com/richinex/toolweave/logging"
	"github.com/richinex/toolweave/mcp"
	"github.com/richinex/toolweave/server"
	"github.com/richinex/toolweave/storage"
)

// Options holds CLI execution options. Zero values leave the loaded
// settings untouched.
type Options struct {
	ConfigPath string
	Provider   string
	Model      string
	MaxIter    int
	Version    string
	Parallel   bool
	ToolsFile  string
	// Servers are --mcp values: "name=command args..." or a script path.
	Servers []string
	Verbose bool

	LogLevel  string
	LogFormat string

	// SessionID enables transcript persistence in DBPath.
	SessionID string
	DBPath    string

	Addr string
	// Stdio serves the agent as an MCP tool on stdin/stdout instead of HTTP.
	Stdio bool

	// LLM replaces the configured provider.
	LLM llm.Provider
}

// DefaultDBPath is where chat sessions are stored.
const DefaultDBPath = ".toolweave/toolweave.db"

// maxInputBytes bounds one line of chat input.
const maxInputBytes = 4 << 20

// Settings loads settings from the config file and the environment, then
// applies flags on top.
func Settings(opts Options) (*config.Settings, error) {
	s, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Provider != "" {
		s.Provider = opts.Provider
	}
	if opts.Model != "" {
		p, err := s.ActiveConfig()
		if err != nil {
			return nil, err
		}
		p.Model = opts.Model
	}
	if opts.MaxIter > 0 {
		s.Agent.MaxIterations = opts.MaxIter
	}
	if opts.Version != "" {
		s.ToolCalling.Version = opts.Version
	}
	if opts.Parallel {
		s.Agent.ParallelToolCalls = true
	}
	if opts.LogLevel != "" {
		s.Logging.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		s.Logging.Format = opts.LogFormat
	}
	if opts.Addr != "" {
		s.Server.Addr = opts.Addr
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseServer parses one --mcp value. "name=cmd args" names the server;
// otherwise the name is the command's base name without extension. A lone
// argument is treated as a script path when it has a script extension.
func ParseServer(value string) (mcp.ServerEntry, error) {
	name := ""
	rest := strings.TrimSpace(value)
	if eq := strings.Index(rest, "="); eq > 0 && !strings.ContainsAny(rest[:eq], " \t") {
		name, rest = rest[:eq], strings.TrimSpace(rest[eq+1:])
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return mcp.ServerEntry{}, errs.Configurationf("empty --mcp value %q", value)
	}
	if name == "" {
		base := filepath.Base(fields[0])
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if len(fields) == 1 {
		switch filepath.Ext(fields[0]) {
		case ".py", ".js", ".mjs":
			return mcp.ServerEntry{Name: name, Path: fields[0]}, nil
		}
	}
	return mcp.ServerEntry{Name: name, Spec: &mcp.ServerSpec{Command: fields[0], Args: fields[1:]}}, nil
}

// openSession loads settings, initializes logging and opens a session.
func openSession(ctx context.Context, opts Options) (*agent.Session, *config.Settings, func(), error) {
	s, err := Settings(opts)
	if err != nil {
		return nil, nil, nil, err
	}
	logging.Init(logging.Options{App: "toolweave", Level: s.Logging.Level, Format: s.Logging.Format})

	var sessionOpts []agent.Option
	if opts.LLM != nil {
		sessionOpts = append(sessionOpts, agent.WithProvider(opts.LLM))
	}
	if opts.ToolsFile != "" {
		sessionOpts = append(sessionOpts, agent.WithToolsFile(opts.ToolsFile))
	}
	if len(opts.Servers) > 0 {
		cfg := &mcp.Config{}
		for _, v := range opts.Servers {
			entry, err := ParseServer(v)
			if err != nil {
				return nil, nil, nil, err
			}
			cfg.Servers = append(cfg.Servers, entry)
		}
		sessionOpts = append(sessionOpts, agent.WithServers(cfg))
	}

	var store storage.Store
	if opts.SessionID != "" {
		driver, path := s.Storage.Driver, s.Storage.Path
		if opts.DBPath != "" || driver == "" || driver == "memory" {
			driver, path = "sqlite", opts.DBPath
			if path == "" {
				path = DefaultDBPath
			}
		}
		store, err = storage.Open(driver, path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		sessionOpts = append(sessionOpts, agent.WithStorage(store, opts.SessionID))
	}

	sess, err := agent.Open(ctx, s, sessionOpts...)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, nil, nil, err
	}
	cleanup := func() {
		_ = sess.Close()
		if store != nil {
			_ = store.Close()
		}
	}
	return sess, s, cleanup, nil
}

// Run answers a single query.
func Run(ctx context.Context, query string, opts Options, out io.Writer) error {
	sess, _, cleanup, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	resp := sess.Process(ctx, query)
	if opts.Verbose {
		printSteps(out, resp.Steps)
	}
	fmt.Fprintf(out, "%s\n", resp.Result)
	if opts.Verbose {
		printMetadata(out, resp.Metadata)
	}
	if resp.Type == agent.ResponseFailure {
		return fmt.Errorf("query failed: %s", resp.Error)
	}
	return nil
}

// Chat runs an interactive loop over in. "exit" or "quit" ends it, "clear"
// resets the conversation to the system prompt.
func Chat(ctx context.Context, opts Options, in io.Reader, out io.Writer) error {
	sess, _, cleanup, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	if n := sess.Processor().History().Len(); n > 1 {
		fmt.Fprintf(out, "Resuming session '%s' (%d messages)\n\n", opts.SessionID, n)
	}
	fmt.Fprintf(out, "Chat with %d tools. Type 'clear' to reset, 'exit' to quit.\n\n", len(sess.Tools()))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64<<10), maxInputBytes)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(input) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "clear":
			if err := sess.Reset(ctx); err != nil {
				fmt.Fprintf(out, "Warning: failed to save cleared history: %v\n", err)
			}
			fmt.Fprintf(out, "History cleared.\n\n")
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		resp := sess.Process(ctx, input)
		if opts.Verbose {
			printSteps(out, resp.Steps)
		}
		fmt.Fprintf(out, "\n%s\n\n", resp.Result)
	}
	return scanner.Err()
}

// ListTools launches the configured servers and prints their tools.
func ListTools(ctx context.Context, opts Options, out io.Writer) error {
	sess, _, cleanup, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	mapping := sess.ToolMapping()
	if len(mapping) == 0 {
		fmt.Fprintln(out, "No tool servers configured.")
		return nil
	}
	catalog := sess.Tools()
	for _, srv := range mapping {
		fmt.Fprintf(out, "%s:\n", srv.Name)
		names := append([]string(nil), srv.Tools...)
		sort.Strings(names)
		for _, name := range names {
			schema, ok := catalog.Lookup(name)
			if !ok {
				continue
			}
			fmt.Fprintf(out, "  %s - %s\n", name, schema.Function.Description)
			if opts.Verbose {
				for _, param := range schema.ParamNames() {
					prop := schema.Function.Parameters.Properties[param]
					marker := ""
					if schema.IsRequired(param) {
						marker = " (required)"
					}
					fmt.Fprintf(out, "      %s: %s%s\n", param, prop.Type, marker)
				}
			}
		}
	}
	return nil
}

// Serve exposes a session over HTTP until ctx is done, or as an MCP tool on
// stdio with opts.Stdio.
func Serve(ctx context.Context, opts Options) error {
	if opts.Stdio {
		return ServeMCP(ctx, opts, os.Stdin, os.Stdout)
	}
	sess, s, cleanup, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	return server.New(sess, server.Options{Addr: s.Server.Addr}).Run(ctx)
}

const queryToolSchema = `{"type":"object","properties":{"query":{"type":"string","description":"A natural language description of the task"}},"required":["query"]}`

// ServeMCP exposes the session as an MCP server with a single tool taking
// one "query" argument, reading requests from in and answering on out. Every
// call is answered in a fresh conversation. It returns when in is exhausted
// or ctx is done.
func ServeMCP(ctx context.Context, opts Options, in io.Reader, out io.Writer) error {
	sess, s, cleanup, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	name := s.Server.ToolName
	if name == "" {
		name = "toolweave"
	}
	description := s.Server.ToolDescription
	if description == "" {
		description = config.DefaultToolDescription
	}

	srv := mcp.NewServer(mcp.ServerOptions{Name: name})
	srv.AddTool(mcp.ToolInfo{
		Name:        name,
		Description: description,
		InputSchema: json.RawMessage(queryToolSchema),
	}, func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		if strings.TrimSpace(query) == "" {
			return "", errs.Client("missing required argument: query", nil)
		}
		resp := sess.Answer(ctx, query)
		if resp.Type == agent.ResponseFailure {
			return "", fmt.Errorf("query failed: %s", resp.Error)
		}
		return resp.Result, nil
	})
	return srv.Serve(ctx, in, out)
}

const maxObservationLen = 400

func printSteps(out io.Writer, steps []agent.Step) {
	fmt.Fprintln(out, "--- Steps ---")
	for _, step := range steps {
		fmt.Fprintf(out, "[%d] %s\n", step.Iteration, truncateString(step.Content, maxObservationLen))
		for i, call := range step.Calls {
			fmt.Fprintf(out, "    Action: %s\n", call)
			if i < len(step.Observations) {
				fmt.Fprintf(out, "    Observation: %s\n", truncateString(step.Observations[i], maxObservationLen))
			}
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out, "-------------")
	fmt.Fprintln(out)
}

func printMetadata(out io.Writer, meta agent.Metadata) {
	fmt.Fprintf(out, "\nIterations: %d, LLM calls: %d, tool calls: %d, %dms\n",
		meta.Iterations, meta.LLMCalls, len(meta.ToolCalls), meta.ExecutionTimeMs)
	if u := meta.TokenUsage; u != nil {
		fmt.Fprintf(out, "Tokens: %d prompt, %d completion, %d total\n",
			u.PromptTokens, u.CompletionTokens, u.TotalTokens)
	}
}

// truncateString truncates a string to maxLen runes, preserving UTF-8 boundaries.
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
