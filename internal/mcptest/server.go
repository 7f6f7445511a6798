// Package mcptest runs a small MCP tool server inside the test binary.
//
// A test package opts in from TestMain:
//
//	func TestMain(m *testing.M) {
//		mcptest.MaybeServe()
//		goleak.VerifyTestMain(m)
//	}
//
// Spec then returns a command that re-executes the test binary as a server
// with the requested toolset.
package mcptest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"
)

// EnvVar selects the toolset when the test binary runs as a server.
const EnvVar = "TOOLWEAVE_FAKE_MCP"

// Toolsets understood by Serve.
const (
	// Calc serves add(a,b), sleep(ms) and explode(). It also writes one
	// non-JSON banner line to stdout before serving.
	Calc = "calc"
	// Dup serves add(a,b), answering "dup:<sum>".
	Dup = "dup"
	// Crash exits when asked to initialize.
	Crash = "crash"
)

// Command is what a pool needs to start the fake server.
type Command struct {
	Command string
	Args    []string
	Env     map[string]string
}

// Spec returns the command that re-runs the current binary as toolset.
func Spec(toolset string) Command {
	return Command{
		Command: os.Args[0],
		Args:    []string{"-test.run=^$"},
		Env:     map[string]string{EnvVar: toolset},
	}
}

// MaybeServe serves and exits the process when EnvVar is set. Otherwise it
// returns immediately.
func MaybeServe() {
	toolset := os.Getenv(EnvVar)
	if toolset == "" {
		return
	}
	if err := Serve(os.Stdin, os.Stdout, toolset); err != nil {
		fmt.Fprintln(os.Stderr, "fake mcp:", err)
		os.Exit(1)
	}
	os.Exit(0)
}

type request struct {
	ID     *json.RawMessage `json:"id"`
	Method string           `json:"method"`
	Params json.RawMessage  `json:"params"`
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Serve answers JSON-RPC requests from r on w until r is exhausted.
// Requests are handled concurrently.
func Serve(r io.Reader, w io.Writer, toolset string) error {
	var mu sync.Mutex
	send := func(v any) {
		data, _ := json.Marshal(v)
		mu.Lock()
		defer mu.Unlock()
		w.Write(append(data, '\n'))
	}

	if toolset == Calc {
		mu.Lock()
		fmt.Fprintln(w, "calc server ready")
		mu.Unlock()
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), 16<<20)
	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		if req.ID == nil {
			continue
		}
		if req.Method == "initialize" && toolset == Crash {
			return fmt.Errorf("crash toolset refuses to initialize")
		}

		wg.Add(1)
		go func(req request) {
			defer wg.Done()
			result, rpcErr := handle(toolset, req)
			resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
			if rpcErr != nil {
				resp["error"] = rpcErr
			} else {
				resp["result"] = result
			}
			send(resp)
		}(req)
	}
	return scanner.Err()
}

func handle(toolset string, req request) (any, map[string]any) {
	switch req.Method {
	case "initialize":
		return map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "fake-" + toolset, "version": "0.0.1"},
		}, nil
	case "tools/list":
		return map[string]any{"tools": toolList(toolset)}, nil
	case "tools/call":
		var p callParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, map[string]any{"code": -32602, "message": err.Error()}
		}
		return callTool(toolset, p), nil
	default:
		return nil, map[string]any{"code": -32601, "message": "method not found: " + req.Method}
	}
}

func toolList(toolset string) []map[string]any {
	add := map[string]any{
		"name":        "add",
		"description": "Add two numbers",
		"inputSchema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number", "description": "first addend"},
				"b": map[string]any{"type": "number", "description": "second addend"},
			},
			"required": []string{"a", "b"},
		},
	}
	if toolset == Dup {
		return []map[string]any{add}
	}
	return []map[string]any{
		add,
		{
			"name":        "sleep",
			"description": "Sleep for ms milliseconds",
			"inputSchema": map[string]any{
				"type":       "object",
				"properties": map[string]any{"ms": map[string]any{"type": "number"}},
				"required":   []string{"ms"},
			},
		},
		{
			"name":        "explode",
			"description": "Always fails",
			"inputSchema": map[string]any{"type": "object", "properties": map[string]any{}},
		},
	}
}

func callTool(toolset string, p callParams) map[string]any {
	text := func(s string, isError bool) map[string]any {
		return map[string]any{
			"content": []map[string]any{{"type": "text", "text": s}},
			"isError": isError,
		}
	}

	switch p.Name {
	case "add":
		a, _ := toFloat(p.Arguments["a"])
		b, _ := toFloat(p.Arguments["b"])
		sum := strconv.FormatFloat(a+b, 'f', -1, 64)
		if toolset == Dup {
			return text("dup:"+sum, false)
		}
		return text(sum, false)
	case "sleep":
		ms, _ := toFloat(p.Arguments["ms"])
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return text("slept", false)
	case "explode":
		return text("boom", true)
	default:
		return text("unknown tool "+p.Name, true)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
