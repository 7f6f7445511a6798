package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer() *Server {
	srv := NewServer(ServerOptions{Name: "agent", Version: "1.2.3"})
	srv.AddTool(ToolInfo{
		Name:        "shout",
		Description: "Upper-cases text",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
	}, func(_ context.Context, args map[string]any) (string, error) {
		text, _ := args["text"].(string)
		if text == "" {
			return "", errors.New("nothing to shout")
		}
		return strings.ToUpper(text), nil
	})
	srv.AddTool(ToolInfo{Name: "echo", InputSchema: json.RawMessage(`{"type":"object"}`)},
		func(_ context.Context, args map[string]any) (string, error) {
			return "ok", nil
		})
	return srv
}

// serve runs srv over the given request lines and returns the responses
// keyed by id.
func serve(t *testing.T, srv *Server, requests ...string) map[string]serverResponse {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, srv.Serve(context.Background(), strings.NewReader(strings.Join(requests, "\n")+"\n"), &out))

	got := make(map[string]serverResponse)
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp struct {
			JSONRPC string          `json:"jsonrpc"`
			ID      json.RawMessage `json:"id"`
			Result  json.RawMessage `json:"result"`
			Error   *rpcError       `json:"error"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &resp), line)
		assert.Equal(t, "2.0", resp.JSONRPC)
		got[string(resp.ID)] = serverResponse{ID: resp.ID, Result: resp.Result, Error: resp.Error}
	}
	return got
}

func decodeResult(t *testing.T, resp serverResponse, v any) {
	t.Helper()
	require.Nil(t, resp.Error)
	raw, ok := resp.Result.(json.RawMessage)
	require.True(t, ok)
	require.NoError(t, json.Unmarshal(raw, v))
}

func TestServerHandshakeAndList(t *testing.T) {
	got := serve(t, testServer(),
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list","params":{}}`,
		`{"jsonrpc":"2.0","id":3,"method":"ping"}`,
	)
	require.Len(t, got, 3, "notifications get no reply")

	var init struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	decodeResult(t, got["1"], &init)
	assert.Equal(t, protocolVersion, init.ProtocolVersion)
	assert.Equal(t, "agent", init.ServerInfo.Name)
	assert.Equal(t, "1.2.3", init.ServerInfo.Version)

	var list toolsListResult
	decodeResult(t, got["2"], &list)
	require.Len(t, list.Tools, 2)
	assert.Equal(t, "echo", list.Tools[0].Name)
	assert.Equal(t, "shout", list.Tools[1].Name)
	assert.Equal(t, "Upper-cases text", list.Tools[1].Description)
	assert.JSONEq(t, `{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`, string(list.Tools[1].InputSchema))

	assert.Nil(t, got["3"].Error)
}

func TestServerToolCalls(t *testing.T) {
	got := serve(t, testServer(),
		`{"jsonrpc":"2.0","id":"a","method":"tools/call","params":{"name":"shout","arguments":{"text":"hi"}}}`,
		`{"jsonrpc":"2.0","id":"b","method":"tools/call","params":{"name":"shout","arguments":{}}}`,
		`{"jsonrpc":"2.0","id":"c","method":"tools/call","params":{"name":"whisper"}}`,
	)

	var ok callToolResult
	decodeResult(t, got[`"a"`], &ok)
	assert.False(t, ok.IsError)
	require.Len(t, ok.Content, 1)
	assert.Equal(t, "text", ok.Content[0].Type)
	assert.Equal(t, "HI", ok.Content[0].Text)

	var failed callToolResult
	decodeResult(t, got[`"b"`], &failed)
	assert.True(t, failed.IsError)
	assert.Equal(t, "nothing to shout", failed.Content[0].Text)

	var unknown callToolResult
	decodeResult(t, got[`"c"`], &unknown)
	assert.True(t, unknown.IsError)
	assert.Equal(t, "Unknown tool: whisper", unknown.Content[0].Text)
}

func TestServerProtocolErrors(t *testing.T) {
	got := serve(t, testServer(),
		`not json`,
		``,
		`{"jsonrpc":"2.0","id":7,"method":"resources/list"}`,
		`{"jsonrpc":"2.0","id":8,"method":"tools/call","params":"shout"}`,
	)
	require.Len(t, got, 3)

	require.NotNil(t, got["null"].Error)
	assert.Equal(t, codeParseError, got["null"].Error.Code)
	require.NotNil(t, got["7"].Error)
	assert.Equal(t, codeMethodNotFound, got["7"].Error.Code)
	require.NotNil(t, got["8"].Error)
	assert.Equal(t, codeInvalidParams, got["8"].Error.Code)
}

func TestServerStopsOnCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- testServer().Serve(ctx, r, io.Discard) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
