package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/richinex/toolweave/agent"
	"github.com/richinex/toolweave/mcp"
	"github.com/richinex/toolweave/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type fakeAgent struct {
	mu      sync.Mutex
	queries []string
	panic   bool
	sawDL   bool
}

func (f *fakeAgent) Process(ctx context.Context, query string) agent.Response {
	if f.panic {
		panic("boom")
	}
	f.mu.Lock()
	f.queries = append(f.queries, query)
	_, f.sawDL = ctx.Deadline()
	f.mu.Unlock()
	return agent.Response{
		Type:     agent.ResponseSuccess,
		Result:   "answer to " + query,
		Metadata: agent.Metadata{Iterations: 1, LLMCalls: 1},
	}
}

func (f *fakeAgent) Tools() tools.Catalog {
	return tools.Catalog{tools.NewSchema("add", "Add two numbers", tools.Parameters{
		Properties: map[string]tools.Property{"a": {Type: "number"}, "b": {Type: "number"}},
		Required:   []string{"a", "b"},
	})}
}

func (f *fakeAgent) ToolMapping() []mcp.ServerTools {
	return []mcp.ServerTools{{Name: "calc", Tools: []string{"add"}}}
}

func newTestServer(a Agent, opts Options) *httptest.Server {
	l := zerolog.Nop()
	opts.Logger = &l
	return httptest.NewServer(New(a, opts).Handler())
}

func TestHealth(t *testing.T) {
	ts := newTestServer(&fakeAgent{}, Options{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["tools"])
}

func TestListTools(t *testing.T) {
	ts := newTestServer(&fakeAgent{}, Options{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/tools")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body struct {
		Tools   []map[string]any  `json:"tools"`
		Servers []mcp.ServerTools `json:"servers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Tools, 1)
	fn, ok := body.Tools[0]["function"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "add", fn["name"])
	assert.Equal(t, []mcp.ServerTools{{Name: "calc", Tools: []string{"add"}}}, body.Servers)
}

func TestQuery(t *testing.T) {
	fa := &fakeAgent{}
	ts := newTestServer(fa, Options{QueryTimeout: time.Minute})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/query", "application/json", strings.NewReader(`{"query":"2+2"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "success", body["type"])
	assert.Equal(t, "answer to 2+2", body["result"])
	meta, ok := body["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), meta["iterations"])

	assert.Equal(t, []string{"2+2"}, fa.queries)
	assert.True(t, fa.sawDL)
}

func TestQueryRejectsBadRequests(t *testing.T) {
	ts := newTestServer(&fakeAgent{}, Options{})
	defer ts.Close()

	for _, body := range []string{`not json`, `{"query":"   "}`, `{}`} {
		resp, err := http.Post(ts.URL+"/v1/query", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}

	resp, err := http.Get(ts.URL + "/v1/query")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	ts := newTestServer(&fakeAgent{panic: true}, Options{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/query", "application/json", strings.NewReader(`{"query":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestRunStopsOnCancel(t *testing.T) {
	l := zerolog.Nop()
	s := New(&fakeAgent{}, Options{Addr: "127.0.0.1:0", Logger: &l})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
