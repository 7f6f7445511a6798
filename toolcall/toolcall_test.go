package toolcall

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/richinex/toolweave/llm"
	"github.com/richinex/toolweave/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type reply struct {
	content string
	err     error
}

type recorded struct {
	messages []llm.ChatMessage
	opts     llm.CallOptions
}

// scriptedProvider answers Chat calls from a fixed queue.
type scriptedProvider struct {
	mu      sync.Mutex
	replies []reply
	calls   []recorded
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-model" }

func (p *scriptedProvider) Chat(_ context.Context, messages []llm.ChatMessage, opts ...llm.CallOption) (llm.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var o llm.CallOptions
	for _, opt := range opts {
		opt(&o)
	}
	p.calls = append(p.calls, recorded{messages: messages, opts: o})

	if len(p.replies) == 0 {
		return llm.LLMResponse{}, errors.New("script exhausted")
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	if r.err != nil {
		return llm.LLMResponse{}, r.err
	}
	return llm.LLMResponse{Content: r.content}, nil
}

func quiet() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func schema(name, desc string, required []string, params ...string) tools.Schema {
	props := map[string]tools.Property{}
	for _, p := range params {
		props[p] = tools.Property{Type: "string", Description: p}
	}
	return tools.NewSchema(name, desc, tools.Parameters{Properties: props, Required: required})
}

func abCatalog() tools.Catalog {
	return tools.Catalog{
		schema("A", "Tool A", []string{"x"}, "x"),
		schema("B", "Tool B", nil, "y"),
	}
}

func TestParseVersion(t *testing.T) {
	for in, want := range map[string]Version{
		"strict": VersionStrict, "stable": VersionStrict, "strict-generation": VersionStrict,
		"turbo": VersionRepair, "Repair": VersionRepair, "repair-based": VersionRepair,
	} {
		got, err := ParseVersion(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseVersion("v3")
	assert.Error(t, err)

	assert.Contains(t, VersionStrict.Instructions(), "<tool_request>Clear instruction for exactly ONE tool call</tool_request>")
	assert.Contains(t, VersionRepair.Instructions(), `"tool_calls": [`)
}

func TestStrictSingleValidCall(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{content: `{"tool_calls":[{"function":{"name":"A","arguments":{"x":"1"}}}]}`}}}
	g := New(VersionStrict, p, Options{Logger: quiet()})

	calls, stats := g.Generate(context.Background(), "Call A with x=1", abCatalog())

	require.Len(t, calls, 1)
	assert.Equal(t, "A", calls[0].Name)
	assert.Equal(t, map[string]any{"x": "1"}, calls[0].Arguments)
	assert.True(t, strings.HasPrefix(calls[0].ID, "call_"))
	assert.Len(t, calls[0].ID, len("call_")+8)
	assert.Equal(t, 1, stats.ValidCalls)
	assert.Equal(t, 1, stats.TotalCalls)
	assert.Equal(t, 1, stats.Attempts)
	assert.True(t, stats.Success)

	require.Len(t, p.calls, 1)
	sent := p.calls[0]
	assert.Equal(t, llm.ResponseFormatJSONObject, sent.opts.Format.Type)
	require.NotNil(t, sent.opts.Temperature)
	assert.Equal(t, float32(0), *sent.opts.Temperature)
	assert.Equal(t, "Call A with x=1", sent.messages[1].Content)
	assert.Contains(t, sent.messages[0].Content, "- A: Tool A\n  Parameters: x\n- B: Tool B\n  Parameters: y")

	chars := len(sent.messages[0].Content) + len(sent.messages[1].Content)
	assert.Equal(t, max(512, 8192-chars/2-50), sent.opts.MaxTokens)
}

func TestStrictAcceptsSingleFunctionAndStringArguments(t *testing.T) {
	p := &scriptedProvider{replies: []reply{
		{content: "```json\n{\"function\":{\"name\":\"B\",\"arguments\":\"{\\\"y\\\":\\\"z\\\"}\"}}\n```"},
	}}
	g := New(VersionStrict, p, Options{Logger: quiet(), Model: "tool-model"})

	calls, stats := g.Generate(context.Background(), "use B", abCatalog())
	require.Len(t, calls, 1)
	assert.Equal(t, "B", calls[0].Name)
	assert.Equal(t, map[string]any{"y": "z"}, calls[0].Arguments)
	assert.True(t, stats.Success)
	assert.Equal(t, "tool-model", p.calls[0].opts.Model)
}

func TestStrictDropsInvalidCallsAndRetries(t *testing.T) {
	p := &scriptedProvider{replies: []reply{
		{content: `{"tool_calls":[{"function":{"name":"C","arguments":{}}},{"function":{"name":"A","arguments":[1]}}]}`},
		{content: `{"tool_calls":[{"function":{"name":"A","arguments":{"x":"1"}}},{"function":{"name":"nope","arguments":{}}}]}`},
	}}
	g := New(VersionStrict, p, Options{Logger: quiet()})

	calls, stats := g.Generate(context.Background(), "Call A", abCatalog())
	require.Len(t, calls, 1)
	assert.Equal(t, "A", calls[0].Name)
	assert.Equal(t, 2, stats.Attempts)
	assert.Equal(t, 3, stats.InvalidCalls)
	assert.Equal(t, 1, stats.ValidCalls)
	assert.Equal(t, 2, stats.TotalCalls)
	assert.Empty(t, stats.Errors)
}

func TestStrictAdaptiveRetry(t *testing.T) {
	catalog := tools.Catalog{
		schema("t1", "one", nil), schema("t2", "two", nil), schema("t3", "three", nil),
		schema("t4", "four", nil), schema("t5", "five", nil), schema("t6", "six", nil),
	}
	p := &scriptedProvider{replies: []reply{
		{err: errors.New("context length exceeded")}, // attempt 1
		{err: errors.New("rate limited")},            // attempt 2
		{content: "Run t1"},                          // rewrite
		{content: `{"tool_calls":[{"function":{"name":"t1","arguments":{}}}]}`},
	}}
	g := New(VersionStrict, p, Options{Logger: quiet()})

	calls, stats := g.Generate(context.Background(), "Please run the first tool", catalog)
	require.Len(t, calls, 1)
	assert.Equal(t, 3, stats.Attempts)
	assert.Equal(t, []string{"context length exceeded", "rate limited"}, stats.Errors)

	require.Len(t, p.calls, 4)
	// attempt 2: catalog halved without a rewrite call
	assert.Contains(t, p.calls[1].messages[0].Content, "- t3:")
	assert.NotContains(t, p.calls[1].messages[0].Content, "- t4:")
	// rewrite call
	assert.Equal(t, rewriteSystemPrompt, p.calls[2].messages[0].Content)
	assert.Contains(t, p.calls[2].messages[1].Content, "ORIGINAL INSTRUCTION:\nPlease run the first tool\n\nERROR MESSAGE:\nrate limited")
	// attempt 3: rewritten instruction, 3 tools decayed to 2
	assert.Equal(t, "Run t1", p.calls[3].messages[1].Content)
	assert.Contains(t, p.calls[3].messages[0].Content, "- t2:")
	assert.NotContains(t, p.calls[3].messages[0].Content, "- t3:")
}

func TestStrictTruncatesWhenRewriteFails(t *testing.T) {
	instruction := strings.Repeat("x", 200)
	p := &scriptedProvider{replies: []reply{
		{err: errors.New("bad request")},  // attempt 1
		{err: errors.New("rewrite down")}, // small catalog: rewrite right away
		{content: `{"tool_calls":[{"function":{"name":"A","arguments":{"x":"1"}}}]}`},
	}}
	g := New(VersionStrict, p, Options{Logger: quiet()})

	calls, stats := g.Generate(context.Background(), instruction, abCatalog())
	require.Len(t, calls, 1)
	assert.Equal(t, 2, stats.Attempts)
	// factor 0.3 on the first retry: keep max(50, 140)
	assert.Equal(t, strings.Repeat("x", 140), p.calls[2].messages[1].Content)
	assert.Contains(t, p.calls[2].messages[0].Content, "- B:")
}

func TestStrictGivesUpAfterMaxRetries(t *testing.T) {
	p := &scriptedProvider{}
	for i := 0; i < 10; i++ {
		p.replies = append(p.replies, reply{content: `{"answer": 42}`})
	}
	g := New(VersionStrict, p, Options{Logger: quiet(), MaxRetries: 2})

	calls, stats := g.Generate(context.Background(), "do it", abCatalog())
	assert.Empty(t, calls)
	assert.False(t, stats.Success)
	assert.Equal(t, 2, stats.Attempts)
	require.Len(t, stats.Errors, 2)
	assert.Contains(t, stats.Errors[0], "does not contain tool_calls")
}

func TestStrictStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &scriptedProvider{}
	calls, stats := New(VersionStrict, p, Options{Logger: quiet()}).Generate(ctx, "x", abCatalog())
	assert.Empty(t, calls)
	assert.Zero(t, stats.Attempts)
	assert.Empty(t, p.calls)
}

func searchCatalog() tools.Catalog {
	return tools.Catalog{
		schema("search_docs", "Search documents", []string{"query"}, "query", "limit"),
		schema("store", "Store data", []string{"key", "data"}, "key", "data"),
	}
}

func TestRepairFixesToolNameWithModelHelp(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{content: " search_docs\n"}}}
	g := New(VersionRepair, p, Options{Logger: quiet()})

	calls, stats := g.Generate(context.Background(),
		`{"tool_calls":[{"id":"call_keep","function":{"name":"serch_docs","arguments":{"query":"go"}}}]}`, searchCatalog())

	require.Len(t, calls, 1)
	assert.Equal(t, "search_docs", calls[0].Name)
	assert.Equal(t, "call_keep", calls[0].ID)
	assert.Equal(t, 1, stats.RepairedCalls)
	assert.Equal(t, 1, stats.ValidatedCalls)
	assert.True(t, stats.Success)

	require.Len(t, p.calls, 1)
	assert.Equal(t, matchSystemPrompt, p.calls[0].messages[0].Content)
	assert.Contains(t, p.calls[0].messages[1].Content, "Invalid tool: serch_docs\nArguments: {\n  \"query\": \"go\"\n}")
	assert.Equal(t, 50, p.calls[0].opts.MaxTokens)
	assert.InDelta(t, 0.1, *p.calls[0].opts.Temperature, 1e-6)
}

func TestRepairFallsBackToStringSimilarity(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{err: errors.New("offline")}, {content: "no idea"}}}
	g := New(VersionRepair, p, Options{Logger: quiet()})

	calls, stats := g.Generate(context.Background(),
		`{"tool_calls":[{"function":{"name":"search_dcs","arguments":{"query":"go"}}},{"function":{"name":"zzz","arguments":{}}}]}`,
		searchCatalog())

	require.Len(t, calls, 1)
	assert.Equal(t, "search_docs", calls[0].Name)
	assert.Equal(t, 1, stats.RepairedCalls)
	assert.Equal(t, 1, stats.FailedRepairs)
}

func TestRepairFillsMissingRequiredAndDropsUnknown(t *testing.T) {
	long := strings.Repeat("payload ", 20)
	p := &scriptedProvider{}
	g := New(VersionRepair, p, Options{Logger: quiet()})

	calls, stats := g.Generate(context.Background(),
		`{"tool_calls":[{"function":{"name":"store","arguments":{"key":"k","bogus":1}}},
		                {"function":{"name":"search_docs","arguments":"{\"query\":\"`+long+`\"}"}}]}`,
		searchCatalog())

	require.True(t, stats.Success)
	require.Len(t, calls, 2)
	assert.Equal(t, map[string]any{"key": "k", "data": ""}, calls[0].Arguments)
	assert.Equal(t, map[string]any{"query": long}, calls[1].Arguments)
	assert.Equal(t, 1, stats.ParamOptimizations)
	assert.Equal(t, 2, stats.ValidCalls)
	assert.Equal(t, 2, stats.TotalCalls)
	assert.Empty(t, p.calls, "no model call needed for known tools")
}

func TestRepairRestoresOnlyParkedArguments(t *testing.T) {
	long := strings.Repeat("z", 150)
	g := New(VersionRepair, &scriptedProvider{}, Options{Logger: quiet()})

	calls, stats := g.Generate(context.Background(),
		`{"tool_calls":[{"function":{"name":"store","arguments":{"key":"PARAM_0","data":"`+long+`"}}}]}`,
		searchCatalog())

	require.True(t, stats.Success)
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"key": "PARAM_0", "data": long}, calls[0].Arguments)
	assert.Equal(t, 1, stats.ParamOptimizations)
}

func TestRepairAcceptsPythonStyleJSON(t *testing.T) {
	g := New(VersionRepair, &scriptedProvider{}, Options{Logger: quiet()})

	calls, stats := g.Generate(context.Background(),
		`{'tool_calls': [{'type': 'function', 'function': {'name': 'search_docs', 'arguments': {'query': 'go', limit: None}}}]}`,
		searchCatalog())

	require.True(t, stats.Success, stats.Errors)
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"query": "go", "limit": nil}, calls[0].Arguments)
}

func TestStrictAcceptsPythonStyleJSON(t *testing.T) {
	p := &scriptedProvider{replies: []reply{{content: `{'tool_calls': [{'type': 'function', 'function': {'name': 'A', 'arguments': {x: '1'}}}]}`}}}
	g := New(VersionStrict, p, Options{Logger: quiet()})

	calls, stats := g.Generate(context.Background(), "Call A with x=1", abCatalog())
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"x": "1"}, calls[0].Arguments)
	assert.Equal(t, 1, stats.Attempts)
}

func TestRepairInvalidJSON(t *testing.T) {
	g := New(VersionRepair, &scriptedProvider{}, Options{Logger: quiet()})

	calls, stats := g.Generate(context.Background(), "call the search tool please", searchCatalog())
	assert.Empty(t, calls)
	require.Len(t, stats.Errors, 1)
	assert.True(t, strings.HasPrefix(stats.Errors[0], "JSON parsing error: "))
}

func TestRepairNoToolCalls(t *testing.T) {
	g := New(VersionRepair, &scriptedProvider{}, Options{Logger: quiet()})

	calls, stats := g.Generate(context.Background(), `{"answer": 1}`, searchCatalog())
	assert.Empty(t, calls)
	assert.False(t, stats.Success)
	assert.Equal(t, []string{"Failed to repair tool calls"}, stats.Errors)
}

func TestRepairAcceptsFencedJSON(t *testing.T) {
	g := New(VersionRepair, &scriptedProvider{}, Options{Logger: quiet()})

	calls, stats := g.Generate(context.Background(),
		"\n```json\n{\"tool_calls\":[{\"function\":{\"name\":\"search_docs\",\"arguments\":{\"query\":\"x\"}}}]}\n```\n", searchCatalog())
	require.Len(t, calls, 1)
	assert.True(t, stats.Success)
	assert.Equal(t, "search_docs", calls[0].Name)
}

func TestClosestByPosition(t *testing.T) {
	best, score := closestByPosition("serch_docs", []string{"search_docs", "store"})
	assert.Equal(t, "search_docs", best)
	assert.Equal(t, 2, score)

	_, score = closestByPosition("", []string{"a"})
	assert.Zero(t, score)
}
