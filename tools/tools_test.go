package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/richinex/toolweave/internal/errs"
	"github.com/richinex/toolweave/llm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type scriptedInvoker struct {
	mu    sync.Mutex
	calls []string
	errs  []error
	out   string
}

func (s *scriptedInvoker) Call(_ context.Context, name string, _ map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return s.out, nil
}

const addSchema = `{
  "type": "object",
  "properties": {
    "a": {"type": "integer", "description": "first"},
    "b": {"type": "integer", "description": "second"}
  },
  "required": ["a", "b"]
}`

func TestFromInputSchema(t *testing.T) {
	s, err := FromInputSchema("add", "Add two numbers", json.RawMessage(addSchema))
	require.NoError(t, err)

	assert.Equal(t, "function", s.Type)
	assert.Equal(t, "add", s.Name())
	assert.Equal(t, []string{"a", "b"}, s.ParamNames())
	assert.True(t, s.IsRequired("a"))
	assert.False(t, s.IsRequired("c"))
	assert.Equal(t, "integer", s.Function.Parameters.Properties["a"].Type)

	wire, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(wire), "InputSchema")
	assert.Contains(t, string(wire), `"type":"function"`)

	empty, err := FromInputSchema("ping", "Ping", nil)
	require.NoError(t, err)
	assert.Empty(t, empty.ParamNames())
	assert.Equal(t, "object", empty.Function.Parameters.Type)

	_, err = FromInputSchema("bad", "Bad", json.RawMessage(`[1,2]`))
	assert.Error(t, err)

	nullable, err := FromInputSchema("opt", "Optional",
		json.RawMessage(`{"properties":{"q":{"type":["null","string"],"description":"query"}}}`))
	require.NoError(t, err)
	assert.Equal(t, Property{Type: "string", Description: "query"}, nullable.Function.Parameters.Properties["q"])
}

func TestCatalogSummary(t *testing.T) {
	add, _ := FromInputSchema("add", "Add two numbers", json.RawMessage(addSchema))
	ping := NewSchema("ping", "Ping", Parameters{})
	c := Catalog{add, ping}

	assert.Equal(t, []string{"add", "ping"}, c.Names())
	assert.True(t, c.Has("ping"))
	assert.False(t, c.Has("pong"))
	assert.Equal(t, "- add: Add two numbers\n  Parameters: a, b\n- ping: Ping\n  Parameters: ", c.Summary())
}

func TestRegistryLastRegistrationWins(t *testing.T) {
	r := NewRegistry()
	_, replaced := r.Register("calc", NewSchema("add", "Add", Parameters{}))
	assert.False(t, replaced)
	r.Register("calc", NewSchema("sub", "Subtract", Parameters{}))

	prev, replaced := r.Register("math", NewSchema("add", "Add v2", Parameters{}))
	assert.True(t, replaced)
	assert.Equal(t, "calc", prev)

	owner, ok := r.OwnerOf("add")
	require.True(t, ok)
	assert.Equal(t, "math", owner)

	s, _ := r.Get("add")
	assert.Equal(t, "Add v2", s.Function.Description)
	assert.Equal(t, []string{"add", "sub"}, r.Catalog().Names())
	assert.Equal(t, []string{"sub"}, r.ByOwner("calc"))

	r.RemoveOwner("math")
	_, ok = r.OwnerOf("add")
	assert.False(t, ok)
	assert.Equal(t, []string{"sub"}, r.Catalog().Names())
	assert.Empty(t, r.ByOwner("math"))
}

func TestExecutorSuccess(t *testing.T) {
	inv := &scriptedInvoker{out: "4"}
	e := NewExecutor(inv, nil, ExecConfig{})

	res := e.Execute(context.Background(), llm.ToolCall{ID: "call_1", Name: "add", Arguments: map[string]any{"a": 2, "b": 2}})
	require.True(t, res.Success())
	assert.Equal(t, "4", res.Output)
	assert.Equal(t, "4", res.Text())
	assert.Equal(t, "call_1", res.CallID)
}

func TestExecutorWrapsFailure(t *testing.T) {
	inv := &scriptedInvoker{errs: []error{errors.New("division by zero")}}
	e := NewExecutor(inv, nil, ExecConfig{MaxRetries: 3})

	res := e.Execute(context.Background(), llm.ToolCall{Name: "div"})
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, errs.ErrToolExecution)
	assert.Equal(t, "Failed to execute tool div: division by zero", res.Err.Error())
	assert.Equal(t, "Error calling tool div: Failed to execute tool div: division by zero", res.Text())
	assert.Len(t, inv.calls, 1, "tool-reported errors are not retried")
}

func TestExecutorRetriesTransientErrors(t *testing.T) {
	timeout := errs.Client("tool add timed out", errs.ErrTimeout)
	inv := &scriptedInvoker{errs: []error{timeout, nil}, out: "4"}
	e := NewExecutor(inv, nil, ExecConfig{MaxRetries: 1})

	res := e.Execute(context.Background(), llm.ToolCall{Name: "add"})
	require.NoError(t, res.Err)
	assert.Equal(t, "4", res.Output)
	assert.Len(t, inv.calls, 2)
}

func TestExecutorUnknownToolNotRetried(t *testing.T) {
	unknown := errs.Client("Unknown tool: nope", errs.ErrUnknownTool)
	inv := &scriptedInvoker{errs: []error{unknown}}
	e := NewExecutor(inv, nil, ExecConfig{MaxRetries: 2})

	res := e.Execute(context.Background(), llm.ToolCall{Name: "nope"})
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, errs.ErrUnknownTool)
	assert.Len(t, inv.calls, 1)
}

func TestExecutorValidatesArguments(t *testing.T) {
	reg := NewRegistry()
	add, err := FromInputSchema("add", "Add", json.RawMessage(addSchema))
	require.NoError(t, err)
	reg.Register("calc", add)

	inv := &scriptedInvoker{out: "4"}
	e := NewExecutor(inv, reg, ExecConfig{Validate: true})

	res := e.Execute(context.Background(), llm.ToolCall{Name: "add", Arguments: map[string]any{"a": "two"}})
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "validation failed")
	assert.Empty(t, inv.calls)

	res = e.Execute(context.Background(), llm.ToolCall{Name: "add", Arguments: map[string]any{"a": 2, "b": 2}})
	require.NoError(t, res.Err)
	assert.Equal(t, "4", res.Output)
}

func TestExecutorUsesConfiguredLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	timeout := errs.Client("tool add timed out", errs.ErrTimeout)
	inv := &scriptedInvoker{errs: []error{timeout, nil}, out: "4"}
	e := NewExecutor(inv, nil, ExecConfig{MaxRetries: 1, Logger: &logger})

	res := e.Execute(context.Background(), llm.ToolCall{Name: "add"})
	require.NoError(t, res.Err)
	assert.Contains(t, buf.String(), "Transient tool failure")
}

func TestResultMarshalJSON(t *testing.T) {
	data, err := json.Marshal(Result{Name: "add", Err: errors.New("bad")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"add","success":false,"output":"","error":"bad"}`, string(data))
}
