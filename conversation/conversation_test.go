package conversation

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/toolweave/llm"
	"github.com/richinex/toolweave/tools"
)

func calcCatalog() tools.Catalog {
	return tools.Catalog{
		tools.NewSchema("add", "Add two numbers", tools.Parameters{
			Properties: map[string]tools.Property{
				"a": {Type: "number", Description: "first"},
				"b": {Type: "number", Description: "second"},
			},
			Required: []string{"a"},
		}),
		tools.NewSchema("now", "Current time", tools.Parameters{}),
	}
}

// randomHistory builds a history from a random mix of append calls.
func randomHistory(r *rand.Rand, n int) *History {
	h := NewHistory("sys-0")
	for i := 0; i < n; i++ {
		switch r.Intn(5) {
		case 0:
			h.AddUser("u")
		case 1:
			h.AddAssistant("a")
		case 2:
			h.AddAssistant("", llm.ToolCall{ID: "c", Name: "add"})
		case 3:
			h.AddToolResult("add", "4", "")
		case 4:
			h.AddSystem("sys")
		}
	}
	return h
}

func TestClearKeepsOnlySystemMessagesInOrder(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		h := randomHistory(r, r.Intn(30))

		var want []llm.ChatMessage
		for _, m := range h.Messages() {
			if m.Role == llm.RoleSystem {
				want = append(want, m)
			}
		}

		h.Clear()
		assert.Equal(t, want, h.Messages())
	}
}

func TestRestore(t *testing.T) {
	stored := []llm.ChatMessage{llm.UserMessage("hi"), llm.AssistantMessage("hello")}

	h := NewHistory("prompt")
	h.Restore(stored)
	assert.Equal(t, []llm.ChatMessage{llm.SystemMessage("prompt"), stored[0], stored[1]}, h.Messages())

	withSystem := append([]llm.ChatMessage{llm.SystemMessage("old prompt")}, stored...)
	h = NewHistory("prompt")
	h.Restore(withSystem)
	assert.Equal(t, withSystem, h.Messages())
}

func TestAddToolResultDefaultID(t *testing.T) {
	h := NewHistory("")
	assert.Equal(t, 0, h.Len())

	h.AddToolResult("add", "4", "")
	h.AddToolResult("add", "5", "call_x")
	msgs := h.Messages()
	assert.Equal(t, "call_add", msgs[0].ToolCallID)
	assert.Equal(t, "call_x", msgs[1].ToolCallID)
	assert.Equal(t, "add", msgs[1].Name)

	last, ok := h.LastMessage()
	require.True(t, ok)
	assert.Equal(t, "5", last.Content)
}

func TestMessagesReturnsCopy(t *testing.T) {
	h := NewHistory("sys")
	msgs := h.Messages()
	msgs[0].Content = "changed"
	assert.Equal(t, "sys", h.Messages()[0].Content)
}

func TestDebugString(t *testing.T) {
	h := NewHistory("be helpful")
	h.AddUser("2+2?")
	h.AddAssistant("", llm.ToolCall{ID: "1", Name: "add"}, llm.ToolCall{ID: "2", Name: "mul"})
	h.AddToolResult("add", "4", "1")
	h.AddAssistant("4")

	want := strings.Join([]string{
		"=== CONVERSATION HISTORY DEBUG OUTPUT ===",
		"[0] SYSTEM: be helpful",
		"[1] USER: 2+2?",
		"[2] ASSISTANT [TOOLS: add, mul]: ",
		"[3] TOOL [add]: 4",
		"[4] ASSISTANT: 4",
		strings.Repeat("=", 40),
	}, "\n")
	assert.Equal(t, want, h.DebugString())
}

func TestTextAdapterAlternatesRoles(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	a := Adapter{Quirk: QuirkText}
	for trial := 0; trial < 200; trial++ {
		h := randomHistory(r, r.Intn(30))
		before := h.Messages()

		out := a.Format(before, calcCatalog())

		var prev string
		for _, m := range out {
			if m.Role == llm.RoleSystem {
				// system messages pass through verbatim and break a run
				prev = ""
				continue
			}
			assert.NotEqual(t, prev, m.Role, "adjacent %s messages", m.Role)
			assert.NotEqual(t, llm.RoleTool, m.Role)
			assert.Empty(t, m.ToolCalls)
			prev = m.Role
		}
		assert.Equal(t, before, h.Messages(), "formatting must not mutate the history")
	}
}

func TestTextAdapterFoldsToolResults(t *testing.T) {
	msgs := []llm.ChatMessage{
		llm.SystemMessage("sys"),
		llm.UserMessage("add 2 and 2"),
		{Role: llm.RoleAssistant, Content: "calling", ToolCalls: []llm.ToolCall{{ID: "c1", Name: "add"}}},
		{Role: llm.RoleTool, Content: "4", ToolCallID: "c1", Name: "add"},
		{Role: llm.RoleTool, Content: "oops", ToolCallID: "c2"},
	}
	out := Adapter{}.Format(msgs, nil)

	require.Len(t, out, 4)
	assert.Equal(t, llm.SystemMessage("sys"), out[0])
	assert.Equal(t, llm.AssistantMessage("calling"), out[2])
	assert.Equal(t, llm.RoleUser, out[3].Role)
	assert.Equal(t, "Tool result from add:\n4\n\nTool result from unknown tool:\noops", out[3].Content)
}

func TestAdapterAppendsCatalogOnce(t *testing.T) {
	a := Adapter{}
	out := a.Format([]llm.ChatMessage{llm.SystemMessage("s"), llm.UserMessage("hi")}, calcCatalog())
	require.Len(t, out, 2)
	assert.True(t, strings.HasPrefix(out[1].Content, "hi\n\nAvailable tools:\nNote that ONLY the following tools are available:\n"))
	assert.Contains(t, out[1].Content, "**Available Tool**: add\nDescription: Add two numbers\nParameters:\n  - a (number, required): first\n  - b (number, optional): second")
	assert.Contains(t, out[1].Content, "**Available Tool**: now\nDescription: Current time\nParameters:\n  No parameters")

	// An earlier user turn already carries the catalog.
	second := a.Format([]llm.ChatMessage{out[1], llm.AssistantMessage("hello"), llm.UserMessage("again")}, calcCatalog())
	assert.Equal(t, "again", second[len(second)-1].Content)

	// The last message is not a user turn.
	third := a.Format([]llm.ChatMessage{llm.UserMessage("hi"), llm.AssistantMessage("yo")}, calcCatalog())
	assert.Equal(t, "hi", third[0].Content)
}

func TestDescribeSkipsIncompleteTools(t *testing.T) {
	c := tools.Catalog{tools.NewSchema("nodesc", "", tools.Parameters{})}
	assert.Equal(t, "Note that ONLY the following tools are available:\n", Adapter{}.Describe(c))
}

func TestNativeAdapterKeepsToolTraffic(t *testing.T) {
	msgs := []llm.ChatMessage{
		llm.UserMessage("q"),
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "1", Name: "add"}}},
		{Role: llm.RoleAssistant, Content: "more", ToolCalls: []llm.ToolCall{{ID: "2", Name: "now"}}},
		{Role: llm.RoleTool, Content: "4", ToolCallID: "1", Name: "add"},
		{Role: llm.RoleTool, Content: "noon", ToolCallID: "2"},
	}
	out := Adapter{Quirk: QuirkNativeTools}.Format(msgs, nil)

	require.Len(t, out, 4)
	assert.Equal(t, "more", out[1].Content)
	assert.Equal(t, []llm.ToolCall{{ID: "1", Name: "add"}, {ID: "2", Name: "now"}}, out[1].ToolCalls)
	assert.Equal(t, llm.ChatMessage{Role: llm.RoleTool, Content: "4", ToolCallID: "1", Name: "add"}, out[2])
	assert.Equal(t, "unknown_tool", out[3].Name)
}

func TestNativeDescribe(t *testing.T) {
	got := Adapter{Quirk: QuirkNativeTools}.Describe(calcCatalog())
	assert.Equal(t, "- add: Add two numbers\n  Parameters:\n  - a (number): first\n  - b (number): second\n- now: Current time", got)
}

func TestParseQuirk(t *testing.T) {
	assert.Equal(t, QuirkNativeTools, ParseQuirk("Native"))
	assert.Equal(t, QuirkText, ParseQuirk("text"))
	assert.Equal(t, QuirkText, ParseQuirk(""))
	assert.Equal(t, "native", QuirkNativeTools.String())
}
