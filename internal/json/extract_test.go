package json

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type TestStruct struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func TestExtractJSON(t *testing.T) {
	tests := map[string]string{
		"pure":          `{"name": "test", "value": 42}`,
		"prefix":        `Here is the result: {"name": "test", "value": 42}`,
		"suffix":        `{"name": "test", "value": 42} That's the output.`,
		"both":          `Let me think... {"name": "test", "value": 42} Done!`,
		"fenced":        "```json\n{\"name\": \"test\", \"value\": 42}\n```",
		"bare":          "```\n{\"name\": \"test\", \"value\": 42}\n```",
		"trailing":      `{"name": "test", "value": 42,}`,
		"cut":           `{"name": "test", "value": 42`,
		"single quotes": `{'name': 'test', 'value': 42}`,
		"unquoted keys": `{name: "test", value: 42}`,
	}
	for name, response := range tests {
		t.Run(name, func(t *testing.T) {
			s, err := ExtractJSON(response)
			require.NoError(t, err)
			var got TestStruct
			require.NoError(t, json.Unmarshal([]byte(s), &got))
			assert.Equal(t, TestStruct{Name: "test", Value: 42}, got)
		})
	}
}

func TestExtractJSONPythonStyleToolCalls(t *testing.T) {
	in := `{'tool_calls': [{'type': 'function', 'function': {'name': 'add', 'arguments': {'a': 1, 'exact': True}}}]}`

	s, err := ExtractJSON(in)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"tool_calls":[{"type":"function","function":{"name":"add","arguments":{"a":1,"exact":true}}}]}`, s)
}

func TestNoJSON(t *testing.T) {
	_, err := ExtractJSON("This is just plain text without any JSON.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to extract valid JSON")
}

func TestRepair(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"valid", `{"a":1}`, `{"a":1}`},
		{"unclosed object", `{"a":1`, `{"a":1}`},
		{"unclosed nested", `{"tool_calls":[{"id":"c1","function":{"name":"add"`, `{"tool_calls":[{"id":"c1","function":{"name":"add"}}]}`},
		{"unclosed string", `{"a":"hel`, `{"a":"hel"}`},
		{"trailing commas", `{"a":[1,2,],}`, `{"a":[1,2]}`},
		{"python literals", `{"ok":True,"v":None,"f":False}`, `{"ok":true,"v":null,"f":false}`},
		{"literal in string", `{"s":"True story"}`, `{"s":"True story"}`},
		{"single quotes", `{'a': 'it is'}`, `{"a":"it is"}`},
		{"unquoted keys", `{a: 1, b: [1, 2]}`, `{"a":1,"b":[1,2]}`},
		{"prose around", `Sure! {"a":1} hope that helps }`, `{"a":1}`},
		{"prose after single quotes", `{'a': '}'} and that's it`, `{"a":"}"}`},
		{"array", `[1,2`, `[1,2]`},
		{"array strings", `["x","y"`, `["x","y"]`},
		{"escaped quote", `{"a":"say \"hi\""`, `{"a":"say \"hi\""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Repair(tt.in)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, got)
		})
	}
}

func TestCutValue(t *testing.T) {
	assert.Equal(t, `{"a":[1]}`, cutValue(`{"a":[1]} tail`))
	assert.Equal(t, `{'a':"}"}`, cutValue(`{'a':"}"}}`))
	assert.Equal(t, `{"a":1`, cutValue(`{"a":1`))
}

func TestRepairGivesUp(t *testing.T) {
	_, err := Repair("no json here")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to extract valid JSON")
}
