package json

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Repair turns near-valid JSON into valid JSON. It starts at the first '{' or
// '[', drops anything after that value closes and hands the rest to
// jsonrepair, which fixes quoting (single quotes, unquoted keys), Python
// literals, trailing commas and truncation. It returns an error when the
// result is still not valid JSON.
func Repair(response string) (string, error) {
	s := stripMarkdownCodeBlocks(response)
	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return "", fmt.Errorf("failed to extract valid JSON from response: %q", preview(s))
	}
	s = cutValue(s[start:])

	fixed, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return "", fmt.Errorf("failed to repair JSON: %q: %w", preview(s), err)
	}
	if !json.Valid([]byte(fixed)) {
		return "", fmt.Errorf("failed to repair JSON: %q", preview(fixed))
	}
	return fixed, nil
}

// cutValue returns s up to where its leading object or array closes, or all
// of s when it never does. Both quote styles delimit strings.
func cutValue(s string) string {
	var (
		stack   []byte
		quote   byte
		escaped bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}

		switch c {
		case '"', '\'':
			quote = c
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				continue
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[:i+1]
			}
		}
	}
	return s
}
