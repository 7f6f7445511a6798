// Package json extracts and repairs JSON embedded in model output.
//
// Models often wrap JSON in markdown fences or prose, write it Python style or
// cut it off mid-object. Extraction finds the JSON; Repair fixes the rest.
package json

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSON finds and returns the JSON portion of a response string.
// It handles common response patterns:
// 1. Pure JSON response - returns the full response
// 2. JSON wrapped in markdown code blocks (```json ... ```)
// 3. JSON object embedded in text - finds first '{' and last '}'
func extractJSON(response string) (string, error) {
	response = stripMarkdownCodeBlocks(response)

	if json.Valid([]byte(response)) {
		return response, nil
	}

	start := strings.Index(response, "{")
	if start != -1 {
		end := strings.LastIndex(response, "}")
		if end != -1 && end > start {
			jsonStr := response[start : end+1]
			if json.Valid([]byte(jsonStr)) {
				return jsonStr, nil
			}
		}
	}

	return "", fmt.Errorf("failed to extract valid JSON from response: %q", preview(response))
}

func preview(s string) string {
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}

// stripMarkdownCodeBlocks removes markdown code block markers from a response.
// Handles patterns like ```json\n...\n``` or ```\n...\n```
func stripMarkdownCodeBlocks(response string) string {
	trimmed := strings.TrimSpace(response)

	if strings.HasPrefix(trimmed, "```json") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimSpace(trimmed)
	} else if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	if strings.HasSuffix(trimmed, "```") {
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	return trimmed
}

// ExtractJSON extracts the JSON portion from a response string, falling back
// to Repair when no well-formed object is present.
func ExtractJSON(response string) (string, error) {
	if s, err := extractJSON(response); err == nil {
		return s, nil
	}
	return Repair(response)
}
