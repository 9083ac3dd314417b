// Package jsonutil extracts and parses JSON from model responses that may be
// wrapped in markdown code fences or embedded in prose, and recovers a few
// fields heuristically when no JSON can be found.
package jsonutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when text contains no balanced JSON object or array.
var ErrNoJSON = errors.New("no JSON content found")

// StripMarkdownFences removes ```json ... ``` or ``` ... ``` wrapping from text.
// Returns the content between the fences, or the original text if no fences are found.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}

	endIdx := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}

	return strings.Join(lines[1:endIdx], "\n")
}

// ExtractJSON returns the first balanced JSON object or array in text.
// Braces inside string literals are ignored, so prose containing stray
// brackets after the JSON does not widen the match.
func ExtractJSON(text string) (string, error) {
	for start := nextOpen(text, 0); start != -1; start = nextOpen(text, start+1) {
		if end, ok := matchClose(text, start); ok {
			return text[start : end+1], nil
		}
	}
	return "", ErrNoJSON
}

// nextOpen returns the index of the first '{' or '[' at or after from, or -1.
func nextOpen(text string, from int) int {
	if from >= len(text) {
		return -1
	}
	i := strings.IndexAny(text[from:], "{[")
	if i == -1 {
		return -1
	}
	return from + i
}

// matchClose finds the index of the bracket closing text[start].
func matchClose(text string, start int) (int, bool) {
	var stack []byte
	inString, escaped := false, false

	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// ParseJSON strips markdown fences from raw response text and unmarshals the
// first balanced JSON value that decodes into T. Bracketed prose such as
// "[8/10]" ahead of the payload is skipped. A candidate that is valid JSON
// of the wrong shape is skipped whole, so nested values are never mistaken
// for the payload.
func ParseJSON[T any](raw string) (T, error) {
	var zero T
	text := StripMarkdownFences(raw)

	var firstErr error
	var firstText string
	for start := nextOpen(text, 0); start != -1; {
		end, ok := matchClose(text, start)
		if !ok {
			start = nextOpen(text, start+1)
			continue
		}
		candidate := text[start : end+1]

		var result T
		err := json.Unmarshal([]byte(candidate), &result)
		if err == nil {
			return result, nil
		}
		if firstErr == nil {
			firstErr, firstText = err, candidate
		}
		if json.Valid([]byte(candidate)) {
			start = nextOpen(text, end+1)
		} else {
			start = nextOpen(text, start+1)
		}
	}

	if firstErr == nil {
		return zero, fmt.Errorf("%w (raw length: %d)", ErrNoJSON, len(raw))
	}
	if len(firstText) > 200 {
		firstText = firstText[:200] + "..."
	}
	return zero, fmt.Errorf("invalid JSON: %w (text: %s)", firstErr, firstText)
}
