package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when a completion holds no JSON object
var ErrNoJSON = errors.New("no JSON object in response")

// ExtractJSON pulls the outermost JSON object out of model output. It strips
// markdown fences and control characters, and closes an object that was cut
// off mid-stream after its last complete string field.
func ExtractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = stripControl(s)

	start := strings.Index(s, "{")
	if start < 0 {
		return "", ErrNoJSON
	}
	s = s[start:]

	if end := strings.LastIndex(s, "}"); end >= 0 {
		candidate := s[:end+1]
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	// truncated: keep everything up to the last complete "key": "value", pair
	cut := strings.LastIndex(s, "\",")
	if cut < 0 {
		return "", fmt.Errorf("unrepairable JSON: %w", ErrNoJSON)
	}
	repaired := s[:cut+1] + "}"
	if !json.Valid([]byte(repaired)) {
		return "", fmt.Errorf("unrepairable JSON: %w", ErrNoJSON)
	}
	return repaired, nil
}

// DecodeJSON extracts and unmarshals model output into v
func DecodeJSON(raw string, v any) error {
	obj, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("decode model JSON: %w", err)
	}
	return nil
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
