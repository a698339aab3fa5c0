package labeler

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shelfminer/shelfminer/internal/catalog"
)

// parseVerdict pulls the verdict object out of the model's reply. Models
// wrap JSON in prose or code fences often enough that we scan for the
// outermost object instead of unmarshaling the raw content.
func parseVerdict(content string) (catalog.Verdict, error) {
	raw, ok := extractObject(content)
	if !ok {
		return catalog.Verdict{}, fmt.Errorf("no JSON object in reply: %w", catalog.ErrMalformedVerdict)
	}

	var payload struct {
		Grade     string         `json:"grade"`
		Reason    string         `json:"reason"`
		Extracted map[string]any `json:"extracted"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return catalog.Verdict{}, fmt.Errorf("decode verdict: %v: %w", err, catalog.ErrMalformedVerdict)
	}
	grade, err := catalog.ParseGrade(strings.ToUpper(strings.TrimSpace(payload.Grade)))
	if err != nil {
		return catalog.Verdict{}, fmt.Errorf("%v: %w", err, catalog.ErrMalformedVerdict)
	}
	return catalog.Verdict{
		Grade:     grade,
		Reason:    strings.TrimSpace(payload.Reason),
		Extracted: payload.Extracted,
	}, nil
}

// extractObject returns the first balanced top-level {...} span, skipping
// braces inside JSON strings.
func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
