package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON indicates no parseable JSON object could be recovered from the
// model output. This is the single failure mode for every component that
// expects structured output.
var ErrNoJSON = errors.New("llm: no JSON object in model output")

// StripFences removes a markdown code fence wrapper if the output is wrapped
// in one. Models routinely fence JSON as ```json ... ``` despite instructions.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop a language tag on the opening fence line.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		first := strings.TrimSpace(s[:idx])
		if first == "json" || first == "JSON" || first == "" {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ExtractObject returns the first balanced top-level {...} span in s.
// It tracks string literals and escapes so braces inside quoted values do not
// confuse the depth count. Returns "" when no balanced object exists.
func ExtractObject(s string) string {
	var (
		depth    int
		start    = -1
		inString bool
		escape   bool
	)
	for i := 0; i < len(s); i++ {
		b := s[i]
		if escape {
			escape = false
			continue
		}
		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

// DecodeObject recovers a JSON object from raw model output into v: strip
// fences, extract the first balanced object, unmarshal. Any failure reports
// ErrNoJSON so callers have one thing to check before falling back.
func DecodeObject(raw string, v any) error {
	candidate := ExtractObject(StripFences(raw))
	if candidate == "" {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(candidate), v); err != nil {
		return errors.Join(ErrNoJSON, err)
	}
	return nil
}
