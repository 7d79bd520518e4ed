package llm

import (
	"errors"
	"regexp"
	"strings"
)

var errNoJSONObject = errors.New("no JSON object found in model output")

// Models wrap JSON in markdown fences or chat filler despite the
// response-format instruction. ExtractJSON slices out the first JSON
// object and cleans up the trailing commas some models emit.
func ExtractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)

	// ```json ... ``` or ``` ... ```
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimPrefix(s, "JSON")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	if start < 0 {
		return "", errNoJSONObject
	}
	end := matchBrace(s, start)
	if end < 0 {
		// Unbalanced, fall back to the last closing brace.
		end = strings.LastIndex(s, "}")
		if end <= start {
			return "", errNoJSONObject
		}
	}
	s = s[start : end+1]

	return stripTrailingCommas(s), nil
}

// matchBrace returns the index of the brace closing the object opened at
// start, or -1. String literals are skipped so braces inside values do
// not miscount.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
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
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

func stripTrailingCommas(s string) string {
	return trailingCommaRe.ReplaceAllString(s, "$1")
}
