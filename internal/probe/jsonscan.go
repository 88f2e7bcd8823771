package probe

import (
	"encoding/json"
	"strings"
)

// firstJSONObject returns the first balanced brace-delimited object in
// text. The scan tracks string-literal state and escape sequences so that
// braces inside quoted values do not affect the nesting depth. All state
// characters are ASCII, so scanning bytes is safe on UTF-8 input.
func firstJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
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
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// parsesAsJSONObject reports whether text contains a complete JSON object.
func parsesAsJSONObject(text string) bool {
	candidate, ok := firstJSONObject(strings.TrimSpace(text))
	if !ok {
		return false
	}
	return json.Valid([]byte(candidate))
}
