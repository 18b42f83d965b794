package llm

import "strings"

// ExtractJSON pulls the first JSON object out of free-form model output.
// It prefers a fenced ```json block; failing that it scans for the first
// brace-balanced object. Returns "" when nothing parseable is found.
func ExtractJSON(content string) string {
	if fenced := extractFenced(content); fenced != "" {
		return fenced
	}
	return extractBalanced(content)
}

func extractFenced(content string) string {
	for _, marker := range []string{"```json", "```JSON"} {
		start := strings.Index(content, marker)
		if start == -1 {
			continue
		}
		rest := content[start+len(marker):]
		end := strings.Index(rest, "```")
		if end == -1 {
			// Unterminated fence: take the remainder and let the brace
			// scanner decide.
			return extractBalanced(rest)
		}
		return strings.TrimSpace(rest[:end])
	}
	return ""
}

func extractBalanced(content string) string {
	start := strings.IndexByte(content, '{')
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		ch := content[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return content[start : i+1]
				}
			}
		}
	}
	return ""
}
