package llm

import "strings"

// ExtractJSON extracts a JSON object or array from a potentially
// mixed-format response. Returns "{}" when no JSON is present so callers
// can unmarshal unconditionally.
func ExtractJSON(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		start = strings.Index(text, "[")
	}
	if start == -1 {
		return "{}"
	}

	// Find matching closing brace/bracket
	depth := 0
	inString := false
	escaped := false
	startChar := rune(text[start])
	endChar := '}'
	if startChar == '[' {
		endChar = ']'
	}

	for i := start; i < len(text); i++ {
		ch := rune(text[i])

		if escaped {
			escaped = false
			continue
		}

		if ch == '\\' {
			escaped = true
			continue
		}

		if ch == '"' {
			inString = !inString
			continue
		}

		if !inString {
			if ch == startChar || ch == '{' || ch == '[' {
				depth++
			} else if ch == endChar || ch == '}' || ch == ']' {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return ""
}

// ExtractCodeBlock extracts the contents of the first fenced code block
// matching the given language. Falls back to any fenced block, then to the
// raw text when no fences are present.
func ExtractCodeBlock(text, lang string) string {
	fence := "```" + lang
	start := strings.Index(text, fence)
	if start != -1 {
		rest := text[start+len(fence):]
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
	}

	// Any fenced block
	start = strings.Index(text, "```")
	if start != -1 {
		rest := text[start+3:]
		// Skip a language tag on the fence line
		if nl := strings.Index(rest, "\n"); nl != -1 {
			firstLine := strings.TrimSpace(rest[:nl])
			if firstLine != "" && !strings.ContainsAny(firstLine, " \t{}()") {
				rest = rest[nl+1:]
			}
		}
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
	}

	return strings.TrimSpace(text)
}

// Truncate shortens text for prompt embedding while noting the cut.
func Truncate(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
