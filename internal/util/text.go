package util

import "strings"

// SanitizePostgresText drops NUL bytes and invalid UTF-8, which a TEXT column
// rejects, and cuts the result to at most maxRunes runes. maxRunes <= 0 keeps
// the whole value.
func SanitizePostgresText(value string, maxRunes int) string {
	if value == "" {
		return value
	}

	sanitized := strings.ReplaceAll(strings.ToValidUTF8(value, ""), "\x00", "")
	if maxRunes <= 0 {
		return sanitized
	}
	n := 0
	for i := range sanitized {
		if n == maxRunes {
			return sanitized[:i]
		}
		n++
	}
	return sanitized
}
