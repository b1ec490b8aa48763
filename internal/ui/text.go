package ui

import "strings"

// TruncateSimple cuts s to maxLen runes, ending with "..." when shortened.
func TruncateSimple(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// FirstLine returns the first non-blank line of s, trimmed.
func FirstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}

// Preview condenses a multi-line prompt into a single line for logs.
func Preview(s string, maxLen int) string {
	return TruncateSimple(FirstLine(s), maxLen)
}
