// Package parser provides utility functions for content parsing.
package parser

import (
	"strings"
	"unicode/utf8"
)

// CountWords counts words in text.
func CountWords(s string) int {
	words := strings.Fields(s)
	return len(words)
}

// Truncate truncates s to at most maxLen bytes plus an ellipsis. The cut
// never splits a UTF-8 sequence.
func Truncate(s string, maxLen int) string {
	// Handle invalid maxLen
	if maxLen <= 0 {
		return "..."
	}

	if len(s) <= maxLen {
		return s
	}

	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	// Try to truncate at word boundary
	if i := strings.LastIndex(s[:cut], " "); i > 0 {
		return s[:i] + "..."
	}

	return s[:cut] + "..."
}
