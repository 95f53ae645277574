package tgui

import "unicode/utf8"

// RuneLen is the length Telegram counts limits in.
func RuneLen(s string) int { return utf8.RuneCountInString(s) }

// TruncRunes keeps the first n runes of s and marks the cut with "…".
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	seen := 0
	for i := range s {
		if seen == n {
			return s[:i] + "…"
		}
		seen++
	}
	return s
}
