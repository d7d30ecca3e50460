// Package utils provides shared text and logging helpers.
package utils

// Truncate shortens s to at most maxLen bytes and appends "..." when it cut
// anything. A maxLen of 0 or less leaves s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
