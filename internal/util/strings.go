package util

import "strings"

// SafeTruncate truncates s to at most maxLen bytes without panicking.
// A negative maxLen yields an empty string.
//
// Example:
//
//	SafeTruncate("very-long-token-abc123", 8) // "very-lon"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL removes trailing slashes so that issuer and audience values
// compare equal with or without them.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}

// ContainsString reports whether values contains s.
func ContainsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
