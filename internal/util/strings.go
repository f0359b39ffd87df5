package util

import "strings"

// SafeTruncate returns at most the first maxLen bytes of s.
// A negative maxLen yields an empty string.
//
//	SafeTruncate("very-long-token-abc123", 8) // "very-lon"
//	SafeTruncate("short", 10)                  // "short"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL strips trailing slashes so resource indicators and audiences
// compare equal with or without them.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}

// ContainsNormalizedURL reports whether target matches any entry of list after
// NormalizeURL is applied to both sides.
func ContainsNormalizedURL(list []string, target string) bool {
	target = NormalizeURL(target)
	for _, u := range list {
		if NormalizeURL(u) == target {
			return true
		}
	}
	return false
}
