package util

import "testing"

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "shorter than maxLen", input: "short", maxLen: 10, want: "short"},
		{name: "equal to maxLen", input: "exactly10c", maxLen: 10, want: "exactly10c"},
		{name: "longer than maxLen", input: "eyJhbGciOiJSUzI1NiJ9.payload", maxLen: 8, want: "eyJhbGci"},
		{name: "empty", input: "", maxLen: 5, want: ""},
		{name: "zero", input: "test", maxLen: 0, want: ""},
		{name: "negative", input: "test", maxLen: -1, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeTruncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"https://rs.example.com/", "https://rs.example.com"},
		{"https://rs.example.com", "https://rs.example.com"},
		{"https://rs.example.com///", "https://rs.example.com"},
		{"https://rs.example.com/mcp/", "https://rs.example.com/mcp"},
		{"http://localhost:3001/", "http://localhost:3001"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeURL(tt.input); got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestContainsNormalizedURL(t *testing.T) {
	allowed := []string{"https://rs.example.com/", "http://localhost:3001"}

	tests := []struct {
		target string
		want   bool
	}{
		{"https://rs.example.com", true},
		{"http://localhost:3001/", true},
		{"https://other.example.com", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			if got := ContainsNormalizedURL(allowed, tt.target); got != tt.want {
				t.Errorf("ContainsNormalizedURL(%q) = %v, want %v", tt.target, got, tt.want)
			}
		})
	}
}
