// Package util holds small helpers shared by the mcp-authserver packages:
// string truncation for logging, URL normalization for resource comparison,
// and hostname classification for redirect URI checks.
package util
