// Package testutil provides fixtures shared by the authorization server's
// tests: keys, client codecs, PKCE pairs and loggers.
package testutil
