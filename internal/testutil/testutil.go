package testutil

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"log/slog"
	"sync"
	"testing"

	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-authserver/security"
)

var (
	rsaKeyOnce sync.Once
	rsaKey     *rsa.PrivateKey
	rsaKeyErr  error
)

// RSAKey returns a 2048-bit RSA key shared by all tests in the process.
// Generating one per test makes the suite noticeably slower.
func RSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	rsaKeyOnce.Do(func() {
		rsaKey, rsaKeyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	if rsaKeyErr != nil {
		t.Fatalf("failed to generate RSA key: %v", rsaKeyErr)
	}
	return rsaKey
}

// NewRSAKey returns a fresh 2048-bit RSA key, for tests that need a key the
// server does not know.
func NewRSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return key
}

// ClientCodec returns a codec with a random key
func ClientCodec(t testing.TB) *security.ClientCodec {
	t.Helper()
	key, err := security.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate client key: %v", err)
	}
	codec, err := security.NewClientCodec(key)
	if err != nil {
		t.Fatalf("failed to create client codec: %v", err)
	}
	return codec
}

// PKCEPair returns an S256 verifier and its challenge
func PKCEPair() (verifier, challenge string) {
	verifier = oauth2.GenerateVerifier()
	return verifier, oauth2.S256ChallengeFromVerifier(verifier)
}

// DiscardLogger returns a logger that drops everything
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// BufferLogger returns a debug level logger writing text records into the
// returned buffer
func BufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}
