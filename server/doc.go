// Package server implements the authorization server's grant logic.
//
// Server validates authorization requests, authenticates resource owners
// through a storage.UserDirectory, issues single-use authorization codes,
// redeems them (with PKCE) for signed JWT access tokens and refresh tokens,
// handles refresh, revocation (RFC 7009), introspection (RFC 7662) and
// dynamic client registration (RFC 7591).
//
// Clients are not stored. Registration seals the client's secret, redirect
// URIs and grant types into the client_id with a security.ClientCodec, and
// every request that names a client decodes it again.
//
// Every operation returns *Error on failure. The HTTP layer maps Error.Code to
// a status and must not redirect errors flagged Untrusted.
//
// Example usage:
//
//	store := memory.New()
//	users := memory.NewDirectory()
//	codec, _ := security.NewClientCodec(key)
//	signer, _ := server.NewRS256Signer(rsaKey)
//
//	srv, err := server.New(store, store, users, codec, signer, &server.Config{
//	    Issuer: "https://auth.example.com",
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
package server
