// Package resource is the resource-server half: it verifies the JWT access
// tokens issued by the authorization server and guards HTTP handlers with
// RFC 6750 bearer authentication.
//
// A Validator checks the signature with a single allowed algorithm, the
// at+jwt typ header, issuer, audience and lifetime. Middleware wraps a
// handler, answers unauthenticated requests with a WWW-Authenticate
// challenge pointing at the RFC 9728 metadata document, and stores the
// resulting AuthInfo in the request context.
//
// Example:
//
//	md := resource.NewProtectedResourceMetadata("https://api.example.com", issuer, "RS256", []string{"mcp"})
//	v := &resource.Validator{Issuer: issuer, Audience: md.Resource, Algorithm: "RS256", Key: pub}
//
//	r := chi.NewRouter()
//	r.Get(resource.MetadataPath, resource.ServeProtectedResourceMetadata(md))
//	r.With(resource.Middleware(v, resource.Options{ResourceMetadataURL: md.MetadataURL()})).
//		Post("/mcp", handleMCP)
package resource
