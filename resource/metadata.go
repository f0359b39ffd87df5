package resource

import (
	"encoding/json"
	"net/http"
	"strings"
)

// ProtectedResourceMetadata is the RFC 9728 document served at MetadataPath
type ProtectedResourceMetadata struct {
	Resource                          string   `json:"resource"`
	AuthorizationServers              []string `json:"authorization_servers"`
	BearerMethodsSupported            []string `json:"bearer_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResourceSigningAlgValuesSupported []string `json:"resource_signing_alg_values_supported,omitempty"`
}

// NewProtectedResourceMetadata fills the fixed fields of the document for a
// resource protected by the given authorization server and signing algorithm
func NewProtectedResourceMetadata(resource, authorizationServer, algorithm string, scopes []string) *ProtectedResourceMetadata {
	md := &ProtectedResourceMetadata{
		Resource:               strings.TrimSuffix(resource, "/"),
		AuthorizationServers:   []string{authorizationServer},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        scopes,
	}
	if algorithm != "" {
		md.ResourceSigningAlgValuesSupported = []string{algorithm}
	}
	return md
}

// MetadataURL returns the absolute URL of the metadata document, suitable
// for Options.ResourceMetadataURL
func (md *ProtectedResourceMetadata) MetadataURL() string {
	return md.Resource + MetadataPath
}

// ServeProtectedResourceMetadata returns a handler that serves md as JSON
func ServeProtectedResourceMetadata(md *ProtectedResourceMetadata) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		_ = json.NewEncoder(w).Encode(md)
	}
}
