// Package instrumentation provides OpenTelemetry metrics and tracing for the
// authorization server, the resource-server middleware and the storage layer.
//
// Metrics are recorded through the OTel SDK and exported by the OTel
// Prometheus exporter into a private registry, served by MetricsHandler.
// Traces use an SDK tracer provider; pass Config.SpanExporter to ship them.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:        true,
//		ServiceName:    "mcp-authserver",
//		ServiceVersion: "1.0.0",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	srv.SetInstrumentation(inst)
//	store.SetInstrumentation(inst)
//	router.Handle("/metrics", inst.MetricsHandler())
//
// # Available Metrics
//
// HTTP Layer:
//   - oauth.http.requests.total{http.method, http.endpoint, http.status_code}
//   - oauth.http.request.duration{http.method, http.endpoint, http.status_code} (ms)
//
// OAuth Flows:
//   - oauth.authorization.code_issued{oauth.pkce.method}
//   - oauth.code.exchanged{oauth.pkce.method}
//   - oauth.token.refreshed{oauth.token.rotated}
//   - oauth.token.revoked{oauth.token_type}
//   - oauth.client.registered{oauth.auth_method}
//
// Security:
//   - oauth.rate_limit.exceeded{http.endpoint}
//   - oauth.pkce.validation_failed{oauth.pkce.method}
//
// Resource server:
//   - oauth.token.validation{resource.validation.result}
//
// Storage:
//   - storage.operation.total{storage.operation, storage.result}
//   - storage.operation.duration{storage.operation, storage.result} (ms)
//   - storage.codes.count, storage.access_tokens.count, storage.refresh_tokens.count
//
// Client identifiers are never used as metric labels: they carry the encrypted
// client secret and are unbounded in cardinality.
//
// # Disabled Mode
//
// With Enabled=false every provider is a no-op and MetricsHandler returns 404.
// All Metrics helpers and span helpers are nil-safe.
package instrumentation
