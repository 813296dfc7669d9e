// Package auth carries a caller's bearer credential across a service hop
// and gates routes on it.
//
// Inbound, [CaptureRequestContext] records the Authorization and TraceId
// headers as a [RequestContext] on the request context, and [Gate.Require]
// verifies the bearer token against the current key set before a handler
// runs. Outbound, a client built by [NewForwardingClient] copies both
// values from the context onto every request it sends, so the next
// service can authenticate the same caller itself:
//
//	gate := auth.NewGate(verifier, store, auth.WithServiceName("first-api"))
//	client := auth.NewForwardingClient(10*time.Second, nil)
//
//	r.With(gate.Require()).Get("/weatherforecast-two", func(w http.ResponseWriter, r *http.Request) {
//	    req, _ := http.NewRequestWithContext(r.Context(), http.MethodGet, downstreamURL, nil)
//	    resp, err := client.Do(req)
//	    // ...
//	})
//
// The same propagation and gating is available for gRPC through the
// client and server interceptors.
//
// Neither logs nor errors produced by this package contain the bearer
// token; [Credential] redacts itself when printed.
package auth
