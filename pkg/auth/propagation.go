package auth

import "strings"

// HTTP header names read from inbound requests and written onto
// forwarded ones.
const (
	HeaderAuthorization = "Authorization"
	HeaderTraceID       = "TraceId"
)

// gRPC metadata keys. Metadata keys are lowercase on the wire.
const (
	MetadataAuthorization = "authorization"
	MetadataTraceID       = "traceid"
)

const bearerScheme = "Bearer "

// ExtractBearerToken returns the token from an Authorization value. The
// scheme is matched case-insensitively. It returns "" for any other
// scheme or an empty token.
func ExtractBearerToken(authorization string) string {
	if len(authorization) <= len(bearerScheme) {
		return ""
	}
	if !strings.EqualFold(authorization[:len(bearerScheme)], bearerScheme) {
		return ""
	}
	return strings.TrimSpace(authorization[len(bearerScheme):])
}

// forwardedHeaders lists the non-empty values of rc under authName and
// traceName.
func forwardedHeaders(rc RequestContext, authName, traceName string) map[string]string {
	out := make(map[string]string, 2)
	if rc.Authorization != "" {
		out[authName] = rc.Authorization.Value()
	}
	if rc.TraceID != "" {
		out[traceName] = rc.TraceID
	}
	return out
}
