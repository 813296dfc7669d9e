package errors

// Code is a machine-readable error code of the form CATEGORY_NNN. Codes
// are stable once assigned; clients and dashboards match on them.
type Code string

// Categories and the HTTP status each maps to:
//
//	VAL_xxx     400 Bad Request
//	AUTH_xxx    401 Unauthorized
//	AUTHZ_xxx   403 Forbidden
//	NF_xxx      404 Not Found
//	CONF_xxx    409 Conflict
//	INT_xxx     500 Internal Server Error
//	UPSTREAM_xxx 502 Bad Gateway
//	UNAVAIL_xxx 503 Service Unavailable
//	TIMEOUT_xxx 504 Gateway Timeout
const (
	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required value is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeAuthentication indicates the request presented no usable bearer
	// credential.
	CodeAuthentication Code = "AUTH_001"

	// CodeTokenMalformed indicates the compact JWT is not three valid
	// base64url segments of JSON.
	CodeTokenMalformed Code = "AUTH_002"

	// CodeUnknownSigningKey indicates the token's kid is absent from the
	// current key set, or the token carries no kid at all.
	CodeUnknownSigningKey Code = "AUTH_003"

	// CodeInvalidSignature indicates the signature does not verify under
	// the key selected by kid.
	CodeInvalidSignature Code = "AUTH_004"

	// CodeMissingClaim indicates a required claim is absent or has the
	// wrong JSON type.
	CodeMissingClaim Code = "AUTH_005"

	// CodeTokenExpired indicates exp is in the past. Only produced when
	// expiry validation is enabled.
	CodeTokenExpired Code = "AUTH_006"

	// CodeTokenIssuer indicates iss does not match. Only produced when
	// issuer validation is enabled.
	CodeTokenIssuer Code = "AUTH_007"

	// CodeTokenAudience indicates none of the token audiences match. Only
	// produced when audience validation is enabled.
	CodeTokenAudience Code = "AUTH_008"

	// CodeAuthorization indicates an authenticated caller failed an access
	// rule.
	CodeAuthorization Code = "AUTHZ_001"

	// CodeNotFound indicates a requested item does not exist.
	CodeNotFound Code = "NF_001"

	// CodeConflict indicates an operation conflicts with current state.
	CodeConflict Code = "CONF_001"

	// CodeInternal indicates an unexpected internal failure.
	CodeInternal Code = "INT_001"

	// CodeInternalStorage indicates a cache, archive or database operation
	// failed.
	CodeInternalStorage Code = "INT_002"

	// CodeInternalConfiguration indicates invalid or unloadable
	// configuration.
	CodeInternalConfiguration Code = "INT_003"

	// CodeUpstream indicates a downstream service answered with an
	// unusable response.
	CodeUpstream Code = "UPSTREAM_001"

	// CodeUnavailable indicates the service is not ready to serve.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeKeySetFetch indicates the JWKS endpoint could not be reached or
	// answered with a non-2xx status.
	CodeKeySetFetch Code = "UNAVAIL_002"

	// CodeUnavailableDependency indicates a downstream service could not
	// be reached.
	CodeUnavailableDependency Code = "UNAVAIL_003"

	// CodeKeySetMalformed indicates the JWKS document could not be turned
	// into a complete set of verification keys.
	CodeKeySetMalformed Code = "UNAVAIL_004"

	// CodeTimeout indicates a general timeout.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeKeySetFetchTimeout indicates the JWKS fetch exceeded its timeout.
	CodeKeySetFetchTimeout Code = "TIMEOUT_002"

	// CodeTimeoutDependency indicates a downstream call timed out.
	CodeTimeoutDependency Code = "TIMEOUT_003"

	// CodeTimeoutStorage indicates a storage operation timed out.
	CodeTimeoutStorage Code = "TIMEOUT_004"
)

// String returns the code as a string.
func (c Code) String() string {
	return string(c)
}

// Category returns the prefix before the first underscore (e.g. "AUTH").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
