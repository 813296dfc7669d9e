// Package errors provides the structured error type shared by every
// package in bearer-relay. Each error carries a stable, machine-readable
// [Code] whose category prefix determines the HTTP status a service
// returns for it.
//
// # Taxonomy
//
// Two families matter most to callers:
//
//   - Key-set fetch failures ([IsFetchError]): the identity provider's
//     JWKS endpoint could not be reached ([CodeKeySetFetch]), returned a
//     document that could not be turned into verification keys
//     ([CodeKeySetMalformed]), or did not answer within the fetch timeout
//     ([CodeKeySetFetchTimeout]).
//   - Token verification failures ([IsVerificationError]): the compact
//     JWT was malformed, signed by an unknown key, carried a bad
//     signature, or lacked a required claim. All of them surface to
//     clients as 401.
//
// # Usage
//
//	err := errors.New(errors.CodeTokenMalformed, "token: expected three segments")
//
//	if errors.IsVerificationError(err) {
//	    // reject with 401
//	}
//
// Package users conventionally import it as sserr to avoid clashing with
// the standard library.
package errors
