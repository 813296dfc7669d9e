package errors

import (
	"errors"
)

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the code of the first *Error in err's chain, or "".
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

func hasCategory(err error, category string) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == category
}

// IsValidation reports whether err is a VAL_xxx error.
func IsValidation(err error) bool { return hasCategory(err, "VAL") }

// IsAuthentication reports whether err is an AUTH_xxx error.
func IsAuthentication(err error) bool { return hasCategory(err, "AUTH") }

// IsAuthorization reports whether err is an AUTHZ_xxx error.
func IsAuthorization(err error) bool { return hasCategory(err, "AUTHZ") }

// IsNotFound reports whether err is an NF_xxx error.
func IsNotFound(err error) bool { return hasCategory(err, "NF") }

// IsTimeout reports whether err is a TIMEOUT_xxx error.
func IsTimeout(err error) bool { return hasCategory(err, "TIMEOUT") }

// IsFetchError reports whether err describes a failed key-set fetch:
// unreachable endpoint, unusable document, or timeout.
func IsFetchError(err error) bool {
	switch GetCode(err) {
	case CodeKeySetFetch, CodeKeySetMalformed, CodeKeySetFetchTimeout:
		return true
	default:
		return false
	}
}

// IsVerificationError reports whether err is a token verification
// failure. A missing credential ([CodeAuthentication]) is not one: no
// token was presented to verify.
func IsVerificationError(err error) bool {
	switch GetCode(err) {
	case CodeTokenMalformed, CodeUnknownSigningKey, CodeInvalidSignature,
		CodeMissingClaim, CodeTokenExpired, CodeTokenIssuer, CodeTokenAudience:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether the operation that produced err may
// succeed if tried again. Verification failures are never retryable.
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Code.Category() {
	case "UNAVAIL", "TIMEOUT":
		return e.Code != CodeKeySetMalformed
	default:
		return false
	}
}
