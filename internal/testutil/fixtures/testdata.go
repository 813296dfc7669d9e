// Package fixtures holds the constant values shared by test suites so
// that tokens, key sets and requests agree across packages.
package fixtures

// Identity provider values.
const (
	// KeyID is the kid of the primary test signing key.
	KeyID = "k1"

	// RotatedKeyID is the kid used for rotation and unknown-key tests.
	RotatedKeyID = "k2"

	// Issuer is the iss claim for tests that enable issuer validation.
	Issuer = "https://passkeys.example.test"

	// Audience is the aud claim of minted tokens.
	Audience = "app"
)

// Caller values.
const (
	// Subject is the sub claim of minted tokens.
	Subject = "user-42"

	// Email is the email.address claim of minted tokens.
	Email = "a@b.com"

	// TraceID is the inbound TraceId header value.
	TraceID = "xyz"

	// ServiceName is the service name used in gate and metrics tests.
	ServiceName = "first-api"
)
