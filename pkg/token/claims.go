package token

import (
	"encoding/json"
	"math"
	"time"

	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
)

// Claim names read by [TokenFrom] and written by [ClaimsFrom]. Email
// claims use the identity provider's flat dotted names; a nested
// {"email": {"address": ...}} object is accepted as well.
const (
	ClaimSubject         = "sub"
	ClaimAudience        = "aud"
	ClaimIssuedAt        = "iat"
	ClaimExpiresAt       = "exp"
	ClaimIssuer          = "iss"
	ClaimEmailAddress    = "email.address"
	ClaimEmailIsPrimary  = "email.is_primary"
	ClaimEmailIsVerified = "email.is_verified"

	claimEmail = "email"
)

// VerifiedToken is the typed payload of a token whose signature has been
// verified. RawClaims holds every claim of the payload, with the mapped
// claims in canonical form: aud as []string, iat and exp as int64 Unix
// seconds, email claims under their flat names.
type VerifiedToken struct {
	Subject         string
	Audience        []string
	IssuedAt        time.Time
	ExpiresAt       time.Time
	EmailAddress    string
	EmailIsPrimary  bool
	EmailIsVerified bool
	RawClaims       map[string]any
}

// HasAudience reports whether aud is one of the token audiences.
func (t *VerifiedToken) HasAudience(aud string) bool {
	for _, a := range t.Audience {
		if a == aud {
			return true
		}
	}
	return false
}

// Issuer returns the iss claim, or "" when absent.
func (t *VerifiedToken) Issuer() string {
	iss, _ := t.RawClaims[ClaimIssuer].(string)
	return iss
}

// TokenFrom maps a claim set onto a VerifiedToken. It does not check any
// signature; [Verifier.Verify] calls it only after the signature has
// verified. A required claim that is absent or of the wrong JSON type
// fails with [sserr.CodeMissingClaim] naming the claim.
//
// TokenFrom and [ClaimsFrom] are inverse: for any t returned by
// TokenFrom, TokenFrom(ClaimsFrom(t)) equals t.
func TokenFrom(claims map[string]any) (*VerifiedToken, error) {
	sub, err := stringClaim(claims, ClaimSubject)
	if err != nil {
		return nil, err
	}
	aud, err := audienceClaim(claims)
	if err != nil {
		return nil, err
	}
	iat, err := timeClaim(claims, ClaimIssuedAt)
	if err != nil {
		return nil, err
	}
	exp, err := timeClaim(claims, ClaimExpiresAt)
	if err != nil {
		return nil, err
	}

	email := emailClaims(claims)
	address, err := stringClaim(email, ClaimEmailAddress)
	if err != nil {
		return nil, err
	}
	primary, err := boolClaim(email, ClaimEmailIsPrimary)
	if err != nil {
		return nil, err
	}
	verified, err := boolClaim(email, ClaimEmailIsVerified)
	if err != nil {
		return nil, err
	}

	t := &VerifiedToken{
		Subject:         sub,
		Audience:        aud,
		IssuedAt:        iat,
		ExpiresAt:       exp,
		EmailAddress:    address,
		EmailIsPrimary:  primary,
		EmailIsVerified: verified,
	}
	t.RawClaims = overlay(claims, t)
	return t, nil
}

// ClaimsFrom returns the claim set of t: its raw claims with the mapped
// fields written back in canonical form. The result is a fresh map.
func ClaimsFrom(t *VerifiedToken) map[string]any {
	return overlay(t.RawClaims, t)
}

func overlay(base map[string]any, t *VerifiedToken) map[string]any {
	out := make(map[string]any, len(base)+7)
	for k, v := range base {
		out[k] = v
	}
	out[ClaimSubject] = t.Subject
	out[ClaimAudience] = append([]string(nil), t.Audience...)
	out[ClaimIssuedAt] = t.IssuedAt.Unix()
	out[ClaimExpiresAt] = t.ExpiresAt.Unix()
	out[ClaimEmailAddress] = t.EmailAddress
	out[ClaimEmailIsPrimary] = t.EmailIsPrimary
	out[ClaimEmailIsVerified] = t.EmailIsVerified
	return out
}

func missingClaim(name string) error {
	return sserr.Newf(sserr.CodeMissingClaim, "token: required claim %q is missing", name).
		WithDetail("claim", name)
}

func wrongType(name string) error {
	return sserr.Newf(sserr.CodeMissingClaim, "token: claim %q has the wrong type", name).
		WithDetail("claim", name)
}

func stringClaim(claims map[string]any, name string) (string, error) {
	v, ok := claims[name]
	if !ok || v == nil {
		return "", missingClaim(name)
	}
	s, ok := v.(string)
	if !ok {
		return "", wrongType(name)
	}
	if s == "" {
		return "", missingClaim(name)
	}
	return s, nil
}

func boolClaim(claims map[string]any, name string) (bool, error) {
	v, ok := claims[name]
	if !ok || v == nil {
		return false, missingClaim(name)
	}
	b, ok := v.(bool)
	if !ok {
		return false, wrongType(name)
	}
	return b, nil
}

// timeClaim reads a NumericDate as whole Unix seconds.
func timeClaim(claims map[string]any, name string) (time.Time, error) {
	v, ok := claims[name]
	if !ok || v == nil {
		return time.Time{}, missingClaim(name)
	}
	var secs int64
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return time.Time{}, wrongType(name)
		}
		secs = int64(n)
	case int64:
		secs = n
	case int:
		secs = int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return time.Time{}, wrongType(name)
			}
			i = int64(f)
		}
		secs = i
	default:
		return time.Time{}, wrongType(name)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// audienceClaim accepts a single string or an array of strings and
// returns the distinct audiences in order.
func audienceClaim(claims map[string]any) ([]string, error) {
	v, ok := claims[ClaimAudience]
	if !ok || v == nil {
		return nil, missingClaim(ClaimAudience)
	}

	var raw []string
	switch a := v.(type) {
	case string:
		raw = []string{a}
	case []string:
		raw = a
	case []any:
		raw = make([]string, 0, len(a))
		for _, item := range a {
			s, ok := item.(string)
			if !ok {
				return nil, wrongType(ClaimAudience)
			}
			raw = append(raw, s)
		}
	default:
		return nil, wrongType(ClaimAudience)
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, missingClaim(ClaimAudience)
	}
	return out, nil
}

// emailClaims returns the email claims under their flat names, taking
// each from the flat claim when present and from the nested "email"
// object otherwise.
func emailClaims(claims map[string]any) map[string]any {
	out := make(map[string]any, 3)
	nested, _ := claims[claimEmail].(map[string]any)
	for flat, inner := range map[string]string{
		ClaimEmailAddress:    "address",
		ClaimEmailIsPrimary:  "is_primary",
		ClaimEmailIsVerified: "is_verified",
	} {
		if v, ok := claims[flat]; ok {
			out[flat] = v
		} else if v, ok := nested[inner]; ok {
			out[flat] = v
		}
	}
	return out
}
