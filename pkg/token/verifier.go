// Package token verifies compact JWTs against a key set and maps their
// claims onto a typed [VerifiedToken].
//
// Verification runs in a fixed order and stops at the first failure:
//
//  1. structure: three segments, header and payload canonical base64url
//     JSON ([sserr.CodeTokenMalformed])
//  2. key selection by kid ([sserr.CodeUnknownSigningKey])
//  3. signature: canonical base64url, valid under the selected key's
//     algorithm ([sserr.CodeInvalidSignature])
//  4. required claims and their types ([sserr.CodeMissingClaim])
//  5. the optional checks enabled by [Policy]
//
// Verification is a pure function of the token, the key set passed in
// and the clock; it never fetches keys.
package token

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
	"github.com/StricklySoft/bearer-relay/pkg/jwks"
)

const tracerName = "github.com/StricklySoft/bearer-relay/pkg/token"

// MaxTokenSize bounds the accepted compact token length.
const MaxTokenSize = 8192

// KeyLookup resolves a kid to a verification key. *jwks.KeySet
// implements it.
type KeyLookup interface {
	Lookup(kid string) (jwks.JSONWebKey, bool)
}

var _ KeyLookup = (*jwks.KeySet)(nil)

var (
	errNoKeyID       = errors.New("token header has no kid")
	errUnknownKeyID  = errors.New("kid not present in key set")
	errAlgorithmSkew = errors.New("token alg does not match key alg")
)

// Verifier checks tokens under a fixed [Policy]. It is safe for
// concurrent use.
type Verifier struct {
	policy Policy
	parser *jwt.Parser
	tracer trace.Tracer
	now    func() time.Time
}

// NewVerifier returns a Verifier for policy.
func NewVerifier(policy Policy) (*Verifier, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Verifier{
		policy: policy,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwks.AlgorithmRS256, jwks.AlgorithmRS384, jwks.AlgorithmRS512}),
			// Claim checks are owned by Policy.
			jwt.WithoutClaimsValidation(),
			// Non-zero trailing bits are rejected, so every accepted
			// segment has exactly one spelling.
			jwt.WithStrictDecoding(),
		),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}, nil
}

// Policy returns the verifier's policy.
func (v *Verifier) Policy() Policy {
	return v.policy
}

// Verify checks raw against keys and returns its typed payload. Every
// error is an *sserr.Error for which [sserr.IsVerificationError] is true;
// when the header could be read the error carries the "kid" detail.
func (v *Verifier) Verify(ctx context.Context, raw string, keys KeyLookup) (_ *VerifiedToken, err error) {
	_, span := v.tracer.Start(ctx, "token.Verify")
	var kid string
	defer func() {
		if kid != "" {
			span.SetAttributes(attribute.String("token.kid", kid))
		}
		if err != nil {
			span.SetAttributes(attribute.String("token.error_code", sserr.GetCode(err).String()))
			span.RecordError(err)
			span.SetStatus(codes.Error, sserr.GetCode(err).String())
		}
		span.End()
	}()

	if raw == "" || len(raw) > MaxTokenSize || strings.Count(raw, ".") != 2 {
		return nil, sserr.New(sserr.CodeTokenMalformed, "token: expected three dot-separated segments")
	}

	claims := jwt.MapClaims{}
	_, err = v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		id, _ := t.Header["kid"].(string)
		if id == "" {
			return nil, errNoKeyID
		}
		kid = id
		if keys == nil {
			return nil, errUnknownKeyID
		}
		key, ok := keys.Lookup(id)
		if !ok {
			return nil, errUnknownKeyID
		}
		if t.Method.Alg() != key.SigningAlgorithm() {
			return nil, errAlgorithmSkew
		}
		return key.PublicKey(), nil
	})
	if err != nil {
		return nil, withKeyID(v.classify(raw, err), kid)
	}

	verified, err := TokenFrom(claims)
	if err != nil {
		return nil, withKeyID(err, kid)
	}
	if err := v.policy.check(verified, v.now()); err != nil {
		return nil, withKeyID(err, kid)
	}
	return verified, nil
}

// classify maps parser errors onto verification codes. Sentinels raised
// by the key function are checked first because the parser wraps them
// in jwt.ErrTokenUnverifiable.
//
// The parser reports an undecodable signature segment as malformed.
// When header and payload read cleanly that is the only malformed case
// left, and it is reported as an invalid signature.
func (v *Verifier) classify(raw string, err error) error {
	if errors.Is(err, jwt.ErrTokenMalformed) {
		if _, _, uerr := v.parser.ParseUnverified(raw, jwt.MapClaims{}); uerr == nil {
			return sserr.Wrap(err, sserr.CodeInvalidSignature, "token: signature segment is not canonical base64url")
		}
	}
	switch {
	case errors.Is(err, errNoKeyID):
		return sserr.Wrap(err, sserr.CodeUnknownSigningKey, "token: header carries no key id")
	case errors.Is(err, errUnknownKeyID):
		return sserr.Wrap(err, sserr.CodeUnknownSigningKey, "token: signing key is not in the key set")
	case errors.Is(err, errAlgorithmSkew):
		return sserr.Wrap(err, sserr.CodeInvalidSignature, "token: algorithm does not match signing key")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return sserr.Wrap(err, sserr.CodeTokenMalformed, "token: token is malformed")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return sserr.Wrap(err, sserr.CodeInvalidSignature, "token: signature is invalid")
	default:
		return sserr.Wrap(err, sserr.CodeTokenMalformed, "token: token could not be parsed")
	}
}

func withKeyID(err error, kid string) error {
	if kid == "" {
		return err
	}
	if e, ok := sserr.AsError(err); ok {
		return e.WithDetail("kid", kid)
	}
	return err
}

// KeyID returns the kid from raw's header without verifying anything, or
// "" if the header cannot be read. Intended for logging.
func KeyID(raw string) string {
	header, _, ok := strings.Cut(raw, ".")
	if !ok {
		return ""
	}
	// Only the header is of interest; pair it with an empty payload.
	tok, _, _ := jwt.NewParser().ParseUnverified(header+".e30.", jwt.MapClaims{})
	if tok == nil {
		return ""
	}
	kid, _ := tok.Header["kid"].(string)
	return kid
}
