package auth

import (
	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
	"github.com/StricklySoft/bearer-relay/pkg/token"
)

// Rule is an access check run after a token verifies. A non-nil error
// refuses the caller with 403; rules should return [sserr.CodeAuthorization]
// errors.
type Rule func(t *token.VerifiedToken) error

// RequireVerifiedEmail admits tokens whose email.is_verified is true.
func RequireVerifiedEmail() Rule {
	return func(t *token.VerifiedToken) error {
		if !t.EmailIsVerified {
			return sserr.Forbidden("auth: email address is not verified")
		}
		return nil
	}
}

// RequirePrimaryEmail admits tokens whose email.is_primary is true.
func RequirePrimaryEmail() Rule {
	return func(t *token.VerifiedToken) error {
		if !t.EmailIsPrimary {
			return sserr.Forbidden("auth: email address is not the primary address")
		}
		return nil
	}
}

// RequireAudience admits tokens carrying at least one of audiences.
// Unlike the verifier's audience policy this applies per route.
func RequireAudience(audiences ...string) Rule {
	return func(t *token.VerifiedToken) error {
		for _, aud := range audiences {
			if t.HasAudience(aud) {
				return nil
			}
		}
		return sserr.Forbidden("auth: token audience is not permitted on this route").
			WithDetail("required_audience", audiences)
	}
}

// checkRules runs rules in order and returns the first refusal. Errors
// that are not *sserr.Error are wrapped as [sserr.CodeAuthorization].
func checkRules(t *token.VerifiedToken, rules []Rule) error {
	for _, rule := range rules {
		if err := rule(t); err != nil {
			if _, ok := sserr.AsError(err); ok {
				return err
			}
			return sserr.Wrap(err, sserr.CodeAuthorization, "auth: access denied")
		}
	}
	return nil
}
