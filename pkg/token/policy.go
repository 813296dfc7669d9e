package token

import (
	"time"

	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
)

// Policy selects which claim checks run after a signature verifies.
//
// The zero value is the permissive policy: expiry, issuer and audience
// are not checked, so an expired token with a valid signature and all
// required claims is accepted. This matches how the upstream identity
// provider integration was originally deployed. Services exposed beyond
// a trusted network should enable all three checks.
type Policy struct {
	// ValidateExpiry rejects tokens whose exp is more than Leeway in the
	// past with [sserr.CodeTokenExpired].
	ValidateExpiry bool `env:"VALIDATE_EXPIRY" envDefault:"false" yaml:"validate_expiry" json:"validate_expiry"`

	// ValidateIssuer rejects tokens whose iss differs from Issuer with
	// [sserr.CodeTokenIssuer].
	ValidateIssuer bool   `env:"VALIDATE_ISSUER" envDefault:"false" yaml:"validate_issuer" json:"validate_issuer"`
	Issuer         string `env:"ISSUER" yaml:"issuer" json:"issuer"`

	// ValidateAudience rejects tokens sharing no audience with Audience
	// with [sserr.CodeTokenAudience].
	ValidateAudience bool     `env:"VALIDATE_AUDIENCE" envDefault:"false" yaml:"validate_audience" json:"validate_audience"`
	Audience         []string `env:"AUDIENCE" yaml:"audience" json:"audience"`

	// Leeway tolerates clock skew in the expiry check.
	Leeway time.Duration `env:"LEEWAY" envDefault:"0s" yaml:"leeway" json:"leeway" validate:"min=0"`
}

// PermissivePolicy returns the policy that checks signatures and
// required claims only.
func PermissivePolicy() Policy {
	return Policy{}
}

// StrictPolicy returns a policy enforcing expiry, issuer and audience.
func StrictPolicy(issuer string, audience ...string) Policy {
	return Policy{
		ValidateExpiry:   true,
		ValidateIssuer:   true,
		Issuer:           issuer,
		ValidateAudience: true,
		Audience:         audience,
	}
}

// Permissive reports whether no claim check beyond presence is enabled.
func (p Policy) Permissive() bool {
	return !p.ValidateExpiry && !p.ValidateIssuer && !p.ValidateAudience
}

// Validate rejects a policy that enables a check without the value it
// checks against.
func (p *Policy) Validate() error {
	if p.ValidateIssuer && p.Issuer == "" {
		return sserr.New(sserr.CodeValidationRequired,
			"token: issuer validation is enabled but no issuer is configured")
	}
	if p.ValidateAudience && len(p.Audience) == 0 {
		return sserr.New(sserr.CodeValidationRequired,
			"token: audience validation is enabled but no audience is configured")
	}
	if p.Leeway < 0 {
		return sserr.New(sserr.CodeValidation, "token: leeway must not be negative")
	}
	return nil
}

func (p Policy) check(t *VerifiedToken, now time.Time) error {
	if p.ValidateExpiry && now.After(t.ExpiresAt.Add(p.Leeway)) {
		return sserr.New(sserr.CodeTokenExpired, "token: token has expired").
			WithDetail("expired_at", t.ExpiresAt.Format(time.RFC3339))
	}
	if p.ValidateIssuer && t.Issuer() != p.Issuer {
		return sserr.New(sserr.CodeTokenIssuer, "token: issuer is not accepted")
	}
	if p.ValidateAudience {
		for _, aud := range p.Audience {
			if t.HasAudience(aud) {
				return nil
			}
		}
		return sserr.New(sserr.CodeTokenAudience, "token: audience is not accepted")
	}
	return nil
}
