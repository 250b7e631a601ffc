package ownership

import (
	"fmt"
	"regexp"
	"strings"
)

// Validator turns a raw textual identity into a canonical Identity.
type Validator interface {
	Validate(raw string) (Identity, error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(raw string) (Identity, error)

// Validate calls f(raw).
func (f ValidatorFunc) Validate(raw string) (Identity, error) {
	return f(raw)
}

// validIdentityPattern accepts lowercase account-like identifiers.
var validIdentityPattern = regexp.MustCompile(`^[a-z][a-z0-9._:-]{0,127}$`)

// LowercaseValidator accepts identities that are already lowercase and match
// the default identity pattern. Mixed-case input is rejected, not folded, so
// that two spellings of the same principal cannot coexist in storage.
type LowercaseValidator struct{}

// Validate implements Validator.
func (LowercaseValidator) Validate(raw string) (Identity, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: identity cannot be empty", ErrInvalidIdentity)
	}

	if strings.ToLower(raw) != raw {
		return "", fmt.Errorf("%w: identity %s should be lowercase", ErrInvalidIdentity, raw)
	}

	if !validIdentityPattern.MatchString(raw) {
		return "", fmt.Errorf("%w: identity %q has invalid characters or length", ErrInvalidIdentity, raw)
	}

	return Identity(raw), nil
}
