// Package principal defines the caller identity handed to the notary by the
// transport. The identity provider is external; a principal is an opaque,
// printable token.
package principal

import (
	"fmt"
	"unicode"

	"notary/errs"
)

// Principal identifies a caller. The zero value is the anonymous caller.
type Principal string

// Anonymous is the caller that presented no identity.
const Anonymous Principal = ""

const maxLength = 128

func (p Principal) String() string {
	if p == Anonymous {
		return "anonymous"
	}
	return string(p)
}

func (p Principal) IsAnonymous() bool {
	return p == Anonymous
}

// Validate rejects principals that cannot be stored or compared safely.
func (p Principal) Validate() error {
	if p.IsAnonymous() {
		return fmt.Errorf("%w: anonymous principal", errs.ErrInvalidArgument)
	}
	if len(p) > maxLength {
		return fmt.Errorf("%w: principal longer than %d bytes", errs.ErrInvalidArgument, maxLength)
	}
	for _, r := range p {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return fmt.Errorf("%w: principal %q contains non-printable characters", errs.ErrInvalidArgument, string(p))
		}
	}
	return nil
}

// Ptr returns a pointer to p, or nil for the anonymous principal.
func (p Principal) Ptr() *Principal {
	if p.IsAnonymous() {
		return nil
	}
	return &p
}
