// Package access decides who may mutate the notary. Principals hold a role;
// admin includes writer. The anonymous principal never holds one.
package access

import (
	"errors"
	"fmt"

	"notary/datamodel/grant"
	"notary/errs"
	"notary/principal"

	log "github.com/sirupsen/logrus"
)

// Policy is what the service asks before touching state.
type Policy interface {
	// Check returns nil if p holds role, an error wrapping
	// errs.ErrUnauthorized otherwise.
	Check(p principal.Principal, role grant.Role) error
	Authorize(p principal.Principal, role grant.Role) error
	Deauthorize(p principal.Principal) error
	List() ([]*grant.Grant, error)
}

var _ Policy = (*Gate)(nil)

// Gate is the persistent allow list.
type Gate struct {
	index grant.GrantIndex
}

// New returns a gate over index and makes sure every principal in admins is
// an admin.
func New(index grant.GrantIndex, admins []principal.Principal) (*Gate, error) {
	g := &Gate{index: index}
	for _, p := range admins {
		if err := g.Authorize(p, grant.RoleAdmin); err != nil {
			return nil, fmt.Errorf("initial admin %s: %w", p, err)
		}
	}
	return g, nil
}

func (g *Gate) Check(p principal.Principal, role grant.Role) error {
	if p.IsAnonymous() {
		return fmt.Errorf("%w: anonymous caller", errs.ErrUnauthorized)
	}
	held, err := g.index.Get(p)
	if errors.Is(err, errs.ErrNotFound) {
		return fmt.Errorf("%w: %s is not authorized", errs.ErrUnauthorized, p)
	}
	if err != nil {
		log.Errorf("Failed to look up grant of %s: %v", p, err)
		return err
	}
	if !held.Role.Satisfies(role) {
		return fmt.Errorf("%w: %s is %s, %s required", errs.ErrUnauthorized, p, held.Role, role)
	}
	return nil
}

// IsAuthorized is Check as a predicate.
func IsAuthorized(policy Policy, p principal.Principal, role grant.Role) bool {
	return policy.Check(p, role) == nil
}

func (g *Gate) Authorize(p principal.Principal, role grant.Role) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if role != grant.RoleWriter && role != grant.RoleAdmin {
		return fmt.Errorf("%w: %s", errs.ErrInvalidArgument, role)
	}

	held, err := g.index.Get(p)
	switch {
	case err == nil:
		if held.Role == role {
			return nil
		}
		if held.Role == grant.RoleAdmin {
			if err := g.keepOneAdmin(p); err != nil {
				return err
			}
		}
	case !errors.Is(err, errs.ErrNotFound):
		return err
	}

	if err := g.index.Put(&grant.Grant{Principal: p, Role: role}); err != nil {
		return err
	}
	log.Infof("Authorized %s as %s", p, role)
	return nil
}

func (g *Gate) Deauthorize(p principal.Principal) error {
	held, err := g.index.Get(p)
	if err != nil {
		return err
	}
	if held.Role == grant.RoleAdmin {
		if err := g.keepOneAdmin(p); err != nil {
			return err
		}
	}

	if err := g.index.Delete(p); err != nil {
		return err
	}
	log.Infof("Deauthorized %s", p)
	return nil
}

// keepOneAdmin fails if p is the only admin left.
func (g *Gate) keepOneAdmin(p principal.Principal) error {
	all, err := g.index.Enumerate()
	if err != nil {
		return err
	}
	for _, other := range all {
		if other.Role == grant.RoleAdmin && other.Principal != p {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is the last admin", errs.ErrInvalidArgument, p)
}

func (g *Gate) List() ([]*grant.Grant, error) {
	return g.index.Enumerate()
}
