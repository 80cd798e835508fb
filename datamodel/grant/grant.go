// Package grant defines the authorization entries of the access gate.
package grant

import (
	"fmt"

	"notary/principal"
)

type Role int

const (
	RoleWriter Role = 1
	RoleAdmin  Role = 2
)

func (r Role) String() string {
	switch r {
	case RoleWriter:
		return "writer"
	case RoleAdmin:
		return "admin"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRole accepts the names printed by Role.String.
func ParseRole(s string) (Role, error) {
	switch s {
	case "writer":
		return RoleWriter, nil
	case "admin":
		return RoleAdmin, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// Satisfies reports whether holding r grants want. Admin implies writer.
func (r Role) Satisfies(want Role) bool {
	return r >= want
}

type Grant struct {
	Principal principal.Principal `cbor:"1,keyasint"`
	Role      Role                `cbor:"2,keyasint"`
}

type GrantIndex interface {
	// Get returns the grant of p or an error wrapping errs.ErrNotFound.
	Get(p principal.Principal) (*Grant, error)
	Put(g *Grant) error
	Delete(p principal.Principal) error
	// Enumerate returns all grants ordered by principal.
	Enumerate() ([]*Grant, error)
	Close() error
}
