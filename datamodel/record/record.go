// Package record defines notary records: claimed links and notarized data,
// and the index that persists them with a change-feed ordering.
package record

import (
	"time"

	"notary/principal"
)

type Kind int

const (
	KindLink  Kind = 0 // A link with an optional external canister reference
	KindDatum Kind = 1 // Notarized content, optionally stored inline
)

type State int

const (
	StateClaimed  State = 0
	StateReserved State = 1
)

type Visibility int

const (
	Public Visibility = 0
	Hidden Visibility = 1
)

func (v Visibility) String() string {
	if v == Hidden {
		return "hidden"
	}
	return "public"
}

type Record struct {
	Fingerprint string               `cbor:"1,keyasint"`
	Kind        Kind                 `cbor:"2,keyasint"`
	State       State                `cbor:"3,keyasint"`
	Owner       *principal.Principal `cbor:"4,keyasint,omitempty"`
	ReservedFor *principal.Principal `cbor:"5,keyasint,omitempty"` // Designated claimant of a reservation
	Description string               `cbor:"6,keyasint,omitempty"`
	Created     time.Time            `cbor:"7,keyasint"`
	Updated     time.Time            `cbor:"8,keyasint"`
	Expires     *time.Time           `cbor:"9,keyasint,omitempty"` // Nil never expires
	Visibility  Visibility           `cbor:"10,keyasint"`
	CanisterID  *string              `cbor:"11,keyasint,omitempty"`
	Datum       []byte               `cbor:"12,keyasint,omitempty"`
}

// Expired reports whether the record can be claimed again at now. A record
// is expired from its expiry instant on.
func (r *Record) Expired(now time.Time) bool {
	return r.Expires != nil && !now.Before(*r.Expires)
}

// IsOwner reports whether p owns the record. Anonymous callers own nothing.
func (r *Record) IsOwner(p principal.Principal) bool {
	return !p.IsAnonymous() && r.Owner != nil && *r.Owner == p
}

// VisibleTo reports whether the full content of the record may be shown to p.
func (r *Record) VisibleTo(p principal.Principal) bool {
	return r.Visibility == Public || r.IsOwner(p)
}

// RecordIndex persists records by fingerprint and keeps a secondary ordering
// by update stamp for the change feed.
type RecordIndex interface {
	// Get returns the record for fingerprint, or an error wrapping
	// errs.ErrNotFound.
	Get(fingerprint string) (*Record, error)

	// Put stores r, replacing any previous version and its change-feed entry.
	Put(r *Record) error

	// Enumerate returns every record ordered by fingerprint.
	Enumerate() ([]*Record, error)

	// EnumerateUpdatedAfter returns records whose Updated stamp is strictly
	// after since, ordered by Updated.
	EnumerateUpdatedAfter(since time.Time) ([]*Record, error)

	// LastUpdated returns the largest Updated stamp in the index.
	LastUpdated() time.Time

	// Clear removes every record.
	Clear() error

	Close() error
}
