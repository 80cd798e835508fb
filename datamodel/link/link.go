// Package link defines the mirror's view of a notary link: where it points.
package link

import "time"

type Link struct {
	Name       string    `cbor:"1,keyasint"`
	CanisterID string    `cbor:"2,keyasint"`
	Updated    time.Time `cbor:"3,keyasint"`
}

type LinkIndex interface {
	// Get returns the link or an error wrapping errs.ErrNotFound.
	Get(name string) (*Link, error)
	Put(l *Link) error
	// Delete removes name. Missing names are not an error.
	Delete(name string) error
	Count() (int, error)
	Close() error
}
