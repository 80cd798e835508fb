// Package asset defines the content-addressed asset model: a key maps to one
// asset, an asset carries one encoding per content encoding name, and each
// encoding is an ordered list of content-addressed chunks.
package asset

import (
	"fmt"
	"sort"
	"time"

	"notary/errs"
	"notary/oid"
)

const (
	EncodingIdentity = "identity"

	maxKeyLength = 1024
)

// ChunkRef points at a committed block. The order of refs in an encoding
// defines the byte order of the content.
type ChunkRef struct {
	_      struct{} `cbor:",toarray"`
	Oid    oid.Oid
	Length uint64
}

// Encoding is one representation of an asset. Encodings are immutable once
// committed; a new commit replaces the whole value.
type Encoding struct {
	ContentEncoding string     `cbor:"1,keyasint"`
	Chunks          []ChunkRef `cbor:"2,keyasint,omitempty"`
	Sha256          [32]byte   `cbor:"3,keyasint"`
	TotalLength     uint64     `cbor:"4,keyasint"`
	Modified        time.Time  `cbor:"5,keyasint"`
}

type Asset struct {
	Key         string               `cbor:"1,keyasint"`
	ContentType string               `cbor:"2,keyasint"`
	Encodings   map[string]*Encoding `cbor:"3,keyasint,omitempty"`
}

// Clone returns a copy whose encoding map can be modified without touching a.
func (a *Asset) Clone() *Asset {
	c := &Asset{
		Key:         a.Key,
		ContentType: a.ContentType,
		Encodings:   make(map[string]*Encoding, len(a.Encodings)),
	}
	for name, enc := range a.Encodings {
		c.Encodings[name] = enc
	}
	return c
}

// EncodingNames returns the encoding names in lexical order.
func (a *Asset) EncodingNames() []string {
	names := make([]string, 0, len(a.Encodings))
	for name := range a.Encodings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Refs returns every block referenced by the asset.
func (a *Asset) Refs() []oid.Oid {
	var refs []oid.Oid
	for _, enc := range a.Encodings {
		for _, c := range enc.Chunks {
			refs = append(refs, c.Oid)
		}
	}
	return refs
}

func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty asset key", errs.ErrInvalidArgument)
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("%w: asset key longer than %d bytes", errs.ErrInvalidArgument, maxKeyLength)
	}
	return nil
}

func ValidateEncodingName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty content encoding", errs.ErrInvalidArgument)
	}
	return nil
}

// ChangeSet is the net effect of a commit on the index. Clear is applied
// first, then Delete, then Put.
type ChangeSet struct {
	Clear  bool
	Delete []string
	Put    []*Asset
}

func (c *ChangeSet) Empty() bool {
	return !c.Clear && len(c.Delete) == 0 && len(c.Put) == 0
}

// AssetIndex persists asset metadata.
type AssetIndex interface {
	// Get returns the asset stored under key, or an error wrapping
	// errs.ErrNotFound.
	Get(key string) (*Asset, error)

	// Enumerate returns every asset ordered by key.
	Enumerate() ([]*Asset, error)

	// Write applies a ChangeSet atomically: either all of it is visible
	// afterwards or none of it is.
	Write(*ChangeSet) error

	Close() error
}
