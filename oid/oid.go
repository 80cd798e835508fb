// Package oid implements typed content addresses. An OID carries the
// SHA-256 of the addressed content and the kind of object it names.
package oid

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/json"
	"errors"

	log "github.com/sirupsen/logrus"
)

type OidType int

const (
	OidVersionV01 = 0x01

	OidTypeRawBlock = 0x00 // Committed asset chunk bytes stored in the block store
	OidTypeDatum    = 0x01 // Fingerprint of notarized content (or of a caller supplied hash)
	OidTypeNode     = 0x03 // Notary or mirror node identity

	OidPaddingByte = 0xAA

	rawLength = 35
)

var ErrorHashNot32Bytes = errors.New("hash must be 32 bytes")
var ErrorInvalidOidString = errors.New("invalid OID string")
var ErrorInvalidOidFormat = errors.New("invalid OID format")

// Byte structure of an OID is <version:1><padding:1><type:1><hash:32>,
// the textual form is the base32 encoding of those bytes.

// Oid holds the textual representation together with the cached type and
// binary form. MarshalBinary keeps the CBOR encoding compact.
type Oid struct {
	b [rawLength]byte
	t OidType
	s string
}

func (o *Oid) String() string {
	return o.s
}

func (o *Oid) Type() OidType {
	return o.t
}

// Hash returns the SHA-256 carried by the OID.
func (o *Oid) Hash() [32]byte {
	var h [32]byte
	copy(h[:], o.b[3:])
	return h
}

func (o *Oid) IsZero() bool {
	return o.s == ""
}

func (o *Oid) MarshalBinary() ([]byte, error) {
	return o.b[:], nil
}

func (o *Oid) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return ErrorInvalidOidFormat
	}

	switch data[0] {
	case OidVersionV01:
		if len(data) != rawLength {
			return ErrorInvalidOidString
		}
		if data[1] != OidPaddingByte {
			return ErrorInvalidOidString
		}
		o.t = OidType(data[2])
		o.s = base32.StdEncoding.EncodeToString(data)
		copy(o.b[:], data)
	default:
		return ErrorInvalidOidFormat
	}

	return nil
}

func (o *Oid) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

func (o *Oid) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*o = Oid{}
		return nil
	}

	parsed, err := FromString(s)
	if err != nil {
		return err
	}
	*o = *parsed
	return nil
}

// MarshalText and UnmarshalText let YAML config files carry OIDs.
func (o *Oid) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Oid) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*o = Oid{}
		return nil
	}
	parsed, err := FromString(string(text))
	if err != nil {
		return err
	}
	*o = *parsed
	return nil
}

func Encode(t OidType, hash [32]byte) *Oid {
	raw := make([]byte, 0, rawLength)
	raw = append(raw, byte(OidVersionV01), OidPaddingByte, byte(t))
	raw = append(raw, hash[:]...)

	o := &Oid{
		t: t,
		s: base32.StdEncoding.EncodeToString(raw),
	}
	copy(o.b[:], raw)
	return o
}

// FromHash builds an OID of type t from a hash given as a byte slice.
func FromHash(t OidType, hash []byte) (*Oid, error) {
	if len(hash) != 32 {
		return nil, ErrorHashNot32Bytes
	}
	return Encode(t, [32]byte(hash)), nil
}

// FromData hashes data with SHA-256 and returns its OID of type t.
func FromData(t OidType, data []byte) *Oid {
	return Encode(t, sha256.Sum256(data))
}

func FromString(s string) (*Oid, error) {
	raw, err := base32.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}

	o := &Oid{}
	if err := o.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return o, nil
}

func FromStringMustParse(s string) *Oid {
	o, err := FromString(s)
	if err != nil {
		log.Fatalf("Failed to parse OID: %v", err)
	}
	return o
}

func Random(t OidType) (*Oid, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, err
	}
	return Encode(t, buf), nil
}

// Equal helper
func (o *Oid) Equal(other *Oid) bool {
	if o == nil && other == nil {
		return true
	}
	if o == nil || other == nil {
		return false
	}
	return o.b == other.b
}
