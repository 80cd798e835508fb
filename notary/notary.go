// Package notary keeps the record registry: claimed and reserved links and
// notarized data, with ownership, visibility, expiry and a change feed.
package notary

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"
	"unicode"

	"notary/datamodel/record"
	"notary/errs"
	"notary/oid"
	"notary/principal"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultClaimTTL             = 365 * 24 * time.Hour
	DefaultMaxSearchResults     = 20
	DefaultMaxDescriptionLength = 200
	DefaultMaxDatumSize         = 2 << 20

	maxLinkLength = 256
)

type Config struct {
	ClaimTTL             time.Duration
	MaxSearchResults     int
	MaxDescriptionLength int
	MaxDatumSize         int
}

func DefaultConfig() Config {
	return Config{
		ClaimTTL:             DefaultClaimTTL,
		MaxSearchResults:     DefaultMaxSearchResults,
		MaxDescriptionLength: DefaultMaxDescriptionLength,
		MaxDatumSize:         DefaultMaxDatumSize,
	}
}

type Registry struct {
	index record.RecordIndex
	cfg   Config
	now   func() time.Time
	last  time.Time
}

// New returns a registry over index. Zero config fields take their defaults
// and a nil clock uses time.Now.
func New(index record.RecordIndex, cfg Config, now func() time.Time) *Registry {
	def := DefaultConfig()
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = def.ClaimTTL
	}
	if cfg.MaxSearchResults <= 0 {
		cfg.MaxSearchResults = def.MaxSearchResults
	}
	if cfg.MaxDescriptionLength <= 0 {
		cfg.MaxDescriptionLength = def.MaxDescriptionLength
	}
	if cfg.MaxDatumSize <= 0 {
		cfg.MaxDatumSize = def.MaxDatumSize
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{
		index: index,
		cfg:   cfg,
		now:   now,
		last:  index.LastUpdated(),
	}
}

// stamp returns the update stamp for the next mutation. Stamps strictly
// increase even if the clock stalls or steps back.
func (r *Registry) stamp() time.Time {
	now := r.now().UTC()
	if !now.After(r.last) {
		now = r.last.Add(time.Nanosecond)
	}
	r.last = now
	return now
}

func (r *Registry) put(rec *record.Record) error {
	rec.Updated = r.stamp()
	if err := r.index.Put(rec); err != nil {
		log.Errorf("Failed to store record %q: %v", rec.Fingerprint, err)
		return err
	}
	return nil
}

// lookup returns nil without error when fingerprint is unknown.
func (r *Registry) lookup(fingerprint string) (*record.Record, error) {
	rec, err := r.index.Get(fingerprint)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

func ValidateLink(link string) error {
	if link == "" {
		return fmt.Errorf("%w: empty link", errs.ErrInvalidArgument)
	}
	if len(link) > maxLinkLength {
		return fmt.Errorf("%w: link longer than %d bytes", errs.ErrInvalidArgument, maxLinkLength)
	}
	for _, c := range link {
		if c == '/' || unicode.IsSpace(c) || !unicode.IsPrint(c) {
			return fmt.Errorf("%w: link %q contains %q", errs.ErrInvalidArgument, link, c)
		}
	}
	return nil
}

func (r *Registry) validateDescription(d *string) error {
	if d != nil && len(*d) > r.cfg.MaxDescriptionLength {
		return fmt.Errorf("%w: description longer than %d bytes", errs.ErrInvalidArgument, r.cfg.MaxDescriptionLength)
	}
	return nil
}

func validateCanister(c *string) error {
	if c != nil && *c == "" {
		return fmt.Errorf("%w: empty canister id", errs.ErrInvalidArgument)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type ClaimLinkArgs struct {
	Link        string
	CanisterID  *string
	Description *string
	Visibility  *record.Visibility
}

// ClaimLink registers link for caller. An unexpired reservation can be
// claimed by the principal it names, or by anyone if it names none.
func (r *Registry) ClaimLink(caller principal.Principal, args ClaimLinkArgs) (*View, error) {
	if err := ValidateLink(args.Link); err != nil {
		return nil, err
	}
	if err := r.validateDescription(args.Description); err != nil {
		return nil, err
	}
	if err := validateCanister(args.CanisterID); err != nil {
		return nil, err
	}

	now := r.now()
	existing, err := r.lookup(args.Link)
	if err != nil {
		return nil, err
	}

	var rec *record.Record
	switch {
	case existing == nil || existing.Expired(now):
		rec = &record.Record{
			Fingerprint: args.Link,
			Kind:        record.KindLink,
			CanisterID:  args.CanisterID,
			Description: deref(args.Description),
		}
	case existing.Kind == record.KindLink && existing.State == record.StateReserved &&
		(existing.ReservedFor == nil || *existing.ReservedFor == caller):
		rec = existing
		if args.CanisterID != nil {
			rec.CanisterID = args.CanisterID
		}
		if args.Description != nil {
			rec.Description = *args.Description
		}
	default:
		return nil, fmt.Errorf("%w: %q", errs.ErrAlreadyClaimed, args.Link)
	}

	expires := now.Add(r.cfg.ClaimTTL).UTC()
	rec.State = record.StateClaimed
	rec.Owner = caller.Ptr()
	rec.ReservedFor = nil
	rec.Created = now.UTC()
	rec.Expires = &expires
	rec.Visibility = record.Public
	if args.Visibility != nil {
		rec.Visibility = *args.Visibility
	}

	if err := r.put(rec); err != nil {
		return nil, err
	}
	log.Infof("Link %q claimed by %s until %s", rec.Fingerprint, caller, expires.Format(time.RFC3339))
	return viewOf(rec, caller, false), nil
}

type NotarizeArgs struct {
	Datum       []byte
	Hash        []byte
	Description *string
	Visibility  *record.Visibility
}

// Fingerprint returns the fingerprint of notarized content: the OID of its
// SHA-256.
func Fingerprint(hash [32]byte) string {
	return oid.Encode(oid.OidTypeDatum, hash).String()
}

// Notarize records content, or a hash of content kept elsewhere. A datum
// that is already notarized yields no record and ErrAlreadyClaimed.
func (r *Registry) Notarize(caller principal.Principal, args NotarizeArgs) (*View, error) {
	if err := r.validateDescription(args.Description); err != nil {
		return nil, err
	}
	if len(args.Datum) > r.cfg.MaxDatumSize {
		return nil, fmt.Errorf("%w: datum of %d bytes exceeds %d", errs.ErrInvalidArgument, len(args.Datum), r.cfg.MaxDatumSize)
	}

	var hash [32]byte
	switch {
	case args.Datum != nil:
		hash = sha256.Sum256(args.Datum)
		if args.Hash != nil && !bytes.Equal(args.Hash, hash[:]) {
			return nil, fmt.Errorf("%w: supplied hash does not match the datum", errs.ErrIntegrity)
		}
	case args.Hash != nil:
		if len(args.Hash) != sha256.Size {
			return nil, fmt.Errorf("%w: hash must be %d bytes, got %d", errs.ErrInvalidArgument, sha256.Size, len(args.Hash))
		}
		copy(hash[:], args.Hash)
	default:
		return nil, fmt.Errorf("%w: neither datum nor hash given", errs.ErrInvalidArgument)
	}

	fingerprint := Fingerprint(hash)
	now := r.now()

	existing, err := r.lookup(fingerprint)
	if err != nil {
		return nil, err
	}
	if existing != nil && !existing.Expired(now) {
		return nil, fmt.Errorf("%w: %s", errs.ErrAlreadyClaimed, fingerprint)
	}

	rec := &record.Record{
		Fingerprint: fingerprint,
		Kind:        record.KindDatum,
		State:       record.StateClaimed,
		Owner:       caller.Ptr(),
		Description: deref(args.Description),
		Created:     now.UTC(),
		Visibility:  record.Public,
		Datum:       args.Datum,
	}
	if args.Visibility != nil {
		rec.Visibility = *args.Visibility
	}

	if err := r.put(rec); err != nil {
		return nil, err
	}
	log.Infof("Notarized %s for %s", fingerprint, caller)
	return viewOf(rec, caller, true), nil
}

type SetLinkReservedArgs struct {
	Link        string
	CanisterID  *string
	Description *string
	Expires     time.Time
	Owner       *principal.Principal // designated claimant, anyone if nil
}

// SetLinkReserved creates or overwrites a reservation. Unexpired claims are
// left alone.
func (r *Registry) SetLinkReserved(args SetLinkReservedArgs) (*View, error) {
	if err := ValidateLink(args.Link); err != nil {
		return nil, err
	}
	if err := r.validateDescription(args.Description); err != nil {
		return nil, err
	}
	if err := validateCanister(args.CanisterID); err != nil {
		return nil, err
	}
	if args.Owner != nil {
		if err := args.Owner.Validate(); err != nil {
			return nil, err
		}
	}

	now := r.now()
	if !args.Expires.After(now) {
		return nil, fmt.Errorf("%w: reservation expiry %s is not in the future", errs.ErrInvalidArgument, args.Expires.Format(time.RFC3339))
	}

	existing, err := r.lookup(args.Link)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.State == record.StateClaimed && !existing.Expired(now) {
		return nil, fmt.Errorf("%w: %q", errs.ErrAlreadyClaimed, args.Link)
	}

	expires := args.Expires.UTC()
	rec := &record.Record{
		Fingerprint: args.Link,
		Kind:        record.KindLink,
		State:       record.StateReserved,
		ReservedFor: args.Owner,
		Description: deref(args.Description),
		Created:     now.UTC(),
		Expires:     &expires,
		Visibility:  record.Public,
		CanisterID:  args.CanisterID,
	}

	if err := r.put(rec); err != nil {
		return nil, err
	}
	log.Infof("Link %q reserved until %s", rec.Fingerprint, expires.Format(time.RFC3339))
	return viewOf(rec, principal.Anonymous, false), nil
}

// owned returns the unexpired claimed link of caller.
func (r *Registry) owned(caller principal.Principal, link string) (*record.Record, error) {
	rec, err := r.lookup(link)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Kind != record.KindLink || rec.Expired(r.now()) {
		return nil, fmt.Errorf("%w: link %q", errs.ErrNotFound, link)
	}
	if rec.State != record.StateClaimed || !rec.IsOwner(caller) {
		return nil, fmt.Errorf("%w: %s does not own %q", errs.ErrUnauthorized, caller, link)
	}
	return rec, nil
}

// RevealLink makes a hidden link of caller public.
func (r *Registry) RevealLink(caller principal.Principal, link string) (*View, error) {
	rec, err := r.owned(caller, link)
	if err != nil {
		return nil, err
	}
	if rec.Visibility == record.Public {
		return viewOf(rec, caller, false), nil
	}

	rec.Visibility = record.Public
	if err := r.put(rec); err != nil {
		return nil, err
	}
	return viewOf(rec, caller, false), nil
}

type UpdateLinkArgs struct {
	Link        string
	CanisterID  *string
	Description *string
}

func (r *Registry) UpdateLink(caller principal.Principal, args UpdateLinkArgs) (*View, error) {
	if err := r.validateDescription(args.Description); err != nil {
		return nil, err
	}
	if err := validateCanister(args.CanisterID); err != nil {
		return nil, err
	}
	rec, err := r.owned(caller, args.Link)
	if err != nil {
		return nil, err
	}

	if args.CanisterID != nil {
		rec.CanisterID = args.CanisterID
	}
	if args.Description != nil {
		rec.Description = *args.Description
	}

	if err := r.put(rec); err != nil {
		return nil, err
	}
	return viewOf(rec, caller, false), nil
}

// Clear removes every record.
func (r *Registry) Clear() error {
	if err := r.index.Clear(); err != nil {
		return err
	}
	log.Warnf("Record registry cleared")
	return nil
}
