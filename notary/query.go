package notary

import (
	"sort"
	"strings"
	"time"

	"notary/datamodel/record"
	"notary/principal"
)

// View is a record as one caller may see it. For hidden records of other
// principals the canister and the datum are withheld.
type View struct {
	Fingerprint string
	Kind        record.Kind
	State       record.State
	Owner       *principal.Principal
	ReservedFor *principal.Principal
	Description string
	Created     time.Time
	Updated     time.Time
	Expires     *time.Time
	Visibility  record.Visibility
	CanisterID  *string
	HasDatum    bool
	Datum       []byte
}

func viewOf(r *record.Record, caller principal.Principal, withDatum bool) *View {
	v := &View{
		Fingerprint: r.Fingerprint,
		Kind:        r.Kind,
		State:       r.State,
		Owner:       r.Owner,
		Description: r.Description,
		Created:     r.Created,
		Updated:     r.Updated,
		Expires:     r.Expires,
		Visibility:  r.Visibility,
	}
	if !r.VisibleTo(caller) {
		return v
	}
	v.ReservedFor = r.ReservedFor
	v.CanisterID = r.CanisterID
	v.HasDatum = len(r.Datum) > 0
	if withDatum {
		v.Datum = r.Datum
	}
	return v
}

// listable reports whether r shows up in caller's lists: public records and
// the caller's own hidden ones.
func listable(r *record.Record, caller principal.Principal) bool {
	return r.VisibleTo(caller)
}

func (r *Registry) get(caller principal.Principal, fingerprint string, kind record.Kind) (*View, error) {
	rec, err := r.lookup(fingerprint)
	if err != nil || rec == nil || rec.Kind != kind {
		return nil, err
	}
	return viewOf(rec, caller, kind == record.KindDatum), nil
}

// GetLink returns nil without error when link is unknown.
func (r *Registry) GetLink(caller principal.Principal, link string) (*View, error) {
	return r.get(caller, link, record.KindLink)
}

// GetDatum returns nil without error when fingerprint is unknown.
func (r *Registry) GetDatum(caller principal.Principal, fingerprint string) (*View, error) {
	return r.get(caller, fingerprint, record.KindDatum)
}

func (r *Registry) list(caller principal.Principal, kind record.Kind) ([]*View, error) {
	all, err := r.index.Enumerate()
	if err != nil {
		return nil, err
	}
	views := []*View{}
	for _, rec := range all {
		if rec.Kind == kind && listable(rec, caller) {
			views = append(views, viewOf(rec, caller, false))
		}
	}
	return views, nil
}

func (r *Registry) GetLinks(caller principal.Principal) ([]*View, error) {
	return r.list(caller, record.KindLink)
}

func (r *Registry) GetData(caller principal.Principal) ([]*View, error) {
	return r.list(caller, record.KindDatum)
}

const (
	rankExact = iota
	rankPrefix
	rankOwner
	rankDescription
	rankNone
)

func rank(rec *record.Record, term, lower string) int {
	fp := strings.ToLower(rec.Fingerprint)
	switch {
	case fp == lower:
		return rankExact
	case strings.HasPrefix(fp, lower):
		return rankPrefix
	case rec.Owner != nil && string(*rec.Owner) == term:
		return rankOwner
	case strings.Contains(strings.ToLower(rec.Description), lower):
		return rankDescription
	}
	return rankNone
}

// Search matches fingerprints exactly or by prefix, owners exactly and
// descriptions by substring, all case-insensitive except owners.
func (r *Registry) Search(caller principal.Principal, term string) ([]*View, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []*View{}, nil
	}
	lower := strings.ToLower(term)

	all, err := r.index.Enumerate()
	if err != nil {
		return nil, err
	}

	type hit struct {
		rank int
		rec  *record.Record
	}
	var hits []hit
	for _, rec := range all {
		if !listable(rec, caller) {
			continue
		}
		if k := rank(rec, term, lower); k != rankNone {
			hits = append(hits, hit{rank: k, rec: rec})
		}
	}

	// Enumerate is ordered by fingerprint, a stable sort keeps that order
	// within a rank.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].rank < hits[j].rank })
	if len(hits) > r.cfg.MaxSearchResults {
		hits = hits[:r.cfg.MaxSearchResults]
	}

	views := make([]*View, 0, len(hits))
	for _, h := range hits {
		views = append(views, viewOf(h.rec, caller, false))
	}
	return views, nil
}

type UpdatedLink struct {
	Link       string
	CanisterID *string // nil if the link has none or the caller may not see it
	Updated    time.Time
}

type UpdatedLinks struct {
	Links      []UpdatedLink
	Checkpoint time.Time
}

// GetUpdatedLinks returns links changed after since in update order. The
// checkpoint is the stamp to pass next time; it covers every change seen,
// including those of records that are not links.
func (r *Registry) GetUpdatedLinks(caller principal.Principal, since time.Time) (*UpdatedLinks, error) {
	changed, err := r.index.EnumerateUpdatedAfter(since)
	if err != nil {
		return nil, err
	}

	res := &UpdatedLinks{
		Links:      []UpdatedLink{},
		Checkpoint: since,
	}
	for _, rec := range changed {
		if rec.Updated.After(res.Checkpoint) {
			res.Checkpoint = rec.Updated
		}
		if rec.Kind != record.KindLink {
			continue
		}
		u := UpdatedLink{Link: rec.Fingerprint, Updated: rec.Updated}
		if rec.VisibleTo(caller) {
			u.CanisterID = rec.CanisterID
		}
		res.Links = append(res.Links, u)
	}
	return res, nil
}
