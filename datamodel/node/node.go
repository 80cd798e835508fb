package node

import (
	"time"

	"notary/oid"
)

// Metadata is what a mirror remembers about an upstream notary node.
type Metadata struct {
	NodeID         oid.Oid   `cbor:"1,keyasint,omitempty"` // Node identifier
	Addresses      []string  `cbor:"2,keyasint,omitempty"` // Node RPC addresses and ports
	SequenceNumber uint64    `cbor:"3,keyasint,omitempty"` // Last announced change sequence
	Checkpoint     int64     `cbor:"4,keyasint,omitempty"` // Change-feed stamp (unix nanos) synced up to
	LastSeen       time.Time `cbor:"5,keyasint,omitempty"` // Last time we heard from this node
}

// Since is the stamp to resume the change feed from. The zero time means
// the node was never synced.
func (m *Metadata) Since() time.Time {
	if m.Checkpoint <= 0 {
		return time.Time{}
	}
	return time.Unix(0, m.Checkpoint)
}

// Advance moves the checkpoint to stamp rewound by skew, so changes stamped
// on a clock running behind are fetched again. A zero stamp keeps the old
// checkpoint.
func (m *Metadata) Advance(stamp time.Time, skew time.Duration) {
	if stamp.IsZero() {
		return
	}
	m.Checkpoint = max(stamp.Add(-skew).UnixNano(), 0)
}

// NodeIndex defines the interface for managing metadata about nodes.
type NodeIndex interface {
	// Get retrieves the metadata for a node, given the node's OID.
	// It returns an error wrapping errs.ErrNotFound if the node is unknown.
	Get(*oid.Oid) (*Metadata, error)

	// Put stores or replaces a node's metadata.
	Put(*Metadata) (*Metadata, error)

	// Enumerate returns the OIDs of all known nodes.
	Enumerate() ([]*oid.Oid, error)
}
