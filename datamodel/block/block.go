package block

import (
	"crypto/sha256"

	"notary/oid"
)

// Block is an immutable run of committed bytes. Its OID is derived from its
// content, so equal chunks are stored once.
type Block struct {
	_      struct{} `cbor:",toarray"`
	Oid    oid.Oid
	Length uint64
	Data   []byte
}

// New builds the content-addressed block for data.
func New(data []byte) *Block {
	return &Block{
		Oid:    *oid.Encode(oid.OidTypeRawBlock, sha256.Sum256(data)),
		Length: uint64(len(data)),
		Data:   data,
	}
}

// Verify reports whether the block's data still matches its address.
func (b *Block) Verify() bool {
	if b.Length != uint64(len(b.Data)) {
		return false
	}
	return b.Oid.Hash() == sha256.Sum256(b.Data)
}

// BlockStore defines the interface for storing and retrieving blocks of data.
type BlockStore interface {
	// Get retrieves a block from the store by its OID.
	// It returns the Block if found, or an error if the block does not exist or an issue occurs.
	Get(*oid.Oid) (*Block, error)

	// Has checks if a block with the given OID exists in the store.
	Has(*oid.Oid) (bool, error)

	// Put stores a block in the store. Storing a block that already exists is a no-op.
	// It returns the OID of the stored block.
	Put(*Block) (*oid.Oid, error)

	// Delete removes a block from the store by its OID. Deleting a missing block is not an error.
	Delete(*oid.Oid) error

	// Enumerate returns a list of OIDs for all blocks currently in the store.
	Enumerate() ([]*oid.Oid, error)

	// Close releases any resources held by the BlockStore.
	Close() error
}
