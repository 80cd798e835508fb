package leveldb

import (
	"fmt"

	"notary/datamodel/node"
	"notary/errs"
	"notary/oid"

	"github.com/syndtr/goleveldb/leveldb/util"

	log "github.com/sirupsen/logrus"
)

const (
	keyPrefixNode = "NOD" // Upstream node metadata. Followed by the textual node OID
)

var _ node.NodeIndex = (*NodeIndex)(nil)

// NodeIndex remembers the upstream notary nodes a mirror follows.
type NodeIndex struct {
	LevelDB
}

func NewNodeIndex(path string) (*NodeIndex, error) {
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}
	return &NodeIndex{LevelDB: LevelDB{path: path, db: ldb}}, nil
}

func (l *NodeIndex) Get(o *oid.Oid) (*node.Metadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	md := &node.Metadata{}
	if err := l.get(keyFromString(keyPrefixNode, o.String()), md, "node "+o.String()); err != nil {
		return nil, err
	}
	if !md.NodeID.Equal(o) {
		log.Errorf("NodeIndex.Get: node id mismatch: %s != %s", o.String(), md.NodeID.String())
		return nil, ErrCorrupted
	}
	return md, nil
}

func (l *NodeIndex) Put(md *node.Metadata) (*node.Metadata, error) {
	if md.NodeID.Type() != oid.OidTypeNode {
		return nil, fmt.Errorf("%w: %s is not a node id", errs.ErrInvalidArgument, md.NodeID.String())
	}

	raw, err := encMode.Marshal(md)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.db.Put(keyFromString(keyPrefixNode, md.NodeID.String()), raw, nil); err != nil {
		return nil, err
	}
	log.Debugf("NodeIndex.Put: %s seq %d", md.NodeID.String(), md.SequenceNumber)
	return md, nil
}

// Enumerate reads node ids from the keys alone.
func (l *NodeIndex) Enumerate() ([]*oid.Oid, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixNode)), nil)
	defer iter.Release()

	var results []*oid.Oid
	for iter.Next() {
		id, err := oid.FromString(string(iter.Key()[len(keyPrefixNode):]))
		if err != nil {
			log.Errorf("NodeIndex.Enumerate: bad key %q: %v", string(iter.Key()), err)
			return nil, ErrCorrupted
		}
		results = append(results, id)
	}
	return results, iter.Error()
}
