package asset

// Operation is one step of a batch commit. The set of operations is closed:
// only the types in this file implement it, and every consumer handles them
// in a single type switch.
type Operation interface {
	isOperation()
}

type CreateAsset struct {
	Key         string
	ContentType string
}

type SetAssetContent struct {
	Key             string
	ContentEncoding string
	ChunkIDs        []uint64
	Sha256          []byte // optional
}

type UnsetAssetContent struct {
	Key             string
	ContentEncoding string
}

type DeleteAsset struct {
	Key string
}

type Clear struct{}

func (CreateAsset) isOperation()       {}
func (SetAssetContent) isOperation()   {}
func (UnsetAssetContent) isOperation() {}
func (DeleteAsset) isOperation()       {}
func (Clear) isOperation()             {}
