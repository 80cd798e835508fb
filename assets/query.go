package assets

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"notary/datamodel/asset"
	"notary/errs"
)

type GetResult struct {
	Content         []byte
	ContentType     string
	ContentEncoding string
	TotalLength     uint64
	Sha256          [32]byte
}

type EncodingDetails struct {
	ContentEncoding string
	Sha256          [32]byte
	Length          uint64
	Modified        time.Time
}

type AssetDetails struct {
	Key         string
	ContentType string
	Encodings   []EncodingDetails
}

func isNotFound(err error) bool {
	return errors.Is(err, errs.ErrNotFound)
}

// Asset returns the stored metadata of key.
func (r *Registry) Asset(key string) (*asset.Asset, error) {
	return r.index.Get(key)
}

// Get returns the first chunk of the first encoding in acceptEncodings that
// the asset has.
func (r *Registry) Get(key string, acceptEncodings []string) (*GetResult, error) {
	a, err := r.index.Get(key)
	if err != nil {
		return nil, err
	}

	for _, name := range acceptEncodings {
		enc, ok := a.Encodings[name]
		if !ok {
			continue
		}
		res := &GetResult{
			Content:         []byte{},
			ContentType:     a.ContentType,
			ContentEncoding: enc.ContentEncoding,
			TotalLength:     enc.TotalLength,
			Sha256:          enc.Sha256,
		}
		if len(enc.Chunks) > 0 {
			b, err := r.blocks.Get(&enc.Chunks[0].Oid)
			if err != nil {
				return nil, err
			}
			res.Content = b.Data
		}
		return res, nil
	}

	return nil, fmt.Errorf("%w: asset %q has none of the encodings %v", errs.ErrNotFound, key, acceptEncodings)
}

// GetChunk returns the index-th chunk of an encoding. A sha256 that does not
// match the current encoding means the caller holds an outdated view.
func (r *Registry) GetChunk(key string, contentEncoding string, sha256 []byte, index uint64) ([]byte, error) {
	a, err := r.index.Get(key)
	if err != nil {
		return nil, err
	}
	enc, ok := a.Encodings[contentEncoding]
	if !ok {
		return nil, fmt.Errorf("%w: asset %q has no encoding %q", errs.ErrNotFound, key, contentEncoding)
	}
	if sha256 != nil && !bytes.Equal(sha256, enc.Sha256[:]) {
		return nil, fmt.Errorf("%w: asset %q encoding %q changed", errs.ErrStaleContent, key, contentEncoding)
	}
	if index >= uint64(len(enc.Chunks)) {
		return nil, fmt.Errorf("%w: chunk %d of asset %q encoding %q", errs.ErrNotFound, index, key, contentEncoding)
	}

	b, err := r.blocks.Get(&enc.Chunks[index].Oid)
	if err != nil {
		return nil, err
	}
	return b.Data, nil
}

// List describes every asset, ordered by key.
func (r *Registry) List() ([]*AssetDetails, error) {
	all, err := r.index.Enumerate()
	if err != nil {
		return nil, err
	}

	results := make([]*AssetDetails, 0, len(all))
	for _, a := range all {
		d := &AssetDetails{
			Key:         a.Key,
			ContentType: a.ContentType,
			Encodings:   []EncodingDetails{},
		}
		for _, name := range a.EncodingNames() {
			enc := a.Encodings[name]
			d.Encodings = append(d.Encodings, EncodingDetails{
				ContentEncoding: enc.ContentEncoding,
				Sha256:          enc.Sha256,
				Length:          enc.TotalLength,
				Modified:        enc.Modified,
			})
		}
		results = append(results, d)
	}
	return results, nil
}
