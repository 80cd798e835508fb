package commands

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"

	"notary/assets"
	"notary/config"
	"notary/datamodel/asset"
	"notary/principal"
	"notary/swarm/client"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	log "github.com/sirupsen/logrus"
)

// encoded is one representation of a file ready to be chunked.
type encoded struct {
	encoding string
	content  []byte
}

// encodeAll returns the identity encoding plus every compressed encoding
// that came out smaller than the original.
func encodeAll(content []byte) ([]encoded, error) {
	out := []encoded{{encoding: asset.EncodingIdentity, content: content}}

	var gz bytes.Buffer
	w, err := gzip.NewWriterLevel(&gz, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(content); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	if gz.Len() < len(content) {
		out = append(out, encoded{encoding: "gzip", content: gz.Bytes()})
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, err
	}
	zs := enc.EncodeAll(content, nil)
	enc.Close()
	if len(zs) < len(content) {
		out = append(out, encoded{encoding: "zstd", content: zs})
	}

	return out, nil
}

// split cuts content into chunks of at most size bytes. Empty content has
// no chunks.
func split(content []byte, size int) [][]byte {
	var chunks [][]byte
	for len(content) > size {
		chunks = append(chunks, content[:size])
		content = content[size:]
	}
	if len(content) > 0 {
		chunks = append(chunks, content)
	}
	return chunks
}

// uploader is the part of the notary client an upload needs.
type uploader interface {
	CreateBatch(ctx context.Context) (uint64, error)
	CreateChunk(ctx context.Context, batchID uint64, content []byte) (uint64, error)
	CommitBatch(ctx context.Context, batchID uint64, ops []asset.Operation) error
	Store(ctx context.Context, args assets.StoreArgs) error
}

var _ uploader = (*client.Client)(nil)

// uploadFile sends one file as a batch: chunks for every encoding, then a
// single commit that creates the asset and points it at them. Batches carry
// no empty chunks, so an empty file goes in one store call.
func uploadFile(ctx context.Context, cli uploader, key string, content []byte, chunkSize int) error {
	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if len(content) == 0 {
		sum := sha256.Sum256(nil)
		if err := cli.Store(ctx, assets.StoreArgs{
			Key:             key,
			ContentType:     contentType,
			ContentEncoding: asset.EncodingIdentity,
			Sha256:          sum[:],
		}); err != nil {
			return err
		}
		log.WithFields(log.Fields{"key": key, "type": contentType}).Info("Uploaded empty asset")
		return nil
	}

	encs, err := encodeAll(content)
	if err != nil {
		return err
	}

	batchID, err := cli.CreateBatch(ctx)
	if err != nil {
		return err
	}

	ops := []asset.Operation{asset.CreateAsset{Key: key, ContentType: contentType}}
	for _, e := range encs {
		set := asset.SetAssetContent{Key: key, ContentEncoding: e.encoding}
		for _, chunk := range split(e.content, chunkSize) {
			id, err := cli.CreateChunk(ctx, batchID, chunk)
			if err != nil {
				return err
			}
			set.ChunkIDs = append(set.ChunkIDs, id)
		}
		sum := sha256.Sum256(e.content)
		set.Sha256 = sum[:]
		ops = append(ops, set)
	}

	if err := cli.CommitBatch(ctx, batchID, ops); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"key":       key,
		"type":      contentType,
		"size":      len(content),
		"encodings": len(encs),
	}).Info("Uploaded asset")
	return nil
}

// RunUpload mirrors the files under dir into the asset store. Keys are the
// slash separated paths relative to dir, prefixed with prefix.
func RunUpload(ctx context.Context, cfg *config.Config, caller principal.Principal, dir string, prefix string) {
	cli := dial(ctx, cfg, caller)
	defer cli.Close()

	chunkSize := cfg.Upload.MaxChunkSize
	if chunkSize <= 0 {
		chunkSize = 1 << 20
	}
	count := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		key := path.Join("/", prefix, filepath.ToSlash(rel))
		if err := uploadFile(ctx, cli, key, content, chunkSize); err != nil {
			log.Errorf("Failed to upload %s as %s: %v", p, key, err)
			return err
		}
		count++
		return nil
	})
	if err != nil {
		log.Fatalf("Upload of %s stopped: %v", dir, err)
	}
	log.Infof("Uploaded %d files from %s", count, dir)
}
