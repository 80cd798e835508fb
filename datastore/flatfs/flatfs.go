// Package flatfs implements the block.BlockStore interface on a plain directory tree
package flatfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"notary/datamodel/block"
	"notary/errs"
	"notary/oid"

	log "github.com/sirupsen/logrus"
)

var _ block.BlockStore = (*FlatFS)(nil)

var ErrCorrupted = errors.New("flatfs: block content does not match its address")

// FlatFS stores one file per block, named after the OID string. The first
// 4 characters of the OID select a shard directory. A file holds the raw
// block bytes; the length is the file length.
type FlatFS struct {
	basePath string
}

func New(basePath string) (*FlatFS, error) {
	basePath = filepath.Clean(basePath)

	if err := ensureDir(basePath); err != nil {
		return nil, err
	}

	log.Infof("Opened FlatFS at %s", basePath)

	return &FlatFS{basePath: basePath}, nil
}

// ensureDir checks if a directory exists at the given path, and if not, creates it.
func ensureDir(path string) error {
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(path, 0755)
		}
		return err
	}
	if !stat.IsDir() {
		return &os.PathError{Op: "ensureDir", Path: path, Err: os.ErrExist}
	}
	return nil
}

// Enumerate lists the OIDs of all blocks. Only files one shard deep whose
// names parse as OIDs count; leftovers of interrupted writes are skipped.
func (f *FlatFS) Enumerate() ([]*oid.Oid, error) {
	var oids []*oid.Oid
	err := filepath.WalkDir(f.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(f.basePath, path)
		depth := len(strings.Split(rel, string(filepath.Separator)))
		switch {
		case rel == ".":
			return nil
		case d.IsDir() && depth > 1:
			log.Warnf("FlatFS: skipping unexpected directory %s", path)
			return filepath.SkipDir
		case d.IsDir():
			return nil
		case depth != 2:
			log.Warnf("FlatFS: skipping stray file %s", path)
			return nil
		}

		o, err := oid.FromString(d.Name())
		if err != nil {
			log.Debugf("FlatFS: skipping %s: %v", path, err)
			return nil
		}
		oids = append(oids, o)
		return nil
	})
	if err != nil {
		log.Errorf("FlatFS: enumeration of %s failed: %v", f.basePath, err)
		return nil, err
	}
	return oids, nil
}

func (f *FlatFS) Close() error {
	return nil
}

func (f *FlatFS) Get(o *oid.Oid) (*block.Block, error) {
	_, filePath := f.oidToPath(o)

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: block %s", errs.ErrNotFound, o.String())
		}
		return nil, err
	}

	b := &block.Block{
		Oid:    *o,
		Length: uint64(len(data)),
		Data:   data,
	}
	if !b.Verify() {
		log.Errorf("FlatFS.Get: block %s failed verification", o.String())
		return nil, ErrCorrupted
	}

	return b, nil
}

// oidToPath converts an OID to its file path and returns the shard directory as well.
func (f *FlatFS) oidToPath(o *oid.Oid) (dirPath string, filePath string) {
	oidStr := o.String()
	dirPath = filepath.Join(f.basePath, oidStr[:4])
	filePath = filepath.Join(dirPath, oidStr)
	return dirPath, filePath
}

func (f *FlatFS) Has(o *oid.Oid) (bool, error) {
	_, filePath := f.oidToPath(o)
	stat, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !stat.IsDir(), nil
}

// Put writes the block unless a block with the same address is already
// present. The data goes to a temporary file in the shard first and is
// renamed into place, so a crash never leaves a truncated block under a
// valid name.
func (f *FlatFS) Put(b *block.Block) (*oid.Oid, error) {
	if b == nil {
		return nil, os.ErrInvalid
	}

	exists, err := f.Has(&b.Oid)
	if err != nil {
		return nil, err
	}
	if exists {
		return &b.Oid, nil
	}

	dirPath, filePath := f.oidToPath(&b.Oid)
	if err := ensureDir(dirPath); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(dirPath, ".tmp-*")
	if err != nil {
		return nil, err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(b.Data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, err
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		os.Remove(tmpName)
		return nil, err
	}

	return &b.Oid, nil
}

func (f *FlatFS) Delete(o *oid.Oid) error {
	_, filePath := f.oidToPath(o)

	err := os.Remove(filePath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
