package node

import (
	"errors"
	"fmt"

	"notary/access"
	"notary/assets"
	"notary/canister"
	"notary/config"
	"notary/datastore/flatfs"
	"notary/datastore/leveldb"
	"notary/notary"
	"notary/upload"
)

// Storage is the set of stores behind a canister.
type Storage struct {
	Assets  *leveldb.AssetIndex
	Records *leveldb.RecordIndex
	Grants  *leveldb.GrantIndex
	Blocks  *flatfs.FlatFS
}

func (s *Storage) Close() error {
	var errs []error
	if s.Assets != nil {
		errs = append(errs, s.Assets.Close())
	}
	if s.Records != nil {
		errs = append(errs, s.Records.Close())
	}
	if s.Grants != nil {
		errs = append(errs, s.Grants.Close())
	}
	if s.Blocks != nil {
		errs = append(errs, s.Blocks.Close())
	}
	return errors.Join(errs...)
}

// OpenStorage opens every store named in cfg. On failure the stores opened
// so far are closed again.
func OpenStorage(cfg *config.Config) (s *Storage, err error) {
	s = &Storage{}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if s.Blocks, err = flatfs.New(cfg.DataStore.BlockStorePath); err != nil {
		return nil, fmt.Errorf("failed to open block store: %w", err)
	}
	if s.Assets, err = leveldb.NewAssetIndex(cfg.DataStore.AssetIndexPath); err != nil {
		return nil, fmt.Errorf("failed to open asset index: %w", err)
	}
	if s.Records, err = leveldb.NewRecordIndex(cfg.DataStore.RecordIndexPath); err != nil {
		return nil, fmt.Errorf("failed to open record index: %w", err)
	}
	if s.Grants, err = leveldb.NewGrantIndex(cfg.DataStore.GrantIndexPath); err != nil {
		return nil, fmt.Errorf("failed to open grant index: %w", err)
	}
	return s, nil
}

// NewCanister wires the service over s with the limits of cfg.
func NewCanister(cfg *config.Config, s *Storage) (*canister.Canister, error) {
	gate, err := access.New(s.Grants, cfg.Node.Admins)
	if err != nil {
		return nil, err
	}

	uploads := upload.New(upload.Config{
		BatchTTL:      cfg.Upload.BatchTTL.D(),
		MaxBatches:    cfg.Upload.MaxBatches,
		MaxBatchBytes: cfg.Upload.MaxBatchBytes,
		MaxChunkSize:  cfg.Upload.MaxChunkSize,
	}, nil)

	records := notary.New(s.Records, notary.Config{
		ClaimTTL:             cfg.Notary.ClaimTTL.D(),
		MaxSearchResults:     cfg.Notary.MaxSearchResults,
		MaxDescriptionLength: cfg.Notary.MaxDescriptionLength,
		MaxDatumSize:         cfg.Notary.MaxDatumSize,
	}, nil)

	return canister.New(assets.New(s.Assets, s.Blocks, uploads, nil), records, gate), nil
}
