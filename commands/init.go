package commands

import (
	"context"
	"errors"
	"os"

	"notary/config"
	"notary/oid"

	log "github.com/sirupsen/logrus"
)

// RunInit writes a fresh config with a new node id. An existing file is
// left alone.
func RunInit(ctx context.Context, cfg *config.Config) {
	if _, err := os.Stat(cfg.File()); err == nil {
		log.Fatalf("Config %s already exists", cfg.File())
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Failed to check %s: %v", cfg.File(), err)
	}

	id, err := oid.Random(oid.OidTypeNode)
	if err != nil {
		log.Fatalf("Failed to generate node id: %v", err)
	}
	cfg.Node.NodeID = id

	if err := cfg.Save(); err != nil {
		log.Fatalf("Failed to save config: %v", err)
	}
	log.Infof("Initialized node %s", id.String())
}
