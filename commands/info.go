package commands

import (
	"context"
	"time"

	"notary/config"
	"notary/datamodel/grant"
	"notary/datastore/leveldb"
	"notary/principal"

	log "github.com/sirupsen/logrus"
)

// RunInfo prints the state of the configured notary node and, when a mirror
// shares this config, the upstream nodes it has recorded.
func RunInfo(ctx context.Context, cfg *config.Config, caller principal.Principal) {
	cli := dial(ctx, cfg, caller)
	defer cli.Close()

	status, err := cli.Status(ctx)
	if err != nil {
		log.Fatalf("Failed to get status: %v", err)
	}
	log.Infof("Node %s, seq: %d, assets: %d, open batches: %d", status.NodeID.String(), status.Sequence, status.Assets, status.Batches)

	list, err := cli.List(ctx)
	if err != nil {
		log.Errorf("Failed to list assets: %v", err)
		return
	}
	for _, a := range list {
		for _, e := range a.Encodings {
			log.Infof("Asset: %s, type: %s, encoding: %s, len: %d, modified: %s",
				a.Key, a.ContentType, e.ContentEncoding, e.Length, e.Modified.Format(time.RFC3339))
		}
	}

	if grants, err := cli.ListAuthorized(ctx); err != nil {
		log.Debugf("Not listing grants: %v", err)
	} else {
		for _, g := range grants {
			log.Infof("Grant: %s is %s", g.Principal.String(), g.Role)
		}
	}

	if cfg.DataStore.NodeIndexPath == "" {
		return
	}
	nidx, err := leveldb.NewNodeIndex(cfg.DataStore.NodeIndexPath)
	if err != nil {
		log.Errorf("Failed to open node index: %v", err)
		return
	}
	defer nidx.Close()

	nodes, err := nidx.Enumerate()
	if err != nil {
		log.Errorf("Failed to enumerate node index: %v", err)
		return
	}
	log.Infof("Node index: %d nodes known", len(nodes))
	for _, nodeid := range nodes {
		node, err := nidx.Get(nodeid)
		if err != nil {
			log.Errorf("Failed to get node metadata: %v", err)
			continue
		}
		log.Infof("Node: %s, addrs: %v, seq: %d, checkpoint: %s, last seen: %v ago",
			node.NodeID.String(), node.Addresses, node.SequenceNumber,
			node.Since().UTC().Format(time.RFC3339), time.Since(node.LastSeen).Round(time.Second))
	}
}

// RunAuthorize grants role to p, or revokes every grant of p when revoke is
// set.
func RunAuthorize(ctx context.Context, cfg *config.Config, caller principal.Principal, p principal.Principal, role string, revoke bool) {
	cli := dial(ctx, cfg, caller)
	defer cli.Close()

	if revoke {
		if err := cli.Deauthorize(ctx, p); err != nil {
			log.Fatalf("Failed to deauthorize %s: %v", p, err)
		}
		log.Infof("Deauthorized %s", p)
		return
	}

	r, err := grant.ParseRole(role)
	if err != nil {
		log.Fatalf("Invalid role: %v", err)
	}
	if err := cli.Authorize(ctx, p, r); err != nil {
		log.Fatalf("Failed to authorize %s: %v", p, err)
	}
	log.Infof("Authorized %s as %s", p, r)
}
