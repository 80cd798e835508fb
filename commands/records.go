package commands

import (
	"context"
	"crypto/sha256"
	"os"
	"time"

	"notary/config"
	"notary/datamodel/record"
	"notary/notary"
	"notary/principal"
	"notary/swarm/client"

	log "github.com/sirupsen/logrus"
)

// dial connects to the node of cfg, preferring its advertised address.
func dial(ctx context.Context, cfg *config.Config, caller principal.Principal) *client.Client {
	addr := cfg.Network.RpcAdvertizedAddress
	if addr == "" {
		addr = cfg.Network.RPCListenAddress
	}
	cli, err := client.Dial(ctx, addr, caller)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", addr, err)
	}
	return cli
}

func visibility(hidden bool) *record.Visibility {
	v := record.Public
	if hidden {
		v = record.Hidden
	}
	return &v
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func printView(v *notary.View) {
	fields := log.Fields{
		"kind":       v.Kind,
		"state":      v.State,
		"visibility": v.Visibility,
		"created":    v.Created.Format(time.RFC3339),
	}
	if v.Owner != nil {
		fields["owner"] = v.Owner.String()
	}
	if v.CanisterID != nil {
		fields["canister"] = *v.CanisterID
	}
	if v.Expires != nil {
		fields["expires"] = v.Expires.Format(time.RFC3339)
	}
	if v.Description != "" {
		fields["description"] = v.Description
	}
	log.WithFields(fields).Info(v.Fingerprint)
}

// RunNotarize records the file at path. With hashOnly only its SHA-256 is
// sent and the content stays local.
func RunNotarize(ctx context.Context, cfg *config.Config, caller principal.Principal, path string, hashOnly bool, description string, hidden bool) {
	content, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", path, err)
	}

	cli := dial(ctx, cfg, caller)
	defer cli.Close()

	args := notary.NotarizeArgs{
		Description: optional(description),
		Visibility:  visibility(hidden),
	}
	if hashOnly {
		sum := sha256.Sum256(content)
		args.Hash = sum[:]
	} else {
		args.Datum = content
	}

	v, err := cli.Notarize(ctx, args)
	if err != nil {
		log.Fatalf("Failed to notarize %s: %v", path, err)
	}
	printView(v)
}

func RunClaim(ctx context.Context, cfg *config.Config, caller principal.Principal, link string, canister string, description string, hidden bool) {
	cli := dial(ctx, cfg, caller)
	defer cli.Close()

	v, err := cli.ClaimLink(ctx, notary.ClaimLinkArgs{
		Link:        link,
		CanisterID:  optional(canister),
		Description: optional(description),
		Visibility:  visibility(hidden),
	})
	if err != nil {
		log.Fatalf("Failed to claim %q: %v", link, err)
	}
	printView(v)
}

func RunSearch(ctx context.Context, cfg *config.Config, caller principal.Principal, term string) {
	cli := dial(ctx, cfg, caller)
	defer cli.Close()

	views, err := cli.Search(ctx, term)
	if err != nil {
		log.Fatalf("Search for %q failed: %v", term, err)
	}
	log.Infof("%d records match %q", len(views), term)
	for _, v := range views {
		printView(v)
	}
}
