package commands

import (
	"context"
	"net"

	"notary/config"
	"notary/net/crpc"
	"notary/net/mpubsub"
	"notary/swarm/node"

	log "github.com/sirupsen/logrus"
)

func RunServe(ctx context.Context, cfg *config.Config) {
	storage, err := node.OpenStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer storage.Close()

	c, err := node.NewCanister(cfg, storage)
	if err != nil {
		log.Fatalf("Failed to create canister: %v", err)
	}

	// Create the CRPC server and listener
	rpcl, err := net.Listen("tcp", cfg.Network.RPCListenAddress)
	if err != nil {
		log.Fatalf("Failed to create RPC listener: %v", err)
	}
	rsrv := crpc.NewServer(rpcl)
	log.Infof("RPC server listening on %s", rsrv.Addr())

	var gwl net.Listener
	if cfg.Network.GatewayListenAddress != "" {
		if gwl, err = net.Listen("tcp", cfg.Network.GatewayListenAddress); err != nil {
			log.Fatalf("Failed to create gateway listener: %v", err)
		}
	}

	var pubsub *mpubsub.PubSub
	if cfg.Network.PubSubMulticastAddress != "" {
		if pubsub, err = mpubsub.Open(cfg.Network.PubSubMulticastAddress, cfg.Network.PubSubInterface); err != nil {
			log.Fatalf("Failed to open multicast pubsub: %v", err)
		}
		defer pubsub.Close()
	}

	n, err := node.New(cfg, c, rsrv, pubsub, gwl)
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}

	if err := n.Run(ctx); err != nil {
		log.Fatalf("Failed to run node: %v", err)
	}
}
