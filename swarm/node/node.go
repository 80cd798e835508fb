// Package node runs a notary node: the RPC server, the HTTP gateway, the
// batch reaper and the change announcements, under one errgroup.
package node

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"notary/canister"
	"notary/config"
	"notary/helper/timer"
	"notary/net/crpc"
	"notary/net/gateway"
	"notary/net/mpubsub"
	"notary/oid"
	"notary/swarm/server"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

type Node struct {
	// Node ID
	NodeID    *oid.Oid
	Addresses []string

	Canister *canister.Canister

	// Networking
	RpcServer *crpc.Server
	PubSub    *mpubsub.PubSub // nil disables announcements
	Gateway   net.Listener    // nil disables the HTTP gateway

	// RPC implementation
	RpcHandlers *server.Notary

	limiter          *gateway.RateLimiter
	announceInterval time.Duration
	reapInterval     time.Duration
	lastAnnounced    uint64
}

func New(cfg *config.Config, c *canister.Canister, rpcServer *crpc.Server, pubsub *mpubsub.PubSub, gw net.Listener) (*Node, error) {
	if cfg.Node.NodeID == nil || cfg.Node.NodeID.IsZero() {
		return nil, errors.New("node id not configured, run init first")
	}

	node := &Node{
		NodeID:           cfg.Node.NodeID,
		Canister:         c,
		PubSub:           pubsub,
		Gateway:          gw,
		announceInterval: cfg.Timers.AnnounceInterval.D(),
		reapInterval:     cfg.Timers.ReapInterval.D(),
	}
	if node.announceInterval <= 0 {
		node.announceInterval = 5 * time.Second
	}
	if node.reapInterval <= 0 {
		node.reapInterval = time.Minute
	}
	if cfg.Network.GatewayRateLimit > 0 {
		node.limiter = gateway.NewRateLimiter(cfg.Network.GatewayRateLimit, cfg.Network.GatewayBurst)
	}

	if cfg.Network.RpcAdvertizedAddress != "" {
		node.Addresses = append(node.Addresses, cfg.Network.RpcAdvertizedAddress)
	} else {
		// Figure out the IP addresses and ports on which the RPCServer is listening
		for _, addr := range rpcServer.Addr() {
			if tcpAddr, ok := addr.(*net.TCPAddr); ok {
				if !tcpAddr.IP.IsLoopback() {
					node.Addresses = append(node.Addresses, tcpAddr.String())
				}
			}
		}
	}

	// Loopback only is fine without announcements, nobody would hear them
	if len(node.Addresses) == 0 && pubsub != nil {
		return nil, errors.New("no non-loopback addresses found")
	}

	log.Infof("Advertized RPC addresses: %s", node.Addresses)

	// Set up RPC Server
	node.RpcHandlers = server.New(node.NodeID, c)
	node.RpcServer = rpcServer
	if err := node.RpcServer.Register(node.RpcHandlers); err != nil {
		return nil, err
	}

	log.Infof("I am %s, listening on %s", node.NodeID.String(), node.Addresses)

	return node, nil
}

// This is run via the RunWithTicker() helper
func (n *Node) reap(ctx context.Context) error {
	if dropped := n.Canister.Reap(); dropped > 0 {
		log.Infof("Reaped %d abandoned batches", dropped)
	}
	return nil
}

func (n *Node) serveGateway(ctx context.Context) error {
	srv := &http.Server{
		Handler:           gateway.New(n.Canister).Handler(n.limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})
	defer stop()

	log.Infof("HTTP gateway listening on %s", n.Gateway.Addr())
	if err := srv.Serve(n.Gateway); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func (n *Node) Run(ctx context.Context) error {
	// Blocks orphaned by an interrupted commit
	if removed, err := n.Canister.CollectGarbage(); err != nil {
		log.Warnf("Garbage collection failed: %v", err)
	} else if removed > 0 {
		log.Infof("Removed %d unreferenced blocks", removed)
	}

	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return n.RpcServer.Serve(cctx)
	})

	wg.Go(func() error {
		interval := &timer.Interval{
			Duration: n.reapInterval,
			Jitter:   n.reapInterval / 10,
		}
		return timer.RunWithTicker(cctx, interval, n.reap)
	})

	if n.PubSub != nil {
		wg.Go(func() error {
			interval := &timer.Interval{
				Duration: n.announceInterval,
				Jitter:   n.announceInterval / 10,
			}
			return timer.RunWithTicker(cctx, interval, n.publishAnnouncement)
		})
	}

	if n.Gateway != nil {
		wg.Go(func() error {
			return n.serveGateway(cctx)
		})
	}

	err := wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
