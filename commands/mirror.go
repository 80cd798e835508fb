package commands

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"notary/config"
	"notary/datastore/leveldb"
	"notary/net/gateway"
	"notary/net/mpubsub"
	"notary/principal"
	"notary/swarm/client"
	"notary/swarm/mirror"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

func RunMirror(ctx context.Context, cfg *config.Config) {
	links, err := leveldb.NewLinkIndex(cfg.DataStore.LinkIndexPath)
	if err != nil {
		log.Fatalf("Failed to open link index: %v", err)
	}
	defer links.Close()

	nodes, err := leveldb.NewNodeIndex(cfg.DataStore.NodeIndexPath)
	if err != nil {
		log.Fatalf("Failed to open node index: %v", err)
	}
	defer nodes.Close()

	upstream := cfg.Mirror.Upstream
	dialUpstream := func(ctx context.Context) (mirror.Upstream, error) {
		return client.Dial(ctx, upstream, principal.Anonymous)
	}

	m := mirror.New(mirror.Config{
		PollInterval:     cfg.Mirror.PollInterval.D(),
		PollJitter:       cfg.Mirror.PollInterval.D() / 10,
		ClockSkew:        cfg.Mirror.ClockSkew.D(),
		RedirectTemplate: cfg.Mirror.RedirectTemplate,
		NotaryURL:        cfg.Mirror.NotaryURL,
	}, links, nodes, dialUpstream)

	httpl, err := net.Listen("tcp", cfg.Mirror.ListenAddress)
	if err != nil {
		log.Fatalf("Failed to create HTTP listener: %v", err)
	}
	srv := &http.Server{
		Handler:           gateway.WithRequestID(m),
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return m.Run(cctx)
	})

	wg.Go(func() error {
		stop := context.AfterFunc(cctx, func() { srv.Close() })
		defer stop()
		log.Infof("Mirror listening on %s, following %s", httpl.Addr(), upstream)
		if err := srv.Serve(httpl); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return cctx.Err()
	})

	if cfg.Network.PubSubMulticastAddress != "" {
		pubsub, err := mpubsub.Open(cfg.Network.PubSubMulticastAddress, cfg.Network.PubSubInterface)
		if err != nil {
			log.Fatalf("Failed to open multicast pubsub: %v", err)
		}
		defer pubsub.Close()
		pubsub.Register(m.Announcements())
		wg.Go(func() error {
			return pubsub.Listen(cctx)
		})
	}

	if err := wg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Mirror failed: %v", err)
	}
}
