// Package mirror follows the change feed of a notary node and answers link
// lookups over plain HTTP with redirects to the canister a link names.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notary/datamodel/link"
	"notary/datamodel/node"
	"notary/errs"
	"notary/helper/timer"
	"notary/notary"
	"notary/swarm/protocol"

	"golang.org/x/sync/singleflight"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultPollInterval     = 30 * time.Second
	DefaultClockSkew        = 10 * time.Second
	DefaultRedirectTemplate = "https://{}.ic0.app"
)

// Upstream is the part of the notary RPC surface the mirror reads.
// client.Client implements it.
type Upstream interface {
	Status(ctx context.Context) (*protocol.StatusResponse, error)
	GetUpdatedLinks(ctx context.Context, since time.Time) (*notary.UpdatedLinks, error)
	Close() error
}

// Dialer opens a connection to the followed notary.
type Dialer func(ctx context.Context) (Upstream, error)

type Config struct {
	PollInterval     time.Duration
	PollJitter       time.Duration
	ClockSkew        time.Duration // Checkpoints are rewound by this much
	RedirectTemplate string        // "{}" is replaced with the canister id
	NotaryURL        string        // Where "/" redirects
	CallTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:     DefaultPollInterval,
		PollJitter:       DefaultPollInterval / 10,
		ClockSkew:        DefaultClockSkew,
		RedirectTemplate: DefaultRedirectTemplate,
		CallTimeout:      30 * time.Second,
	}
}

type Mirror struct {
	cfg   Config
	links link.LinkIndex
	nodes node.NodeIndex
	dial  Dialer
	now   func() time.Time

	sg      singleflight.Group
	trigger chan struct{}
}

func New(cfg Config, links link.LinkIndex, nodes node.NodeIndex, dial Dialer) *Mirror {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ClockSkew < 0 {
		cfg.ClockSkew = 0
	}
	if cfg.RedirectTemplate == "" {
		cfg.RedirectTemplate = def.RedirectTemplate
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	return &Mirror{
		cfg:     cfg,
		links:   links,
		nodes:   nodes,
		dial:    dial,
		now:     time.Now,
		trigger: make(chan struct{}, 1),
	}
}

// Trigger asks the run loop for a sync as soon as possible. Requests made
// while one is pending are merged.
func (m *Mirror) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Sync fetches the changes since the stored checkpoint of the upstream node
// and applies them. Concurrent calls share one round trip.
func (m *Mirror) Sync(ctx context.Context) (int, error) {
	n, err, _ := m.sg.Do("sync", func() (any, error) {
		return m.sync(ctx)
	})
	if err != nil {
		return 0, err
	}
	return n.(int), nil
}

func (m *Mirror) sync(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	up, err := m.dial(ctx)
	if err != nil {
		return 0, fmt.Errorf("connect to upstream: %w", err)
	}
	defer up.Close()

	status, err := up.Status(ctx)
	if err != nil {
		return 0, fmt.Errorf("upstream status: %w", err)
	}

	md, err := m.nodes.Get(&status.NodeID)
	if errors.Is(err, errs.ErrNotFound) {
		log.Infof("Following new notary node %s", status.NodeID.String())
		md = &node.Metadata{NodeID: status.NodeID}
	} else if err != nil {
		return 0, err
	}

	since := md.Since()
	changes, err := up.GetUpdatedLinks(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("get updated links since %s: %w", since.Format(time.RFC3339Nano), err)
	}

	if err := m.apply(changes.Links); err != nil {
		return 0, err
	}

	md.Advance(changes.Checkpoint, m.cfg.ClockSkew)
	md.SequenceNumber = status.Sequence
	md.LastSeen = m.now()
	if _, err := m.nodes.Put(md); err != nil {
		return 0, fmt.Errorf("failed to update node metadata: %w", err)
	}

	if len(changes.Links) > 0 {
		log.Infof("Mirror: applied %d link changes from %s", len(changes.Links), status.NodeID.String())
	}
	return len(changes.Links), nil
}

// apply stores links that name a canister and forgets the rest: a change
// without one means the link lost it or the mirror may no longer see it.
func (m *Mirror) apply(updates []notary.UpdatedLink) error {
	for _, u := range updates {
		if u.CanisterID == nil {
			if err := m.links.Delete(u.Link); err != nil {
				return err
			}
			continue
		}
		if err := m.links.Put(&link.Link{Name: u.Link, CanisterID: *u.CanisterID, Updated: u.Updated}); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the canister of name, or an error wrapping
// errs.ErrNotFound.
func (m *Mirror) Lookup(name string) (string, error) {
	l, err := m.links.Get(name)
	if err != nil {
		return "", err
	}
	return l.CanisterID, nil
}

func (m *Mirror) poll(ctx context.Context) error {
	if _, err := m.Sync(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warnf("Mirror sync failed: %v", err)
	}
	return nil
}

// Run syncs once and then on every tick or trigger until ctx is cancelled.
// Failed syncs are logged and retried on the next tick.
func (m *Mirror) Run(ctx context.Context) error {
	if err := m.poll(ctx); err != nil {
		return err
	}
	interval := &timer.Interval{
		Duration: m.cfg.PollInterval,
		Jitter:   m.cfg.PollJitter,
	}
	return timer.RunWithTrigger(ctx, interval, m.trigger, m.poll)
}
