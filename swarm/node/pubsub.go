package node

import (
	"context"

	"notary/swarm/protocol"

	log "github.com/sirupsen/logrus"
)

// This is run via the RunWithTicker() helper. A failed publish is logged
// and retried on the next tick.
func (n *Node) publishAnnouncement(ctx context.Context) error {
	msg := &protocol.NotaryAnnouncement{
		NodeID:    *n.NodeID,
		Addresses: n.Addresses,
		Sequence:  n.Canister.Sequence(),
	}

	if err := n.PubSub.Publish(protocol.AnnouncementTopic, msg); err != nil {
		log.Errorf("Failed to publish announcement: %v", err)
		return nil
	}

	if msg.Sequence != n.lastAnnounced {
		log.Debugf("Announced sequence %d", msg.Sequence)
		n.lastAnnounced = msg.Sequence
	}
	return nil
}
