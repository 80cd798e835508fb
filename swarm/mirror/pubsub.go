package mirror

import (
	"errors"

	"notary/errs"
	"notary/swarm/protocol"

	log "github.com/sirupsen/logrus"
)

// Announcements receives node announcements over mpubsub.
type Announcements struct {
	mirror *Mirror
}

func (m *Mirror) Announcements() *Announcements {
	return &Announcements{mirror: m}
}

// NotaryAnnouncement triggers a sync when the announced sequence differs
// from the one last synced. Sequences restart with the node, so any
// difference counts.
func (a *Announcements) NotaryAnnouncement(msg *protocol.NotaryAnnouncement) {
	log.Debugf("NotaryAnnouncement: node: %s, addresses: %s, seq: %d", msg.NodeID.String(), msg.Addresses, msg.Sequence)

	md, err := a.mirror.nodes.Get(&msg.NodeID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
	case err != nil:
		log.Errorf("Failed to load node metadata: %v", err)
		return
	case md.SequenceNumber == msg.Sequence:
		return
	}

	a.mirror.Trigger()
}
