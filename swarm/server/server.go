// Package server exposes the canister as the Notary RPC service.
package server

import (
	"notary/canister"
	"notary/net/crpc"
	"notary/oid"
	"notary/principal"
	"notary/swarm/protocol"

	log "github.com/sirupsen/logrus"
)

// Notary is registered with crpc; its name is the service name.
type Notary struct {
	nodeID   oid.Oid
	canister *canister.Canister
}

func New(nodeID *oid.Oid, c *canister.Canister) *Notary {
	return &Notary{nodeID: *nodeID, canister: c}
}

func who(caller crpc.Caller) principal.Principal {
	return principal.Principal(caller)
}

// RPC: Status
func (n *Notary) Status(req *protocol.Empty, res *protocol.StatusResponse) error {
	assets, batches, err := n.canister.Stats()
	if err != nil {
		return err
	}
	res.NodeID = n.nodeID
	res.Sequence = n.canister.Sequence()
	res.Assets = uint64(assets)
	res.Batches = uint64(batches)
	return nil
}

// Access

func (n *Notary) Authorize(caller crpc.Caller, req *protocol.AuthorizeRequest, res *protocol.Empty) error {
	log.Infof("Notary.Authorize %s as %s by %s", req.Principal, req.Role, who(caller))
	return n.canister.Authorize(who(caller), req.Principal, req.Role)
}

func (n *Notary) Deauthorize(caller crpc.Caller, req *protocol.DeauthorizeRequest, res *protocol.Empty) error {
	log.Infof("Notary.Deauthorize %s by %s", req.Principal, who(caller))
	return n.canister.Deauthorize(who(caller), req.Principal)
}

func (n *Notary) ListAuthorized(caller crpc.Caller, req *protocol.Empty, res *protocol.ListAuthorizedResponse) error {
	grants, err := n.canister.ListAuthorized(who(caller))
	if err != nil {
		return err
	}
	res.Grants = grants
	return nil
}

// Uploads

func (n *Notary) CreateBatch(caller crpc.Caller, req *protocol.Empty, res *protocol.CreateBatchResponse) error {
	id, err := n.canister.CreateBatch(who(caller))
	if err != nil {
		return err
	}
	res.BatchID = id
	return nil
}

func (n *Notary) CreateChunk(caller crpc.Caller, req *protocol.CreateChunkRequest, res *protocol.CreateChunkResponse) error {
	id, err := n.canister.CreateChunk(who(caller), req.BatchID, req.Content)
	if err != nil {
		return err
	}
	res.ChunkID = id
	return nil
}

func (n *Notary) CommitBatch(caller crpc.Caller, req *protocol.CommitBatchRequest, res *protocol.Empty) error {
	ops, err := req.AssetOperations()
	if err != nil {
		return err
	}
	log.Debugf("Notary.CommitBatch %d: %d operations", req.BatchID, len(ops))
	return n.canister.CommitBatch(who(caller), req.BatchID, ops)
}

func (n *Notary) CreateAsset(caller crpc.Caller, req *protocol.CreateAssetArgs, res *protocol.Empty) error {
	return n.canister.CreateAsset(who(caller), req.Operation())
}

func (n *Notary) SetAssetContent(caller crpc.Caller, req *protocol.SetAssetContentArgs, res *protocol.Empty) error {
	return n.canister.SetAssetContent(who(caller), req.Operation())
}

func (n *Notary) UnsetAssetContent(caller crpc.Caller, req *protocol.UnsetAssetContentArgs, res *protocol.Empty) error {
	return n.canister.UnsetAssetContent(who(caller), req.Operation())
}

func (n *Notary) DeleteAsset(caller crpc.Caller, req *protocol.DeleteAssetArgs, res *protocol.Empty) error {
	return n.canister.DeleteAsset(who(caller), req.Operation())
}

func (n *Notary) Store(caller crpc.Caller, req *protocol.StoreRequest, res *protocol.Empty) error {
	return n.canister.Store(who(caller), req.Args())
}

func (n *Notary) Clear(caller crpc.Caller, req *protocol.Empty, res *protocol.Empty) error {
	log.Warnf("Notary.Clear by %s", who(caller))
	return n.canister.Clear(who(caller))
}

// Asset queries

func (n *Notary) Get(req *protocol.GetRequest, res *protocol.GetResponse) error {
	r, err := n.canister.Get(req.Key, req.AcceptEncodings)
	if err != nil {
		return err
	}
	*res = protocol.NewGetResponse(r)
	return nil
}

func (n *Notary) GetChunk(req *protocol.GetChunkRequest, res *protocol.GetChunkResponse) error {
	content, err := n.canister.GetChunk(req.Key, req.ContentEncoding, req.Sha256, req.Index)
	if err != nil {
		return err
	}
	res.Content = content
	return nil
}

func (n *Notary) List(req *protocol.Empty, res *protocol.ListResponse) error {
	list, err := n.canister.List()
	if err != nil {
		return err
	}
	*res = protocol.NewListResponse(list)
	return nil
}

func (n *Notary) HttpRequest(req *protocol.HttpRequest, res *protocol.HttpResponse) error {
	r, err := n.canister.HttpRequest(req.Request())
	if err != nil {
		return err
	}
	*res = protocol.NewHttpResponse(r)
	return nil
}

func (n *Notary) HttpRequestStreamCallback(req *protocol.StreamingCallbackRequest, res *protocol.StreamingCallbackResponse) error {
	r, err := n.canister.HttpRequestStreamCallback(req.Token.Token())
	if err != nil {
		return err
	}
	res.Body = r.Body
	res.Token = protocol.NewStreamingToken(r.Token)
	return nil
}

// Records

func (n *Notary) ClaimLink(caller crpc.Caller, req *protocol.ClaimLinkRequest, res *protocol.RecordResponse) error {
	v, err := n.canister.ClaimLink(who(caller), req.Args())
	if err != nil {
		return err
	}
	res.Record = protocol.NewRecord(v)
	return nil
}

func (n *Notary) Notarize(caller crpc.Caller, req *protocol.NotarizeRequest, res *protocol.RecordResponse) error {
	v, err := n.canister.Notarize(who(caller), req.Args())
	if err != nil {
		return err
	}
	res.Record = protocol.NewRecord(v)
	return nil
}

func (n *Notary) SetLinkReserved(caller crpc.Caller, req *protocol.SetLinkReservedRequest, res *protocol.RecordResponse) error {
	v, err := n.canister.SetLinkReserved(who(caller), req.Args())
	if err != nil {
		return err
	}
	res.Record = protocol.NewRecord(v)
	return nil
}

func (n *Notary) RevealLink(caller crpc.Caller, req *protocol.LinkRequest, res *protocol.RecordResponse) error {
	v, err := n.canister.RevealLink(who(caller), req.Link)
	if err != nil {
		return err
	}
	res.Record = protocol.NewRecord(v)
	return nil
}

func (n *Notary) UpdateLink(caller crpc.Caller, req *protocol.UpdateLinkRequest, res *protocol.RecordResponse) error {
	v, err := n.canister.UpdateLink(who(caller), req.Args())
	if err != nil {
		return err
	}
	res.Record = protocol.NewRecord(v)
	return nil
}

func (n *Notary) GetLink(caller crpc.Caller, req *protocol.LinkRequest, res *protocol.RecordResponse) error {
	v, err := n.canister.GetLink(who(caller), req.Link)
	if err != nil {
		return err
	}
	res.Record = protocol.NewRecord(v)
	return nil
}

func (n *Notary) GetLinks(caller crpc.Caller, req *protocol.Empty, res *protocol.RecordsResponse) error {
	views, err := n.canister.GetLinks(who(caller))
	if err != nil {
		return err
	}
	res.Records = protocol.NewRecords(views)
	return nil
}

func (n *Notary) GetDatum(caller crpc.Caller, req *protocol.GetDatumRequest, res *protocol.RecordResponse) error {
	v, err := n.canister.GetDatum(who(caller), req.Fingerprint)
	if err != nil {
		return err
	}
	res.Record = protocol.NewRecord(v)
	return nil
}

func (n *Notary) GetData(caller crpc.Caller, req *protocol.Empty, res *protocol.RecordsResponse) error {
	views, err := n.canister.GetData(who(caller))
	if err != nil {
		return err
	}
	res.Records = protocol.NewRecords(views)
	return nil
}

func (n *Notary) GetUpdatedLinks(caller crpc.Caller, req *protocol.GetUpdatedLinksRequest, res *protocol.GetUpdatedLinksResponse) error {
	u, err := n.canister.GetUpdatedLinks(who(caller), req.Since)
	if err != nil {
		return err
	}
	*res = protocol.NewGetUpdatedLinksResponse(u)
	return nil
}

func (n *Notary) Search(caller crpc.Caller, req *protocol.SearchRequest, res *protocol.RecordsResponse) error {
	views, err := n.canister.Search(who(caller), req.Term)
	if err != nil {
		return err
	}
	res.Records = protocol.NewRecords(views)
	return nil
}
