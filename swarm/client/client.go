// Package client is the typed RPC client of the Notary service.
package client

import (
	"context"
	"errors"
	"time"

	"notary/assets"
	"notary/datamodel/asset"
	"notary/datamodel/grant"
	"notary/errs"
	"notary/httpstream"
	"notary/net/crpc"
	"notary/notary"
	"notary/principal"
	"notary/swarm/protocol"
)

type Client struct {
	*crpc.Client
}

// Dial connects to a notary node. Every call is made as caller.
func Dial(ctx context.Context, address string, caller principal.Principal) (*Client, error) {
	c, err := crpc.Dial(ctx, "tcp", address, crpc.Caller(caller))
	if err != nil {
		return nil, err
	}
	return &Client{Client: c}, nil
}

// call maps server errors back onto the errs taxonomy.
func (c *Client) call(ctx context.Context, method string, req any, res any) error {
	err := c.Client.Call(ctx, protocol.Service+"."+method, req, res)
	var serverErr crpc.ServerError
	if errors.As(err, &serverErr) {
		return errs.FromRemote(err)
	}
	return err
}

func (c *Client) Status(ctx context.Context) (*protocol.StatusResponse, error) {
	res := &protocol.StatusResponse{}
	if err := c.call(ctx, "Status", &protocol.Empty{}, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Access

func (c *Client) Authorize(ctx context.Context, p principal.Principal, role grant.Role) error {
	return c.call(ctx, "Authorize", &protocol.AuthorizeRequest{Principal: p, Role: role}, &protocol.Empty{})
}

func (c *Client) Deauthorize(ctx context.Context, p principal.Principal) error {
	return c.call(ctx, "Deauthorize", &protocol.DeauthorizeRequest{Principal: p}, &protocol.Empty{})
}

func (c *Client) ListAuthorized(ctx context.Context) ([]*grant.Grant, error) {
	res := &protocol.ListAuthorizedResponse{}
	if err := c.call(ctx, "ListAuthorized", &protocol.Empty{}, res); err != nil {
		return nil, err
	}
	return res.Grants, nil
}

// Uploads

func (c *Client) CreateBatch(ctx context.Context) (uint64, error) {
	res := &protocol.CreateBatchResponse{}
	if err := c.call(ctx, "CreateBatch", &protocol.Empty{}, res); err != nil {
		return 0, err
	}
	return res.BatchID, nil
}

func (c *Client) CreateChunk(ctx context.Context, batchID uint64, content []byte) (uint64, error) {
	res := &protocol.CreateChunkResponse{}
	if err := c.call(ctx, "CreateChunk", &protocol.CreateChunkRequest{BatchID: batchID, Content: content}, res); err != nil {
		return 0, err
	}
	return res.ChunkID, nil
}

func (c *Client) CommitBatch(ctx context.Context, batchID uint64, ops []asset.Operation) error {
	req := &protocol.CommitBatchRequest{BatchID: batchID}
	for _, op := range ops {
		req.Operations = append(req.Operations, protocol.NewBatchOperation(op))
	}
	return c.call(ctx, "CommitBatch", req, &protocol.Empty{})
}

func (c *Client) CreateAsset(ctx context.Context, op asset.CreateAsset) error {
	return c.call(ctx, "CreateAsset", protocol.NewBatchOperation(op).CreateAsset, &protocol.Empty{})
}

func (c *Client) SetAssetContent(ctx context.Context, op asset.SetAssetContent) error {
	return c.call(ctx, "SetAssetContent", protocol.NewBatchOperation(op).SetAssetContent, &protocol.Empty{})
}

func (c *Client) UnsetAssetContent(ctx context.Context, op asset.UnsetAssetContent) error {
	return c.call(ctx, "UnsetAssetContent", protocol.NewBatchOperation(op).UnsetAssetContent, &protocol.Empty{})
}

func (c *Client) DeleteAsset(ctx context.Context, op asset.DeleteAsset) error {
	return c.call(ctx, "DeleteAsset", protocol.NewBatchOperation(op).DeleteAsset, &protocol.Empty{})
}

func (c *Client) Store(ctx context.Context, args assets.StoreArgs) error {
	req := &protocol.StoreRequest{
		Key:             args.Key,
		ContentType:     args.ContentType,
		ContentEncoding: args.ContentEncoding,
		Content:         args.Content,
		Sha256:          args.Sha256,
	}
	return c.call(ctx, "Store", req, &protocol.Empty{})
}

func (c *Client) Clear(ctx context.Context) error {
	return c.call(ctx, "Clear", &protocol.Empty{}, &protocol.Empty{})
}

// Asset queries

func (c *Client) Get(ctx context.Context, key string, acceptEncodings []string) (*protocol.GetResponse, error) {
	res := &protocol.GetResponse{}
	if err := c.call(ctx, "Get", &protocol.GetRequest{Key: key, AcceptEncodings: acceptEncodings}, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) GetChunk(ctx context.Context, key, contentEncoding string, sha256 []byte, index uint64) ([]byte, error) {
	req := &protocol.GetChunkRequest{Key: key, ContentEncoding: contentEncoding, Sha256: sha256, Index: index}
	res := &protocol.GetChunkResponse{}
	if err := c.call(ctx, "GetChunk", req, res); err != nil {
		return nil, err
	}
	return res.Content, nil
}

func (c *Client) List(ctx context.Context) ([]protocol.AssetDetails, error) {
	res := &protocol.ListResponse{}
	if err := c.call(ctx, "List", &protocol.Empty{}, res); err != nil {
		return nil, err
	}
	return res.Assets, nil
}

func (c *Client) HttpRequest(ctx context.Context, req *httpstream.Request) (*httpstream.Response, error) {
	wire := protocol.NewHttpRequest(req)
	res := &protocol.HttpResponse{}
	if err := c.call(ctx, "HttpRequest", &wire, res); err != nil {
		return nil, err
	}
	return res.Response(), nil
}

func (c *Client) HttpRequestStreamCallback(ctx context.Context, token *httpstream.Token) (*httpstream.CallbackResponse, error) {
	res := &protocol.StreamingCallbackResponse{}
	if err := c.call(ctx, "HttpRequestStreamCallback", &protocol.StreamingCallbackRequest{Token: protocol.NewStreamingToken(token)}, res); err != nil {
		return nil, err
	}
	return &httpstream.CallbackResponse{Body: res.Body, Token: res.Token.Token()}, nil
}

// Records

func (c *Client) record(ctx context.Context, method string, req any) (*notary.View, error) {
	res := &protocol.RecordResponse{}
	if err := c.call(ctx, method, req, res); err != nil {
		return nil, err
	}
	return res.Record.View(), nil
}

func (c *Client) records(ctx context.Context, method string, req any) ([]*notary.View, error) {
	res := &protocol.RecordsResponse{}
	if err := c.call(ctx, method, req, res); err != nil {
		return nil, err
	}
	return protocol.Views(res.Records), nil
}

func (c *Client) ClaimLink(ctx context.Context, args notary.ClaimLinkArgs) (*notary.View, error) {
	return c.record(ctx, "ClaimLink", &protocol.ClaimLinkRequest{
		Link:        args.Link,
		CanisterID:  args.CanisterID,
		Description: args.Description,
		Visibility:  args.Visibility,
	})
}

func (c *Client) Notarize(ctx context.Context, args notary.NotarizeArgs) (*notary.View, error) {
	return c.record(ctx, "Notarize", &protocol.NotarizeRequest{
		Datum:       args.Datum,
		Hash:        args.Hash,
		Description: args.Description,
		Visibility:  args.Visibility,
	})
}

func (c *Client) SetLinkReserved(ctx context.Context, args notary.SetLinkReservedArgs) (*notary.View, error) {
	return c.record(ctx, "SetLinkReserved", &protocol.SetLinkReservedRequest{
		Link:        args.Link,
		CanisterID:  args.CanisterID,
		Description: args.Description,
		Expires:     args.Expires,
		Owner:       args.Owner,
	})
}

func (c *Client) RevealLink(ctx context.Context, link string) (*notary.View, error) {
	return c.record(ctx, "RevealLink", &protocol.LinkRequest{Link: link})
}

func (c *Client) UpdateLink(ctx context.Context, args notary.UpdateLinkArgs) (*notary.View, error) {
	return c.record(ctx, "UpdateLink", &protocol.UpdateLinkRequest{
		Link:        args.Link,
		CanisterID:  args.CanisterID,
		Description: args.Description,
	})
}

// GetLink returns nil without error when the link is not registered.
func (c *Client) GetLink(ctx context.Context, link string) (*notary.View, error) {
	return c.record(ctx, "GetLink", &protocol.LinkRequest{Link: link})
}

func (c *Client) GetLinks(ctx context.Context) ([]*notary.View, error) {
	return c.records(ctx, "GetLinks", &protocol.Empty{})
}

func (c *Client) GetDatum(ctx context.Context, fingerprint string) (*notary.View, error) {
	return c.record(ctx, "GetDatum", &protocol.GetDatumRequest{Fingerprint: fingerprint})
}

func (c *Client) GetData(ctx context.Context) ([]*notary.View, error) {
	return c.records(ctx, "GetData", &protocol.Empty{})
}

func (c *Client) GetUpdatedLinks(ctx context.Context, since time.Time) (*notary.UpdatedLinks, error) {
	res := &protocol.GetUpdatedLinksResponse{}
	if err := c.call(ctx, "GetUpdatedLinks", &protocol.GetUpdatedLinksRequest{Since: since}, res); err != nil {
		return nil, err
	}
	return res.UpdatedLinks(), nil
}

func (c *Client) Search(ctx context.Context, term string) ([]*notary.View, error) {
	return c.records(ctx, "Search", &protocol.SearchRequest{Term: term})
}
