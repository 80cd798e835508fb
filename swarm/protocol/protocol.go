// Package protocol holds the CBOR wire messages of the notary RPC surface
// and of the multicast announcements, with conversions to the service types.
package protocol

import (
	"fmt"
	"time"

	"notary/assets"
	"notary/datamodel/asset"
	"notary/datamodel/grant"
	"notary/datamodel/record"
	"notary/errs"
	"notary/httpstream"
	"notary/notary"
	"notary/oid"
	"notary/principal"
)

// Service is the RPC service name the notary methods are registered under.
const Service = "Notary"

// AnnouncementTopic is the mpubsub method node announcements are published to.
const AnnouncementTopic = "Announcements.NotaryAnnouncement"

// Empty is the argument or reply of methods that carry none.
type Empty struct{}

// Announcements

type NotaryAnnouncement struct {
	NodeID    oid.Oid  `cbor:"1,keyasint,omitempty"` // Node identifier
	Addresses []string `cbor:"2,keyasint,omitempty"` // Node RPC addresses and ports
	Sequence  uint64   `cbor:"3,keyasint,omitempty"` // Record mutations since the node started
}

// Access

type AuthorizeRequest struct {
	Principal principal.Principal `cbor:"1,keyasint,omitempty"`
	Role      grant.Role          `cbor:"2,keyasint,omitempty"`
}

type DeauthorizeRequest struct {
	Principal principal.Principal `cbor:"1,keyasint,omitempty"`
}

type ListAuthorizedResponse struct {
	Grants []*grant.Grant `cbor:"1,keyasint,omitempty"`
}

// Uploads

type CreateBatchResponse struct {
	BatchID uint64 `cbor:"1,keyasint,omitempty"`
}

type CreateChunkRequest struct {
	BatchID uint64 `cbor:"1,keyasint,omitempty"`
	Content []byte `cbor:"2,keyasint,omitempty"`
}

type CreateChunkResponse struct {
	ChunkID uint64 `cbor:"1,keyasint,omitempty"`
}

type CreateAssetArgs struct {
	Key         string `cbor:"1,keyasint,omitempty"`
	ContentType string `cbor:"2,keyasint,omitempty"`
}

type SetAssetContentArgs struct {
	Key             string   `cbor:"1,keyasint,omitempty"`
	ContentEncoding string   `cbor:"2,keyasint,omitempty"`
	ChunkIDs        []uint64 `cbor:"3,keyasint,omitempty"`
	Sha256          []byte   `cbor:"4,keyasint,omitempty"`
}

type UnsetAssetContentArgs struct {
	Key             string `cbor:"1,keyasint,omitempty"`
	ContentEncoding string `cbor:"2,keyasint,omitempty"`
}

type DeleteAssetArgs struct {
	Key string `cbor:"1,keyasint,omitempty"`
}

type ClearArgs struct{}

// BatchOperation is one commit step. Exactly one field is set.
type BatchOperation struct {
	CreateAsset       *CreateAssetArgs       `cbor:"1,keyasint,omitempty"`
	SetAssetContent   *SetAssetContentArgs   `cbor:"2,keyasint,omitempty"`
	UnsetAssetContent *UnsetAssetContentArgs `cbor:"3,keyasint,omitempty"`
	DeleteAsset       *DeleteAssetArgs       `cbor:"4,keyasint,omitempty"`
	Clear             *ClearArgs             `cbor:"5,keyasint,omitempty"`
}

// Operation converts the wire form into an asset operation.
func (b *BatchOperation) Operation() (asset.Operation, error) {
	var ops []asset.Operation
	if b.CreateAsset != nil {
		ops = append(ops, b.CreateAsset.Operation())
	}
	if b.SetAssetContent != nil {
		ops = append(ops, b.SetAssetContent.Operation())
	}
	if b.UnsetAssetContent != nil {
		ops = append(ops, b.UnsetAssetContent.Operation())
	}
	if b.DeleteAsset != nil {
		ops = append(ops, b.DeleteAsset.Operation())
	}
	if b.Clear != nil {
		ops = append(ops, asset.Clear{})
	}
	if len(ops) != 1 {
		return nil, fmt.Errorf("%w: batch operation must set exactly one variant, got %d", errs.ErrInvalidArgument, len(ops))
	}
	return ops[0], nil
}

func (a *CreateAssetArgs) Operation() asset.CreateAsset {
	return asset.CreateAsset{Key: a.Key, ContentType: a.ContentType}
}

func (a *SetAssetContentArgs) Operation() asset.SetAssetContent {
	return asset.SetAssetContent{Key: a.Key, ContentEncoding: a.ContentEncoding, ChunkIDs: a.ChunkIDs, Sha256: a.Sha256}
}

func (a *UnsetAssetContentArgs) Operation() asset.UnsetAssetContent {
	return asset.UnsetAssetContent{Key: a.Key, ContentEncoding: a.ContentEncoding}
}

func (a *DeleteAssetArgs) Operation() asset.DeleteAsset {
	return asset.DeleteAsset{Key: a.Key}
}

// NewBatchOperation is the inverse of BatchOperation.Operation.
func NewBatchOperation(op asset.Operation) BatchOperation {
	switch o := op.(type) {
	case asset.CreateAsset:
		return BatchOperation{CreateAsset: &CreateAssetArgs{Key: o.Key, ContentType: o.ContentType}}
	case asset.SetAssetContent:
		return BatchOperation{SetAssetContent: &SetAssetContentArgs{Key: o.Key, ContentEncoding: o.ContentEncoding, ChunkIDs: o.ChunkIDs, Sha256: o.Sha256}}
	case asset.UnsetAssetContent:
		return BatchOperation{UnsetAssetContent: &UnsetAssetContentArgs{Key: o.Key, ContentEncoding: o.ContentEncoding}}
	case asset.DeleteAsset:
		return BatchOperation{DeleteAsset: &DeleteAssetArgs{Key: o.Key}}
	case asset.Clear:
		return BatchOperation{Clear: &ClearArgs{}}
	}
	panic(fmt.Sprintf("protocol: unknown operation %T", op))
}

type CommitBatchRequest struct {
	BatchID    uint64           `cbor:"1,keyasint,omitempty"`
	Operations []BatchOperation `cbor:"2,keyasint,omitempty"`
}

// AssetOperations converts every step, failing on the first malformed one.
func (r *CommitBatchRequest) AssetOperations() ([]asset.Operation, error) {
	ops := make([]asset.Operation, 0, len(r.Operations))
	for i := range r.Operations {
		op, err := r.Operations[i].Operation()
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

type StoreRequest struct {
	Key             string `cbor:"1,keyasint,omitempty"`
	ContentType     string `cbor:"2,keyasint,omitempty"`
	ContentEncoding string `cbor:"3,keyasint,omitempty"`
	Content         []byte `cbor:"4,keyasint,omitempty"`
	Sha256          []byte `cbor:"5,keyasint,omitempty"`
}

func (r *StoreRequest) Args() assets.StoreArgs {
	return assets.StoreArgs{
		Key:             r.Key,
		Content:         r.Content,
		ContentType:     r.ContentType,
		ContentEncoding: r.ContentEncoding,
		Sha256:          r.Sha256,
	}
}

// Asset queries

type GetRequest struct {
	Key             string   `cbor:"1,keyasint,omitempty"`
	AcceptEncodings []string `cbor:"2,keyasint,omitempty"`
}

type GetResponse struct {
	Content         []byte `cbor:"1,keyasint,omitempty"`
	ContentType     string `cbor:"2,keyasint,omitempty"`
	ContentEncoding string `cbor:"3,keyasint,omitempty"`
	TotalLength     uint64 `cbor:"4,keyasint,omitempty"`
	Sha256          []byte `cbor:"5,keyasint,omitempty"`
}

func NewGetResponse(r *assets.GetResult) GetResponse {
	return GetResponse{
		Content:         r.Content,
		ContentType:     r.ContentType,
		ContentEncoding: r.ContentEncoding,
		TotalLength:     r.TotalLength,
		Sha256:          r.Sha256[:],
	}
}

type GetChunkRequest struct {
	Key             string `cbor:"1,keyasint,omitempty"`
	ContentEncoding string `cbor:"2,keyasint,omitempty"`
	Index           uint64 `cbor:"3,keyasint,omitempty"`
	Sha256          []byte `cbor:"4,keyasint,omitempty"`
}

type GetChunkResponse struct {
	Content []byte `cbor:"1,keyasint,omitempty"`
}

type EncodingDetails struct {
	ContentEncoding string    `cbor:"1,keyasint,omitempty"`
	Sha256          []byte    `cbor:"2,keyasint,omitempty"`
	Length          uint64    `cbor:"3,keyasint,omitempty"`
	Modified        time.Time `cbor:"4,keyasint"`
}

type AssetDetails struct {
	Key         string            `cbor:"1,keyasint,omitempty"`
	ContentType string            `cbor:"2,keyasint,omitempty"`
	Encodings   []EncodingDetails `cbor:"3,keyasint,omitempty"`
}

type ListResponse struct {
	Assets []AssetDetails `cbor:"1,keyasint,omitempty"`
}

func NewListResponse(list []*assets.AssetDetails) ListResponse {
	res := ListResponse{Assets: make([]AssetDetails, 0, len(list))}
	for _, a := range list {
		d := AssetDetails{Key: a.Key, ContentType: a.ContentType}
		for _, e := range a.Encodings {
			d.Encodings = append(d.Encodings, EncodingDetails{
				ContentEncoding: e.ContentEncoding,
				Sha256:          append([]byte(nil), e.Sha256[:]...),
				Length:          e.Length,
				Modified:        e.Modified,
			})
		}
		res.Assets = append(res.Assets, d)
	}
	return res
}

// HTTP

type HeaderField struct {
	_     struct{} `cbor:",toarray"`
	Name  string
	Value string
}

type StreamingToken struct {
	Key             string `cbor:"1,keyasint,omitempty"`
	ContentEncoding string `cbor:"2,keyasint,omitempty"`
	Index           uint64 `cbor:"3,keyasint,omitempty"`
	Sha256          []byte `cbor:"4,keyasint,omitempty"`
}

type HttpRequest struct {
	Method  string        `cbor:"1,keyasint,omitempty"`
	URL     string        `cbor:"2,keyasint,omitempty"`
	Headers []HeaderField `cbor:"3,keyasint,omitempty"`
	Body    []byte        `cbor:"4,keyasint,omitempty"`
}

type HttpResponse struct {
	StatusCode uint16          `cbor:"1,keyasint,omitempty"`
	Headers    []HeaderField   `cbor:"2,keyasint,omitempty"`
	Body       []byte          `cbor:"3,keyasint,omitempty"`
	Token      *StreamingToken `cbor:"4,keyasint,omitempty"`
}

type StreamingCallbackRequest struct {
	Token *StreamingToken `cbor:"1,keyasint,omitempty"`
}

type StreamingCallbackResponse struct {
	Body  []byte          `cbor:"1,keyasint,omitempty"`
	Token *StreamingToken `cbor:"2,keyasint,omitempty"`
}

func headersFrom(h []httpstream.HeaderField) []HeaderField {
	if h == nil {
		return nil
	}
	out := make([]HeaderField, len(h))
	for i, f := range h {
		out[i] = HeaderField{Name: f.Name, Value: f.Value}
	}
	return out
}

func headersTo(h []HeaderField) []httpstream.HeaderField {
	if h == nil {
		return nil
	}
	out := make([]httpstream.HeaderField, len(h))
	for i, f := range h {
		out[i] = httpstream.HeaderField{Name: f.Name, Value: f.Value}
	}
	return out
}

func NewStreamingToken(t *httpstream.Token) *StreamingToken {
	if t == nil {
		return nil
	}
	return &StreamingToken{Key: t.Key, ContentEncoding: t.ContentEncoding, Index: t.Index, Sha256: t.Sha256}
}

func (t *StreamingToken) Token() *httpstream.Token {
	if t == nil {
		return nil
	}
	return &httpstream.Token{Key: t.Key, ContentEncoding: t.ContentEncoding, Index: t.Index, Sha256: t.Sha256}
}

func NewHttpRequest(r *httpstream.Request) HttpRequest {
	return HttpRequest{Method: r.Method, URL: r.URL, Headers: headersFrom(r.Headers), Body: r.Body}
}

func (r *HttpRequest) Request() *httpstream.Request {
	return &httpstream.Request{Method: r.Method, URL: r.URL, Headers: headersTo(r.Headers), Body: r.Body}
}

func NewHttpResponse(r *httpstream.Response) HttpResponse {
	return HttpResponse{StatusCode: r.StatusCode, Headers: headersFrom(r.Headers), Body: r.Body, Token: NewStreamingToken(r.Token)}
}

func (r *HttpResponse) Response() *httpstream.Response {
	return &httpstream.Response{StatusCode: r.StatusCode, Headers: headersTo(r.Headers), Body: r.Body, Token: r.Token.Token()}
}

// Records

type Record struct {
	Fingerprint string               `cbor:"1,keyasint,omitempty"`
	Kind        record.Kind          `cbor:"2,keyasint,omitempty"`
	State       record.State         `cbor:"3,keyasint,omitempty"`
	Owner       *principal.Principal `cbor:"4,keyasint,omitempty"`
	ReservedFor *principal.Principal `cbor:"5,keyasint,omitempty"`
	Description string               `cbor:"6,keyasint,omitempty"`
	Created     time.Time            `cbor:"7,keyasint"`
	Updated     time.Time            `cbor:"8,keyasint"`
	Expires     *time.Time           `cbor:"9,keyasint,omitempty"`
	Visibility  record.Visibility    `cbor:"10,keyasint,omitempty"`
	CanisterID  *string              `cbor:"11,keyasint,omitempty"`
	HasDatum    bool                 `cbor:"12,keyasint,omitempty"`
	Datum       []byte               `cbor:"13,keyasint,omitempty"`
}

func NewRecord(v *notary.View) *Record {
	if v == nil {
		return nil
	}
	return &Record{
		Fingerprint: v.Fingerprint,
		Kind:        v.Kind,
		State:       v.State,
		Owner:       v.Owner,
		ReservedFor: v.ReservedFor,
		Description: v.Description,
		Created:     v.Created,
		Updated:     v.Updated,
		Expires:     v.Expires,
		Visibility:  v.Visibility,
		CanisterID:  v.CanisterID,
		HasDatum:    v.HasDatum,
		Datum:       v.Datum,
	}
}

func (r *Record) View() *notary.View {
	if r == nil {
		return nil
	}
	return &notary.View{
		Fingerprint: r.Fingerprint,
		Kind:        r.Kind,
		State:       r.State,
		Owner:       r.Owner,
		ReservedFor: r.ReservedFor,
		Description: r.Description,
		Created:     r.Created,
		Updated:     r.Updated,
		Expires:     r.Expires,
		Visibility:  r.Visibility,
		CanisterID:  r.CanisterID,
		HasDatum:    r.HasDatum,
		Datum:       r.Datum,
	}
}

func NewRecords(views []*notary.View) []*Record {
	out := make([]*Record, 0, len(views))
	for _, v := range views {
		out = append(out, NewRecord(v))
	}
	return out
}

func Views(records []*Record) []*notary.View {
	out := make([]*notary.View, 0, len(records))
	for _, r := range records {
		out = append(out, r.View())
	}
	return out
}

type ClaimLinkRequest struct {
	Link        string             `cbor:"1,keyasint,omitempty"`
	CanisterID  *string            `cbor:"2,keyasint,omitempty"`
	Description *string            `cbor:"3,keyasint,omitempty"`
	Visibility  *record.Visibility `cbor:"4,keyasint,omitempty"`
}

func (r *ClaimLinkRequest) Args() notary.ClaimLinkArgs {
	return notary.ClaimLinkArgs{Link: r.Link, CanisterID: r.CanisterID, Description: r.Description, Visibility: r.Visibility}
}

type NotarizeRequest struct {
	Datum       []byte             `cbor:"1,keyasint,omitempty"`
	Hash        []byte             `cbor:"2,keyasint,omitempty"`
	Description *string            `cbor:"3,keyasint,omitempty"`
	Visibility  *record.Visibility `cbor:"4,keyasint,omitempty"`
}

func (r *NotarizeRequest) Args() notary.NotarizeArgs {
	return notary.NotarizeArgs{Datum: r.Datum, Hash: r.Hash, Description: r.Description, Visibility: r.Visibility}
}

type SetLinkReservedRequest struct {
	Link        string               `cbor:"1,keyasint,omitempty"`
	CanisterID  *string              `cbor:"2,keyasint,omitempty"`
	Description *string              `cbor:"3,keyasint,omitempty"`
	Expires     time.Time            `cbor:"4,keyasint"`
	Owner       *principal.Principal `cbor:"5,keyasint,omitempty"`
}

func (r *SetLinkReservedRequest) Args() notary.SetLinkReservedArgs {
	return notary.SetLinkReservedArgs{Link: r.Link, CanisterID: r.CanisterID, Description: r.Description, Expires: r.Expires, Owner: r.Owner}
}

type UpdateLinkRequest struct {
	Link        string  `cbor:"1,keyasint,omitempty"`
	CanisterID  *string `cbor:"2,keyasint,omitempty"`
	Description *string `cbor:"3,keyasint,omitempty"`
}

func (r *UpdateLinkRequest) Args() notary.UpdateLinkArgs {
	return notary.UpdateLinkArgs{Link: r.Link, CanisterID: r.CanisterID, Description: r.Description}
}

type LinkRequest struct {
	Link string `cbor:"1,keyasint,omitempty"`
}

type GetDatumRequest struct {
	Fingerprint string `cbor:"1,keyasint,omitempty"`
}

type RecordResponse struct {
	Record *Record `cbor:"1,keyasint,omitempty"`
}

type RecordsResponse struct {
	Records []*Record `cbor:"1,keyasint,omitempty"`
}

type SearchRequest struct {
	Term string `cbor:"1,keyasint,omitempty"`
}

type GetUpdatedLinksRequest struct {
	Since time.Time `cbor:"1,keyasint"`
}

type UpdatedLink struct {
	Link       string    `cbor:"1,keyasint,omitempty"`
	CanisterID *string   `cbor:"2,keyasint,omitempty"`
	Updated    time.Time `cbor:"3,keyasint"`
}

type GetUpdatedLinksResponse struct {
	Links      []UpdatedLink `cbor:"1,keyasint,omitempty"`
	Checkpoint time.Time     `cbor:"2,keyasint"`
}

func NewGetUpdatedLinksResponse(u *notary.UpdatedLinks) GetUpdatedLinksResponse {
	res := GetUpdatedLinksResponse{Checkpoint: u.Checkpoint}
	for _, l := range u.Links {
		res.Links = append(res.Links, UpdatedLink{Link: l.Link, CanisterID: l.CanisterID, Updated: l.Updated})
	}
	return res
}

func (r *GetUpdatedLinksResponse) UpdatedLinks() *notary.UpdatedLinks {
	u := &notary.UpdatedLinks{Checkpoint: r.Checkpoint, Links: make([]notary.UpdatedLink, 0, len(r.Links))}
	for _, l := range r.Links {
		u.Links = append(u.Links, notary.UpdatedLink{Link: l.Link, CanisterID: l.CanisterID, Updated: l.Updated})
	}
	return u
}

// Status

type StatusResponse struct {
	NodeID   oid.Oid `cbor:"1,keyasint,omitempty"`
	Sequence uint64  `cbor:"2,keyasint,omitempty"`
	Assets   uint64  `cbor:"3,keyasint,omitempty"`
	Batches  uint64  `cbor:"4,keyasint,omitempty"` // Batches in progress
}
