// Package canister is the service facade. Mutating calls run one at a time
// under the write lock, queries share the read lock, and authorization is
// checked before any state is touched.
package canister

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"notary/access"
	"notary/assets"
	"notary/datamodel/asset"
	"notary/datamodel/grant"
	"notary/httpstream"
	"notary/notary"
	"notary/principal"

	log "github.com/sirupsen/logrus"
)

type Canister struct {
	mu      sync.RWMutex
	assets  *assets.Registry
	records *notary.Registry
	policy  access.Policy

	// Bumped by every record mutation, announced to mirrors
	seq atomic.Uint64
}

func New(a *assets.Registry, r *notary.Registry, policy access.Policy) *Canister {
	return &Canister{
		assets:  a,
		records: r,
		policy:  policy,
	}
}

// Sequence returns the number of record mutations since start.
func (c *Canister) Sequence() uint64 {
	return c.seq.Load()
}

// Stats reports the number of assets and of batches in progress.
func (c *Canister) Stats() (assetCount int, batches int, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	list, err := c.assets.List()
	if err != nil {
		return 0, 0, err
	}
	return len(list), c.assets.Uploads().Live(), nil
}

func (c *Canister) changed() {
	c.seq.Add(1)
}

// mutate runs fn under the write lock once caller holds role.
func (c *Canister) mutate(caller principal.Principal, role grant.Role, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.policy.Check(caller, role); err != nil {
		log.Debugf("Rejected %s: %v", caller, err)
		return err
	}
	return fn()
}

// Access

func (c *Canister) Authorize(caller, p principal.Principal, role grant.Role) error {
	return c.mutate(caller, grant.RoleAdmin, func() error {
		return c.policy.Authorize(p, role)
	})
}

func (c *Canister) Deauthorize(caller, p principal.Principal) error {
	return c.mutate(caller, grant.RoleAdmin, func() error {
		return c.policy.Deauthorize(p)
	})
}

func (c *Canister) IsAuthorized(p principal.Principal, role grant.Role) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return access.IsAuthorized(c.policy, p, role)
}

func (c *Canister) ListAuthorized(caller principal.Principal) ([]*grant.Grant, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.policy.Check(caller, grant.RoleAdmin); err != nil {
		return nil, err
	}
	return c.policy.List()
}

// Uploads

func (c *Canister) CreateBatch(caller principal.Principal) (batchID uint64, err error) {
	err = c.mutate(caller, grant.RoleWriter, func() error {
		batchID, err = c.assets.Uploads().CreateBatch()
		return err
	})
	return batchID, err
}

func (c *Canister) CreateChunk(caller principal.Principal, batchID uint64, content []byte) (chunkID uint64, err error) {
	err = c.mutate(caller, grant.RoleWriter, func() error {
		chunkID, err = c.assets.Uploads().CreateChunk(batchID, content)
		return err
	})
	return chunkID, err
}

func (c *Canister) CommitBatch(caller principal.Principal, batchID uint64, ops []asset.Operation) error {
	return c.mutate(caller, grant.RoleWriter, func() error {
		return c.assets.CommitBatch(batchID, ops)
	})
}

func (c *Canister) CreateAsset(caller principal.Principal, op asset.CreateAsset) error {
	return c.mutate(caller, grant.RoleWriter, func() error {
		return c.assets.CreateAsset(op)
	})
}

func (c *Canister) SetAssetContent(caller principal.Principal, op asset.SetAssetContent) error {
	return c.mutate(caller, grant.RoleWriter, func() error {
		return c.assets.SetAssetContent(op)
	})
}

func (c *Canister) UnsetAssetContent(caller principal.Principal, op asset.UnsetAssetContent) error {
	return c.mutate(caller, grant.RoleWriter, func() error {
		return c.assets.UnsetAssetContent(op)
	})
}

func (c *Canister) DeleteAsset(caller principal.Principal, op asset.DeleteAsset) error {
	return c.mutate(caller, grant.RoleWriter, func() error {
		return c.assets.DeleteAsset(op)
	})
}

func (c *Canister) Store(caller principal.Principal, args assets.StoreArgs) error {
	return c.mutate(caller, grant.RoleWriter, func() error {
		return c.assets.Store(args)
	})
}

// Clear wipes assets, batches in progress and records. Each store is
// cleared atomically but the two are not one transition: when the records
// fail to clear the assets stay cleared, and repeating the call finishes it.
func (c *Canister) Clear(caller principal.Principal) error {
	return c.mutate(caller, grant.RoleAdmin, func() error {
		if err := c.assets.Clear(); err != nil {
			return err
		}
		c.changed()
		if err := c.records.Clear(); err != nil {
			return fmt.Errorf("assets cleared, records kept: %w", err)
		}
		return nil
	})
}

// Reap drops abandoned batches. It is run by the node, not by callers.
func (c *Canister) Reap() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assets.Uploads().Reap()
}

// CollectGarbage removes blocks no asset references, left behind by an
// interrupted commit.
func (c *Canister) CollectGarbage() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assets.CollectGarbage()
}

// Asset queries

func (c *Canister) Get(key string, acceptEncodings []string) (*assets.GetResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.assets.Get(key, acceptEncodings)
}

func (c *Canister) GetChunk(key, contentEncoding string, sha256 []byte, index uint64) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.assets.GetChunk(key, contentEncoding, sha256, index)
}

func (c *Canister) List() ([]*assets.AssetDetails, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.assets.List()
}

func (c *Canister) HttpRequest(req *httpstream.Request) (*httpstream.Response, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return httpstream.Serve(c.assets, req)
}

func (c *Canister) HttpRequestStreamCallback(token *httpstream.Token) (*httpstream.CallbackResponse, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return httpstream.Callback(c.assets, token)
}

// Records

func (c *Canister) recordMutation(caller principal.Principal, role grant.Role, fn func() (*notary.View, error)) (v *notary.View, err error) {
	err = c.mutate(caller, role, func() error {
		v, err = fn()
		if err == nil {
			c.changed()
		}
		return err
	})
	return v, err
}

func (c *Canister) ClaimLink(caller principal.Principal, args notary.ClaimLinkArgs) (*notary.View, error) {
	return c.recordMutation(caller, grant.RoleWriter, func() (*notary.View, error) {
		return c.records.ClaimLink(caller, args)
	})
}

func (c *Canister) Notarize(caller principal.Principal, args notary.NotarizeArgs) (*notary.View, error) {
	return c.recordMutation(caller, grant.RoleWriter, func() (*notary.View, error) {
		return c.records.Notarize(caller, args)
	})
}

func (c *Canister) SetLinkReserved(caller principal.Principal, args notary.SetLinkReservedArgs) (*notary.View, error) {
	return c.recordMutation(caller, grant.RoleAdmin, func() (*notary.View, error) {
		return c.records.SetLinkReserved(args)
	})
}

func (c *Canister) RevealLink(caller principal.Principal, link string) (*notary.View, error) {
	return c.recordMutation(caller, grant.RoleWriter, func() (*notary.View, error) {
		return c.records.RevealLink(caller, link)
	})
}

func (c *Canister) UpdateLink(caller principal.Principal, args notary.UpdateLinkArgs) (*notary.View, error) {
	return c.recordMutation(caller, grant.RoleWriter, func() (*notary.View, error) {
		return c.records.UpdateLink(caller, args)
	})
}

func (c *Canister) GetLink(caller principal.Principal, link string) (*notary.View, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.records.GetLink(caller, link)
}

func (c *Canister) GetLinks(caller principal.Principal) ([]*notary.View, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.records.GetLinks(caller)
}

func (c *Canister) GetDatum(caller principal.Principal, fingerprint string) (*notary.View, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.records.GetDatum(caller, fingerprint)
}

func (c *Canister) GetData(caller principal.Principal) ([]*notary.View, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.records.GetData(caller)
}

func (c *Canister) GetUpdatedLinks(caller principal.Principal, since time.Time) (*notary.UpdatedLinks, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.records.GetUpdatedLinks(caller, since)
}

func (c *Canister) Search(caller principal.Principal, term string) ([]*notary.View, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.records.Search(caller, term)
}
