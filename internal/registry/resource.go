package registry

import (
	"fmt"
	"sync"
)

// maxSubscribedParams is the subscribe_params cap named in spec.md §4.7:
// "stores up to 32 ids on the resource".
const maxSubscribedParams = 32

// Resource is a client-addressable handle bound to an Interface, carrying
// its own permission bits (spec.md §3 Resource). Resource ids are unique
// and stable within their owning Client for the resource's lifetime
// (spec.md Invariant 3).
type Resource struct {
	ID          uint32
	Client      *Client
	Iface       *Interface
	Permissions Permission
	GlobalID    uint32

	subscribed []uint32 // object ids this resource wants param notifications for
}

// SubscribeParams records up to maxSubscribedParams object ids this
// resource wants notified on param update (spec.md §4.7 Enum/subscribe
// params). Extra ids beyond the cap are silently dropped, matching a
// fixed-size slot table.
func (r *Resource) SubscribeParams(ids []uint32) {
	n := len(ids)
	if n > maxSubscribedParams {
		n = maxSubscribedParams
	}
	r.subscribed = append([]uint32(nil), ids[:n]...)
}

func (r *Resource) subscribedTo(objectID uint32) bool {
	for _, id := range r.subscribed {
		if id == objectID {
			return true
		}
	}
	return false
}

// Client represents one connected peer: its bound resources, arena-style
// id allocation (spec.md §9: "arena + integer handles scoped to each
// client"), and the credentials/seq bookkeeping spec.md §3/§5 describe.
type Client struct {
	mu        sync.Mutex
	resources map[uint32]*Resource
	nextID    uint32

	Pid, Uid, Gid int
	SecurityLabel string

	RecvSeq uint32 // highest frame seq observed from this client (spec.md §5 Ordering)
	Busy    bool   // back-pressure flag, spec.md §4.6
}

// NewClient constructs an empty client resource table.
func NewClient() *Client {
	return &Client{resources: make(map[uint32]*Resource)}
}

// NewResource allocates a fresh, stable id within this client and binds a
// resource against iface with the given permissions.
func (c *Client) NewResource(iface *Interface, perms Permission, globalID uint32) *Resource {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	r := &Resource{ID: c.nextID, Client: c, Iface: iface, Permissions: perms, GlobalID: globalID}
	c.resources[r.ID] = r
	return r
}

// Lookup resolves a resource id to its Resource, or reports ok=false for a
// stale/unknown handle (spec.md §9: "stale handles resolve to 'unknown
// resource' errors").
func (c *Client) Lookup(id uint32) (*Resource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.resources[id]
	return r, ok
}

// Destroy removes a resource from the client's table. Destroying an
// unknown id is a no-op.
func (c *Client) Destroy(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.resources, id)
}

// Each calls fn for every resource currently bound on this client. fn must
// not mutate the client's resource table.
func (c *Client) Each(fn func(*Resource)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.resources {
		fn(r)
	}
}

// Free destroys every resource on the client, cascading teardown the way
// spec.md §4.6 Client teardown requires ("trigger free on the client
// object which cascades into resource destruction").
func (c *Client) Free() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources = make(map[uint32]*Resource)
}

// CheckPermission implements spec.md §4.6 Dispatch's permission check:
// required = method.RequiredPermissions | execute; fail unless the
// resource holds every required bit.
func CheckPermission(res *Resource, method MethodDef) error {
	required := method.RequiredPermissions | PermExecute
	if !res.Permissions.Has(required) {
		return fmt.Errorf("registry: permission denied: resource %d requires %v, has %v", res.ID, required, res.Permissions)
	}
	return nil
}
