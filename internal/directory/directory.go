// Package directory is the fleet-wide node registry. It is constructed once
// and injected into every router, and is the only way one node learns where
// an agent lives.
package directory

import (
	"slices"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Node is what the directory needs from a registered node.
type Node interface {
	ID() string
	HasAgent(agentID string) bool
}

// Directory maps node ids to nodes. Nodes are never removed. A single mutex
// guards all access so lookups never race with a node joining.
type Directory[N Node] struct {
	mu    sync.Mutex
	nodes map[string]N
	order []string

	// index caches agent -> node hits. Agents never migrate, so a positive
	// entry stays correct until the agent is re-registered.
	index *ttlcache.Cache[string, string]
}

type Option func(*options)

type options struct {
	indexTTL time.Duration
}

// WithIndex enables the agent location cache with the given entry TTL.
func WithIndex(ttl time.Duration) Option {
	return func(o *options) { o.indexTTL = ttl }
}

func New[N Node](opts ...Option) *Directory[N] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	d := &Directory[N]{nodes: make(map[string]N)}
	if o.indexTTL > 0 {
		d.index = ttlcache.New[string, string](
			ttlcache.WithTTL[string, string](o.indexTTL),
			ttlcache.WithDisableTouchOnHit[string, string](),
		)
	}
	return d
}

// Register adds or replaces a node.
func (d *Directory[N]) Register(n N) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := n.ID()
	if _, ok := d.nodes[id]; !ok {
		i, _ := slices.BinarySearch(d.order, id)
		d.order = slices.Insert(d.order, i, id)
	}
	d.nodes[id] = n
	if d.index != nil {
		d.index.DeleteAll()
	}
}

func (d *Directory[N]) Get(id string) (N, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	return n, ok
}

// Nodes returns every registered node sorted by id.
func (d *Directory[N]) Nodes() []N {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]N, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.nodes[id])
	}
	return out
}

func (d *Directory[N]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.nodes)
}

// Locate returns the id of the node hosting agentID. Nodes are scanned in
// ascending id order, so an id registered on two nodes resolves to the
// lowest node id.
func (d *Directory[N]) Locate(agentID string) (string, bool) {
	if agentID == "" {
		return "", false
	}
	if d.index != nil {
		if item := d.index.Get(agentID); item != nil && !item.IsExpired() {
			return item.Value(), true
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range d.order {
		if d.nodes[id].HasAgent(agentID) {
			if d.index != nil {
				d.index.Set(agentID, id, ttlcache.DefaultTTL)
			}
			return id, true
		}
	}
	return "", false
}

// Invalidate drops any cached location for agentID.
func (d *Directory[N]) Invalidate(agentID string) {
	if d.index != nil {
		d.index.Delete(agentID)
	}
}

// Indexed reports whether the location cache is enabled.
func (d *Directory[N]) Indexed() bool {
	return d.index != nil
}
