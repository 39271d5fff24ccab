package router

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/mtzanidakis/fleetctl/internal/audit"
)

// NodeInfo is one node as advertised by the topology source.
type NodeInfo struct {
	ID       string  `json:"id"`
	Location string  `json:"location"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// LinkState is a router's last known view of a node.
type LinkState struct {
	Node      string    `json:"node"`
	Location  string    `json:"location"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Route is the shortest known path from the owning router to Dest.
type Route struct {
	Dest    string   `json:"dest"`
	NextHop string   `json:"next_hop"`
	Cost    float64  `json:"cost"`
	Path    []string `json:"path"`
}

func (r Route) String() string {
	return fmt.Sprintf("%s (cost %.2f)", strings.Join(r.Path, " -> "), r.Cost)
}

// UpdateTopology upserts one node and recomputes the routing table.
func (r *Router) UpdateTopology(n NodeInfo) {
	if n.ID == "" {
		return
	}
	r.mu.Lock()
	r.applyLocked(n, r.now())
	r.table = computeRoutes(r.id, r.lsdb)
	r.mu.Unlock()
}

// SyncTopology applies a full topology listing and recomputes once. Entries
// the listing omits are kept.
func (r *Router) SyncTopology(nodes []NodeInfo) {
	now := r.now()
	r.mu.Lock()
	for _, n := range nodes {
		if n.ID != "" {
			r.applyLocked(n, now)
		}
	}
	r.table = computeRoutes(r.id, r.lsdb)
	size := len(r.lsdb)
	r.mu.Unlock()

	r.sink.Record(audit.Record{
		Kind:   audit.TopologySynced,
		Node:   r.id,
		Detail: fmt.Sprintf("%d nodes in link-state database", size),
	})
}

func (r *Router) applyLocked(n NodeInfo, now time.Time) {
	r.lsdb[n.ID] = LinkState{
		Node:      n.ID,
		Location:  n.Location,
		X:         n.X,
		Y:         n.Y,
		UpdatedAt: now,
	}
	if n.ID == r.id {
		r.location, r.x, r.y = n.Location, n.X, n.Y
	}
}

// Route returns the routing-table entry for dest.
func (r *Router) Route(dest string) (Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.table[dest]
	if !ok {
		return Route{}, false
	}
	rt.Path = slices.Clone(rt.Path)
	return rt, true
}

// Table returns a copy of the routing table.
func (r *Router) Table() map[string]Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Route, len(r.table))
	for k, v := range r.table {
		v.Path = slices.Clone(v.Path)
		out[k] = v
	}
	return out
}

// LSDB returns a copy of the link-state database.
func (r *Router) LSDB() map[string]LinkState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]LinkState, len(r.lsdb))
	for k, v := range r.lsdb {
		out[k] = v
	}
	return out
}

// ComputeTable builds the routing table self would hold for the given
// topology, without a live router.
func ComputeTable(self string, nodes []NodeInfo) map[string]Route {
	lsdb := make(map[string]LinkState, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			continue
		}
		lsdb[n.ID] = LinkState{Node: n.ID, Location: n.Location, X: n.X, Y: n.Y}
	}
	if _, ok := lsdb[self]; !ok {
		return map[string]Route{}
	}
	return computeRoutes(self, lsdb)
}

func distance(a, b LinkState) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// computeRoutes runs Dijkstra over the fully connected graph of lsdb with
// Euclidean edge costs. Among equally distant candidates the lowest node id
// is settled first, and a relaxation must be strictly shorter to replace a
// predecessor, so the result depends only on the LSDB contents.
func computeRoutes(self string, lsdb map[string]LinkState) map[string]Route {
	ids := make([]string, 0, len(lsdb))
	for id := range lsdb {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	dist := make(map[string]float64, len(ids))
	prev := make(map[string]string, len(ids))
	done := make(map[string]bool, len(ids))
	for _, id := range ids {
		dist[id] = math.Inf(1)
	}
	dist[self] = 0

	for range ids {
		u := ""
		best := math.Inf(1)
		for _, id := range ids {
			if !done[id] && dist[id] < best {
				u, best = id, dist[id]
			}
		}
		if u == "" {
			break
		}
		done[u] = true

		for _, v := range ids {
			if done[v] {
				continue
			}
			if alt := dist[u] + distance(lsdb[u], lsdb[v]); alt < dist[v] {
				dist[v] = alt
				prev[v] = u
			}
		}
	}

	table := make(map[string]Route, len(ids))
	for _, dest := range ids {
		if dest == self || math.IsInf(dist[dest], 1) {
			continue
		}
		path := []string{dest}
		for at := dest; at != self; {
			at = prev[at]
			path = append(path, at)
		}
		slices.Reverse(path)
		table[dest] = Route{
			Dest:    dest,
			NextHop: path[1],
			Cost:    dist[dest],
			Path:    path,
		}
	}
	return table
}
