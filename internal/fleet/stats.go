package fleet

import (
	"time"

	"github.com/mtzanidakis/fleetctl/internal/agent"
	"github.com/mtzanidakis/fleetctl/internal/server"
)

// NodeStats is one command server's agent census.
type NodeStats struct {
	ID             string `json:"id"`
	Location       string `json:"location"`
	Drones         int    `json:"drones"`
	Managers       int    `json:"managers"`
	ActiveDrones   int    `json:"active_drones"`
	ActiveManagers int    `json:"active_managers"`
	FailedDrones   int    `json:"failed_drones"`
	DeadManagers   int    `json:"dead_managers"`
	StuckInboxes   int    `json:"stuck_inboxes"`

	Statuses     map[string]int `json:"statuses"`
	IntraPending int            `json:"intra_pending"`
	InterPending int            `json:"inter_pending"`
	LSDBSize     int            `json:"lsdb_size"`
}

func (n NodeStats) Active() int { return n.ActiveDrones + n.ActiveManagers }

type SystemStats struct {
	Servers        int         `json:"servers"`
	Drones         int         `json:"drones"`
	Managers       int         `json:"managers"`
	ActiveDrones   int         `json:"active_drones"`
	ActiveManagers int         `json:"active_managers"`
	FailedDrones   int         `json:"failed_drones"`
	DeadManagers   int         `json:"dead_managers"`
	Nodes          []NodeStats `json:"nodes"`
}

func (s SystemStats) Agents() int { return s.Drones + s.Managers }
func (s SystemStats) Active() int { return s.ActiveDrones + s.ActiveManagers }
func (s SystemStats) Failed() int { return s.FailedDrones + s.DeadManagers }

// FailureRate is the share of agents in a terminal state, in percent.
func (s SystemStats) FailureRate() float64 {
	if s.Agents() == 0 {
		return 0
	}
	return float64(s.Failed()) / float64(s.Agents()) * 100
}

// RoutingStats aggregates every router in the directory.
type RoutingStats struct {
	Routers          int   `json:"routers"`
	RegisteredAgents int   `json:"registered_agents"`
	TopologySize     int   `json:"topology_size"`
	RoutingEntries   int   `json:"routing_entries"`
	IntraPending     int   `json:"intra_pending"`
	InterPending     int   `json:"inter_pending"`
	Routed           int64 `json:"routed"`
	Delivered        int64 `json:"delivered"`
	Forwarded        int64 `json:"forwarded"`
	Dropped          int64 `json:"dropped"`
	StuckInboxes     int   `json:"stuck_inboxes"`
}

type Stats struct {
	RunID   string        `json:"run_id"`
	Time    time.Time     `json:"time"`
	Elapsed time.Duration `json:"elapsed"`
	System  SystemStats   `json:"system"`
	Routing RoutingStats  `json:"routing"`
}

// Stats takes a snapshot of every server and router. Each node is read
// under its own locks, so per-node numbers are consistent with each other.
func (f *Fleet) Stats() Stats {
	now := f.now()
	st := Stats{
		RunID:   f.runID,
		Time:    now,
		Elapsed: now.Sub(f.started),
	}

	for _, srv := range f.servers {
		ns := nodeStats(srv.Snapshot())
		st.System.Nodes = append(st.System.Nodes, ns)
		st.System.Drones += ns.Drones
		st.System.Managers += ns.Managers
		st.System.ActiveDrones += ns.ActiveDrones
		st.System.ActiveManagers += ns.ActiveManagers
		st.System.FailedDrones += ns.FailedDrones
		st.System.DeadManagers += ns.DeadManagers
		st.Routing.StuckInboxes += ns.StuckInboxes
	}
	st.System.Servers = len(st.System.Nodes)

	for _, r := range f.dir.Nodes() {
		rs := r.Snapshot()
		st.Routing.Routers++
		st.Routing.RegisteredAgents += rs.Agents
		st.Routing.TopologySize = max(st.Routing.TopologySize, rs.LSDBSize)
		st.Routing.RoutingEntries += rs.Routes
		st.Routing.IntraPending += rs.IntraPending
		st.Routing.InterPending += rs.InterPending
		st.Routing.Routed += rs.Routed
		st.Routing.Delivered += rs.Delivered
		st.Routing.Forwarded += rs.Forwarded
		st.Routing.Dropped += rs.Dropped
	}
	return st
}

func nodeStats(snap server.Snapshot) NodeStats {
	ns := NodeStats{
		ID:           snap.Router.Node,
		Location:     snap.Router.Location,
		Statuses:     make(map[string]int),
		IntraPending: snap.Router.IntraPending,
		InterPending: snap.Router.InterPending,
		LSDBSize:     snap.Router.LSDBSize,
	}
	for _, a := range snap.Agents {
		ns.Statuses[string(a.Status)]++
		active := !a.Status.Terminal()
		switch a.Kind {
		case agent.Drone.String():
			ns.Drones++
			if active {
				ns.ActiveDrones++
			} else {
				ns.FailedDrones++
			}
		case agent.MissionManager.String():
			ns.Managers++
			if active {
				ns.ActiveManagers++
			} else {
				ns.DeadManagers++
			}
		}
		if a.Stuck() {
			ns.StuckInboxes++
		}
	}
	return ns
}
