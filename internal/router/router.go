// Package router holds a command-server node's link-state view of the fleet,
// its routing table and local agent registry, and the two-stage message
// pipeline (classify, then deliver intra- or inter-node).
package router

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mtzanidakis/fleetctl/internal/agent"
	"github.com/mtzanidakis/fleetctl/internal/audit"
	"github.com/mtzanidakis/fleetctl/internal/directory"
	"github.com/mtzanidakis/fleetctl/internal/message"
	"github.com/mtzanidakis/fleetctl/internal/queue"
)

// Endpoint is a locally registered agent as the router sees it.
type Endpoint interface {
	Identity() agent.Identity
	Outbox() queue.Queue[message.Message]
	Deliver(m message.Message) bool
}

// Directory is the fleet-wide node registry routers share.
type Directory = directory.Directory[*Router]

// NewDirectory builds a node registry for routers.
func NewDirectory(opts ...directory.Option) *Directory {
	return directory.New[*Router](opts...)
}

type Router struct {
	id   string
	dir  *Directory
	sink audit.Sink
	now  func() time.Time

	mu       sync.RWMutex
	location string
	x, y     float64
	agents   map[string]Endpoint
	lsdb     map[string]LinkState
	table    map[string]Route

	intra queue.Queue[message.Message]
	inter queue.Queue[message.Message]

	routed    atomic.Int64
	delivered atomic.Int64
	forwarded atomic.Int64
	dropped   atomic.Int64
}

type Option func(*Router)

func WithSink(s audit.Sink) Option {
	return func(r *Router) { r.sink = s }
}

func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// WithQueues replaces the unbounded intra- and inter-node queues.
func WithQueues(intra, inter queue.Queue[message.Message]) Option {
	return func(r *Router) {
		r.intra = intra
		r.inter = inter
	}
}

// New creates a router with its own LSDB entry and registers it in dir. A
// nil dir gives the router a private directory.
func New(id, location string, x, y float64, dir *Directory, opts ...Option) *Router {
	r := &Router{
		id:     id,
		dir:    dir,
		sink:   audit.Discard,
		now:    time.Now,
		agents: make(map[string]Endpoint),
		lsdb:   make(map[string]LinkState),
		intra:  queue.NewFIFO[message.Message](),
		inter:  queue.NewFIFO[message.Message](),
	}
	for _, o := range opts {
		o(r)
	}
	if r.dir == nil {
		r.dir = NewDirectory()
	}
	r.applyLocked(NodeInfo{ID: id, Location: location, X: x, Y: y}, r.now())
	r.table = computeRoutes(r.id, r.lsdb)
	r.dir.Register(r)
	return r
}

func (r *Router) ID() string { return r.id }

func (r *Router) Location() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.location
}

func (r *Router) Directory() *Directory { return r.dir }

// RegisterAgent adds ep to the local registry, replacing any previous entry
// with the same id.
func (r *Router) RegisterAgent(ep Endpoint) {
	id := ep.Identity()
	r.mu.Lock()
	r.agents[id.ID] = ep
	r.mu.Unlock()

	r.dir.Invalidate(id.ID)
	r.sink.Record(audit.Record{
		Kind:   audit.AgentRegistered,
		Node:   r.id,
		Agent:  id.ID,
		Detail: id.Kind.String(),
	})
}

// HasAgent reports whether agentID is registered on this router.
func (r *Router) HasAgent(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agentID]
	return ok
}

func (r *Router) Lookup(agentID string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.agents[agentID]
	return ep, ok
}

// Agents returns the registered agent ids in sorted order.
func (r *Router) Agents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.agents))
}

// RouteMessage takes one message off sender's outbox and classifies it onto
// the intra- or inter-node queue. It returns false when the outbox was empty.
func (r *Router) RouteMessage(sender Endpoint) bool {
	m, ok := sender.Outbox().TryPop()
	if !ok {
		return false
	}
	if !m.Valid() {
		r.drop(m, audit.AddressingError, &AddressingError{Node: r.id, Agent: m.Receiver, Stage: StageRoute})
		return true
	}
	src, ok := r.dir.Locate(m.Sender)
	if !ok {
		r.drop(m, audit.AddressingError, &AddressingError{Node: r.id, Agent: m.Sender, Stage: StageRoute})
		return true
	}
	dst, ok := r.dir.Locate(m.Receiver)
	if !ok {
		r.drop(m, audit.AddressingError, &AddressingError{Node: r.id, Agent: m.Receiver, Stage: StageRoute})
		return true
	}

	q, detail := r.intra, "intra-node"
	if src != dst {
		q, detail = r.inter, fmt.Sprintf("inter-node %s -> %s", src, dst)
	}
	if !q.Push(m) {
		r.drop(m, audit.QueueFull, fmt.Errorf("router %s: %s queue full", r.id, detail))
		return true
	}
	r.routed.Add(1)
	r.sink.Record(audit.Record{
		Kind:    audit.MessageRouted,
		Node:    r.id,
		Agent:   m.Sender,
		Message: &m,
		Detail:  detail,
	})
	return true
}

// ProcessIntraQueue delivers every message queued for a local receiver and
// returns how many were handed off.
func (r *Router) ProcessIntraQueue() int {
	n := 0
	for pending := r.intra.Len(); pending > 0; pending-- {
		m, ok := r.intra.TryPop()
		if !ok {
			break
		}
		ep, ok := r.Lookup(m.Receiver)
		if !ok {
			r.drop(m, audit.AddressingError, &AddressingError{Node: r.id, Agent: m.Receiver, Stage: StageIntra})
			continue
		}
		if r.handoff(ep, m, audit.MessageDelivered, "intra-node") {
			r.delivered.Add(1)
			n++
		}
	}
	return n
}

// ProcessInterQueue delivers every message queued for a remote receiver.
// The message is handed straight to the destination node's agent; the
// routing table only decides whether that counts as a forward.
func (r *Router) ProcessInterQueue() int {
	n := 0
	for pending := r.inter.Len(); pending > 0; pending-- {
		m, ok := r.inter.TryPop()
		if !ok {
			break
		}
		if r.deliverRemote(m) {
			n++
		}
	}
	return n
}

func (r *Router) deliverRemote(m message.Message) bool {
	dst, ok := r.dir.Locate(m.Receiver)
	if !ok {
		r.drop(m, audit.AddressingError, &AddressingError{Node: r.id, Agent: m.Receiver, Stage: StageInter})
		return false
	}

	var (
		node  = r
		kind  = audit.MessageDelivered
		route Route
	)
	if dst != r.id {
		route, ok = r.Route(dst)
		if !ok {
			r.drop(m, audit.NoRoute, &NoRouteError{From: r.id, To: dst})
			return false
		}
		if node, ok = r.dir.Get(dst); !ok {
			r.drop(m, audit.AddressingError, &AddressingError{Node: dst, Agent: m.Receiver, Stage: StageInter})
			return false
		}
		if route.NextHop != route.Dest {
			kind = audit.MessageForwarded
		}
	}

	ep, ok := node.Lookup(m.Receiver)
	if !ok {
		r.drop(m, audit.AddressingError, &AddressingError{Node: dst, Agent: m.Receiver, Stage: StageInter})
		return false
	}

	detail := "inter-node " + dst
	if route.Dest != "" {
		detail = "inter-node " + route.String()
	}
	if !r.handoff(ep, m, kind, detail) {
		return false
	}
	if kind == audit.MessageForwarded {
		r.forwarded.Add(1)
	} else {
		r.delivered.Add(1)
	}
	return true
}

func (r *Router) handoff(ep Endpoint, m message.Message, kind audit.Kind, detail string) bool {
	if !ep.Deliver(m) {
		r.drop(m, audit.QueueFull, fmt.Errorf("agent %s: inbox full", m.Receiver))
		return false
	}
	r.sink.Record(audit.Record{
		Kind:    kind,
		Node:    r.id,
		Agent:   m.Receiver,
		Message: &m,
		Detail:  detail,
	})
	return true
}

func (r *Router) drop(m message.Message, kind audit.Kind, err error) {
	r.dropped.Add(1)
	r.sink.Record(audit.Record{
		Kind:    kind,
		Node:    r.id,
		Agent:   m.Sender,
		Message: &m,
		Err:     err,
	})
}

// Snapshot summarises the router's state and counters.
type Snapshot struct {
	Node         string  `json:"node"`
	Location     string  `json:"location"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Agents       int     `json:"agents"`
	LSDBSize     int     `json:"lsdb_size"`
	Routes       int     `json:"routes"`
	IntraPending int     `json:"intra_pending"`
	InterPending int     `json:"inter_pending"`
	Routed       int64   `json:"routed"`
	Delivered    int64   `json:"delivered"`
	Forwarded    int64   `json:"forwarded"`
	Dropped      int64   `json:"dropped"`
}

func (r *Router) Snapshot() Snapshot {
	r.mu.RLock()
	s := Snapshot{
		Node:     r.id,
		Location: r.location,
		X:        r.x,
		Y:        r.y,
		Agents:   len(r.agents),
		LSDBSize: len(r.lsdb),
		Routes:   len(r.table),
	}
	r.mu.RUnlock()
	s.IntraPending = r.intra.Len()
	s.InterPending = r.inter.Len()
	s.Routed = r.routed.Load()
	s.Delivered = r.delivered.Load()
	s.Forwarded = r.forwarded.Load()
	s.Dropped = r.dropped.Load()
	return s
}
