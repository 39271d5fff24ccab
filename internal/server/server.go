// Package server drives one command-server node: it owns the node's router
// and agents and runs the tick loop that resyncs topology, generates traffic
// and pumps both delivery queues.
package server

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mtzanidakis/fleetctl/internal/agent"
	"github.com/mtzanidakis/fleetctl/internal/audit"
	"github.com/mtzanidakis/fleetctl/internal/config"
	"github.com/mtzanidakis/fleetctl/internal/router"
	"golang.org/x/sync/errgroup"
)

// Topology supplies the fleet-wide node listing a server resyncs from.
type Topology interface {
	Nodes() []router.NodeInfo
}

// TopologyFunc adapts a function to Topology.
type TopologyFunc func() []router.NodeInfo

func (f TopologyFunc) Nodes() []router.NodeInfo { return f() }

// StaticTopology is a fixed node listing.
type StaticTopology []router.NodeInfo

func (t StaticTopology) Nodes() []router.NodeInfo { return t }

// Rand is the traffic generator's random source.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

type Server struct {
	id     string
	router *router.Router
	topo   Topology
	sink   audit.Sink
	now    func() time.Time

	settings atomic.Pointer[config.SimulationConfig]

	mu       sync.Mutex
	rng      Rand
	agents   []*agent.Agent
	lastSync time.Time

	ticks atomic.Int64

	routerOpts []router.Option
}

type Option func(*Server)

func WithSink(s audit.Sink) Option {
	return func(srv *Server) { srv.sink = s }
}

func WithRand(r Rand) Option {
	return func(srv *Server) { srv.rng = r }
}

func WithClock(now func() time.Time) Option {
	return func(srv *Server) { srv.now = now }
}

func WithSettings(cfg config.SimulationConfig) Option {
	return func(srv *Server) { srv.settings.Store(&cfg) }
}

// WithRouterOptions passes extra options to the node's router.
func WithRouterOptions(opts ...router.Option) Option {
	return func(srv *Server) { srv.routerOpts = append(srv.routerOpts, opts...) }
}

// New creates the server for node and registers its router in dir.
func New(node config.Node, dir *router.Directory, topo Topology, opts ...Option) *Server {
	s := &Server{
		id:   node.ID,
		topo: topo,
		sink: audit.Discard,
		now:  time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.settings.Load() == nil {
		s.settings.Store(&config.SimulationConfig{
			Tick:               500 * time.Millisecond,
			TrafficProbability: 0.6,
			TopologyResync:     5 * time.Second,
		})
	}
	if s.rng == nil {
		seed := uint64(time.Now().UnixNano())
		s.rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	if s.topo == nil {
		s.topo = StaticTopology{{ID: node.ID, Location: node.Location, X: node.X, Y: node.Y}}
	}
	ropts := append([]router.Option{router.WithSink(s.sink), router.WithClock(s.now)}, s.routerOpts...)
	s.router = router.New(node.ID, node.Location, node.X, node.Y, dir, ropts...)
	return s
}

func (s *Server) ID() string             { return s.id }
func (s *Server) Router() *router.Router { return s.router }
func (s *Server) Ticks() int64           { return s.ticks.Load() }

func (s *Server) Settings() config.SimulationConfig { return *s.settings.Load() }

// SetSettings swaps the simulation knobs. The running loop picks them up on
// its next tick.
func (s *Server) SetSettings(cfg config.SimulationConfig) {
	s.settings.Store(&cfg)
}

// AddAgent hosts a on this node and registers it with the router.
func (s *Server) AddAgent(a *agent.Agent) {
	s.mu.Lock()
	s.agents = append(s.agents, a)
	s.mu.Unlock()
	s.router.RegisterAgent(a)
}

// Agents returns the hosted agents in the order they were added.
func (s *Server) Agents() []*agent.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.agents)
}

// Run starts every agent, syncs topology and ticks until ctx is done. On
// return all agents have stopped.
func (s *Server) Run(ctx context.Context) error {
	agents := s.Agents()
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range agents {
		g.Go(func() error { return a.Run(gctx) })
	}

	s.SyncTopology()
	s.sink.Record(audit.Record{
		Kind:   audit.NodeStarted,
		Node:   s.id,
		Detail: fmt.Sprintf("%s: %d agents", s.router.Location(), len(agents)),
	})

	tick := s.Settings().Tick
	if tick <= 0 {
		tick = 500 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-gctx.Done():
			break loop
		case <-ticker.C:
			s.Tick(s.now())
			if next := s.Settings().Tick; next > 0 && next != tick {
				tick = next
				ticker.Reset(tick)
			}
		}
	}

	for _, a := range agents {
		a.Stop()
	}
	err := g.Wait()
	s.sink.Record(audit.Record{Kind: audit.NodeStopped, Node: s.id, Err: err})
	return err
}

// Tick performs one loop iteration at time now and returns the number of
// messages handed off to receivers.
func (s *Server) Tick(now time.Time) int {
	s.ticks.Add(1)
	cfg := s.Settings()

	s.mu.Lock()
	resync := now.Sub(s.lastSync) >= cfg.TopologyResync
	traffic := s.rng.Float64() < cfg.TrafficProbability
	cross := cfg.CrossNodeProbability > 0 && s.rng.Float64() < cfg.CrossNodeProbability
	s.mu.Unlock()

	if resync {
		s.syncTopology(now)
	}
	if traffic {
		s.generateTraffic()
	}
	if cross {
		s.generateCrossTraffic()
	}

	for _, a := range s.Agents() {
		for s.router.RouteMessage(a) {
		}
	}
	return s.router.ProcessIntraQueue() + s.router.ProcessInterQueue()
}

// SyncTopology pulls the current listing into the router now.
func (s *Server) SyncTopology() {
	s.syncTopology(s.now())
}

func (s *Server) syncTopology(now time.Time) {
	s.router.SyncTopology(s.topo.Nodes())
	s.mu.Lock()
	s.lastSync = now
	s.mu.Unlock()
}

// Snapshot is the node's router state plus every hosted agent.
type Snapshot struct {
	Router router.Snapshot  `json:"router"`
	Agents []agent.Snapshot `json:"agents"`
}

func (s *Server) Snapshot() Snapshot {
	agents := s.Agents()
	out := Snapshot{
		Router: s.router.Snapshot(),
		Agents: make([]agent.Snapshot, 0, len(agents)),
	}
	for _, a := range agents {
		out.Agents = append(out.Agents, a.Snapshot())
	}
	return out
}
