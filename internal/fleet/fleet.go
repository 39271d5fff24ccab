// Package fleet assembles a whole simulation from config: one command server
// per startable node, the shared directory, and the agents hosted at each
// node's location.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/fleetctl/internal/agent"
	"github.com/mtzanidakis/fleetctl/internal/audit"
	"github.com/mtzanidakis/fleetctl/internal/config"
	"github.com/mtzanidakis/fleetctl/internal/directory"
	"github.com/mtzanidakis/fleetctl/internal/router"
	"github.com/mtzanidakis/fleetctl/internal/server"
	"golang.org/x/sync/errgroup"
)

type Fleet struct {
	cfg     atomic.Pointer[config.Config]
	runID   string
	seed    uint64
	sink    audit.Sink
	now     func() time.Time
	started time.Time

	dir     *router.Directory
	servers []*server.Server
	skipped []*config.ConfigLoadError
}

type Option func(*Fleet)

func WithSink(s audit.Sink) Option {
	return func(f *Fleet) { f.sink = s }
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option {
	return func(f *Fleet) { f.runID = id }
}

func WithClock(now func() time.Time) Option {
	return func(f *Fleet) { f.now = now }
}

// New builds every server and agent described by cfg. Malformed node entries
// are recorded and skipped; it fails with config.ErrNoNodes when nothing is
// left to start.
func New(cfg *config.Config, opts ...Option) (*Fleet, error) {
	f := &Fleet{
		sink: audit.Discard,
		now:  time.Now,
	}
	for _, o := range opts {
		o(f)
	}
	if f.runID == "" {
		f.runID = uuid.New().String()
	}
	f.cfg.Store(cfg)
	f.started = f.now()

	f.seed = cfg.Simulation.Seed
	if f.seed == 0 {
		f.seed = uint64(time.Now().UnixNano())
	}

	nodes, skipped := cfg.StartableNodes()
	f.skipped = skipped
	for _, e := range skipped {
		f.sink.Record(audit.Record{Kind: audit.ConfigError, Node: e.Node, Err: e})
	}
	if len(nodes) == 0 {
		return nil, config.ErrNoNodes
	}

	var dopts []directory.Option
	if ttl := cfg.Simulation.IndexTTL; ttl > 0 {
		dopts = append(dopts, directory.WithIndex(ttl))
	}
	f.dir = router.NewDirectory(dopts...)

	topo := server.TopologyFunc(f.topology)
	hosted := make(map[string]string)
	for _, n := range nodes {
		srv := server.New(n, f.dir, topo,
			server.WithSink(f.sink),
			server.WithSettings(cfg.Simulation),
			server.WithRand(rand.New(rand.NewPCG(f.seed, seedFor(n.ID)))),
			server.WithClock(f.now),
		)
		f.servers = append(f.servers, srv)

		if other, ok := hosted[n.Location]; ok {
			slog.Warn("location already hosted, node gets no agents", "node", n.ID, "location", n.Location, "host", other)
			continue
		}
		hosted[n.Location] = n.ID
		f.populate(cfg, srv, n)
	}

	// Every router is in the directory now; give each the full topology
	// before anything reads stats or routes.
	for _, srv := range f.servers {
		srv.SyncTopology()
	}
	return f, nil
}

func (f *Fleet) populate(cfg *config.Config, srv *server.Server, n config.Node) {
	for _, d := range cfg.DronesAt(n.Location) {
		srv.AddAgent(agent.NewDrone(d.ID,
			agent.Location{Name: d.Location, X: d.X, Y: d.Y},
			agent.DroneProfile(cfg.Agents.Drone),
			f.agentOptions(n.ID, d.ID, agent.WithModel(d.Model))...,
		))
	}
	for _, m := range cfg.ManagersAt(n.Location) {
		srv.AddAgent(agent.NewMissionManager(m.ID,
			agent.Location{Name: m.Location, X: m.X, Y: m.Y},
			agent.ManagerProfile(cfg.Agents.Manager),
			f.agentOptions(n.ID, m.ID)...,
		))
	}
}

func (f *Fleet) agentOptions(node, id string, extra ...agent.Option) []agent.Option {
	return append([]agent.Option{
		agent.WithNode(node),
		agent.WithSink(f.sink),
		agent.WithRand(agent.NewRand(f.seed ^ seedFor(id))),
	}, extra...)
}

func seedFor(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

// topology is the live link-state advertisement set, offline nodes
// included.
func (f *Fleet) topology() []router.NodeInfo {
	nodes := f.cfg.Load().Topology()
	out := make([]router.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, router.NodeInfo{ID: n.ID, Location: n.Location, X: n.X, Y: n.Y})
	}
	return out
}

func (f *Fleet) RunID() string                      { return f.runID }
func (f *Fleet) Seed() uint64                       { return f.seed }
func (f *Fleet) Directory() *router.Directory       { return f.dir }
func (f *Fleet) Servers() []*server.Server          { return f.servers }
func (f *Fleet) Skipped() []*config.ConfigLoadError { return f.skipped }
func (f *Fleet) Config() *config.Config             { return f.cfg.Load() }
func (f *Fleet) StartedAt() time.Time               { return f.started }

// Server returns the server for node id.
func (f *Fleet) Server(id string) (*server.Server, bool) {
	for _, s := range f.servers {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// Agents counts every hosted agent.
func (f *Fleet) Agents() int {
	n := 0
	for _, s := range f.servers {
		n += len(s.Agents())
	}
	return n
}

// Run drives every server until ctx is done.
func (f *Fleet) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range f.servers {
		g.Go(func() error {
			if err := s.Run(gctx); err != nil {
				return fmt.Errorf("node %s: %w", s.ID(), err)
			}
			return nil
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Reload swaps in a new config. Simulation knobs apply on each server's next
// tick and node moves on its next topology resync. Nodes and agents are
// never started or stopped by a reload.
func (f *Fleet) Reload(cfg *config.Config) config.ConfigDiff {
	old := f.cfg.Load()
	diff := config.Diff(old, cfg)
	f.cfg.Store(cfg)

	if diff.SimulationChanged {
		for _, s := range f.servers {
			s.SetSettings(diff.NewSimulation)
		}
	}
	if diff.TopologyChanged() {
		for _, s := range f.servers {
			s.SyncTopology()
		}
	}
	for _, id := range diff.NodesAdded {
		slog.Warn("node added to config, restart to start it", "node", id)
	}
	for _, field := range diff.NonReloadable {
		slog.Warn("config change requires restart", "field", field)
	}
	return diff
}
