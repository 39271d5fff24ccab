package server

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mtzanidakis/fleetctl/internal/agent"
	"github.com/mtzanidakis/fleetctl/internal/audit"
	"github.com/mtzanidakis/fleetctl/internal/config"
	"github.com/mtzanidakis/fleetctl/internal/message"
	"github.com/mtzanidakis/fleetctl/internal/queue"
	"github.com/mtzanidakis/fleetctl/internal/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type scriptRand struct {
	floats []float64
	ints   []int
	fi, ii int
}

func (r *scriptRand) Float64() float64 {
	if len(r.floats) == 0 {
		return 0
	}
	v := r.floats[r.fi%len(r.floats)]
	r.fi++
	return v
}

func (r *scriptRand) IntN(n int) int {
	if len(r.ints) == 0 {
		return 0
	}
	v := r.ints[r.ii%len(r.ints)]
	r.ii++
	return v % n
}

var (
	nodeA = config.Node{ID: "CS1", Location: "North", X: 0, Y: 0}
	nodeB = config.Node{ID: "CS2", Location: "South", X: 0, Y: 50}

	slow = config.AgentTiming{Heartbeat: time.Hour, Work: time.Hour}
)

func topology(nodes ...config.Node) StaticTopology {
	out := make(StaticTopology, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, router.NodeInfo{ID: n.ID, Location: n.Location, X: n.X, Y: n.Y})
	}
	return out
}

func addDrone(s *Server, id string, timing config.AgentTiming) *agent.Agent {
	a := agent.NewDrone(id, agent.Location{Name: s.Router().Location()}, agent.DroneProfile(timing), agent.WithNode(s.ID()))
	s.AddAgent(a)
	return a
}

func addManager(s *Server, id string, timing config.AgentTiming) *agent.Agent {
	a := agent.NewMissionManager(id, agent.Location{Name: s.Router().Location()}, agent.ManagerProfile(timing), agent.WithNode(s.ID()))
	s.AddAgent(a)
	return a
}

func inbox(a *agent.Agent) []message.Message {
	return queue.Drain[message.Message](a.Inbox())
}

func TestTickGeneratesAllFourScenarios(t *testing.T) {
	rec := audit.NewRecorder()
	s := New(nodeA, nil, nil,
		WithSink(rec),
		WithRand(&scriptRand{floats: []float64{0}, ints: []int{0}}),
		WithSettings(config.SimulationConfig{TrafficProbability: 1, TopologyResync: time.Hour}),
	)
	d1 := addDrone(s, "D1", slow)
	d2 := addDrone(s, "D2", slow)
	m1 := addManager(s, "M1", slow)
	m2 := addManager(s, "M2", slow)

	assert.Equal(t, 4, s.Tick(time.Now()))

	want := map[*agent.Agent]message.Message{
		d2: {Sender: "D1", Type: message.Info, Content: "UAV Handshake"},
		m2: {Sender: "M1", Type: message.Sync, Content: "Sector Update"},
		m1: {Sender: "D1", Type: message.Report, Content: "Mission Complete"},
		d1: {Sender: "M1", Type: message.Cmd, Content: "New Coordinates"},
	}
	for a, w := range want {
		got := inbox(a)
		require.Len(t, got, 1, a.ID())
		assert.Equal(t, w.Sender, got[0].Sender)
		assert.Equal(t, a.ID(), got[0].Receiver)
		assert.Equal(t, w.Type, got[0].Type)
		assert.Equal(t, w.Content, got[0].Content)
	}
	assert.Equal(t, 4, rec.Count(audit.MessageRouted))
	assert.Equal(t, 4, rec.Count(audit.MessageDelivered))
}

func TestTrafficNeedsTwoOfEachKind(t *testing.T) {
	s := New(nodeA, nil, nil,
		WithRand(&scriptRand{}),
		WithSettings(config.SimulationConfig{TrafficProbability: 1}),
	)
	addDrone(s, "D1", slow)
	addDrone(s, "D2", slow)
	m1 := addManager(s, "M1", slow)

	assert.Zero(t, s.Tick(time.Now()))
	assert.Zero(t, m1.Inbox().Len())
}

func TestTrafficSkipsTerminalAgents(t *testing.T) {
	s := New(nodeA, nil, nil,
		WithRand(&scriptRand{ints: []int{0}}),
		WithSettings(config.SimulationConfig{TrafficProbability: 1}),
	)
	d1 := addDrone(s, "D1", slow)
	d2 := addDrone(s, "D2", slow)
	m1 := addManager(s, "M1", slow)
	addManager(s, "M2", slow)

	// Kill D1: r = 100 takes 15 battery.
	doomed := agent.NewDrone("D1", agent.Location{}, agent.DroneProfile(slow), agent.WithRand(&scriptRand{ints: []int{99}}), agent.WithVitals(10, 10))
	s.mu.Lock()
	s.agents[0] = doomed
	s.mu.Unlock()
	s.Router().RegisterAgent(doomed)
	require.False(t, doomed.Heartbeat())

	s.Tick(time.Now())
	assert.Zero(t, d2.Inbox().Len(), "no handshake from a failed drone")
	assert.Zero(t, m1.Inbox().Len(), "no report from a failed drone")
	assert.Zero(t, doomed.Inbox().Len(), "no command to a failed drone")
	assert.Zero(t, d1.Inbox().Len())
}

func TestTopologyResyncInterval(t *testing.T) {
	var calls atomic.Int32
	topo := TopologyFunc(func() []router.NodeInfo {
		calls.Add(1)
		return topology(nodeA, nodeB)
	})
	s := New(nodeA, nil, topo,
		WithRand(&scriptRand{floats: []float64{1}}),
		WithSettings(config.SimulationConfig{TopologyResync: 5 * time.Second}),
	)

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Tick(t0)
	assert.EqualValues(t, 1, calls.Load())
	s.Tick(t0.Add(time.Second))
	s.Tick(t0.Add(4 * time.Second))
	assert.EqualValues(t, 1, calls.Load())
	s.Tick(t0.Add(5 * time.Second))
	assert.EqualValues(t, 2, calls.Load())

	rt, ok := s.Router().Route("CS2")
	require.True(t, ok)
	assert.Equal(t, 50.0, rt.Cost)
	assert.EqualValues(t, 4, s.Ticks())
}

func TestCrossNodeTraffic(t *testing.T) {
	dir := router.NewDirectory()
	topo := topology(nodeA, nodeB)
	a := New(nodeA, dir, topo,
		WithRand(&scriptRand{floats: []float64{0.5}}),
		WithSettings(config.SimulationConfig{TrafficProbability: 0, CrossNodeProbability: 1, TopologyResync: time.Hour}),
	)
	b := New(nodeB, dir, topo)
	sender := addDrone(a, "D1", slow)
	target := addManager(b, "M9", slow)

	assert.Equal(t, 1, a.Tick(time.Now()))
	got := inbox(target)
	require.Len(t, got, 1)
	assert.Equal(t, "D1", got[0].Sender)
	assert.Equal(t, message.Sync, got[0].Type)
	assert.Equal(t, "Relay Check", got[0].Content)
	assert.Zero(t, sender.Inbox().Len())
	assert.EqualValues(t, 1, a.Router().Snapshot().Delivered)
}

func TestSetSettingsTakesEffect(t *testing.T) {
	s := New(nodeA, nil, nil, WithRand(&scriptRand{floats: []float64{0.5}, ints: []int{0}}),
		WithSettings(config.SimulationConfig{TrafficProbability: 0.1}))
	addDrone(s, "D1", slow)
	d2 := addDrone(s, "D2", slow)
	addManager(s, "M1", slow)
	addManager(s, "M2", slow)

	s.Tick(time.Now())
	assert.Zero(t, d2.Inbox().Len())

	s.SetSettings(config.SimulationConfig{TrafficProbability: 0.9})
	s.Tick(time.Now())
	assert.Equal(t, 1, d2.Inbox().Len())
}

func TestRunStopsAgents(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := audit.NewRecorder()
	fast := config.AgentTiming{Heartbeat: 5 * time.Millisecond, Work: 5 * time.Millisecond}
	s := New(nodeA, nil, nil,
		WithSink(rec),
		WithSettings(config.SimulationConfig{Tick: 5 * time.Millisecond, TrafficProbability: 1, TopologyResync: time.Second}),
	)
	agents := []*agent.Agent{
		addDrone(s, "D1", fast), addDrone(s, "D2", fast),
		addManager(s, "M1", fast), addManager(s, "M2", fast),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	for _, a := range agents {
		assert.False(t, a.Alive(), a.ID())
	}
	assert.Equal(t, 1, rec.Count(audit.NodeStarted))
	assert.Equal(t, 1, rec.Count(audit.NodeStopped))
	assert.GreaterOrEqual(t, rec.Count(audit.TopologySynced), 1)
	assert.Positive(t, s.Ticks())

	snap := s.Snapshot()
	assert.Equal(t, "CS1", snap.Router.Node)
	assert.Len(t, snap.Agents, 4)
}
