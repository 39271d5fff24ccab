package fleet

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/mtzanidakis/fleetctl/internal/audit"
	"github.com/mtzanidakis/fleetctl/internal/config"
	"github.com/mtzanidakis/fleetctl/internal/message"
	"github.com/mtzanidakis/fleetctl/internal/natsbus"
	"github.com/mtzanidakis/fleetctl/internal/observability"
	"github.com/mtzanidakis/fleetctl/internal/schedule"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func offline() *bool {
	b := false
	return &b
}

func testConfig() *config.Config {
	return &config.Config{
		Simulation: config.SimulationConfig{
			Tick:               5 * time.Millisecond,
			TrafficProbability: 0,
			TopologyResync:     time.Hour,
			Seed:               42,
		},
		Agents: config.AgentsConfig{
			Drone:   config.AgentTiming{Heartbeat: time.Hour, Work: time.Hour},
			Manager: config.AgentTiming{Heartbeat: time.Hour, Work: time.Hour},
		},
		Nodes: []config.Node{
			{ID: "CS1", Location: "North", X: 0, Y: 0},
			{ID: "CS2", Location: "South", X: 10, Y: 0},
			{Location: "Nowhere"},
			{ID: "CS4", Location: "East", X: 5, Y: 5, Alive: offline()},
		},
		Drones: []config.Drone{
			{ID: "D1", Model: "Scout", Location: "North"},
			{ID: "D2", Model: "Scout", Location: "North"},
			{ID: "D3", Model: "Hauler", Location: "South"},
		},
		Managers: []config.Manager{
			{ID: "M1", Location: "North"},
			{ID: "M2", Location: "North"},
			{ID: "M3", Location: "South"},
		},
	}
}

func TestNewBuildsStartableNodes(t *testing.T) {
	rec := audit.NewRecorder()
	f, err := New(testConfig(), WithSink(rec), WithRunID("run-1"))
	require.NoError(t, err)

	require.Len(t, f.Servers(), 2)
	assert.Equal(t, "run-1", f.RunID())
	require.Len(t, f.Skipped(), 1)
	assert.Equal(t, "missing id", f.Skipped()[0].Reason)
	assert.Equal(t, 1, rec.Count(audit.ConfigError))
	assert.Equal(t, 6, f.Agents())

	cs1, ok := f.Server("CS1")
	require.True(t, ok)
	assert.Equal(t, []string{"D1", "D2", "M1", "M2"}, cs1.Router().Agents())

	_, ok = f.Server("CS4")
	assert.False(t, ok, "offline node is not started")
}

func TestNewFailsWithoutNodes(t *testing.T) {
	cfg := testConfig()
	cfg.Nodes = []config.Node{{ID: "CS9", Alive: offline()}}
	_, err := New(cfg)
	assert.ErrorIs(t, err, config.ErrNoNodes)
}

func TestStats(t *testing.T) {
	f, err := New(testConfig())
	require.NoError(t, err)

	st := f.Stats()
	assert.Equal(t, 2, st.System.Servers)
	assert.Equal(t, 3, st.System.Drones)
	assert.Equal(t, 3, st.System.Managers)
	assert.Equal(t, 6, st.System.Active())
	assert.Zero(t, st.System.FailureRate())

	assert.Equal(t, 2, st.Routing.Routers)
	assert.Equal(t, 6, st.Routing.RegisteredAgents)
	assert.Equal(t, 3, st.Routing.TopologySize, "offline CS4 is still advertised")
	assert.Equal(t, 4, st.Routing.RoutingEntries)

	cs1 := st.System.Nodes[0]
	assert.Equal(t, "CS1", cs1.ID)
	assert.Equal(t, 4, cs1.Statuses["IDLE"])
}

func TestNewSyncsTopology(t *testing.T) {
	cfg := testConfig()
	cfg.Nodes = []config.Node{
		{ID: "CS1", Location: "North", X: 0, Y: 0},
		{ID: "CS2", Location: "South", X: 3, Y: 4},
		{ID: "CS3", Location: "West", X: -3, Y: 4},
	}
	rec := audit.NewRecorder()
	f, err := New(cfg, WithSink(rec))
	require.NoError(t, err)

	st := f.Stats()
	assert.Equal(t, 3, st.Routing.TopologySize)
	assert.Equal(t, 6, st.Routing.RoutingEntries)
	assert.Equal(t, 3, rec.Count(audit.TopologySynced))

	cs1, ok := f.Server("CS1")
	require.True(t, ok)
	route, ok := cs1.Router().Route("CS2")
	require.True(t, ok)
	assert.InDelta(t, 5.0, route.Cost, 1e-9)

	var buf bytes.Buffer
	WriteStartupSummary(&buf, st, "")
	assert.Contains(t, buf.String(), "Network Topology: 3 servers")
}

func TestStatsCountsFailures(t *testing.T) {
	f, err := New(testConfig())
	require.NoError(t, err)

	cs2, _ := f.Server("CS2")
	for _, a := range cs2.Agents() {
		for a.Heartbeat() {
		}
	}
	st := f.Stats()
	assert.Equal(t, 1, st.System.FailedDrones)
	assert.Equal(t, 1, st.System.DeadManagers)
	assert.InDelta(t, 100.0/3, st.System.FailureRate(), 1e-9)
	assert.Equal(t, 0, st.System.Nodes[1].Active())
}

func TestSameSeedReplaysDecay(t *testing.T) {
	a, err := New(testConfig())
	require.NoError(t, err)
	b, err := New(testConfig())
	require.NoError(t, err)

	sa, _ := a.Server("CS1")
	sb, _ := b.Server("CS1")
	agentsA, agentsB := sa.Agents(), sb.Agents()
	require.Len(t, agentsB, len(agentsA))
	for i := range agentsA {
		for range 3 {
			agentsA[i].Heartbeat()
			agentsB[i].Heartbeat()
		}
		assert.Equal(t, agentsA[i].Snapshot(), agentsB[i].Snapshot())
	}
}

func TestCrossNodeMessage(t *testing.T) {
	f, err := New(testConfig())
	require.NoError(t, err)
	cs1, _ := f.Server("CS1")
	cs2, _ := f.Server("CS2")

	d1 := cs1.Agents()[0]
	d1.SendMessage("M3", message.Report, "Mission Complete")
	assert.Equal(t, 1, cs1.Tick(time.Now()))

	var m3Inbox int
	for _, a := range cs2.Agents() {
		if a.ID() == "M3" {
			m3Inbox = a.Inbox().Len()
		}
	}
	assert.Equal(t, 1, m3Inbox)
	assert.EqualValues(t, 1, f.Stats().Routing.Delivered)
}

func TestReloadMovesNode(t *testing.T) {
	f, err := New(testConfig())
	require.NoError(t, err)
	cs1, _ := f.Server("CS1")
	rt, _ := cs1.Router().Route("CS2")
	assert.Equal(t, 10.0, rt.Cost)

	next := testConfig()
	next.Nodes[1].X = 30
	next.Simulation.TrafficProbability = 0.5
	diff := f.Reload(next)

	assert.Equal(t, []string{"CS2"}, diff.NodesMoved)
	assert.True(t, diff.SimulationChanged)
	rt, _ = cs1.Router().Route("CS2")
	assert.Equal(t, 30.0, rt.Cost)
	assert.Equal(t, 0.5, cs1.Settings().TrafficProbability)
	assert.Same(t, next, f.Config())
}

func TestRunStopsCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.Simulation.TrafficProbability = 1
	cfg.Simulation.CrossNodeProbability = 1
	cfg.Agents.Drone = config.AgentTiming{Heartbeat: 5 * time.Millisecond, Work: 5 * time.Millisecond}
	cfg.Agents.Manager = config.AgentTiming{Heartbeat: 5 * time.Millisecond, Work: 5 * time.Millisecond}
	rec := audit.NewRecorder()
	f, err := New(cfg, WithSink(rec))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	require.NoError(t, f.Run(ctx))

	assert.Equal(t, 2, rec.Count(audit.NodeStarted))
	assert.Equal(t, 2, rec.Count(audit.NodeStopped))
	st := f.Stats()
	assert.Equal(t, st.System.Agents(), st.System.Active()+st.System.Failed())
}

type capturePub struct {
	topics []string
}

func (p *capturePub) PublishJSON(topic string, _ any) error {
	p.topics = append(p.topics, topic)
	return nil
}

func TestReportJob(t *testing.T) {
	f, err := New(testConfig())
	require.NoError(t, err)

	sched, err := schedule.Parse("@every 10s")
	require.NoError(t, err)
	metrics, err := observability.NewFleetCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	var buf bytes.Buffer
	pub := &capturePub{}
	job := f.ReportJob(sched, ReportOutput{Writer: &buf, Publisher: pub, Metrics: metrics})
	assert.Equal(t, ReportJobName, job.Name)
	require.NoError(t, job.Run(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "[SYSTEM OVERVIEW]")
	assert.Contains(t, out, "Total Agents: 6 (Drones: 3, Managers: 3)")
	assert.Contains(t, out, "✓ CS1 (North):")
	assert.Contains(t, out, "Drones: 2/2 active, 0 failed")
	assert.Equal(t, []string{natsbus.TopicEventsReport}, pub.topics)
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.Agents.WithLabelValues("CS1", "IDLE")))
}

func TestSummaries(t *testing.T) {
	f, err := New(testConfig(), WithRunID("abc"))
	require.NoError(t, err)
	st := f.Stats()

	var buf bytes.Buffer
	WriteStartupSummary(&buf, st, "Every 10 seconds")
	assert.Contains(t, buf.String(), "Run: abc")
	assert.Contains(t, buf.String(), "- 2 managers")
	assert.Contains(t, buf.String(), "Status reports: Every 10 seconds.")

	buf.Reset()
	WriteShutdownSummary(&buf, st)
	assert.Contains(t, buf.String(), "Failure Rate: 0.00%")
	assert.Contains(t, Summary(st), "2 servers, 6 agents, 0 failures (0.00%)")
}
