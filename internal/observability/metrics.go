// Package observability exposes fleet metrics to Prometheus. The collector
// is also an audit.Sink, so every record the fleet emits is counted.
package observability

import (
	"fmt"
	"net/http"

	"github.com/mtzanidakis/fleetctl/internal/audit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FleetCollector bundles the fleet's Prometheus metrics.
type FleetCollector struct {
	gatherer prometheus.Gatherer

	Records       *prometheus.CounterVec
	Messages      *prometheus.CounterVec
	AgentFailures *prometheus.CounterVec

	Agents        *prometheus.GaugeVec
	QueueDepth    *prometheus.GaugeVec
	TopologySize  *prometheus.GaugeVec
	StuckInboxes  prometheus.Gauge
	ReportSeconds prometheus.Histogram
}

// NodeState is one node's gauge values at a point in time.
type NodeState struct {
	Node         string
	Statuses     map[string]int
	IntraPending int
	InterPending int
	LSDBSize     int
}

// NewFleetCollector registers fleet metrics against reg, defaulting to the
// global Prometheus registry when nil.
func NewFleetCollector(reg prometheus.Registerer) (*FleetCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	records, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetctl_records_total",
		Help: "Audit records emitted, labeled by kind and level.",
	}, []string{"kind", "level"}), "fleetctl_records_total")
	if err != nil {
		return nil, err
	}

	messages, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetctl_messages_total",
		Help: "Messages handled by routers, labeled by node and outcome.",
	}, []string{"node", "outcome"}), "fleetctl_messages_total")
	if err != nil {
		return nil, err
	}

	failures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetctl_agent_failures_total",
		Help: "Agents that reached a terminal state, labeled by agent kind.",
	}, []string{"kind"}), "fleetctl_agent_failures_total")
	if err != nil {
		return nil, err
	}

	agents, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleetctl_agents",
		Help: "Agents hosted per node, labeled by status.",
	}, []string{"node", "status"}), "fleetctl_agents")
	if err != nil {
		return nil, err
	}

	depth, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleetctl_router_queue_depth",
		Help: "Messages waiting in a router's intra- or inter-node queue.",
	}, []string{"node", "queue"}), "fleetctl_router_queue_depth")
	if err != nil {
		return nil, err
	}

	topo, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleetctl_lsdb_nodes",
		Help: "Nodes in each router's link-state database.",
	}, []string{"node"}), "fleetctl_lsdb_nodes")
	if err != nil {
		return nil, err
	}

	stuck, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetctl_stuck_inboxes",
		Help: "Terminal agents still holding undelivered messages.",
	}), "fleetctl_stuck_inboxes")
	if err != nil {
		return nil, err
	}

	report, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetctl_status_report_duration_seconds",
		Help:    "Time spent building a fleet status report.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}), "fleetctl_status_report_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &FleetCollector{
		gatherer:      gatherer,
		Records:       records,
		Messages:      messages,
		AgentFailures: failures,
		Agents:        agents,
		QueueDepth:    depth,
		TopologySize:  topo,
		StuckInboxes:  stuck,
		ReportSeconds: report,
	}, nil
}

var outcomes = map[audit.Kind]string{
	audit.MessageRouted:    "routed",
	audit.MessageDelivered: "delivered",
	audit.MessageForwarded: "forwarded",
	audit.AddressingError:  "dropped",
	audit.NoRoute:          "dropped",
	audit.QueueFull:        "dropped",
}

// Record counts r. It satisfies audit.Sink.
func (c *FleetCollector) Record(r audit.Record) {
	if c == nil {
		return
	}
	level := r.Level().String()
	if r.Level() >= audit.LevelCritical {
		level = "CRITICAL"
	}
	c.Records.WithLabelValues(r.Kind.String(), level).Inc()

	if outcome, ok := outcomes[r.Kind]; ok {
		c.Messages.WithLabelValues(r.Node, outcome).Inc()
	}
	if r.Kind == audit.AgentFailed {
		kind := "unknown"
		if r.Vitals != nil {
			kind = r.Vitals.Kind
		}
		c.AgentFailures.WithLabelValues(kind).Inc()
	}
}

// SetNodeState replaces one node's gauges.
func (c *FleetCollector) SetNodeState(s NodeState) {
	if c == nil {
		return
	}
	c.Agents.DeletePartialMatch(prometheus.Labels{"node": s.Node})
	for status, n := range s.Statuses {
		c.Agents.WithLabelValues(s.Node, status).Set(float64(n))
	}
	c.QueueDepth.WithLabelValues(s.Node, "intra").Set(float64(s.IntraPending))
	c.QueueDepth.WithLabelValues(s.Node, "inter").Set(float64(s.InterPending))
	c.TopologySize.WithLabelValues(s.Node).Set(float64(s.LSDBSize))
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *FleetCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *FleetCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}
