// Package audit carries the fleet's append-only record trail. Components emit
// Records into a Sink; sinks fan out to slog files, sqlite, NATS and metrics.
// A failing sink never affects the caller.
package audit

import (
	"log/slog"
	"time"

	"github.com/mtzanidakis/fleetctl/internal/message"
)

// LevelCritical marks terminal agent failures.
const LevelCritical = slog.LevelError + 4

type Kind int

const (
	Heartbeat Kind = iota
	MessageReceived
	MessageRouted
	MessageDelivered
	MessageForwarded
	TopologySynced
	AgentRegistered
	NodeStarted
	NodeStopped
)

// Kinds at or above 1000 are drops and failures.
const (
	AgentFailed Kind = iota + 1000
	AddressingError
	NoRoute
	QueueFull
	ConfigError
)

var kindNames = map[Kind]string{
	Heartbeat:        "heartbeat",
	MessageReceived:  "message_received",
	MessageRouted:    "message_routed",
	MessageDelivered: "message_delivered",
	MessageForwarded: "message_forwarded",
	TopologySynced:   "topology_synced",
	AgentRegistered:  "agent_registered",
	NodeStarted:      "node_started",
	NodeStopped:      "node_stopped",
	AgentFailed:      "agent_failed",
	AddressingError:  "addressing_error",
	NoRoute:          "no_route",
	QueueFull:        "queue_full",
	ConfigError:      "config_error",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Dropped reports whether the kind records a message that was not delivered.
func (k Kind) Dropped() bool {
	return k == AddressingError || k == NoRoute || k == QueueFull
}

func (k Kind) Level() slog.Level {
	switch {
	case k == AgentFailed:
		return LevelCritical
	case k >= 1000:
		return slog.LevelError
	case k == Heartbeat || k == MessageReceived || k == AgentRegistered:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Vitals is the agent state attached to heartbeat and failure records.
type Vitals struct {
	Kind     string `json:"kind"`
	Status   string `json:"status"`
	Health   int    `json:"health"`
	Battery  int    `json:"battery,omitempty"`
	Location string `json:"location"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
}

type Record struct {
	Time    time.Time
	Kind    Kind
	Node    string
	Agent   string
	Message *message.Message
	Vitals  *Vitals
	Detail  string
	Err     error
}

func (r Record) Level() slog.Level {
	return r.Kind.Level()
}

func (r Record) Attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 8)
	if r.Node != "" {
		attrs = append(attrs, slog.String("node", r.Node))
	}
	if r.Agent != "" {
		attrs = append(attrs, slog.String("agent", r.Agent))
	}
	if m := r.Message; m != nil {
		attrs = append(attrs,
			slog.String("sender", m.Sender),
			slog.String("receiver", m.Receiver),
			slog.String("type", string(m.Type)),
			slog.String("content", m.Content))
	}
	if v := r.Vitals; v != nil {
		attrs = append(attrs,
			slog.String("status", v.Status),
			slog.Int("health", v.Health))
		if v.Kind == "drone" {
			attrs = append(attrs, slog.Int("battery", v.Battery))
		}
		attrs = append(attrs,
			slog.String("location", v.Location),
			slog.Int("x", v.X),
			slog.Int("y", v.Y))
	}
	if r.Detail != "" {
		attrs = append(attrs, slog.String("detail", r.Detail))
	}
	if r.Err != nil {
		attrs = append(attrs, slog.String("error", r.Err.Error()))
	}
	return attrs
}
