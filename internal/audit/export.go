package audit

import (
	"log/slog"
	"time"

	"github.com/mtzanidakis/fleetctl/internal/natsbus"
	"github.com/mtzanidakis/fleetctl/internal/store"
)

// Event is the JSON shape published on the bus and streamed to websocket
// clients.
type Event struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

func EventFromRecord(r Record) Event {
	data := map[string]any{
		"level": r.Level().String(),
	}
	if r.Level() >= LevelCritical {
		data["level"] = "CRITICAL"
	}
	if r.Node != "" {
		data["node"] = r.Node
	}
	if r.Agent != "" {
		data["agent"] = r.Agent
	}
	if r.Message != nil {
		data["message"] = r.Message
	}
	if r.Vitals != nil {
		data["vitals"] = r.Vitals
	}
	if r.Detail != "" {
		data["detail"] = r.Detail
	}
	if r.Err != nil {
		data["error"] = r.Err.Error()
	}
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return Event{
		Type:      r.Kind.String(),
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		Data:      data,
	}
}

// Publisher is the part of natsbus.Client the bus sink needs.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// BusSink publishes each record as an Event. Agent records go to the agent
// topic, everything else to the node topic.
type BusSink struct {
	pub Publisher
}

func NewBusSink(pub Publisher) *BusSink {
	return &BusSink{pub: pub}
}

func (s *BusSink) Record(r Record) {
	topic := natsbus.TopicEventsNode(r.Node)
	if r.Kind == Heartbeat || r.Kind == AgentFailed || r.Kind == MessageReceived {
		topic = natsbus.TopicEventsAgent(r.Agent)
	}
	if err := s.pub.PublishJSON(topic, EventFromRecord(r)); err != nil {
		slog.Debug("publish audit event failed", "topic", topic, "error", err)
	}
}

// EventWriter is the part of store.Store the store sink needs.
type EventWriter interface {
	SaveEvent(e *store.Event) error
}

// StoreSink appends records to the run's event table.
type StoreSink struct {
	w     EventWriter
	runID string
}

func NewStoreSink(w EventWriter, runID string) *StoreSink {
	return &StoreSink{w: w, runID: runID}
}

func (s *StoreSink) Record(r Record) {
	e := &store.Event{
		RunID:     s.runID,
		Kind:      r.Kind.String(),
		Level:     r.Level().String(),
		Node:      r.Node,
		Agent:     r.Agent,
		Detail:    r.Detail,
		CreatedAt: r.Time,
	}
	if r.Level() >= LevelCritical {
		e.Level = "CRITICAL"
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if m := r.Message; m != nil {
		e.Sender = m.Sender
		e.Receiver = m.Receiver
		e.MsgType = string(m.Type)
		e.Content = m.Content
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	if err := s.w.SaveEvent(e); err != nil {
		slog.Debug("store audit event failed", "kind", e.Kind, "error", err)
	}
}
