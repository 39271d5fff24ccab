package natsbus

import (
	"testing"
	"time"

	"github.com/mtzanidakis/fleetctl/internal/config"
	"github.com/nats-io/nats.go"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := New(config.NATSConfig{
		Port:    -1, // Random port
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)
	return bus
}

func TestBusStartStop(t *testing.T) {
	bus := newTestBus(t)

	url := bus.ClientURL()
	if url == "" {
		t.Fatal("expected non-empty client URL")
	}
}

func TestPublishJSONWildcard(t *testing.T) {
	bus := newTestBus(t)

	client, err := NewClient(bus, "test")
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan *nats.Msg, 1)
	_, err = client.Subscribe(TopicEventsAll, func(msg *nats.Msg) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	payload := map[string]string{"type": "heartbeat"}
	if err := client.PublishJSON(TopicEventsAgent("D1"), payload); err != nil {
		t.Fatalf("publish json error: %v", err)
	}
	client.Flush()

	select {
	case msg := <-received:
		if msg.Subject != "events.agent.D1" {
			t.Errorf("expected subject events.agent.D1, got %s", msg.Subject)
		}
		if string(msg.Data) != `{"type":"heartbeat"}` {
			t.Errorf("expected json, got '%s'", msg.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestTopicNames(t *testing.T) {
	if got := TopicEventsAgent("D1"); got != "events.agent.D1" {
		t.Errorf("expected events.agent.D1, got %s", got)
	}
	if got := TopicEventsNode("CS-North"); got != "events.node.CS-North" {
		t.Errorf("expected events.node.CS-North, got %s", got)
	}
	if got := TopicEventsNode("a.b c"); got != "events.node.a_b_c" {
		t.Errorf("expected events.node.a_b_c, got %s", got)
	}
	if got := TopicEventsNode(""); got != "events.node._" {
		t.Errorf("expected events.node._, got %s", got)
	}
}

func TestSubscribeJSONDecodes(t *testing.T) {
	bus := newTestBus(t)
	client, err := NewClient(bus, "test")
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	type report struct {
		Node string `json:"node"`
	}
	got := make(chan string, 2)
	_, err = SubscribeJSON(client, TopicEventsNodes, func(subject string, r report) {
		got <- subject + "=" + r.Node
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if err := client.conn.Publish(TopicEventsNode("CS1"), []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if err := client.PublishJSON(TopicEventsNode("CS1"), report{Node: "CS1"}); err != nil {
		t.Fatal(err)
	}
	client.Flush()

	select {
	case s := <-got:
		if s != "events.node.CS1=CS1" {
			t.Errorf("expected decoded CS1 report, got %s", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	if bus.Clients() != 1 {
		t.Errorf("expected 1 client, got %d", bus.Clients())
	}
	if client.Dropped() != 0 {
		t.Errorf("expected no dropped publishes, got %d", client.Dropped())
	}
}
