package natsbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	flushTimeout = 2 * time.Second
	// Subscribers that fall this far behind drop events instead of stalling
	// the publishers.
	pendingMsgs = 64 * 1024
)

// Client is one named connection to the bus.
type Client struct {
	conn    *nats.Conn
	dropped atomic.Int64
}

func NewClient(bus *Bus, name string) (*Client, error) {
	c := &Client{}
	conn, err := nats.Connect(bus.ClientURL(),
		nats.Name(name),
		nats.NoReconnect(),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if errors.Is(err, nats.ErrSlowConsumer) && sub != nil {
				n, _ := sub.Dropped()
				slog.Warn("nats subscriber falling behind", "client", name, "subject", sub.Subject, "dropped", n)
				return
			}
			slog.Error("nats client error", "client", name, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	c.conn = conn
	return c, nil
}

// PublishJSON encodes v and publishes it on topic. A failed publish is
// counted and returned.
func (c *Client) PublishJSON(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := c.conn.Publish(topic, data); err != nil {
		c.dropped.Add(1)
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Dropped is the number of publishes that failed.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

func (c *Client) Subscribe(topic string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	sub, err := c.conn.Subscribe(topic, handler)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	if err := sub.SetPendingLimits(pendingMsgs, -1); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("pending limits %s: %w", topic, err)
	}
	return sub, nil
}

// SubscribeJSON decodes each message on topic into T before calling fn.
// Messages that do not decode are logged and skipped.
func SubscribeJSON[T any](c *Client, topic string, fn func(subject string, v T)) (*nats.Subscription, error) {
	return c.Subscribe(topic, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			slog.Warn("invalid event payload", "subject", msg.Subject, "error", err)
			return
		}
		fn(msg.Subject, v)
	})
}

func (c *Client) Flush() error {
	return c.conn.FlushTimeout(flushTimeout)
}

// Close flushes pending publishes and closes the connection.
func (c *Client) Close() {
	if !c.conn.IsClosed() {
		_ = c.conn.FlushTimeout(flushTimeout)
	}
	c.conn.Close()
}
