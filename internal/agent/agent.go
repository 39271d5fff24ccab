// Package agent implements the drone and mission-manager actors. Each agent
// runs a work loop (IDLE -> BUSY -> IDLE, draining its inbox) and an
// independent heartbeat loop that decays its vitals until a terminal state.
package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mtzanidakis/fleetctl/internal/audit"
	"github.com/mtzanidakis/fleetctl/internal/message"
	"github.com/mtzanidakis/fleetctl/internal/queue"
	"golang.org/x/sync/errgroup"
)

type Agent struct {
	id      Identity
	profile Profile
	model   string
	node    string
	sink    audit.Sink

	inbox  queue.Queue[message.Message]
	outbox queue.Queue[message.Message]

	alive atomic.Bool

	mu       sync.Mutex
	rng      Rand
	status   Status
	health   int
	battery  int
	loc      Location
	received int
}

type Option func(*Agent)

func WithRand(r Rand) Option {
	return func(a *Agent) { a.rng = r }
}

func WithSink(s audit.Sink) Option {
	return func(a *Agent) { a.sink = s }
}

// WithNode tags the agent's records with its hosting node.
func WithNode(nodeID string) Option {
	return func(a *Agent) { a.node = nodeID }
}

func WithModel(model string) Option {
	return func(a *Agent) { a.model = model }
}

// WithVitals overrides the starting health and battery (default 100).
func WithVitals(health, battery int) Option {
	return func(a *Agent) {
		a.health = health
		a.battery = battery
	}
}

func WithInbox(q queue.Queue[message.Message]) Option {
	return func(a *Agent) { a.inbox = q }
}

func New(p Profile, id string, loc Location, opts ...Option) *Agent {
	a := &Agent{
		id:      Identity{Kind: p.Kind, ID: id},
		profile: p,
		sink:    audit.Discard,
		outbox:  queue.NewFIFO[message.Message](),
		status:  Idle,
		health:  100,
		battery: 100,
		loc:     loc,
	}
	if p.InboxLimit > 0 {
		a.inbox = queue.NewBounded[message.Message](p.InboxLimit)
	} else {
		a.inbox = queue.NewFIFO[message.Message]()
	}
	for _, o := range opts {
		o(a)
	}
	if a.rng == nil {
		a.rng = NewRand(uint64(time.Now().UnixNano()))
	}
	if !p.HasBattery {
		a.battery = 0
	}
	a.alive.Store(true)
	return a
}

func NewDrone(id string, loc Location, p Profile, opts ...Option) *Agent {
	p.Kind = Drone
	return New(p, id, loc, opts...)
}

func NewMissionManager(id string, loc Location, p Profile, opts ...Option) *Agent {
	p.Kind = MissionManager
	return New(p, id, loc, opts...)
}

func (a *Agent) Identity() Identity { return a.id }
func (a *Agent) ID() string         { return a.id.ID }
func (a *Agent) Kind() Kind         { return a.id.Kind }
func (a *Agent) Model() string      { return a.model }

func (a *Agent) Outbox() queue.Queue[message.Message] { return a.outbox }
func (a *Agent) Inbox() queue.Queue[message.Message]  { return a.inbox }

func (a *Agent) Alive() bool { return a.alive.Load() }

func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Stop clears the alive flag. Loops notice it at their next iteration.
func (a *Agent) Stop() {
	a.alive.Store(false)
}

// SendMessage queues a message for the command server to route. It never
// fails and does not know whether the receiver exists.
func (a *Agent) SendMessage(receiver string, typ message.Type, content string) {
	a.outbox.Push(message.New(a.id.ID, receiver, typ, content))
}

// Deliver pushes a routed message onto the inbox.
func (a *Agent) Deliver(m message.Message) bool {
	return a.inbox.Push(m)
}

// ReceiveMessage handles one delivered message.
func (a *Agent) ReceiveMessage(m message.Message) {
	a.mu.Lock()
	a.received++
	a.mu.Unlock()
	a.sink.Record(audit.Record{
		Kind:    audit.MessageReceived,
		Node:    a.node,
		Agent:   a.id.ID,
		Message: &m,
	})
}

// Heartbeat applies one decay step and reports whether the agent is still
// alive afterwards. After a terminal transition it is a no-op.
func (a *Agent) Heartbeat() bool {
	a.mu.Lock()
	if !a.alive.Load() || a.status.Terminal() {
		a.mu.Unlock()
		return false
	}

	r := a.rng.IntN(100) + 1
	if a.profile.HasBattery && a.profile.BatteryDecay != nil {
		a.battery -= a.profile.BatteryDecay(r)
	}
	if a.profile.HealthDecay != nil {
		a.health -= a.profile.HealthDecay(r)
	}

	depleted := a.health <= 0 || (a.profile.HasBattery && a.battery <= 0)
	if depleted {
		a.health = max(a.health, 0)
		a.battery = max(a.battery, 0)
		a.status = a.profile.Terminal
		a.alive.Store(false)
	}
	vitals := a.vitalsLocked()
	a.mu.Unlock()

	kind := audit.Heartbeat
	if depleted {
		kind = audit.AgentFailed
	}
	a.sink.Record(audit.Record{
		Kind:   kind,
		Node:   a.node,
		Agent:  a.id.ID,
		Vitals: &vitals,
		Detail: a.model,
	})
	return !depleted
}

// Work runs one IDLE -> BUSY -> IDLE cycle. The agent is held BUSY for the
// profile's work duration, then drains its inbox. It returns ctx.Err() if
// the wait was interrupted.
func (a *Agent) Work(ctx context.Context) error {
	a.mu.Lock()
	if !a.alive.Load() || a.status != Idle {
		a.mu.Unlock()
		return nil
	}
	a.status = Busy
	if n := a.profile.MoveRange; n > 0 {
		a.loc.X += a.rng.IntN(2*n+1) - n
		a.loc.Y += a.rng.IntN(2*n+1) - n
	}
	a.mu.Unlock()

	err := sleep(ctx, a.profile.Work)

	a.mu.Lock()
	if a.status == Busy {
		a.status = Idle
	}
	a.mu.Unlock()

	if err != nil {
		return err
	}
	if !a.alive.Load() {
		return nil
	}
	a.drain()
	return nil
}

func (a *Agent) drain() {
	for {
		m, ok := a.inbox.TryPop()
		if !ok {
			return
		}
		a.ReceiveMessage(m)
		if !a.profile.DrainAll {
			return
		}
	}
}

// Run drives the work and heartbeat loops until ctx is done or the agent
// stops. Cancellation is cooperative: an in-progress wait completes or is
// cut short by ctx, never preempted mid-transition.
func (a *Agent) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.workLoop(ctx) })
	g.Go(func() error { return a.heartbeatLoop(ctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (a *Agent) workLoop(ctx context.Context) error {
	for a.alive.Load() {
		if err := sleep(ctx, a.profile.Heartbeat); err != nil {
			return err
		}
		if err := a.Work(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.profile.Heartbeat)
	defer ticker.Stop()

	for a.alive.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !a.Heartbeat() {
				return nil
			}
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (a *Agent) vitalsLocked() audit.Vitals {
	return audit.Vitals{
		Kind:     a.id.Kind.String(),
		Status:   string(a.status),
		Health:   a.health,
		Battery:  a.battery,
		Location: a.loc.Name,
		X:        a.loc.X,
		Y:        a.loc.Y,
	}
}

// Snapshot is a point-in-time copy of an agent's externally visible state.
type Snapshot struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Model    string   `json:"model,omitempty"`
	Node     string   `json:"node,omitempty"`
	Status   Status   `json:"status"`
	Alive    bool     `json:"alive"`
	Health   int      `json:"health"`
	Battery  int      `json:"battery,omitempty"`
	Location Location `json:"location"`
	Inbox    int      `json:"inbox"`
	Outbox   int      `json:"outbox"`
	Received int      `json:"received"`
}

// Stuck reports a terminal agent that still holds undelivered mail.
func (s Snapshot) Stuck() bool {
	return s.Status.Terminal() && s.Inbox > 0
}

func (a *Agent) Snapshot() Snapshot {
	a.mu.Lock()
	s := Snapshot{
		ID:       a.id.ID,
		Kind:     a.id.Kind.String(),
		Model:    a.model,
		Node:     a.node,
		Status:   a.status,
		Alive:    a.alive.Load(),
		Health:   a.health,
		Battery:  a.battery,
		Location: a.loc,
		Received: a.received,
	}
	a.mu.Unlock()
	s.Inbox = a.inbox.Len()
	s.Outbox = a.outbox.Len()
	return s
}
