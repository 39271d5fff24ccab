package agent

import (
	"math/rand/v2"
	"time"

	"github.com/mtzanidakis/fleetctl/internal/config"
)

type Kind int

const (
	Drone Kind = iota + 1
	MissionManager
)

func (k Kind) String() string {
	switch k {
	case Drone:
		return "drone"
	case MissionManager:
		return "mission_manager"
	default:
		return "unknown"
	}
}

// Identity is the kind and id every agent carries.
type Identity struct {
	Kind Kind
	ID   string
}

func (i Identity) String() string {
	return i.Kind.String() + ":" + i.ID
}

type Status string

const (
	Idle   Status = "IDLE"
	Busy   Status = "BUSY"
	Failed Status = "FAILED"
	Dead   Status = "DEAD"
)

func (s Status) Terminal() bool {
	return s == Failed || s == Dead
}

type Location struct {
	Name string `json:"name"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

// Rand is the random source an agent draws decay and movement from.
// *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	IntN(n int) int
}

// NewRand returns a PCG source so runs with the same seed replay the same
// decay sequence.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Profile holds everything that differs between the two agent variants.
type Profile struct {
	Kind       Kind
	Heartbeat  time.Duration
	Work       time.Duration
	Terminal   Status
	HasBattery bool
	// MoveRange bounds the per-axis offset applied on entering BUSY.
	MoveRange int
	// DrainAll consumes the whole inbox after a work unit instead of one
	// message.
	DrainAll   bool
	InboxLimit int

	BatteryDecay func(r int) int
	HealthDecay  func(r int) int
}

func DroneProfile(t config.AgentTiming) Profile {
	return Profile{
		Kind:         Drone,
		Heartbeat:    orDefault(t.Heartbeat, time.Second),
		Work:         orDefault(t.Work, 2*time.Second),
		Terminal:     Failed,
		HasBattery:   true,
		MoveRange:    5,
		DrainAll:     true,
		InboxLimit:   t.InboxLimit,
		BatteryDecay: func(r int) int { return r%15 + 5 },
		HealthDecay:  func(r int) int { return r%10 + 3 },
	}
}

func ManagerProfile(t config.AgentTiming) Profile {
	return Profile{
		Kind:        MissionManager,
		Heartbeat:   orDefault(t.Heartbeat, 2*time.Second),
		Work:        orDefault(t.Work, 3*time.Second),
		Terminal:    Dead,
		InboxLimit:  t.InboxLimit,
		HealthDecay: func(r int) int { return r%12 + 5 },
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
