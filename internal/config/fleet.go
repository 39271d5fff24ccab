package config

import (
	"errors"
	"fmt"
	"math"
)

// Node describes one command server.
type Node struct {
	ID       string  `yaml:"id"`
	Location string  `yaml:"location"`
	X        float64 `yaml:"x"`
	Y        float64 `yaml:"y"`
	Alive    *bool   `yaml:"alive,omitempty"`
}

// IsAlive defaults to true when the field is absent.
func (n Node) IsAlive() bool {
	return n.Alive == nil || *n.Alive
}

type Drone struct {
	ID       string `yaml:"id"`
	Model    string `yaml:"model"`
	Location string `yaml:"location"`
	X        int    `yaml:"x"`
	Y        int    `yaml:"y"`
}

type Manager struct {
	ID       string `yaml:"id"`
	Location string `yaml:"location"`
	X        int    `yaml:"x"`
	Y        int    `yaml:"y"`
}

// ErrNoNodes means no node in the config can be started.
var ErrNoNodes = errors.New("no startable nodes in config")

// ConfigLoadError marks a node entry that was skipped at startup.
type ConfigLoadError struct {
	Index  int
	Node   string
	Reason string
}

func (e *ConfigLoadError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("node #%d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("node %s: %s", e.Node, e.Reason)
}

// StartableNodes returns the nodes to start, in file order. Malformed
// entries come back as errors; offline nodes are left out silently.
func (c *Config) StartableNodes() ([]Node, []*ConfigLoadError) {
	var nodes []Node
	var errs []*ConfigLoadError
	seen := make(map[string]bool, len(c.Nodes))

	for i, n := range c.Nodes {
		switch {
		case n.ID == "":
			errs = append(errs, &ConfigLoadError{Index: i, Reason: "missing id"})
			continue
		case seen[n.ID]:
			errs = append(errs, &ConfigLoadError{Index: i, Node: n.ID, Reason: "duplicate id"})
			continue
		case !finite(n.X) || !finite(n.Y):
			errs = append(errs, &ConfigLoadError{Index: i, Node: n.ID, Reason: "coordinates must be finite"})
			continue
		}
		seen[n.ID] = true
		if !n.IsAlive() {
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes, errs
}

// Topology returns every well-formed node, offline ones included, as the
// link-state advertisement set.
func (c *Config) Topology() []Node {
	var out []Node
	seen := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.ID == "" || seen[n.ID] || !finite(n.X) || !finite(n.Y) {
			continue
		}
		seen[n.ID] = true
		out = append(out, n)
	}
	return out
}

// DronesAt returns the drones hosted at a location.
func (c *Config) DronesAt(location string) []Drone {
	var out []Drone
	for _, d := range c.Drones {
		if d.ID != "" && d.Location == location {
			out = append(out, d)
		}
	}
	return out
}

func (c *Config) ManagersAt(location string) []Manager {
	var out []Manager
	for _, m := range c.Managers {
		if m.ID != "" && m.Location == location {
			out = append(out, m)
		}
	}
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
