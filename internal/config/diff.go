package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	NodesAdded   []string
	NodesRemoved []string
	NodesMoved   []string

	SimulationChanged bool
	NewSimulation     SimulationConfig

	ReportChanged bool
	NewReport     ReportConfig

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return len(d.NodesAdded) > 0 ||
		len(d.NodesMoved) > 0 ||
		d.SimulationChanged ||
		d.ReportChanged
}

// TopologyChanged reports whether the link-state advertisements differ.
func (d *ConfigDiff) TopologyChanged() bool {
	return len(d.NodesAdded) > 0 || len(d.NodesMoved) > 0
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	oldNodes := indexNodes(old.Topology())
	newNodes := indexNodes(new.Topology())

	for _, n := range new.Topology() {
		prev, ok := oldNodes[n.ID]
		if !ok {
			d.NodesAdded = append(d.NodesAdded, n.ID)
			continue
		}
		if prev.X != n.X || prev.Y != n.Y || prev.Location != n.Location {
			d.NodesMoved = append(d.NodesMoved, n.ID)
		}
	}
	for _, n := range old.Topology() {
		if _, ok := newNodes[n.ID]; !ok {
			// Nodes never leave the link-state database once advertised.
			d.NodesRemoved = append(d.NodesRemoved, n.ID)
		}
	}

	if old.Simulation != new.Simulation {
		d.SimulationChanged = true
		d.NewSimulation = new.Simulation
	}
	if old.Report != new.Report {
		d.ReportChanged = true
		d.NewReport = new.Report
	}

	// Non-reloadable warnings
	if !reflect.DeepEqual(old.Drones, new.Drones) {
		d.NonReloadable = append(d.NonReloadable, "drones")
	}
	if !reflect.DeepEqual(old.Managers, new.Managers) {
		d.NonReloadable = append(d.NonReloadable, "managers")
	}
	if old.Agents != new.Agents {
		d.NonReloadable = append(d.NonReloadable, "agents")
	}
	if len(d.NodesRemoved) > 0 {
		d.NonReloadable = append(d.NonReloadable, "nodes.removed")
	}
	if old.Web.Port != new.Web.Port {
		d.NonReloadable = append(d.NonReloadable, "web.port")
	}
	if old.NATS != new.NATS {
		d.NonReloadable = append(d.NonReloadable, "nats")
	}
	if old.Store != new.Store {
		d.NonReloadable = append(d.NonReloadable, "store")
	}
	if old.Log != new.Log {
		d.NonReloadable = append(d.NonReloadable, "log")
	}

	return d
}

func indexNodes(nodes []Node) map[string]Node {
	m := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		m[n.ID] = n
	}
	return m
}
